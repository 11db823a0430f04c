package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/devicelink/devicelink/internal/device"
	hosterrors "github.com/devicelink/devicelink/internal/errors"
	"github.com/devicelink/devicelink/internal/pairing"
	"github.com/devicelink/devicelink/internal/rate"
	"github.com/devicelink/devicelink/internal/trust"
)

// ErrorResponse is the JSON response for error conditions.
type ErrorResponse struct {
	// ErrorCode is the stable dotted taxonomy code (e.g., "pairing.expired").
	ErrorCode string `json:"errorCode"`

	// Message is a human-readable description.
	Message string `json:"message"`
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: failed to encode response: %v", err)
	}
}

// writeError maps a domain error to an HTTP status and a stable error
// code. Internal details never reach the client; they are logged here.
func writeError(w http.ResponseWriter, err error) {
	var limitErr *rate.LimitError
	if errors.As(err, &limitErr) {
		writeRateLimited(w, limitErr.RetryAfter)
		return
	}

	status := statusForError(err)
	code, message := hosterrors.ToCodeAndMessage(err)
	if code == hosterrors.CodeUnknown {
		if sentinel := sentinelCode(err); sentinel != "" {
			code = sentinel
		}
	}
	if status == http.StatusInternalServerError {
		log.Printf("server: internal error: %v", err)
		if code == hosterrors.CodeUnknown {
			code, message = hosterrors.CodeInternal, "internal error"
		}
	}
	writeJSON(w, status, ErrorResponse{ErrorCode: code, Message: message})
}

// sentinelCode maps the domain sentinel errors to their stable taxonomy
// codes. Returns "" for errors with no sentinel; CodedErrors carry their
// own code and never reach this lookup.
func sentinelCode(err error) string {
	switch {
	case errors.Is(err, pairing.ErrCodeNotFound):
		return hosterrors.CodePairingNotFound
	case errors.Is(err, pairing.ErrCodeExpired):
		return hosterrors.CodePairingExpired
	case errors.Is(err, pairing.ErrCodeUsed):
		return hosterrors.CodePairingAlreadyUsed
	case errors.Is(err, pairing.ErrUnknownFormat):
		return hosterrors.CodePairingUnknownFormat
	case errors.Is(err, pairing.ErrCodeExists):
		return hosterrors.CodePairingCodeExists
	case errors.Is(err, trust.ErrSelfPairing):
		return hosterrors.CodeTrustSelfPairing
	case errors.Is(err, trust.ErrInvalidLevel):
		return hosterrors.CodeTrustInvalidLevel
	case errors.Is(err, trust.ErrEdgeNotFound):
		return hosterrors.CodeTrustNotFound
	case errors.Is(err, trust.ErrTargetInactive):
		return hosterrors.CodeTrustTargetInactive
	case errors.Is(err, trust.ErrPairingIncomplete):
		return hosterrors.CodeTrustIncomplete
	case errors.Is(err, device.ErrNotFound):
		return hosterrors.CodeDeviceNotFound
	}
	return ""
}

// writeRateLimited writes a 429 with a Retry-After header.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		ErrorCode: hosterrors.CodePairingRateLimited,
		Message:   fmt.Sprintf("too many requests, retry in %ds", seconds),
	})
}

// statusForError maps sentinel and coded errors to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, pairing.ErrCodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, pairing.ErrCodeExpired),
		errors.Is(err, pairing.ErrCodeUsed),
		errors.Is(err, trust.ErrSelfPairing),
		errors.Is(err, trust.ErrPairingIncomplete):
		return http.StatusConflict
	case errors.Is(err, pairing.ErrUnknownFormat),
		errors.Is(err, trust.ErrInvalidLevel),
		errors.Is(err, trust.ErrTargetInactive):
		return http.StatusBadRequest
	case errors.Is(err, trust.ErrEdgeNotFound),
		errors.Is(err, device.ErrNotFound):
		return http.StatusNotFound
	}

	switch hosterrors.GetCode(err) {
	case hosterrors.CodePairingInvalidInput, hosterrors.CodeDeviceInvalid,
		hosterrors.CodeServerInvalidRequest:
		return http.StatusBadRequest
	case hosterrors.CodePairingNotFound, hosterrors.CodeTrustNotFound,
		hosterrors.CodeDeviceNotFound:
		return http.StatusNotFound
	case hosterrors.CodePairingExpired, hosterrors.CodePairingAlreadyUsed,
		hosterrors.CodeTrustSelfPairing, hosterrors.CodeTrustIncomplete:
		return http.StatusConflict
	case hosterrors.CodePairingRateLimited:
		return http.StatusTooManyRequests
	case hosterrors.CodeServerMethodNotAllowed:
		return http.StatusMethodNotAllowed
	}

	return http.StatusInternalServerError
}

// methodNotAllowed writes a 405 with the taxonomy code.
func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		ErrorCode: hosterrors.CodeServerMethodNotAllowed,
		Message:   "method not allowed",
	})
}

// invalidRequest writes a 400 for malformed request bodies.
func invalidRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		ErrorCode: hosterrors.CodeServerInvalidRequest,
		Message:   message,
	})
}

// remoteHost extracts the host part of the request's remote address.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isLoopbackRequest checks if the request originates from the local
// machine. Used to restrict sensitive endpoints to local access only.
func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If we can't parse the address, be conservative and reject
		log.Printf("server: failed to parse RemoteAddr %q: %v", r.RemoteAddr, err)
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		log.Printf("server: failed to parse IP from host %q", host)
		return false
	}

	return ip.IsLoopback()
}
