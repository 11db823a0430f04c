package server

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	hosterrors "github.com/devicelink/devicelink/internal/errors"
	"github.com/devicelink/devicelink/internal/trust"
)

// TrustListResponse is the JSON response for GET /trust/{deviceId}.
type TrustListResponse struct {
	// DeviceID is the device whose outgoing edges are listed.
	DeviceID string `json:"deviceId"`

	// Trusted are the active trust relationships from DeviceID.
	Trusted []TrustEdgePayload `json:"trusted"`
}

// TrustEdgePayload is the wire form of one active edge.
type TrustEdgePayload struct {
	ID             string    `json:"id"`
	TargetDeviceID string    `json:"targetDeviceId"`
	TrustLevel     int       `json:"trustLevel"`
	CreatedAt      time.Time `json:"createdAt"`
}

// RevokeResponse is the JSON response for DELETE /trust/{src}/{dst}.
type RevokeResponse struct {
	Success bool `json:"success"`
}

// handleTrust routes /trust/{deviceId} and /trust/{deviceId}/{targetDeviceId}.
// The path is parsed by hand; path segments are device ids.
func (s *Server) handleTrust(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/trust/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.listTrusted(w, parts[0])

	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		s.revokeTrust(w, parts[0], parts[1])

	default:
		http.NotFound(w, r)
	}
}

// listTrusted writes the active outgoing edges for deviceID.
func (s *Server) listTrusted(w http.ResponseWriter, deviceID string) {
	edges, err := s.trust.ListTrusted(deviceID)
	if err != nil {
		writeError(w, err)
		return
	}

	// Empty list, not null, when the device trusts nobody.
	trusted := make([]TrustEdgePayload, 0, len(edges))
	for _, edge := range edges {
		trusted = append(trusted, TrustEdgePayload{
			ID:             edge.ID,
			TargetDeviceID: edge.TargetDeviceID,
			TrustLevel:     edge.TrustLevel,
			CreatedAt:      edge.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, TrustListResponse{DeviceID: deviceID, Trusted: trusted})
}

// revokeTrust revokes the active edge from source to target.
func (s *Server) revokeTrust(w http.ResponseWriter, sourceDeviceID, targetDeviceID string) {
	err := s.trust.Revoke(sourceDeviceID, targetDeviceID)
	if err != nil {
		if errors.Is(err, trust.ErrEdgeNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{
				ErrorCode: hosterrors.CodeTrustNotFound,
				Message:   "no active trust relationship to revoke",
			})
			return
		}
		writeError(w, err)
		return
	}

	log.Printf("server: trust revoked: %s -> %s", sourceDeviceID, targetDeviceID)
	writeJSON(w, http.StatusOK, RevokeResponse{Success: true})
}
