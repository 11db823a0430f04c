// Package errors provides standardized error codes for the devicelink service.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (pairing, trust, device, storage, server)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by clients for programmatic
// error handling. Human-readable messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error codes by domain.
// These are stable identifiers that clients can rely on for error handling.
const (
	// Pairing domain - pairing code lifecycle errors
	CodePairingInvalidInput   = "pairing.invalid_input"   // Malformed request (bad format, empty device id)
	CodePairingNotFound       = "pairing.not_found"       // Unknown pairing code
	CodePairingExpired        = "pairing.expired"         // Pairing code past its TTL
	CodePairingAlreadyUsed    = "pairing.already_used"    // Pairing code already consumed
	CodePairingIssuanceFailed = "pairing.issuance_failed" // Code generation exhausted collision retries
	CodePairingUnknownFormat  = "pairing.unknown_format"  // Code matches no known encoding
	CodePairingRateLimited    = "pairing.rate_limited"    // Quota exceeded, retry later
	CodePairingCodeExists     = "pairing.code_exists"     // Code already registered (internal retry trigger)

	// Trust domain - trust edge errors
	CodeTrustSelfPairing    = "trust.self_pairing"       // Device attempted to pair with itself
	CodeTrustInvalidLevel   = "trust.invalid_level"      // Trust level outside {1,2,3}
	CodeTrustNotFound       = "trust.not_found"          // No active edge for the pair
	CodeTrustIncomplete     = "trust.pairing_incomplete" // Code consumed but trust establishment failed
	CodeTrustTargetInactive = "trust.target_inactive"    // Target device is not registered/active

	// Device domain - device registration errors
	CodeDeviceNotFound = "device.not_found" // Device id not registered
	CodeDeviceInvalid  = "device.invalid"   // Invalid device registration request

	// Storage domain - database and persistence errors
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// Server domain - HTTP and websocket errors
	CodeServerInvalidRequest   = "server.invalid_request"    // Malformed or invalid request body
	CodeServerMethodNotAllowed = "server.method_not_allowed" // Wrong HTTP method
	CodeServerUpgradeFailed    = "server.upgrade_failed"     // WebSocket upgrade failed

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal server error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "pairing.expired")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors for frequently used error types.

// InvalidInput creates a "pairing.invalid_input" error.
func InvalidInput(reason string) *CodedError {
	return New(CodePairingInvalidInput, reason)
}

// CodeNotFound creates a "pairing.not_found" error.
func CodeNotFound() *CodedError {
	return New(CodePairingNotFound, "pairing code not found")
}

// CodeExpired creates a "pairing.expired" error.
func CodeExpired() *CodedError {
	return New(CodePairingExpired, "pairing code has expired")
}

// CodeAlreadyUsed creates a "pairing.already_used" error.
func CodeAlreadyUsed() *CodedError {
	return New(CodePairingAlreadyUsed, "pairing code has already been used")
}

// IssuanceFailed creates a "pairing.issuance_failed" error.
// This indicates code generation could not find a free code after
// the bounded number of collision retries.
func IssuanceFailed(attempts int, cause error) *CodedError {
	msg := fmt.Sprintf("could not issue a unique pairing code after %d attempts", attempts)
	return Wrap(CodePairingIssuanceFailed, msg, cause)
}

// UnknownFormat creates a "pairing.unknown_format" error.
func UnknownFormat() *CodedError {
	return New(CodePairingUnknownFormat, "pairing code matches no known format")
}

// RateLimited creates a "pairing.rate_limited" error.
// retryAfter is the remaining window time before the action is allowed again.
func RateLimited(action string, retryAfter time.Duration) *CodedError {
	msg := fmt.Sprintf("too many %s attempts, retry in %s", action, retryAfter.Round(time.Second))
	return New(CodePairingRateLimited, msg)
}

// SelfPairing creates a "trust.self_pairing" error.
func SelfPairing(deviceID string) *CodedError {
	return New(CodeTrustSelfPairing, fmt.Sprintf("device %s cannot pair with itself", deviceID))
}

// InvalidTrustLevel creates a "trust.invalid_level" error.
func InvalidTrustLevel(level int) *CodedError {
	return New(CodeTrustInvalidLevel, fmt.Sprintf("invalid trust level %d (must be 1, 2 or 3)", level))
}

// TrustNotFound creates a "trust.not_found" error.
func TrustNotFound(source, target string) *CodedError {
	return New(CodeTrustNotFound, fmt.Sprintf("no active trust relationship from %s to %s", source, target))
}

// PairingIncomplete creates a "trust.pairing_incomplete" error.
// The pairing code was consumed but trust establishment failed; the code
// is not resurrected and the condition requires reconciliation.
func PairingIncomplete(cause error) *CodedError {
	return Wrap(CodeTrustIncomplete, "pairing code was consumed but trust could not be established", cause)
}

// DeviceNotFound creates a "device.not_found" error.
func DeviceNotFound(deviceID string) *CodedError {
	return New(CodeDeviceNotFound, fmt.Sprintf("device %s is not registered", deviceID))
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
