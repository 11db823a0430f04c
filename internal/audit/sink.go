// Package audit defines the audit event contract for pairing and trust
// lifecycle events. The core records events through the Sink interface;
// persistence and fan-out are provided by implementations elsewhere
// (SQLite-backed sink in storage, websocket broadcast in server).
//
// Recording an audit event must never fail the operation that produced
// it: callers log sink errors and continue.
package audit

import "time"

// EventType identifies the kind of lifecycle event being recorded.
type EventType string

const (
	// EventCodeIssued is recorded when a pairing code is generated.
	EventCodeIssued EventType = "code_issued"

	// EventDevicesPaired is recorded when a code redemption establishes trust.
	EventDevicesPaired EventType = "devices_paired"

	// EventTrustRevoked is recorded when a trust edge is revoked.
	EventTrustRevoked EventType = "trust_revoked"

	// EventPairingIncomplete is recorded when a code was consumed but trust
	// establishment failed. These entries flag states needing reconciliation.
	EventPairingIncomplete EventType = "pairing_incomplete"

	// EventDeviceRegistered is recorded when a new device registers.
	EventDeviceRegistered EventType = "device_registered"
)

// Event is a single audit record.
type Event struct {
	// ID is the unique identifier for this event (UUID).
	ID string `json:"id"`

	// Type is the lifecycle event kind.
	Type EventType `json:"type"`

	// SourceDeviceID is the acting device (issuer on issuance,
	// issuer on pairing, revoking endpoint on revocation).
	SourceDeviceID string `json:"sourceDeviceId,omitempty"`

	// TargetDeviceID is the other endpoint, when the event involves two
	// devices (redeemer on pairing, revoked endpoint on revocation).
	TargetDeviceID string `json:"targetDeviceId,omitempty"`

	// CodeFormat is the pairing code format for code-related events.
	CodeFormat string `json:"codeFormat,omitempty"`

	// Detail carries free-form context (e.g., the establishment failure
	// for pairing_incomplete events).
	Detail string `json:"detail,omitempty"`

	// At is when the event occurred.
	At time.Time `json:"at"`
}

// Sink receives audit events. Implementations must be safe for
// concurrent use.
type Sink interface {
	// Record stores or forwards one event.
	Record(event Event) error
}

// MultiSink fans one event out to several sinks.
// Record returns the first error but still delivers to every sink.
type MultiSink []Sink

// Record implements Sink.
func (m MultiSink) Record(event Event) error {
	var first error
	for _, s := range m {
		if err := s.Record(event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
