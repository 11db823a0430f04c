// Package trust maintains the directed trust graph between devices.
// Edges are created by successful pairing-code redemption, queried for
// access checks, and revoked by soft delete so the audit trail survives.
package trust

import (
	"errors"
	"time"
)

// Trust levels. Level 1 is granted by pairing; higher levels are
// assigned by later flows. How levels map to application permissions is
// up to the caller; this package only enforces the numeric scale.
const (
	LevelPaired  = 1
	LevelTrusted = 2
	LevelFull    = 3
)

// Sentinel errors for trust operations.
var (
	// ErrSelfPairing is returned when source and target are the same device.
	ErrSelfPairing = errors.New("device cannot trust itself")

	// ErrInvalidLevel is returned for trust levels outside {1,2,3}.
	ErrInvalidLevel = errors.New("trust level must be 1, 2 or 3")

	// ErrEdgeNotFound is returned when no active edge exists for the pair.
	ErrEdgeNotFound = errors.New("trust relationship not found")

	// ErrTargetInactive is returned when the target device is not registered.
	ErrTargetInactive = errors.New("target device is not registered")

	// ErrPairingIncomplete is returned when a pairing code was consumed
	// but the trust edge could not be established. The code is not
	// resurrected; the condition needs reconciliation.
	ErrPairingIncomplete = errors.New("code consumed but trust establishment failed")
)

// Edge is a directed trust relationship from source to target.
type Edge struct {
	// ID is the unique identifier for this edge (UUID).
	ID string `json:"id"`

	// SourceDeviceID and TargetDeviceID are the endpoints; they are
	// always distinct.
	SourceDeviceID string `json:"sourceDeviceId"`
	TargetDeviceID string `json:"targetDeviceId"`

	// TrustLevel is 1 (paired) through 3 (fully trusted).
	TrustLevel int `json:"trustLevel"`

	// CreatedAt is refreshed on idempotent re-establishment.
	CreatedAt time.Time `json:"createdAt"`

	// RevokedAt is set on revocation. Edges are never hard-deleted.
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// Active reports whether the edge has not been revoked.
func (e *Edge) Active() bool {
	return e.RevokedAt == nil
}

// EdgeStore persists trust edges. Implementations must keep at most one
// active edge per ordered (source, target) pair and must be safe for
// concurrent access. Implemented by storage.SQLiteStore and MemoryStore.
type EdgeStore interface {
	// UpsertEdge inserts a new active edge or, if one already exists for
	// the ordered pair, refreshes it in place: trust level becomes
	// max(existing, level) and createdAt is set to now. The
	// check-and-write must be atomic with respect to other calls for the
	// same pair.
	UpsertEdge(sourceDeviceID, targetDeviceID string, level int, now time.Time) (*Edge, error)

	// RevokeEdge sets revokedAt on the active edge for the pair.
	// Returns ErrEdgeNotFound if none exists.
	RevokeEdge(sourceDeviceID, targetDeviceID string, now time.Time) error

	// ActiveEdge returns the active edge for the ordered pair.
	// Returns nil, nil if none exists.
	ActiveEdge(sourceDeviceID, targetDeviceID string) (*Edge, error)

	// ActiveEdges returns all active outgoing edges from sourceDeviceID.
	ActiveEdges(sourceDeviceID string) ([]*Edge, error)
}
