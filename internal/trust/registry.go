package trust

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/devicelink/devicelink/internal/audit"
	"github.com/devicelink/devicelink/internal/pairing"
	"github.com/devicelink/devicelink/internal/rate"
)

// DeviceDirectory answers whether a device id is registered. Implemented
// by device.Registry. Optional: a nil directory skips the check.
type DeviceDirectory interface {
	Exists(deviceID string) (bool, error)
}

// RegistryConfig holds configuration for the trust registry.
type RegistryConfig struct {
	// Edges is where trust edges are persisted. Required.
	Edges EdgeStore

	// Devices validates that edge endpoints are registered. Optional.
	Devices DeviceDirectory

	// Guard enforces the per-source establishment quota. Optional.
	Guard pairing.QuotaGuard

	// Audit receives trust_revoked events. Optional.
	Audit audit.Sink

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// Registry manages directed trust edges between devices.
type Registry struct {
	edges   EdgeStore
	devices DeviceDirectory
	guard   pairing.QuotaGuard
	sink    audit.Sink
	timeNow func() time.Time
}

// NewRegistry creates a trust registry with the given config.
func NewRegistry(config RegistryConfig) *Registry {
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}
	return &Registry{
		edges:   config.Edges,
		devices: config.Devices,
		guard:   config.Guard,
		sink:    config.Audit,
		timeNow: config.TimeNow,
	}
}

// Establish creates or refreshes the active edge source -> target.
//
// Re-establishing an existing pair is idempotent: the stored edge keeps
// its identity, its level becomes max(existing, level) and createdAt is
// refreshed. Rejects self-pairing, invalid levels and, when a device
// directory is configured, unregistered targets. When a guard is
// configured, the source device is held to the establishment quota;
// a refresh counts against it like a new edge.
func (r *Registry) Establish(sourceDeviceID, targetDeviceID string, level int) (*Edge, error) {
	if sourceDeviceID == "" || targetDeviceID == "" {
		return nil, fmt.Errorf("source and target device ids are required")
	}
	if sourceDeviceID == targetDeviceID {
		return nil, ErrSelfPairing
	}
	if level < LevelPaired || level > LevelFull {
		return nil, ErrInvalidLevel
	}

	if r.devices != nil {
		ok, err := r.devices.Exists(targetDeviceID)
		if err != nil {
			return nil, fmt.Errorf("check target device: %w", err)
		}
		if !ok {
			return nil, ErrTargetInactive
		}
	}

	now := r.timeNow()

	if r.guard != nil {
		ok, retryAfter := r.guard.Allow(sourceDeviceID, rate.ActionEstablishTrust, now)
		if !ok {
			log.Printf("trust: establish rejected for device %s (retry in %s)", sourceDeviceID, retryAfter)
			return nil, &rate.LimitError{Action: rate.ActionEstablishTrust, RetryAfter: retryAfter}
		}
	}

	edge, err := r.edges.UpsertEdge(sourceDeviceID, targetDeviceID, level, now)
	if err != nil {
		return nil, fmt.Errorf("upsert edge: %w", err)
	}

	log.Printf("trust: established %s -> %s at level %d", sourceDeviceID, targetDeviceID, edge.TrustLevel)
	return edge, nil
}

// Revoke soft-deletes the active edge source -> target.
// Returns ErrEdgeNotFound if no active edge exists.
func (r *Registry) Revoke(sourceDeviceID, targetDeviceID string) error {
	now := r.timeNow()
	if err := r.edges.RevokeEdge(sourceDeviceID, targetDeviceID, now); err != nil {
		return err
	}

	log.Printf("trust: revoked %s -> %s", sourceDeviceID, targetDeviceID)
	r.record(audit.Event{
		ID:             uuid.New().String(),
		Type:           audit.EventTrustRevoked,
		SourceDeviceID: sourceDeviceID,
		TargetDeviceID: targetDeviceID,
		At:             now,
	})
	return nil
}

// ListTrusted returns all active outgoing edges from deviceID.
func (r *Registry) ListTrusted(deviceID string) ([]*Edge, error) {
	return r.edges.ActiveEdges(deviceID)
}

// HasPermission reports whether an active edge source -> target exists
// with at least the required trust level.
func (r *Registry) HasPermission(sourceDeviceID, targetDeviceID string, requiredLevel int) (bool, error) {
	edge, err := r.edges.ActiveEdge(sourceDeviceID, targetDeviceID)
	if err != nil {
		return false, err
	}
	return edge != nil && edge.TrustLevel >= requiredLevel, nil
}

// record emits an audit event, logging failures.
func (r *Registry) record(event audit.Event) {
	if r.sink == nil {
		return
	}
	if err := r.sink.Record(event); err != nil {
		log.Printf("trust: audit record failed: %v", err)
	}
}
