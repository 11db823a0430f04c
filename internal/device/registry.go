package device

import (
	"crypto/rand"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/devicelink/devicelink/internal/audit"
)

// tokenBytes is the access token size: 32 bytes = 256 bits of entropy.
const tokenBytes = 32

// RegistryConfig holds configuration for the device registry.
type RegistryConfig struct {
	// Store is where devices are persisted. Required.
	Store Store

	// Audit receives device_registered events. Optional.
	Audit audit.Sink

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// Registry registers devices and validates their access tokens.
type Registry struct {
	store   Store
	sink    audit.Sink
	timeNow func() time.Time
}

// NewRegistry creates a device registry with the given config.
func NewRegistry(config RegistryConfig) *Registry {
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}
	return &Registry{
		store:   config.Store,
		sink:    config.Audit,
		timeNow: config.TimeNow,
	}
}

// Register creates a new device and returns it together with its access
// token. The token is returned exactly once; only its bcrypt hash is
// stored.
func (r *Registry) Register(name string) (*Device, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Unnamed Device"
	}

	now := r.timeNow()
	token, err := generateToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash token: %w", err)
	}

	d := &Device{
		ID:        uuid.New().String(),
		Name:      name,
		TokenHash: string(hash),
		CreatedAt: now,
		LastSeen:  now,
	}

	if err := r.store.SaveDevice(d); err != nil {
		return nil, "", fmt.Errorf("save device: %w", err)
	}

	log.Printf("device: registered %s (%s)", d.ID, d.Name)
	r.record(audit.Event{
		ID:             uuid.New().String(),
		Type:           audit.EventDeviceRegistered,
		SourceDeviceID: d.ID,
		Detail:         d.Name,
		At:             now,
	})

	return d, token, nil
}

// ValidateToken checks the presented token against all stored hashes.
// On success it returns the device and refreshes its last_seen.
// Returns ErrNotFound if no device matches.
//
// This is a linear scan with a bcrypt compare per device. For the small
// device counts this service manages that is acceptable.
func (r *Registry) ValidateToken(token string) (*Device, error) {
	devices, err := r.store.ListDevices()
	if err != nil {
		return nil, err
	}

	for _, d := range devices {
		if err := bcrypt.CompareHashAndPassword([]byte(d.TokenHash), []byte(token)); err == nil {
			now := r.timeNow()
			if err := r.store.UpdateLastSeen(d.ID, now); err != nil {
				// Validation succeeded; a stale last_seen is not fatal.
				log.Printf("device: failed to update last_seen for %s: %v", d.ID, err)
			}
			return d, nil
		}
	}

	return nil, ErrNotFound
}

// Exists reports whether a device with the given id is registered.
// This is the active-device check used by the trust registry.
func (r *Registry) Exists(id string) (bool, error) {
	d, err := r.store.GetDevice(id)
	if err != nil {
		return false, err
	}
	return d != nil, nil
}

// Get retrieves a device by id. Returns ErrNotFound if unknown.
func (r *Registry) Get(id string) (*Device, error) {
	d, err := r.store.GetDevice(id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}
	return d, nil
}

// List returns all registered devices.
func (r *Registry) List() ([]*Device, error) {
	return r.store.ListDevices()
}

// record emits an audit event, logging failures.
func (r *Registry) record(event audit.Event) {
	if r.sink == nil {
		return
	}
	if err := r.sink.Record(event); err != nil {
		log.Printf("device: audit record failed: %v", err)
	}
}

// generateToken returns a hex-encoded 256-bit random token.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", b), nil
}
