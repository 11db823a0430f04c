// Package device manages registered devices and their access tokens.
// Devices are created on first registration and are never deleted by the
// pairing core; revoking a device's trust edges does not unregister it.
//
// Tokens are 256-bit random values handed out once at registration and
// stored bcrypt-hashed. Validation compares the presented token against
// stored hashes.
package device

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a device lookup fails.
var ErrNotFound = errors.New("device not found")

// Device is an identity participating in pairing.
type Device struct {
	// ID is the opaque stable identifier (UUID assigned at registration).
	ID string

	// Name is a friendly name supplied at registration (e.g., "Kitchen Hub").
	Name string

	// TokenHash is the bcrypt hash of the device's access token.
	TokenHash string

	// CreatedAt is when the device first registered.
	CreatedAt time.Time

	// LastSeen is updated on every successful token validation.
	LastSeen time.Time
}

// Store persists registered devices. Implementations must be safe for
// concurrent access. Implemented by storage.SQLiteStore.
type Store interface {
	// SaveDevice persists a device. An existing device with the same ID
	// is updated.
	SaveDevice(device *Device) error

	// GetDevice retrieves a device by ID.
	// Returns nil, nil if the device does not exist.
	GetDevice(id string) (*Device, error)

	// ListDevices returns all registered devices.
	ListDevices() ([]*Device, error)

	// UpdateLastSeen updates the last_seen timestamp for a device.
	// Returns ErrNotFound if the device does not exist.
	UpdateLastSeen(id string, t time.Time) error
}
