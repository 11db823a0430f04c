// Package pairing implements the pairing-code lifecycle: issuance in one
// of three encodings, single-use redemption, lazy expiry and garbage
// collection.
//
// The flow works as follows:
//  1. Device A asks the Issuer for a code (rate-gated per issuer)
//  2. The Issuer registers the code ACTIVE with the Store before returning
//  3. Device B redeems the code; Store.ConsumeCode is the single atomic
//     transition ACTIVE -> CONSUMED, and the first caller wins
//  4. Redemption establishes a trust edge (see the trust package)
//
// Security considerations:
//   - Codes are short-lived (TTL clamped to [30s, 1h], default 10m)
//   - A code can only be consumed once, even under concurrent attempts
//   - Rate limiting bounds issuance and redemption per device
//   - SHORT and LEGACY codes are drawn from crypto/rand, never math/rand
package pairing

import (
	"errors"
	"time"
)

// Lifecycle sentinel errors. Store implementations return these so
// callers can branch with errors.Is.
var (
	// ErrCodeExists is returned by RegisterCode when the code is already
	// registered. For the issuer this is a retry trigger, not a failure.
	ErrCodeExists = errors.New("pairing code already registered")

	// ErrCodeNotFound is returned when the code is unknown.
	ErrCodeNotFound = errors.New("pairing code not found")

	// ErrCodeExpired is returned when the code is past its expiry.
	ErrCodeExpired = errors.New("pairing code has expired")

	// ErrCodeUsed is returned when the code was already consumed.
	ErrCodeUsed = errors.New("pairing code already used")

	// ErrUnknownFormat is returned when a code matches no known encoding.
	ErrUnknownFormat = errors.New("unknown pairing code format")
)

// State is the lifecycle state of a pairing code.
type State string

const (
	// StateActive means the code is redeemable.
	StateActive State = "active"

	// StateConsumed means the code was redeemed. Terminal.
	StateConsumed State = "consumed"

	// StateExpired means the code passed its expiry unredeemed.
	// Expiry is evaluated lazily on lookup, never by a timer.
	StateExpired State = "expired"
)

// Code is a single-use pairing token.
type Code struct {
	// Code is the token string in one of the three encodings.
	Code string

	// Format is the encoding of Code.
	Format Format

	// IssuerDeviceID is the device that created the code.
	IssuerDeviceID string

	// IssuedAt and ExpiresAt bound the redeemable window.
	IssuedAt  time.Time
	ExpiresAt time.Time

	// State is the lifecycle state. StateActive is the only redeemable one.
	State State

	// ConsumedBy is the redeeming device id, set exactly once on the
	// transition to StateConsumed. Immutable afterwards.
	ConsumedBy string

	// ConsumedAt is set together with ConsumedBy.
	ConsumedAt *time.Time
}

// Expired reports whether the code is past its expiry at time now.
func (c *Code) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Store is the authoritative lifecycle state for outstanding codes.
// Implementations must be safe for concurrent use; ConsumeCode must be
// an indivisible read-modify-write per code key.
type Store interface {
	// RegisterCode inserts a new code in StateActive.
	// The insert is atomic: if the code already exists, ErrCodeExists is
	// returned and no state changes.
	RegisterCode(code *Code) error

	// ConsumeCode atomically transitions code from StateActive to
	// StateConsumed on behalf of redeemerDeviceID. Exactly one caller can
	// succeed per code; racing callers observe ErrCodeUsed. A code whose
	// expiry has passed yields ErrCodeExpired even if a row still exists.
	ConsumeCode(code, redeemerDeviceID string, now time.Time) (issuerDeviceID string, format Format, err error)

	// CodeStatus returns the code's current state without mutating it.
	// A stored ACTIVE code past its expiry is reported as StateExpired.
	CodeStatus(code string, now time.Time) (*Code, error)

	// GarbageCollectCodes purges codes whose expiry plus the retention
	// window has passed. It never removes an unexpired ACTIVE code.
	// Returns the number of purged codes.
	GarbageCollectCodes(now time.Time) (int, error)
}
