package pairing

import (
	"crypto/rand"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/devicelink/devicelink/internal/audit"
	hosterrors "github.com/devicelink/devicelink/internal/errors"
	"github.com/devicelink/devicelink/internal/rate"
)

// TTL bounds for issued codes. Caller-supplied TTLs are clamped into
// [MinTTL, MaxTTL]; a zero TTL selects DefaultTTL.
const (
	MinTTL     = 30 * time.Second
	MaxTTL     = time.Hour
	DefaultTTL = 10 * time.Minute
)

// maxRegisterAttempts bounds collision retries during issuance.
// SHORT and especially LEGACY code spaces are small, so a registration
// collision is expected occasionally and handled by regenerating.
const maxRegisterAttempts = 3

// QuotaGuard is the rate-limit contract the issuer consults before
// touching the store. Implemented by rate.Guard.
type QuotaGuard interface {
	Allow(identifier, action string, now time.Time) (ok bool, retryAfter time.Duration)
}

// IssuerConfig holds configuration for the issuer.
type IssuerConfig struct {
	// Store is where issued codes are registered. Required.
	Store Store

	// Guard enforces the per-issuer issuance quota. Optional; nil
	// disables domain rate limiting (used in some tests).
	Guard QuotaGuard

	// Audit receives code_issued events. Optional.
	Audit audit.Sink

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// Issuer generates pairing codes and registers them with the store.
type Issuer struct {
	store   Store
	guard   QuotaGuard
	sink    audit.Sink
	timeNow func() time.Time
}

// NewIssuer creates a new issuer with the given config.
func NewIssuer(config IssuerConfig) *Issuer {
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}
	return &Issuer{
		store:   config.Store,
		guard:   config.Guard,
		sink:    config.Audit,
		timeNow: config.TimeNow,
	}
}

// Issue generates a code for issuerDeviceID and registers it ACTIVE.
//
// format defaults to FormatUUID when empty. ttl is clamped into
// [MinTTL, MaxTTL]; zero selects DefaultTTL. The issuance quota is
// checked first; on rejection a *rate.LimitError is returned without
// contacting the store.
func (i *Issuer) Issue(issuerDeviceID string, format Format, ttl time.Duration) (*Code, error) {
	if issuerDeviceID == "" {
		return nil, fmt.Errorf("issuer device id is required")
	}

	if format == "" {
		format = FormatUUID
	}
	if !format.Valid() {
		return nil, ErrUnknownFormat
	}

	now := i.timeNow()

	if i.guard != nil {
		ok, retryAfter := i.guard.Allow(issuerDeviceID, rate.ActionIssueCode, now)
		if !ok {
			log.Printf("pairing: issue rejected for device %s (retry in %s)", issuerDeviceID, retryAfter)
			return nil, &rate.LimitError{Action: rate.ActionIssueCode, RetryAfter: retryAfter}
		}
	}

	if format == FormatLegacy {
		log.Printf("pairing: device %s requested legacy 6-digit code; this format is weak and kept only for older clients", issuerDeviceID)
	}

	ttl = clampTTL(ttl)

	// Registration is insert-if-absent; a collision means another ACTIVE
	// code already uses the same string, so regenerate and try again.
	var lastErr error
	for attempt := 0; attempt < maxRegisterAttempts; attempt++ {
		codeStr, err := generateCode(format)
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}

		code := &Code{
			Code:           codeStr,
			Format:         format,
			IssuerDeviceID: issuerDeviceID,
			IssuedAt:       now,
			ExpiresAt:      now.Add(ttl),
			State:          StateActive,
		}

		err = i.store.RegisterCode(code)
		if err == nil {
			log.Printf("pairing: issued %s code for device %s (expires at %s)",
				format, issuerDeviceID, code.ExpiresAt.Format(time.RFC3339))
			i.recordIssued(code, now)
			return code, nil
		}
		if err != ErrCodeExists {
			return nil, fmt.Errorf("register code: %w", err)
		}

		log.Printf("pairing: %s code collision on attempt %d, regenerating", format, attempt+1)
		lastErr = err
	}

	return nil, hosterrors.IssuanceFailed(maxRegisterAttempts, lastErr)
}

// recordIssued emits a code_issued audit event. Sink failures are
// logged, never surfaced.
func (i *Issuer) recordIssued(code *Code, now time.Time) {
	if i.sink == nil {
		return
	}
	err := i.sink.Record(audit.Event{
		ID:             uuid.New().String(),
		Type:           audit.EventCodeIssued,
		SourceDeviceID: code.IssuerDeviceID,
		CodeFormat:     string(code.Format),
		At:             now,
	})
	if err != nil {
		log.Printf("pairing: audit record failed: %v", err)
	}
}

// clampTTL bounds a caller-supplied TTL into [MinTTL, MaxTTL].
func clampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl == 0:
		return DefaultTTL
	case ttl < MinTTL:
		return MinTTL
	case ttl > MaxTTL:
		return MaxTTL
	}
	return ttl
}

// generateCode produces a fresh random code string in the given format.
func generateCode(format Format) (string, error) {
	switch format {
	case FormatUUID:
		return uuid.New().String(), nil
	case FormatShort:
		return randomHex(12)
	case FormatLegacy:
		return randomDigits(6)
	}
	return "", ErrUnknownFormat
}

// randomHex returns length lowercase hex characters from crypto/rand.
func randomHex(length int) (string, error) {
	const alphabet = "0123456789abcdef"
	return randomString(alphabet, length)
}

// randomDigits returns length decimal digits from crypto/rand.
func randomDigits(length int) (string, error) {
	const alphabet = "0123456789"
	return randomString(alphabet, length)
}

// randomString draws length characters uniformly from alphabet using
// crypto/rand. Rejection sampling keeps the distribution unbiased.
func randomString(alphabet string, length int) (string, error) {
	out := make([]byte, 0, length)
	buf := make([]byte, length)

	// 256 is not a multiple of every alphabet size; reject bytes past the
	// largest multiple to avoid modulo bias.
	limit := 256 - 256%len(alphabet)

	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}
