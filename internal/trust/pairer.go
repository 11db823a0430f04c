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

// PairerConfig holds configuration for the pairing orchestration.
type PairerConfig struct {
	// Codes is the pairing-code store. Required.
	Codes pairing.Store

	// Registry establishes trust edges. Required.
	Registry *Registry

	// Devices validates the redeemer before the code is burned. Optional.
	Devices DeviceDirectory

	// Guard enforces the per-redeemer redemption quota. Optional.
	Guard pairing.QuotaGuard

	// Audit receives devices_paired and pairing_incomplete events. Optional.
	Audit audit.Sink

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// Pairer composes the code store and the trust registry into the
// redemption use case: consume a code, establish trust, audit.
type Pairer struct {
	codes    pairing.Store
	registry *Registry
	devices  DeviceDirectory
	guard    pairing.QuotaGuard
	sink     audit.Sink
	timeNow  func() time.Time
}

// NewPairer creates a pairer with the given config.
func NewPairer(config PairerConfig) *Pairer {
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}
	return &Pairer{
		codes:    config.Codes,
		registry: config.Registry,
		devices:  config.Devices,
		guard:    config.Guard,
		sink:     config.Audit,
		timeNow:  config.TimeNow,
	}
}

// Pair redeems code on behalf of redeemerDeviceID and establishes a
// level-1 trust edge from the code's issuer to the redeemer.
//
// Everything that can be validated without mutation runs before the
// consume: input shape, code format, redeemer registration, quota. The
// consume is the single irreversible step; a code is not resurrected if
// establishment fails afterwards - that surfaces as ErrPairingIncomplete
// with a compensating audit entry.
//
// A device redeeming its own code gets ErrSelfPairing. The check runs
// after the atomic consume (the issuer is only known from its result),
// so a self-pair attempt burns the code. See DESIGN.md for the trade-off.
func (p *Pairer) Pair(redeemerDeviceID, code string) (*Edge, error) {
	if redeemerDeviceID == "" {
		return nil, fmt.Errorf("redeemer device id is required")
	}
	if code == "" {
		return nil, fmt.Errorf("pairing code is required")
	}

	// Reject shapes that can never match a stored code before touching
	// any state.
	if _, err := pairing.DetectFormat(code); err != nil {
		return nil, err
	}

	if p.devices != nil {
		ok, err := p.devices.Exists(redeemerDeviceID)
		if err != nil {
			return nil, fmt.Errorf("check redeemer device: %w", err)
		}
		if !ok {
			return nil, ErrTargetInactive
		}
	}

	now := p.timeNow()

	if p.guard != nil {
		ok, retryAfter := p.guard.Allow(redeemerDeviceID, rate.ActionRedeemCode, now)
		if !ok {
			log.Printf("trust: pair rejected for device %s (retry in %s)", redeemerDeviceID, retryAfter)
			return nil, &rate.LimitError{Action: rate.ActionRedeemCode, RetryAfter: retryAfter}
		}
	}

	// The irreversible step. Exactly one concurrent caller can pass.
	issuerDeviceID, format, err := p.codes.ConsumeCode(code, redeemerDeviceID, now)
	if err != nil {
		return nil, err
	}

	// Defensive: issuance cannot prevent a device from learning its own
	// code out of band.
	if issuerDeviceID == redeemerDeviceID {
		log.Printf("trust: device %s attempted to redeem its own code", redeemerDeviceID)
		return nil, ErrSelfPairing
	}

	edge, err := p.registry.Establish(issuerDeviceID, redeemerDeviceID, LevelPaired)
	if err != nil {
		// The code is consumed and stays consumed. Record the failure so
		// reconciliation can find it.
		log.Printf("trust: pairing incomplete for code issued by %s: %v", issuerDeviceID, err)
		p.record(audit.Event{
			ID:             uuid.New().String(),
			Type:           audit.EventPairingIncomplete,
			SourceDeviceID: issuerDeviceID,
			TargetDeviceID: redeemerDeviceID,
			CodeFormat:     string(format),
			Detail:         err.Error(),
			At:             now,
		})
		return nil, fmt.Errorf("%w: %v", ErrPairingIncomplete, err)
	}

	p.record(audit.Event{
		ID:             uuid.New().String(),
		Type:           audit.EventDevicesPaired,
		SourceDeviceID: issuerDeviceID,
		TargetDeviceID: redeemerDeviceID,
		CodeFormat:     string(format),
		At:             now,
	})

	log.Printf("trust: paired %s -> %s via %s code", issuerDeviceID, redeemerDeviceID, format)
	return edge, nil
}

// record emits an audit event, logging failures.
func (p *Pairer) record(event audit.Event) {
	if p.sink == nil {
		return
	}
	if err := p.sink.Record(event); err != nil {
		log.Printf("trust: audit record failed: %v", err)
	}
}
