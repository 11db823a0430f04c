package storage

// pairing_codes.go contains SQLiteStore methods implementing
// pairing.Store. ConsumeCode is the correctness-critical operation: the
// ACTIVE -> CONSUMED transition is a single conditional UPDATE, so the
// read-modify-write is atomic even across processes sharing the file.

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/devicelink/devicelink/internal/pairing"
)

// RegisterCode inserts a new pairing code, failing if the code string is
// already present. Implements the atomic insert-if-absent the issuer
// relies on for collision handling.
func (s *SQLiteStore) RegisterCode(code *pairing.Code) error {
	if code == nil {
		return errors.New("code cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// INSERT OR IGNORE plus a rows-affected check keeps the existence
	// test and the insert in one statement.
	const query = `
		INSERT OR IGNORE INTO pairing_codes
			(code, format, issuer_device_id, issued_at, expires_at, state, consumed_by)
		VALUES (?, ?, ?, ?, ?, ?, '')
	`

	result, err := s.db.Exec(query,
		code.Code,
		string(code.Format),
		code.IssuerDeviceID,
		code.IssuedAt.UnixNano(),
		code.ExpiresAt.UnixNano(),
		string(pairing.StateActive),
	)
	if err != nil {
		return fmt.Errorf("register code: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if inserted == 0 {
		return pairing.ErrCodeExists
	}

	log.Printf("storage: registered %s code from device %s", code.Format, code.IssuerDeviceID)
	return nil
}

// ConsumeCode atomically transitions a code from ACTIVE to CONSUMED.
// The conditional UPDATE is the entire decision: it succeeds only for a
// code that is still ACTIVE and not yet expired, so two redeemers racing
// on the same code cannot both pass.
func (s *SQLiteStore) ConsumeCode(code, redeemerDeviceID string, now time.Time) (string, pairing.Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return "", "", fmt.Errorf("begin consume: %w", err)
	}
	defer tx.Rollback()

	const consume = `
		UPDATE pairing_codes
		SET state = ?, consumed_by = ?, consumed_at = ?
		WHERE code = ? AND state = ? AND expires_at >= ?
	`

	result, err := tx.Exec(consume,
		string(pairing.StateConsumed),
		redeemerDeviceID,
		now.UnixNano(),
		code,
		string(pairing.StateActive),
		now.UnixNano(),
	)
	if err != nil {
		return "", "", fmt.Errorf("consume code: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return "", "", fmt.Errorf("check rows affected: %w", err)
	}

	if affected == 1 {
		var (
			issuer string
			format string
		)
		err := tx.QueryRow(
			"SELECT issuer_device_id, format FROM pairing_codes WHERE code = ?", code,
		).Scan(&issuer, &format)
		if err != nil {
			return "", "", fmt.Errorf("read consumed code: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", "", fmt.Errorf("commit consume: %w", err)
		}

		log.Printf("storage: code consumed by device %s (issuer %s)", redeemerDeviceID, issuer)
		return issuer, pairing.Format(format), nil
	}

	// The update matched nothing; find out why.
	var (
		state     string
		expiresAt int64
	)
	err = tx.QueryRow("SELECT state, expires_at FROM pairing_codes WHERE code = ?", code).
		Scan(&state, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", pairing.ErrCodeNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("diagnose consume: %w", err)
	}

	switch pairing.State(state) {
	case pairing.StateConsumed:
		return "", "", pairing.ErrCodeUsed
	case pairing.StateExpired:
		return "", "", pairing.ErrCodeExpired
	}

	// Still ACTIVE, so the expiry condition failed. Record the lazy
	// transition; the row stays for audit until GC.
	_, err = tx.Exec(
		"UPDATE pairing_codes SET state = ? WHERE code = ? AND state = ?",
		string(pairing.StateExpired), code, string(pairing.StateActive),
	)
	if err != nil {
		return "", "", fmt.Errorf("mark expired: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", "", fmt.Errorf("commit expiry: %w", err)
	}

	return "", "", pairing.ErrCodeExpired
}

// CodeStatus returns the stored code without mutating it. An ACTIVE row
// past its expiry is reported as expired.
func (s *SQLiteStore) CodeStatus(code string, now time.Time) (*pairing.Code, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT code, format, issuer_device_id, issued_at, expires_at, state, consumed_by, consumed_at
		FROM pairing_codes
		WHERE code = ?
	`

	var (
		c          pairing.Code
		format     string
		state      string
		issuedAt   int64
		expiresAt  int64
		consumedAt sql.NullInt64
	)
	err := s.db.QueryRow(query, code).Scan(
		&c.Code, &format, &c.IssuerDeviceID, &issuedAt, &expiresAt, &state, &c.ConsumedBy, &consumedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pairing.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get code status: %w", err)
	}

	c.Format = pairing.Format(format)
	c.State = pairing.State(state)
	c.IssuedAt = time.Unix(0, issuedAt)
	c.ExpiresAt = time.Unix(0, expiresAt)
	if consumedAt.Valid {
		t := time.Unix(0, consumedAt.Int64)
		c.ConsumedAt = &t
	}

	if c.State == pairing.StateActive && c.Expired(now) {
		c.State = pairing.StateExpired
	}

	return &c, nil
}

// GarbageCollectCodes purges codes whose expiry plus the retention
// window has passed. An unexpired ACTIVE code always has
// expires_at >= now, so it can never match the cutoff.
func (s *SQLiteStore) GarbageCollectCodes(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.codeRetention).UnixNano()

	result, err := s.db.Exec("DELETE FROM pairing_codes WHERE expires_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("garbage collect codes: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}

	if purged > 0 {
		log.Printf("storage: garbage collected %d pairing codes", purged)
	}
	return int(purged), nil
}
