package storage

// audit_events.go contains the durable audit sink. Lifecycle events are
// persisted and pruned to a bounded row count so the table cannot grow
// without limit.

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/devicelink/devicelink/internal/audit"
)

// defaultAuditMaxRows bounds the audit_events table.
const defaultAuditMaxRows = 10000

// AuditSink is a durable audit.Sink backed by the SQLite store.
type AuditSink struct {
	store   *SQLiteStore
	maxRows int
}

// NewAuditSink creates a durable audit sink. maxRows <= 0 selects the
// default bound.
func NewAuditSink(store *SQLiteStore, maxRows int) *AuditSink {
	if maxRows <= 0 {
		maxRows = defaultAuditMaxRows
	}
	return &AuditSink{store: store, maxRows: maxRows}
}

// Record persists the event and prunes old rows past the bound.
func (a *AuditSink) Record(event audit.Event) error {
	if err := a.store.saveAuditEvent(event, a.maxRows); err != nil {
		log.Printf("audit: durable write failed: %v", err)
		return err
	}
	log.Printf("audit: type=%s source=%s target=%s format=%s",
		event.Type, event.SourceDeviceID, event.TargetDeviceID, event.CodeFormat)
	return nil
}

// saveAuditEvent inserts one event and deletes the oldest rows beyond
// maxRows in the same transaction.
func (s *SQLiteStore) saveAuditEvent(event audit.Event, maxRows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin audit save: %w", err)
	}
	defer tx.Rollback()

	const insert = `
		INSERT INTO audit_events (id, type, source_device_id, target_device_id, code_format, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.Exec(insert,
		event.ID,
		string(event.Type),
		event.SourceDeviceID,
		event.TargetDeviceID,
		event.CodeFormat,
		event.Detail,
		event.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	const prune = `
		DELETE FROM audit_events
		WHERE id NOT IN (SELECT id FROM audit_events ORDER BY at DESC LIMIT ?)
	`

	if _, err := tx.Exec(prune, maxRows); err != nil {
		return fmt.Errorf("prune audit events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit save: %w", err)
	}
	return nil
}

// ListAuditEvents returns the most recent events, newest first.
func (s *SQLiteStore) ListAuditEvents(limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT id, type, source_device_id, target_device_id, code_format, detail, at
		FROM audit_events
		ORDER BY at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}

	return events, nil
}

func scanAuditEvent(rows *sql.Rows) (audit.Event, error) {
	var (
		event     audit.Event
		eventType string
		at        int64
	)

	err := rows.Scan(
		&event.ID,
		&eventType,
		&event.SourceDeviceID,
		&event.TargetDeviceID,
		&event.CodeFormat,
		&event.Detail,
		&at,
	)
	if err != nil {
		return audit.Event{}, err
	}

	event.Type = audit.EventType(eventType)
	event.At = time.Unix(0, at)

	return event, nil
}
