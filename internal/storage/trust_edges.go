package storage

// trust_edges.go contains SQLiteStore methods implementing
// trust.EdgeStore. Edges are soft-deleted: revocation sets revoked_at
// and a partial unique index keeps at most one active edge per ordered
// (source, target) pair.

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/devicelink/devicelink/internal/trust"
)

// UpsertEdge inserts a new active edge or refreshes the existing one for
// the ordered pair. The update-then-insert runs in one transaction under
// the store mutex, so concurrent establishes for the same pair cannot
// duplicate the edge; the partial unique index backstops the invariant.
func (s *SQLiteStore) UpsertEdge(sourceDeviceID, targetDeviceID string, level int, now time.Time) (*trust.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	// Idempotent re-pairing: take the higher level and refresh created_at.
	const refresh = `
		UPDATE trust_edges
		SET trust_level = MAX(trust_level, ?), created_at = ?
		WHERE source_device_id = ? AND target_device_id = ? AND revoked_at IS NULL
	`

	result, err := tx.Exec(refresh, level, now.UnixNano(), sourceDeviceID, targetDeviceID)
	if err != nil {
		return nil, fmt.Errorf("refresh edge: %w", err)
	}

	refreshed, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}

	if refreshed == 0 {
		const insert = `
			INSERT INTO trust_edges (id, source_device_id, target_device_id, trust_level, created_at)
			VALUES (?, ?, ?, ?, ?)
		`
		_, err := tx.Exec(insert, uuid.New().String(), sourceDeviceID, targetDeviceID, level, now.UnixNano())
		if err != nil {
			return nil, fmt.Errorf("insert edge: %w", err)
		}
	}

	edge, err := scanEdge(tx.QueryRow(activeEdgeQuery, sourceDeviceID, targetDeviceID))
	if err != nil {
		return nil, fmt.Errorf("read upserted edge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upsert: %w", err)
	}

	return edge, nil
}

// RevokeEdge soft-deletes the active edge for the ordered pair.
func (s *SQLiteStore) RevokeEdge(sourceDeviceID, targetDeviceID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		UPDATE trust_edges
		SET revoked_at = ?
		WHERE source_device_id = ? AND target_device_id = ? AND revoked_at IS NULL
	`

	result, err := s.db.Exec(query, now.UnixNano(), sourceDeviceID, targetDeviceID)
	if err != nil {
		return fmt.Errorf("revoke edge: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return trust.ErrEdgeNotFound
	}

	log.Printf("storage: revoked trust edge %s -> %s", sourceDeviceID, targetDeviceID)
	return nil
}

const activeEdgeQuery = `
	SELECT id, source_device_id, target_device_id, trust_level, created_at, revoked_at
	FROM trust_edges
	WHERE source_device_id = ? AND target_device_id = ? AND revoked_at IS NULL
`

// ActiveEdge returns the active edge for the ordered pair, or nil, nil
// if none exists.
func (s *SQLiteStore) ActiveEdge(sourceDeviceID, targetDeviceID string) (*trust.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edge, err := scanEdge(s.db.QueryRow(activeEdgeQuery, sourceDeviceID, targetDeviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active edge: %w", err)
	}
	return edge, nil
}

// ActiveEdges returns all active outgoing edges from sourceDeviceID.
func (s *SQLiteStore) ActiveEdges(sourceDeviceID string) ([]*trust.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, source_device_id, target_device_id, trust_level, created_at, revoked_at
		FROM trust_edges
		WHERE source_device_id = ? AND revoked_at IS NULL
		ORDER BY created_at ASC
	`

	rows, err := s.db.Query(query, sourceDeviceID)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var edges []*trust.Edge
	for rows.Next() {
		edge, err := scanEdgeRows(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edge rows: %w", err)
	}

	return edges, nil
}

// rowScanner abstracts sql.Row and sql.Rows for the shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEdge(row rowScanner) (*trust.Edge, error) {
	var (
		edge      trust.Edge
		createdAt int64
		revokedAt sql.NullInt64
	)

	err := row.Scan(
		&edge.ID,
		&edge.SourceDeviceID,
		&edge.TargetDeviceID,
		&edge.TrustLevel,
		&createdAt,
		&revokedAt,
	)
	if err != nil {
		return nil, err
	}

	edge.CreatedAt = time.Unix(0, createdAt)
	if revokedAt.Valid {
		t := time.Unix(0, revokedAt.Int64)
		edge.RevokedAt = &t
	}

	return &edge, nil
}

func scanEdgeRows(rows *sql.Rows) (*trust.Edge, error) {
	return scanEdge(rows)
}
