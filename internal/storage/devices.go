package storage

// devices.go contains SQLiteStore methods implementing device.Store.
// Devices are registered identities used in pairing.

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/devicelink/devicelink/internal/device"
)

// SaveDevice persists a device to the database.
// Uses INSERT OR REPLACE to handle both new devices and updates.
func (s *SQLiteStore) SaveDevice(d *device.Device) error {
	if d == nil {
		return errors.New("device cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: saving device %s (%s)", d.ID, d.Name)

	const query = `
		INSERT OR REPLACE INTO devices
			(id, name, token_hash, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		d.ID,
		d.Name,
		d.TokenHash,
		d.CreatedAt.UnixNano(),
		d.LastSeen.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save device: %w", err)
	}

	return nil
}

// GetDevice retrieves a device by ID.
// Returns nil, nil if the device does not exist.
func (s *SQLiteStore) GetDevice(id string) (*device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, name, token_hash, created_at, last_seen
		FROM devices
		WHERE id = ?
	`

	d, err := scanDevice(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	return d, nil
}

// ListDevices returns all registered devices.
func (s *SQLiteStore) ListDevices() ([]*device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, name, token_hash, created_at, last_seen
		FROM devices
		ORDER BY created_at ASC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var devices []*device.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device rows: %w", err)
	}

	return devices, nil
}

// UpdateLastSeen updates the last_seen timestamp for a device.
// Returns device.ErrNotFound if the device does not exist.
func (s *SQLiteStore) UpdateLastSeen(id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `UPDATE devices SET last_seen = ? WHERE id = ?`

	result, err := s.db.Exec(query, t.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return device.ErrNotFound
	}

	return nil
}

// scanDevice scans a row into a Device.
func scanDevice(row rowScanner) (*device.Device, error) {
	var (
		d         device.Device
		createdAt int64
		lastSeen  int64
	)

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.TokenHash,
		&createdAt,
		&lastSeen,
	)
	if err != nil {
		return nil, err
	}

	d.CreatedAt = time.Unix(0, createdAt)
	d.LastSeen = time.Unix(0, lastSeen)

	return &d, nil
}
