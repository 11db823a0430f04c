package device

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[string]*Device)}
}

// SaveDevice persists a device, replacing any existing entry.
func (s *MemoryStore) SaveDevice(d *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *d
	s.devices[d.ID] = &copied
	return nil
}

// GetDevice retrieves a device by ID. Returns nil, nil if absent.
func (s *MemoryStore) GetDevice(id string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

// ListDevices returns all registered devices ordered by creation time.
func (s *MemoryStore) ListDevices() ([]*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	devices := make([]*Device, 0, len(s.devices))
	for _, d := range s.devices {
		copied := *d
		devices = append(devices, &copied)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].CreatedAt.Before(devices[j].CreatedAt)
	})
	return devices, nil
}

// UpdateLastSeen updates the last_seen timestamp for a device.
func (s *MemoryStore) UpdateLastSeen(id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return ErrNotFound
	}
	d.LastSeen = t
	return nil
}
