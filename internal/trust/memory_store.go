package trust

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded in-memory EdgeStore for tests and
// single-process deployments without a database.
type MemoryStore struct {
	mu    sync.Mutex
	edges []*Edge
}

// NewMemoryStore creates an empty in-memory edge store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// UpsertEdge implements EdgeStore. The mutex makes lookup and write one
// atomic step, preserving the single-active-edge invariant.
func (s *MemoryStore) UpsertEdge(sourceDeviceID, targetDeviceID string, level int, now time.Time) (*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.activeLocked(sourceDeviceID, targetDeviceID); e != nil {
		if level > e.TrustLevel {
			e.TrustLevel = level
		}
		e.CreatedAt = now
		out := *e
		return &out, nil
	}

	e := &Edge{
		ID:             uuid.New().String(),
		SourceDeviceID: sourceDeviceID,
		TargetDeviceID: targetDeviceID,
		TrustLevel:     level,
		CreatedAt:      now,
	}
	s.edges = append(s.edges, e)
	out := *e
	return &out, nil
}

// RevokeEdge implements EdgeStore.
func (s *MemoryStore) RevokeEdge(sourceDeviceID, targetDeviceID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.activeLocked(sourceDeviceID, targetDeviceID)
	if e == nil {
		return ErrEdgeNotFound
	}

	revokedAt := now
	e.RevokedAt = &revokedAt
	return nil
}

// ActiveEdge implements EdgeStore.
func (s *MemoryStore) ActiveEdge(sourceDeviceID, targetDeviceID string) (*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.activeLocked(sourceDeviceID, targetDeviceID)
	if e == nil {
		return nil, nil
	}
	out := *e
	return &out, nil
}

// ActiveEdges implements EdgeStore.
func (s *MemoryStore) ActiveEdges(sourceDeviceID string) ([]*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Edge
	for _, e := range s.edges {
		if e.SourceDeviceID == sourceDeviceID && e.Active() {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out, nil
}

// EdgeCount returns the total number of edges including revoked ones,
// for tests.
func (s *MemoryStore) EdgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.edges)
}

// activeLocked finds the active edge for the ordered pair.
// Must be called with s.mu held.
func (s *MemoryStore) activeLocked(source, target string) *Edge {
	for _, e := range s.edges {
		if e.SourceDeviceID == source && e.TargetDeviceID == target && e.Active() {
			return e
		}
	}
	return nil
}
