package pairing

import (
	"sync"
	"time"
)

// codeRetention is how long expired or consumed codes are kept for
// audit replay before garbage collection purges them.
const codeRetention = time.Hour

// MemoryStore is a mutex-guarded in-memory Store. It is the backing
// store for tests and single-process deployments without a database;
// the SQLite store in the storage package is the durable alternative.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]*Code
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: make(map[string]*Code)}
}

// RegisterCode implements Store. The mutex makes the existence check
// and insert a single atomic step.
func (s *MemoryStore) RegisterCode(code *Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return ErrCodeExists
	}

	c := *code
	s.codes[code.Code] = &c
	return nil
}

// ConsumeCode implements Store. The entire read-modify-write runs under
// the store mutex, so two racing redeemers cannot both observe the
// ACTIVE state.
func (s *MemoryStore) ConsumeCode(code, redeemerDeviceID string, now time.Time) (string, Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.codes[code]
	if !exists {
		return "", "", ErrCodeNotFound
	}

	switch c.State {
	case StateConsumed:
		return "", "", ErrCodeUsed
	case StateExpired:
		return "", "", ErrCodeExpired
	}

	if c.Expired(now) {
		// Lazy transition; the row stays for audit until GC.
		c.State = StateExpired
		return "", "", ErrCodeExpired
	}

	c.State = StateConsumed
	c.ConsumedBy = redeemerDeviceID
	consumedAt := now
	c.ConsumedAt = &consumedAt

	return c.IssuerDeviceID, c.Format, nil
}

// CodeStatus implements Store. Does not mutate; an ACTIVE code past its
// expiry is reported as expired.
func (s *MemoryStore) CodeStatus(code string, now time.Time) (*Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.codes[code]
	if !exists {
		return nil, ErrCodeNotFound
	}

	out := *c
	if out.State == StateActive && out.Expired(now) {
		out.State = StateExpired
	}
	return &out, nil
}

// GarbageCollectCodes implements Store. Only codes whose expiry plus
// the retention window has passed are purged; an unexpired ACTIVE code
// is never removed no matter how often GC runs.
func (s *MemoryStore) GarbageCollectCodes(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for key, c := range s.codes {
		if now.After(c.ExpiresAt.Add(codeRetention)) {
			delete(s.codes, key)
			purged++
		}
	}
	return purged, nil
}

// Len returns the number of stored codes, for tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}
