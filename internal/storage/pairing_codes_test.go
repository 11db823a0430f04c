package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devicelink/devicelink/internal/pairing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func activeCode(code string, format pairing.Format, now time.Time, ttl time.Duration) *pairing.Code {
	return &pairing.Code{
		Code:           code,
		Format:         format,
		IssuerDeviceID: "issuer-1",
		IssuedAt:       now,
		ExpiresAt:      now.Add(ttl),
		State:          pairing.StateActive,
	}
}

func TestRegisterCodePersists(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	if err := store.RegisterCode(activeCode("123456", pairing.FormatLegacy, now, time.Minute)); err != nil {
		t.Fatalf("RegisterCode: %v", err)
	}

	status, err := store.CodeStatus("123456", now)
	if err != nil {
		t.Fatalf("CodeStatus: %v", err)
	}
	if status.State != pairing.StateActive {
		t.Errorf("state = %q, want %q", status.State, pairing.StateActive)
	}
	if status.Format != pairing.FormatLegacy {
		t.Errorf("format = %q, want %q", status.Format, pairing.FormatLegacy)
	}
	if status.IssuerDeviceID != "issuer-1" {
		t.Errorf("issuer = %q, want issuer-1", status.IssuerDeviceID)
	}
}

func TestRegisterCodeDuplicate(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	if err := store.RegisterCode(activeCode("123456", pairing.FormatLegacy, now, time.Minute)); err != nil {
		t.Fatalf("first RegisterCode: %v", err)
	}

	err := store.RegisterCode(activeCode("123456", pairing.FormatLegacy, now, time.Minute))
	if !errors.Is(err, pairing.ErrCodeExists) {
		t.Errorf("duplicate RegisterCode error = %v, want ErrCodeExists", err)
	}
}

func TestConsumeCode(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	if err := store.RegisterCode(activeCode("abcdef012345", pairing.FormatShort, now, time.Minute)); err != nil {
		t.Fatalf("RegisterCode: %v", err)
	}

	issuer, format, err := store.ConsumeCode("abcdef012345", "redeemer-1", now)
	if err != nil {
		t.Fatalf("ConsumeCode: %v", err)
	}
	if issuer != "issuer-1" {
		t.Errorf("issuer = %q, want issuer-1", issuer)
	}
	if format != pairing.FormatShort {
		t.Errorf("format = %q, want %q", format, pairing.FormatShort)
	}

	status, err := store.CodeStatus("abcdef012345", now)
	if err != nil {
		t.Fatalf("CodeStatus: %v", err)
	}
	if status.State != pairing.StateConsumed {
		t.Errorf("state = %q, want %q", status.State, pairing.StateConsumed)
	}
	if status.ConsumedBy != "redeemer-1" {
		t.Errorf("consumedBy = %q, want redeemer-1", status.ConsumedBy)
	}
	if status.ConsumedAt == nil {
		t.Error("consumedAt not set")
	}
}

func TestConsumeCodeNotFound(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.ConsumeCode("999999", "redeemer-1", time.Now())
	if !errors.Is(err, pairing.ErrCodeNotFound) {
		t.Errorf("error = %v, want ErrCodeNotFound", err)
	}
}

func TestConsumeCodeTwice(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	if err := store.RegisterCode(activeCode("123456", pairing.FormatLegacy, now, time.Minute)); err != nil {
		t.Fatalf("RegisterCode: %v", err)
	}
	if _, _, err := store.ConsumeCode("123456", "redeemer-1", now); err != nil {
		t.Fatalf("first ConsumeCode: %v", err)
	}

	_, _, err := store.ConsumeCode("123456", "redeemer-2", now)
	if !errors.Is(err, pairing.ErrCodeUsed) {
		t.Errorf("second consume error = %v, want ErrCodeUsed", err)
	}

	// First redeemer stays recorded.
	status, err := store.CodeStatus("123456", now)
	if err != nil {
		t.Fatalf("CodeStatus: %v", err)
	}
	if status.ConsumedBy != "redeemer-1" {
		t.Errorf("consumedBy = %q, want redeemer-1", status.ConsumedBy)
	}
}

func TestConsumeCodeExpired(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	if err := store.RegisterCode(activeCode("123456", pairing.FormatLegacy, now, time.Second)); err != nil {
		t.Fatalf("RegisterCode: %v", err)
	}

	later := now.Add(2 * time.Second)
	_, _, err := store.ConsumeCode("123456", "redeemer-1", later)
	if !errors.Is(err, pairing.ErrCodeExpired) {
		t.Errorf("error = %v, want ErrCodeExpired", err)
	}

	// The failed consume flips the row to expired; a retry sees the same.
	status, err := store.CodeStatus("123456", later)
	if err != nil {
		t.Fatalf("CodeStatus: %v", err)
	}
	if status.State != pairing.StateExpired {
		t.Errorf("state = %q, want %q", status.State, pairing.StateExpired)
	}
	if _, _, err := store.ConsumeCode("123456", "redeemer-2", later); !errors.Is(err, pairing.ErrCodeExpired) {
		t.Errorf("retry error = %v, want ErrCodeExpired", err)
	}
}

func TestCodeStatusReportsLazyExpiry(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	if err := store.RegisterCode(activeCode("123456", pairing.FormatLegacy, now, time.Second)); err != nil {
		t.Fatalf("RegisterCode: %v", err)
	}

	status, err := store.CodeStatus("123456", now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("CodeStatus: %v", err)
	}
	if status.State != pairing.StateExpired {
		t.Errorf("state = %q, want %q", status.State, pairing.StateExpired)
	}
}

func TestGarbageCollectCodes(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	// Expired long ago, expired recently, and still active.
	if err := store.RegisterCode(activeCode("111111", pairing.FormatLegacy, now.Add(-3*time.Hour), time.Minute)); err != nil {
		t.Fatalf("RegisterCode old: %v", err)
	}
	if err := store.RegisterCode(activeCode("222222", pairing.FormatLegacy, now.Add(-time.Minute), 30*time.Second)); err != nil {
		t.Fatalf("RegisterCode recent: %v", err)
	}
	if err := store.RegisterCode(activeCode("333333", pairing.FormatLegacy, now, time.Hour)); err != nil {
		t.Fatalf("RegisterCode active: %v", err)
	}

	purged, err := store.GarbageCollectCodes(now)
	if err != nil {
		t.Fatalf("GarbageCollectCodes: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	// The long-expired code is gone; the others survive.
	if _, _, err := store.ConsumeCode("111111", "redeemer-1", now); !errors.Is(err, pairing.ErrCodeNotFound) {
		t.Errorf("purged code consume error = %v, want ErrCodeNotFound", err)
	}
	if _, err := store.CodeStatus("222222", now); err != nil {
		t.Errorf("recently expired code missing: %v", err)
	}
	if _, _, err := store.ConsumeCode("333333", "redeemer-1", now); err != nil {
		t.Errorf("active code consume: %v", err)
	}
}

func TestConsumeCodeRace(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	if err := store.RegisterCode(activeCode("123456", pairing.FormatLegacy, now, time.Minute)); err != nil {
		t.Fatalf("RegisterCode: %v", err)
	}

	const attempts = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		used      int
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.ConsumeCode("123456", "redeemer", now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, pairing.ErrCodeUsed):
				used++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("succeeded = %d, want exactly 1", succeeded)
	}
	if used != attempts-1 {
		t.Errorf("used = %d, want %d", used, attempts-1)
	}
}
