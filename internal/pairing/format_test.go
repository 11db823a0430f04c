package pairing

import (
	"testing"

	"github.com/google/uuid"
)

// TestDetectFormat verifies classification of each encoding.
func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		code string
		want Format
	}{
		{"uuid v4", "9b2d8f0a-4c1e-4b7a-8f3d-2a6c1e9b4d7f", FormatUUID},
		{"uuid v4 uppercase", "9B2D8F0A-4C1E-4B7A-8F3D-2A6C1E9B4D7F", FormatUUID},
		{"short hex", "a1b2c3d4e5f6", FormatShort},
		{"all-digit short", "123456789012", FormatShort},
		{"legacy digits", "042817", FormatLegacy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat(tt.code)
			if err != nil {
				t.Fatalf("DetectFormat(%q) failed: %v", tt.code, err)
			}
			if got != tt.want {
				t.Errorf("DetectFormat(%q) = %s, want %s", tt.code, got, tt.want)
			}
		})
	}
}

// TestDetectFormatRejects verifies unknown shapes are rejected.
func TestDetectFormatRejects(t *testing.T) {
	bad := []string{
		"",
		"12345",                                 // too short for legacy
		"1234567",                               // too long for legacy
		"a1b2c3d4e5f",                           // 11 hex chars
		"A1B2C3D4E5F6",                          // uppercase hex is not short format
		"g1b2c3d4e5f6",                          // non-hex character
		"9b2d8f0a-4c1e-1b7a-8f3d-2a6c1e9b4d7f",  // not version 4
		"9b2d8f0a-4c1e-4b7a-0f3d-2a6c1e9b4d7f",  // bad variant nibble
		"9b2d8f0a4c1e4b7a8f3d2a6c1e9b4d7f",      // uuid without dashes
		"not a code",
	}

	for _, code := range bad {
		if got, err := DetectFormat(code); err != ErrUnknownFormat {
			t.Errorf("DetectFormat(%q) = (%v, %v), want ErrUnknownFormat", code, got, err)
		}
	}
}

// TestDetectFormatGeneratedUUIDs verifies the pattern against freshly
// generated v4 UUIDs, not just fixed vectors. Each dash-separated
// group has a fixed width (8-4-4-4-12); a miscounted group rejects
// every real UUID.
func TestDetectFormatGeneratedUUIDs(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := uuid.New().String()
		got, err := DetectFormat(code)
		if err != nil {
			t.Fatalf("DetectFormat(%q) failed: %v", code, err)
		}
		if got != FormatUUID {
			t.Fatalf("DetectFormat(%q) = %s, want %s", code, got, FormatUUID)
		}
	}
}

// TestIssuedCodesRoundTrip verifies every issued code is classified as
// the format it was issued with.
func TestIssuedCodesRoundTrip(t *testing.T) {
	issuer := NewIssuer(IssuerConfig{Store: NewMemoryStore()})

	for _, format := range []Format{FormatUUID, FormatShort, FormatLegacy} {
		for i := 0; i < 25; i++ {
			code, err := issuer.Issue("device-a", format, 0)
			if err != nil {
				t.Fatalf("Issue(%s) failed: %v", format, err)
			}

			detected, err := DetectFormat(code.Code)
			if err != nil {
				t.Fatalf("DetectFormat(%q) failed: %v", code.Code, err)
			}
			if detected != format {
				t.Errorf("code %q issued as %s but detected as %s", code.Code, format, detected)
			}
		}
	}
}
