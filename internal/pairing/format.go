package pairing

import "regexp"

// Format identifies the encoding of a pairing code.
type Format string

const (
	// FormatUUID is an RFC-4122 v4 UUID string (122 bits of entropy).
	// This is the preferred format.
	FormatUUID Format = "uuid"

	// FormatShort is 12 lowercase hex characters (48 bits of entropy).
	FormatShort Format = "short"

	// FormatLegacy is 6 decimal digits (~20 bits of entropy).
	// Retained only for older clients; issuance logs a warning.
	FormatLegacy Format = "legacy"
)

// Detection patterns, checked in order of decreasing specificity.
// A 12-hex code can never look like a UUID (no dashes) and a 6-digit
// code can never look like 12-hex (wrong length), so first match wins.
var (
	uuidPattern   = regexp.MustCompile(`^(?i)[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	shortPattern  = regexp.MustCompile(`^[0-9a-f]{12}$`)
	legacyPattern = regexp.MustCompile(`^[0-9]{6}$`)
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	switch f {
	case FormatUUID, FormatShort, FormatLegacy:
		return true
	}
	return false
}

// DetectFormat classifies a pairing code by its shape.
// This is the single detection function shared by issuance and
// redemption; clients that do not declare a format rely on it.
// Returns ErrUnknownFormat if the code matches no known encoding.
func DetectFormat(code string) (Format, error) {
	switch {
	case uuidPattern.MatchString(code):
		return FormatUUID, nil
	case shortPattern.MatchString(code):
		return FormatShort, nil
	case legacyPattern.MatchString(code):
		return FormatLegacy, nil
	}
	return "", ErrUnknownFormat
}
