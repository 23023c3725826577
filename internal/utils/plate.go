package utils

import (
	"regexp"
	"strings"
)

var (
	legacyPlate   = regexp.MustCompile(`^[A-Z]{3}[0-9]{4}$`)
	mercosulPlate = regexp.MustCompile(`^[A-Z]{3}[0-9][A-Z][0-9]{2}$`)

	plateCandidate = regexp.MustCompile(`[A-Z]{3}[0-9][A-Z0-9][0-9]{2}`)
)

const PlateLength = 7

// NormalizePlate uppercases the input and drops everything that is not A-Z or 0-9.
func NormalizePlate(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValidPlate reports whether a normalized plate matches the legacy (ABC1234)
// or the Mercosul (ABC1D23) format.
func IsValidPlate(plate string) bool {
	if len(plate) != PlateLength {
		return false
	}
	return legacyPlate.MatchString(plate) || mercosulPlate.MatchString(plate)
}

// ExtractPlate scans free OCR text for the first valid plate.
func ExtractPlate(text string) (string, bool) {
	normalized := NormalizePlate(text)
	for _, loc := range plateCandidate.FindAllStringIndex(normalized, -1) {
		candidate := normalized[loc[0]:loc[1]]
		if IsValidPlate(candidate) {
			return candidate, true
		}
	}
	return "", false
}
