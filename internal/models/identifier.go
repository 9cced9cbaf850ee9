package models

import (
	"fmt"
	"regexp"
	"strings"
)

// PlaceholderBBL is the sentinel tax-lot identifier injected by upstream
// fallback code paths. It is a syntactically valid Staten Island BBL and
// must never be accepted as a real resolution.
const PlaceholderBBL = "5079660001"

// PlaceholderLat and PlaceholderLng are the dummy coordinates that
// accompany placeholder identifiers in some feeds.
const (
	PlaceholderLat = 40.73096
	PlaceholderLng = -74.00328
)

var (
	bblPattern = regexp.MustCompile(`^[1-5]\d{9}$`)
	binPattern = regexp.MustCompile(`^\d{7}$`)
)

// Identifier holds the two municipal identifiers for a building record.
// Empty string means "not resolved". A non-empty value always satisfies
// the canonical format and is never the placeholder.
type Identifier struct {
	BBL string `json:"bbl,omitempty"`
	BIN string `json:"bin,omitempty"`
}

// ValidBBL reports whether s is a canonical 10-digit BBL with a borough
// leading digit, and is not the placeholder sentinel.
func ValidBBL(s string) bool {
	return bblPattern.MatchString(s) && s != PlaceholderBBL
}

// ValidBIN reports whether s is a canonical 7-digit BIN.
func ValidBIN(s string) bool {
	return binPattern.MatchString(s)
}

// NormalizeBBL strips separators and float artifacts from a raw BBL value
// and validates the result. Feeds deliver BBLs as "1-00492-0019",
// "1004920019.0", or plain digits.
func NormalizeBBL(raw string) (string, error) {
	s := cleanNumeric(raw)
	if s == "" {
		return "", fmt.Errorf("empty bbl value %q", raw)
	}
	if !bblPattern.MatchString(s) {
		return "", fmt.Errorf("bbl %q does not match canonical 10-digit format", raw)
	}
	if s == PlaceholderBBL {
		return "", fmt.Errorf("bbl %q is the placeholder sentinel", raw)
	}
	return s, nil
}

// NormalizeBIN strips separators and float artifacts from a raw BIN value
// and validates the result.
func NormalizeBIN(raw string) (string, error) {
	s := cleanNumeric(raw)
	if s == "" {
		return "", fmt.Errorf("empty bin value %q", raw)
	}
	if !binPattern.MatchString(s) {
		return "", fmt.Errorf("bin %q does not match canonical 7-digit format", raw)
	}
	return s, nil
}

// BBLFromParts reconstructs a canonical BBL from borough code, block and
// lot components, zero-padding block to 5 and lot to 4 digits.
func BBLFromParts(borough, block, lot string) (string, error) {
	borough = strings.TrimSpace(borough)
	block = strings.TrimSpace(block)
	lot = strings.TrimSpace(lot)
	if len(borough) != 1 || borough < "1" || borough > "5" {
		return "", fmt.Errorf("invalid borough code %q", borough)
	}
	if len(block) == 0 || len(block) > 5 {
		return "", fmt.Errorf("invalid block %q", block)
	}
	if len(lot) == 0 || len(lot) > 4 {
		return "", fmt.Errorf("invalid lot %q", lot)
	}
	bbl := borough + strings.Repeat("0", 5-len(block)) + block + strings.Repeat("0", 4-len(lot)) + lot
	if bbl == PlaceholderBBL {
		return "", fmt.Errorf("block/lot pair reconstructs the placeholder sentinel")
	}
	return bbl, nil
}

// CanonicalDigits strips separators and float artifacts from a raw
// identifier value without validating it. Layer attribute tables store
// identifiers as "1-00492-0019" or "1004920019.0".
func CanonicalDigits(raw string) string {
	return cleanNumeric(raw)
}

// IsPlaceholderBBL reports whether a raw value, once separators and
// float artifacts are stripped, equals the placeholder sentinel.
func IsPlaceholderBBL(raw string) bool {
	return cleanNumeric(raw) == PlaceholderBBL
}

// cleanNumeric removes separator characters and a trailing ".0" float
// artifact left behind by tabular round-trips.
func cleanNumeric(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		frac := s[i+1:]
		if strings.Trim(frac, "0") == "" {
			s = s[:i]
		}
	}
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}
