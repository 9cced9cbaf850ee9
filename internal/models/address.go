package models

import (
	"regexp"
	"strings"
)

// Borough names in geocoder request form.
const (
	BoroughManhattan    = "MANHATTAN"
	BoroughBronx        = "BRONX"
	BoroughBrooklyn     = "BROOKLYN"
	BoroughQueens       = "QUEENS"
	BoroughStatenIsland = "STATEN ISLAND"
)

// boroughAliases maps every historically observed borough spelling to
// its canonical name.
var boroughAliases = map[string]string{
	"MN": BoroughManhattan, "MANHATTAN": BoroughManhattan, "NEW YORK": BoroughManhattan, "NY": BoroughManhattan,
	"BX": BoroughBronx, "BRONX": BoroughBronx,
	"BK": BoroughBrooklyn, "KINGS": BoroughBrooklyn, "BROOKLYN": BoroughBrooklyn,
	"QN": BoroughQueens, "QNS": BoroughQueens, "QUEENS": BoroughQueens,
	"SI": BoroughStatenIsland, "STATEN ISLAND": BoroughStatenIsland, "RICHMOND": BoroughStatenIsland,
}

// boroughCodes maps canonical borough names to the leading BBL digit.
var boroughCodes = map[string]int{
	BoroughManhattan:    1,
	BoroughBronx:        2,
	BoroughBrooklyn:     3,
	BoroughQueens:       4,
	BoroughStatenIsland: 5,
}

// boroughNames is the inverse of boroughCodes.
var boroughNames = map[int]string{
	1: BoroughManhattan,
	2: BoroughBronx,
	3: BoroughBrooklyn,
	4: BoroughQueens,
	5: BoroughStatenIsland,
}

// NormalizeBorough maps a free-text or numeric borough hint to its
// canonical name. Unrecognized non-empty text is returned uppercased so
// it is still usable as a hint; empty input returns "".
func NormalizeBorough(hint string) string {
	b := strings.ToUpper(strings.TrimSpace(hint))
	if b == "" {
		return ""
	}
	if canonical, ok := boroughAliases[b]; ok {
		return canonical
	}
	if len(b) == 1 && b >= "1" && b <= "5" {
		return boroughNames[int(b[0]-'0')]
	}
	return b
}

// BoroughCode returns the BBL leading digit for a canonical borough
// name, or 0 when unknown.
func BoroughCode(borough string) int {
	return boroughCodes[NormalizeBorough(borough)]
}

// BoroughName returns the canonical borough name for a BBL leading
// digit, or "" when out of range.
func BoroughName(code int) string {
	return boroughNames[code]
}

// aliasSplit cuts an address at the first "aka", semicolon or
// parenthesis, keeping the primary anchor.
var aliasSplit = regexp.MustCompile(`(?i)\baka\b|;|\(|\)`)

// CleanSingleLineAddress reduces a raw address to the single-line form
// the external providers expect: the first anchor segment, collapsed
// whitespace, borough appended when known, and a default ", NY" suffix
// when no municipality is present.
func CleanSingleLineAddress(addr, boroughHint string) string {
	if strings.TrimSpace(addr) == "" {
		return ""
	}
	a := aliasSplit.Split(addr, 2)[0]
	a = strings.Join(strings.Fields(a), " ")
	if a == "" {
		return ""
	}
	if b := NormalizeBorough(boroughHint); b != "" {
		if !strings.Contains(strings.ToUpper(a), b) {
			a = a + ", " + b
		}
	}
	upper := strings.ToUpper(a)
	if !strings.Contains(upper, "NEW YORK") && !strings.Contains(upper, "NY") {
		a = a + ", NY"
	}
	return a
}

// SplitHouseStreet splits an address into house number and street name.
// "390 Park Avenue" -> ("390", "Park Avenue"). Trailing ", Manhattan"
// style suffixes are dropped from the street. Returns empty strings when
// the address has no separable house number.
func SplitHouseStreet(addr string) (house, street string) {
	parts := strings.SplitN(strings.TrimSpace(addr), " ", 2)
	if len(parts) < 2 {
		return "", ""
	}
	house = parts[0]
	street = parts[1]
	if i := strings.IndexByte(street, ','); i >= 0 {
		street = strings.TrimSpace(street[:i])
	}
	return house, street
}
