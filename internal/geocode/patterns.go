package geocode

import "regexp"

// Extraction patterns over free text, ordered by trust in Extract.
var (
	// "BBL: 1-00492-0019", "BBL 1004920019", with optional separators.
	bblLabelPattern = regexp.MustCompile(`(?i)\bBBL\b[:\s#]*([1-5])[-\s]?(\d{1,5})[-\s]?(\d{1,4})\b`)

	// "Block 492, Lot 19" with up to a few characters between the pair.
	blockLotPattern = regexp.MustCompile(`(?i)\bblock\b[:\s#]*(\d{1,5})\b.{0,24}?\blot\b[:\s#]*(\d{1,4})\b`)

	// Bare 10-digit numeral with a borough leading digit.
	bareBBLPattern = regexp.MustCompile(`\b[1-5]\d{9}\b`)

	// 10-digit path segment of a zola.nyc.gov lot URL.
	urlBBLPattern = regexp.MustCompile(`/(?:lot|bbl)?/?(\d{10})(?:[/?#]|$)`)

	// "40.7127, -74.0059" style decimal pairs.
	coordPattern = regexp.MustCompile(`\b(40\.\d{3,})\s*,\s*(-7[34]\.\d{3,})\b`)

	// "built in 1931", "constructed in 2006", "completed in 1899".
	yearPattern = regexp.MustCompile(`(?i)\b(?:built|constructed|completed|erected|opened)\s+in\s+(1[89]\d{2}|20[0-2]\d)\b`)
)
