package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nycbuildings/lotline/internal/logger"
	"github.com/nycbuildings/lotline/internal/models"
)

// AllowedDomains is the authoritative property-record domain list for
// the restricted search pass. Results from other domains are ignored in
// that pass; the unrestricted widening pass accepts any domain.
var AllowedDomains = []string{
	"zola.nyc.gov",
	"a810-bisweb.nyc.gov",
	"propertyshark.com",
	"streeteasy.com",
	"nycitymap.com",
	"nyc.gov",
	"wikipedia.org",
	"newyorkyimby.com",
}

// SearchResult is one ranked document from the text-search service.
type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text"`
}

// SearchClient queries a neural free-text search service and returns
// document text for extraction. Responses are never trusted as
// structured data.
type SearchClient struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	throttle *Throttle
	log      *logger.Logger
}

// NewSearchClient builds a client. baseURL defaults to the hosted
// endpoint when empty.
func NewSearchClient(baseURL, apiKey string, throttle *Throttle, log *logger.Logger) *SearchClient {
	if baseURL == "" {
		baseURL = "https://api.exa.ai"
	}
	return &SearchClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 20 * time.Second},
		throttle: throttle,
		log:      log,
	}
}

// Available reports whether the client holds a credential.
func (s *SearchClient) Available() bool {
	return s != nil && s.apiKey != ""
}

type searchRequest struct {
	Query          string   `json:"query"`
	NumResults     int      `json:"numResults"`
	IncludeDomains []string `json:"includeDomains,omitempty"`
	Contents       struct {
		Text bool `json:"text"`
	} `json:"contents"`
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

// Search runs one query. restricted limits results to AllowedDomains.
func (s *SearchClient) Search(ctx context.Context, query string, restricted bool) ([]SearchResult, error) {
	if !s.Available() {
		return nil, ErrNoCredential
	}
	if err := s.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	reqBody := searchRequest{Query: query, NumResults: 5}
	reqBody.Contents.Text = true
	if restricted {
		reqBody.IncludeDomains = AllowedDomains
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("search response: %w", err)
	}
	return out.Results, nil
}

// Extraction is what the pattern scan pulled out of one document. BBL
// is empty when no candidate survived validation. Coordinates and year
// are side finds used for enrichment, never for spatial resolution.
type Extraction struct {
	BBL       string
	Pattern   string
	Latitude  *float64
	Longitude *float64
	YearBuilt *int
}

// Extract scans a document's text and URL with all patterns, in fixed
// priority order, and returns the first validated BBL plus any
// enrichment finds. Candidates equal to the placeholder sentinel are
// rejected at extraction.
func Extract(doc SearchResult) Extraction {
	ex := Extraction{}
	text := doc.Text + " " + doc.Title

	if bbl, ok := extractLabeled(text); ok {
		ex.BBL, ex.Pattern = bbl, "bbl_label"
	} else if bbl, ok := extractBlockLot(text); ok {
		ex.BBL, ex.Pattern = bbl, "block_lot"
	} else if bbl, ok := extractBare(text); ok {
		ex.BBL, ex.Pattern = bbl, "bare_digits"
	} else if bbl, ok := extractFromURL(doc.URL); ok {
		ex.BBL, ex.Pattern = bbl, "source_url"
	}

	ex.Latitude, ex.Longitude = extractCoordinates(text)
	ex.YearBuilt = extractYear(text)
	return ex
}

// extractLabeled matches an explicit "BBL: 1-00492-0019" style label.
func extractLabeled(text string) (string, bool) {
	for _, m := range bblLabelPattern.FindAllStringSubmatch(text, -1) {
		if bbl, err := models.BBLFromParts(m[1], m[2], m[3]); err == nil {
			return bbl, true
		}
	}
	return "", false
}

// extractBlockLot reconstructs a BBL from a "Block 492 Lot 19" pair,
// taking the borough from a keyword elsewhere in the text.
func extractBlockLot(text string) (string, bool) {
	m := blockLotPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	code := boroughKeywordCode(text)
	if code == 0 {
		return "", false
	}
	bbl, err := models.BBLFromParts(strconv.Itoa(code), m[1], m[2])
	if err != nil {
		return "", false
	}
	return bbl, true
}

// extractBare accepts a bare 10-digit numeral only when its leading
// digit is a valid borough code.
func extractBare(text string) (string, bool) {
	for _, m := range bareBBLPattern.FindAllString(text, -1) {
		if models.ValidBBL(m) {
			return m, true
		}
	}
	return "", false
}

// extractFromURL pulls the 10-digit segment out of a zola.nyc.gov lot
// URL path.
func extractFromURL(rawURL string) (string, bool) {
	if !strings.Contains(rawURL, "zola.nyc.gov") {
		return "", false
	}
	m := urlBBLPattern.FindStringSubmatch(rawURL)
	if m == nil || !models.ValidBBL(m[1]) {
		return "", false
	}
	return m[1], true
}

// NYC coordinate window. Pairs outside it are discarded as noise.
const (
	nycLatMin = 40.4
	nycLatMax = 41.0
	nycLngMin = -74.3
	nycLngMax = -73.7
)

func extractCoordinates(text string) (*float64, *float64) {
	m := coordPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, nil
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lng, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return nil, nil
	}
	if lat < nycLatMin || lat > nycLatMax || lng < nycLngMin || lng > nycLngMax {
		return nil, nil
	}
	return &lat, &lng
}

func extractYear(text string) *int {
	m := yearPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	y, err := strconv.Atoi(m[1])
	if err != nil || y < 1800 || y > 2025 {
		return nil
	}
	return &y
}

func boroughKeywordCode(text string) int {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "manhattan"):
		return 1
	case strings.Contains(lower, "bronx"):
		return 2
	case strings.Contains(lower, "brooklyn"):
		return 3
	case strings.Contains(lower, "queens"):
		return 4
	case strings.Contains(lower, "staten island"):
		return 5
	default:
		return 0
	}
}
