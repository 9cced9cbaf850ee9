package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nycbuildings/lotline/internal/models"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		doc     SearchResult
		wantBBL string
		pattern string
	}{
		{
			name:    "explicit label with separators",
			doc:     SearchResult{Text: "Tax record BBL: 1-00492-0019 for the parcel."},
			wantBBL: "1004920019",
			pattern: "bbl_label",
		},
		{
			name:    "block lot pair with borough keyword",
			doc:     SearchResult{Text: "Located in Manhattan. Block 492, Lot 19."},
			wantBBL: "1004920019",
			pattern: "block_lot",
		},
		{
			name:    "block lot pair without borough keyword is rejected",
			doc:     SearchResult{Text: "Block 492, Lot 19."},
			wantBBL: "",
		},
		{
			name:    "bare ten digit numeral",
			doc:     SearchResult{Text: "The lot 3012340056 was conveyed in 1998."},
			wantBBL: "3012340056",
			pattern: "bare_digits",
		},
		{
			name:    "bare numeral with invalid leading digit ignored",
			doc:     SearchResult{Text: "Reference 9012340056 is not a lot."},
			wantBBL: "",
		},
		{
			name:    "sentinel rejected at extraction",
			doc:     SearchResult{Text: "BBL: 5-07966-0001"},
			wantBBL: "",
		},
		{
			name:    "zola url path",
			doc:     SearchResult{URL: "https://zola.nyc.gov/l/lot/1004920019"},
			wantBBL: "1004920019",
			pattern: "source_url",
		},
		{
			name:    "non-zola url ignored",
			doc:     SearchResult{URL: "https://example.com/lot/1004920019"},
			wantBBL: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := Extract(tt.doc)
			assert.Equal(t, tt.wantBBL, ex.BBL)
			if tt.wantBBL != "" {
				assert.Equal(t, tt.pattern, ex.Pattern)
			}
		})
	}
}

func TestExtractCoordinatesAndYear(t *testing.T) {
	ex := Extract(SearchResult{
		Text: "The tower at 40.7127, -74.0131 was completed in 1931.",
	})
	require.NotNil(t, ex.Latitude)
	require.NotNil(t, ex.Longitude)
	assert.InDelta(t, 40.7127, *ex.Latitude, 1e-9)
	assert.InDelta(t, -74.0131, *ex.Longitude, 1e-9)
	require.NotNil(t, ex.YearBuilt)
	assert.Equal(t, 1931, *ex.YearBuilt)
}

func TestExtractCoordinatesOutsideWindowDropped(t *testing.T) {
	ex := Extract(SearchResult{Text: "Albany sits at 42.6526, -73.7562."})
	assert.Nil(t, ex.Latitude)
	assert.Nil(t, ex.Longitude)
}

func TestExtractLabelWinsOverBare(t *testing.T) {
	ex := Extract(SearchResult{Text: "BBL: 1-00492-0019 and also 3012340056 nearby."})
	assert.Equal(t, "1004920019", ex.BBL)
	assert.Equal(t, "bbl_label", ex.Pattern)
}

func TestSearchClientRestricted(t *testing.T) {
	var gotReq searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(searchResponse{Results: []SearchResult{
			{Title: "ZoLa", URL: "https://zola.nyc.gov/l/lot/1004920019", Text: "lot page"},
		}})
	}))
	defer srv.Close()

	c := NewSearchClient(srv.URL, "test-key", NewThrottle(0), nil)
	results, err := c.Search(context.Background(), `"4 World Trade Center" BBL`, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, AllowedDomains, gotReq.IncludeDomains)
	assert.True(t, gotReq.Contents.Text)

	ex := Extract(results[0])
	assert.True(t, models.ValidBBL(ex.BBL))
}

func TestSearchClientUnrestrictedOmitsDomains(t *testing.T) {
	var gotReq searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(searchResponse{})
	}))
	defer srv.Close()

	c := NewSearchClient(srv.URL, "test-key", NewThrottle(0), nil)
	_, err := c.Search(context.Background(), "some query", false)
	require.NoError(t, err)
	assert.Empty(t, gotReq.IncludeDomains)
}

func TestSearchClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewSearchClient(srv.URL, "test-key", NewThrottle(0), nil)
	_, err := c.Search(context.Background(), "q", true)
	assert.ErrorContains(t, err, "429")
}

func TestSearchClientWithoutCredential(t *testing.T) {
	c := NewSearchClient("", "", NewThrottle(0), nil)
	assert.False(t, c.Available())
	_, err := c.Search(context.Background(), "q", true)
	assert.ErrorIs(t, err, ErrNoCredential)
}
