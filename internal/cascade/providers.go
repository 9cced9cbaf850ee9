package cascade

import (
	"context"
	"errors"
	"fmt"

	"github.com/nycbuildings/lotline/internal/geocode"
	"github.com/nycbuildings/lotline/internal/ledger"
	"github.com/nycbuildings/lotline/internal/models"
	"github.com/nycbuildings/lotline/internal/overrides"
)

// StructuredProvider wraps the municipal geocoding service. It sits
// first in the chain because its answers are structured data, not
// extraction guesses.
type StructuredProvider struct {
	Client *geocode.Geoclient
}

// NewStructuredProvider returns nil when the client has no credential,
// degrading the pipeline to spatial-plus-search resolution.
func NewStructuredProvider(client *geocode.Geoclient) *StructuredProvider {
	if !client.Available() {
		return nil
	}
	return &StructuredProvider{Client: client}
}

func (p *StructuredProvider) Name() string { return "structured_geocoder" }

func (p *StructuredProvider) Resolve(ctx context.Context, rec *models.BuildingRecord) (Result, bool, error) {
	address := models.CleanSingleLineAddress(rec.RawAddress, "")
	if address == "" {
		return Result{}, false, nil
	}
	res, err := p.Client.Resolve(ctx, address, rec.RawBoroughHint)
	if errors.Is(err, geocode.ErrNoCredential) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}

	out := Result{
		BBL:        res.BBL,
		BIN:        res.BIN,
		Confidence: ledger.ExternalStructured,
		Detail:     fmt.Sprintf("borough=%s", res.Borough),
	}
	if res.Latitude != 0 && res.Longitude != 0 {
		lat, lng := res.Latitude, res.Longitude
		out.Latitude, out.Longitude = &lat, &lng
	}
	return out, out.BBL != "" || out.BIN != "", nil
}

// TextSearchProvider scans free-text search results for identifiers.
// Restricted instances only query the authoritative domain allow-list;
// the unrestricted instance is the last-resort widening pass.
type TextSearchProvider struct {
	Client     *geocode.SearchClient
	Restricted bool
}

// NewTextSearchProvider returns nil when the client has no credential.
func NewTextSearchProvider(client *geocode.SearchClient, restricted bool) *TextSearchProvider {
	if !client.Available() {
		return nil
	}
	return &TextSearchProvider{Client: client, Restricted: restricted}
}

func (p *TextSearchProvider) Name() string {
	if p.Restricted {
		return "text_search_restricted"
	}
	return "text_search_wide"
}

func (p *TextSearchProvider) Resolve(ctx context.Context, rec *models.BuildingRecord) (Result, bool, error) {
	query := searchQuery(rec)
	if query == "" {
		return Result{}, false, nil
	}
	docs, err := p.Client.Search(ctx, query, p.Restricted)
	if errors.Is(err, geocode.ErrNoCredential) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}

	out := Result{Confidence: ledger.ExternalTextSearch}
	for _, doc := range docs {
		ex := geocode.Extract(doc)
		if out.BBL == "" && ex.BBL != "" {
			out.BBL = ex.BBL
			out.Detail = fmt.Sprintf("pattern=%s url=%s", ex.Pattern, doc.URL)
		}
		if out.Latitude == nil && ex.Latitude != nil {
			out.Latitude, out.Longitude = ex.Latitude, ex.Longitude
		}
		if out.YearBuilt == nil && ex.YearBuilt != nil {
			out.YearBuilt = ex.YearBuilt
		}
	}
	return out, out.BBL != "", nil
}

// searchQuery builds the query from the record's name and address.
// Quoting the name steers the search toward the specific building.
func searchQuery(rec *models.BuildingRecord) string {
	address := models.CleanSingleLineAddress(rec.RawAddress, rec.RawBoroughHint)
	name := ""
	if rec.BuildingName != nil {
		name = *rec.BuildingName
	}
	switch {
	case name != "" && address != "":
		return fmt.Sprintf("%q %s BBL borough block lot", name, address)
	case address != "":
		return fmt.Sprintf("%s BBL borough block lot", address)
	case name != "":
		return fmt.Sprintf("%q New York City BBL borough block lot", name)
	default:
		return ""
	}
}

// OverrideProvider consults the operator-maintained table. It runs last
// for identifiers still null, and is also the only provider consulted
// for retry-eligible records stripped by the sanitizer.
type OverrideProvider struct {
	Table *overrides.Table
}

// NewOverrideProvider returns nil when no table was loaded.
func NewOverrideProvider(table *overrides.Table) *OverrideProvider {
	if table == nil || table.Len() == 0 {
		return nil
	}
	return &OverrideProvider{Table: table}
}

func (p *OverrideProvider) Name() string { return "manual_override" }

func (p *OverrideProvider) Resolve(_ context.Context, rec *models.BuildingRecord) (Result, bool, error) {
	id, ok := p.Table.Lookup(rec.RawAddress)
	if !ok {
		return Result{}, false, nil
	}
	return Result{
		BBL:        id.BBL,
		BIN:        id.BIN,
		Confidence: ledger.ManualOverride,
		Detail:     "operator table",
	}, true, nil
}
