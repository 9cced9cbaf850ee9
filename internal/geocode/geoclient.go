// Package geocode holds the external lookup clients of the identifier
// cascade: the structured municipal geocoding service and the free-text
// search service, plus the shared call throttle and the identifier
// extraction patterns applied to free text.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nycbuildings/lotline/internal/logger"
	"github.com/nycbuildings/lotline/internal/models"
)

// ErrNoCredential marks a client constructed without an API key. The
// cascade treats it as "provider absent", not a failure.
var ErrNoCredential = errors.New("geocoding credential not configured")

// boroughOrder is the fixed cascade order when the record's borough
// hint misses or is absent.
var boroughOrder = []string{
	models.BoroughManhattan,
	models.BoroughBrooklyn,
	models.BoroughQueens,
	models.BoroughBronx,
	models.BoroughStatenIsland,
}

// GeoclientResult is the structured geocoder's answer for one address.
type GeoclientResult struct {
	BBL               string
	BIN               string
	Latitude          float64
	Longitude         float64
	NormalizedAddress string
	Borough           string
}

// Geoclient calls the city's structured address-lookup service. The
// credential is optional at the pipeline level; a client without one
// reports itself unavailable.
type Geoclient struct {
	baseURL  string
	appKey   string
	http     *http.Client
	throttle *Throttle
	log      *logger.Logger
}

// NewGeoclient builds a client. baseURL defaults to the public
// endpoint when empty.
func NewGeoclient(baseURL, appKey string, throttle *Throttle, log *logger.Logger) *Geoclient {
	if baseURL == "" {
		baseURL = "https://api.nyc.gov/geo/geoclient/v2"
	}
	return &Geoclient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		appKey:   appKey,
		http:     &http.Client{Timeout: 15 * time.Second},
		throttle: throttle,
		log:      log,
	}
}

// Available reports whether the client holds a credential.
func (g *Geoclient) Available() bool {
	return g != nil && g.appKey != ""
}

// Resolve geocodes a cleaned single-line address, trying the borough
// hint first and then the remaining boroughs in fixed order. First
// success wins.
func (g *Geoclient) Resolve(ctx context.Context, address, boroughHint string) (GeoclientResult, error) {
	if !g.Available() {
		return GeoclientResult{}, ErrNoCredential
	}
	house, street := models.SplitHouseStreet(address)
	if house == "" || street == "" {
		return GeoclientResult{}, fmt.Errorf("address %q has no separable house number", address)
	}

	boroughs := make([]string, 0, len(boroughOrder)+1)
	if hint := models.NormalizeBorough(boroughHint); hint != "" {
		boroughs = append(boroughs, hint)
	}
	for _, b := range boroughOrder {
		if len(boroughs) > 0 && boroughs[0] == b {
			continue
		}
		boroughs = append(boroughs, b)
	}

	var lastErr error
	for _, borough := range boroughs {
		res, err := g.lookup(ctx, house, street, borough)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return GeoclientResult{}, ctx.Err()
		}
	}
	return GeoclientResult{}, fmt.Errorf("no borough matched %q: %w", address, lastErr)
}

// geoclientResponse mirrors the service's address endpoint envelope,
// reduced to the fields the pipeline consumes.
type geoclientResponse struct {
	Address struct {
		BBL                          string  `json:"bbl"`
		BuildingIdentificationNumber string  `json:"buildingIdentificationNumber"`
		Latitude                     float64 `json:"latitude"`
		Longitude                    float64 `json:"longitude"`
		HouseNumber                  string  `json:"houseNumber"`
		FirstStreetNameNormalized    string  `json:"firstStreetNameNormalized"`
		GeosupportReturnCode         string  `json:"geosupportReturnCode"`
		Message                      string  `json:"message"`
	} `json:"address"`
}

func (g *Geoclient) lookup(ctx context.Context, house, street, borough string) (GeoclientResult, error) {
	if err := g.throttle.Wait(ctx); err != nil {
		return GeoclientResult{}, err
	}

	q := url.Values{}
	q.Set("houseNumber", house)
	q.Set("street", street)
	q.Set("borough", borough)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/address.json?"+q.Encode(), nil)
	if err != nil {
		return GeoclientResult{}, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", g.appKey)

	resp, err := g.http.Do(req)
	if err != nil {
		return GeoclientResult{}, fmt.Errorf("geoclient request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return GeoclientResult{}, fmt.Errorf("geoclient status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload geoclientResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return GeoclientResult{}, fmt.Errorf("geoclient response: %w", err)
	}
	addr := payload.Address

	// Geosupport signals success with codes 00 and 01 (01 carries a
	// warning). Anything else is a miss for this borough.
	if addr.GeosupportReturnCode != "00" && addr.GeosupportReturnCode != "01" {
		return GeoclientResult{}, fmt.Errorf("geosupport code %s: %s", addr.GeosupportReturnCode, addr.Message)
	}

	res := GeoclientResult{
		Latitude:  addr.Latitude,
		Longitude: addr.Longitude,
		Borough:   borough,
	}
	if bbl, err := models.NormalizeBBL(addr.BBL); err == nil {
		res.BBL = bbl
	}
	if bin, err := models.NormalizeBIN(addr.BuildingIdentificationNumber); err == nil {
		res.BIN = bin
	}
	if addr.HouseNumber != "" && addr.FirstStreetNameNormalized != "" {
		res.NormalizedAddress = addr.HouseNumber + " " + addr.FirstStreetNameNormalized
	}
	if res.BBL == "" && res.BIN == "" {
		return GeoclientResult{}, fmt.Errorf("geoclient returned no usable identifier for %s %s, %s", house, street, borough)
	}
	return res, nil
}
