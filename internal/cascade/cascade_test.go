package cascade

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nycbuildings/lotline/internal/ledger"
	"github.com/nycbuildings/lotline/internal/models"
)

type fakeProvider struct {
	name  string
	res   Result
	ok    bool
	err   error
	calls atomic.Int64
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Resolve(_ context.Context, _ *models.BuildingRecord) (Result, bool, error) {
	f.calls.Add(1)
	return f.res, f.ok, f.err
}

func rec(id string) *models.BuildingRecord {
	return &models.BuildingRecord{RecordID: id, RawAddress: "1 Test Street", Source: models.SourceBulk}
}

func TestCascadeOrderAndShortCircuit(t *testing.T) {
	first := &fakeProvider{
		name: "structured_geocoder",
		res:  Result{BBL: "1000010001", BIN: "1088469", Confidence: ledger.ExternalStructured},
		ok:   true,
	}
	second := &fakeProvider{name: "text_search_restricted"}

	led := ledger.New()
	r := rec("r1")
	led.Track(r.RecordID)

	c := New(nil, first, second)
	require.NoError(t, c.Run(context.Background(), []*models.BuildingRecord{r}, led, 1))

	e := led.Entry("r1")
	assert.Equal(t, "1000010001", e.Identifier.BBL)
	assert.Equal(t, ledger.ExternalStructured, e.BBLConfidence)
	assert.Equal(t, int64(1), first.calls.Load())
	assert.Zero(t, second.calls.Load(), "chain stops once both identifiers are set")
}

func TestCascadeFailSoft(t *testing.T) {
	failing := &fakeProvider{name: "structured_geocoder", err: errors.New("timeout")}
	recovering := &fakeProvider{
		name: "text_search_restricted",
		res:  Result{BBL: "3012340056", Confidence: ledger.ExternalTextSearch},
		ok:   true,
	}

	led := ledger.New()
	r := rec("r2")
	led.Track(r.RecordID)

	c := New(nil, failing, recovering)
	require.NoError(t, c.Run(context.Background(), []*models.BuildingRecord{r}, led, 1))

	e := led.Entry("r2")
	assert.Equal(t, "3012340056", e.Identifier.BBL)

	var errorAttempts int
	for _, a := range e.Attempts {
		if a.Outcome == "error" {
			errorAttempts++
		}
	}
	assert.Equal(t, 1, errorAttempts, "failure is recorded as an attempt, not raised")
}

func TestCascadeSkipsNilProviders(t *testing.T) {
	p := &fakeProvider{name: "manual_override"}
	c := New(nil, nil, p, nil)
	assert.Len(t, c.providers, 1)
}

func TestCascadeSkipsNonProperty(t *testing.T) {
	p := &fakeProvider{name: "structured_geocoder", res: Result{BBL: "1000010001"}, ok: true}

	led := ledger.New()
	r := rec("r3")
	led.Track(r.RecordID).NonProperty = true

	c := New(nil, p)
	require.NoError(t, c.Run(context.Background(), []*models.BuildingRecord{r}, led, 1))
	assert.Zero(t, p.calls.Load())
}

func TestCascadeSentinelRejected(t *testing.T) {
	p := &fakeProvider{
		name: "text_search_wide",
		res:  Result{BBL: models.PlaceholderBBL, Confidence: ledger.ExternalTextSearch},
		ok:   true,
	}

	led := ledger.New()
	r := rec("r4")
	led.Track(r.RecordID)

	c := New(nil, p)
	require.NoError(t, c.Run(context.Background(), []*models.BuildingRecord{r}, led, 1))

	e := led.Entry("r4")
	assert.Empty(t, e.Identifier.BBL)
	require.NotEmpty(t, e.Attempts)
	assert.Equal(t, "rejected", e.Attempts[0].Outcome)
}

func TestCascadeEnrichment(t *testing.T) {
	lat, lng := 40.7127, -74.0131
	year := 1931
	p := &fakeProvider{
		name: "text_search_restricted",
		res: Result{
			BBL:        "1000010001",
			Confidence: ledger.ExternalTextSearch,
			Latitude:   &lat,
			Longitude:  &lng,
			YearBuilt:  &year,
		},
		ok: true,
	}

	led := ledger.New()
	r := rec("r5")
	led.Track(r.RecordID)

	c := New(nil, p)
	require.NoError(t, c.Run(context.Background(), []*models.BuildingRecord{r}, led, 1))

	require.NotNil(t, r.Geometry)
	assert.Equal(t, models.CRSWGS84, r.GeometryCRS)
	assert.InDelta(t, lng, r.Geometry.X, 1e-9)
	require.NotNil(t, r.YearBuilt)
	assert.Equal(t, 1931, *r.YearBuilt)
}

func TestCascadeEnrichmentNeverDisplacesFeedGeometry(t *testing.T) {
	lat, lng := 40.7, -74.0
	p := &fakeProvider{
		name: "structured_geocoder",
		res:  Result{BBL: "1000010001", Confidence: ledger.ExternalStructured, Latitude: &lat, Longitude: &lng},
		ok:   true,
	}

	led := ledger.New()
	r := rec("r6")
	r.Geometry = &models.Point{X: 987000, Y: 203000}
	r.GeometryCRS = models.CRSStatePlane
	led.Track(r.RecordID)

	c := New(nil, p)
	require.NoError(t, c.Run(context.Background(), []*models.BuildingRecord{r}, led, 1))
	assert.Equal(t, 987000.0, r.Geometry.X)
	assert.Equal(t, models.CRSStatePlane, r.GeometryCRS)
}

func TestCascadeParallelRun(t *testing.T) {
	p := &fakeProvider{
		name: "structured_geocoder",
		res:  Result{BBL: "1000010001", Confidence: ledger.ExternalStructured},
		ok:   true,
	}

	led := ledger.New()
	records := make([]*models.BuildingRecord, 20)
	for i := range records {
		records[i] = rec(string(rune('a' + i)))
		led.Track(records[i].RecordID)
	}

	c := New(nil, p)
	require.NoError(t, c.Run(context.Background(), records, led, 4))

	assert.Equal(t, int64(len(records)), p.calls.Load())
	for _, r := range records {
		assert.Equal(t, "1000010001", led.Entry(r.RecordID).Identifier.BBL)
	}
}

func TestCascadeCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	led := ledger.New()
	r := rec("r7")
	led.Track(r.RecordID)

	c := New(nil, &fakeProvider{name: "structured_geocoder", ok: true})
	assert.ErrorIs(t, c.Run(ctx, []*models.BuildingRecord{r}, led, 1), context.Canceled)
}

func TestCascadeIdempotentOnResolvedLedger(t *testing.T) {
	p := &fakeProvider{
		name: "structured_geocoder",
		res:  Result{BBL: "2000020002", Confidence: ledger.ExternalStructured},
		ok:   true,
	}

	led := ledger.New()
	r := rec("r8")
	led.Track(r.RecordID)
	_, err := led.SetBBL(r.RecordID, "1000010001", ledger.ExactContainment, "parcels")
	require.NoError(t, err)
	_, err = led.SetBIN(r.RecordID, "1088469", ledger.ExactContainment, "footprints")
	require.NoError(t, err)

	c := New(nil, p)
	require.NoError(t, c.Run(context.Background(), []*models.BuildingRecord{r}, led, 1))

	e := led.Entry("r8")
	assert.Equal(t, "1000010001", e.Identifier.BBL)
	assert.Equal(t, ledger.ExactContainment, e.BBLConfidence)
	assert.Zero(t, p.calls.Load(), "fully resolved records never hit providers")
}
