package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nycbuildings/lotline/internal/checkpoint"
	"github.com/nycbuildings/lotline/internal/ledger"
	"github.com/nycbuildings/lotline/internal/models"
)

const testStage = "dedupe"

func mustSetBBL(t *testing.T, led *ledger.Ledger, id, bbl string, conf ledger.Confidence, source string) {
	t.Helper()
	applied, err := led.SetBBL(id, bbl, conf, source)
	require.NoError(t, err)
	require.True(t, applied)
}

func mustSetBIN(t *testing.T, led *ledger.Ledger, id, bin string, conf ledger.Confidence, source string) {
	t.Helper()
	applied, err := led.SetBIN(id, bin, conf, source)
	require.NoError(t, err)
	require.True(t, applied)
}

func seededStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	store, err := checkpoint.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	name := "One World Trade Center"
	records := []*models.BuildingRecord{
		{RecordID: "r1", RawAddress: "285 Fulton Street", BuildingName: &name, Source: models.SourceCurated},
		{RecordID: "r2", RawAddress: "1 World Trade Center", Source: models.SourceBulk},
		{RecordID: "r3", RawAddress: "350 Fifth Avenue", Source: models.SourceBulk},
	}
	led := ledger.New()
	for _, rec := range records {
		led.Track(rec.RecordID)
	}
	mustSetBBL(t, led, "r1", "1000580001", ledger.ExactContainment, "spatial_containment")
	mustSetBIN(t, led, "r1", "1001501", ledger.ExactContainment, "spatial_containment")
	mustSetBBL(t, led, "r2", "1000580001", ledger.NearestWithinTolerance, "spatial_nearest")
	mustSetBBL(t, led, "r3", "1008350041", ledger.ExternalStructured, "structured_geocoder")

	require.NoError(t, store.Save(testStage, records, led))
	return store
}

func TestSummary(t *testing.T) {
	svc := NewResolutionService(seededStore(t), testStage, nil)

	rep, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Records)
	assert.Equal(t, 3, rep.BBL.Resolved)
	assert.Equal(t, 1, rep.BIN.Resolved)
	// The shared lot plus r3's singleton.
	assert.Equal(t, 2, rep.Complexes)
}

func TestSummaryUnavailableBeforePipeline(t *testing.T) {
	store, err := checkpoint.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	svc := NewResolutionService(store, testStage, nil)

	_, err = svc.Summary(context.Background())
	assert.ErrorIs(t, err, ErrResultsUnavailable)
}

func TestRecordDetail(t *testing.T) {
	svc := NewResolutionService(seededStore(t), testStage, nil)

	detail, err := svc.Record(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "285 Fulton Street", detail.Record.RawAddress)
	require.NotNil(t, detail.Entry)
	assert.Equal(t, "1000580001", detail.Entry.Identifier.BBL)
	assert.Equal(t, ledger.ExactContainment, detail.Entry.BBLConfidence)
}

func TestRecordNotFound(t *testing.T) {
	svc := NewResolutionService(seededStore(t), testStage, nil)

	_, err := svc.Record(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestLotGroupsSharedBBL(t *testing.T) {
	svc := NewResolutionService(seededStore(t), testStage, nil)

	details, err := svc.Lot(context.Background(), "1-00058-0001")
	require.NoError(t, err)
	assert.Len(t, details, 2)
}

func TestLotNotFound(t *testing.T) {
	svc := NewResolutionService(seededStore(t), testStage, nil)

	_, err := svc.Lot(context.Background(), "4000010001")
	assert.ErrorIs(t, err, ErrLotNotFound)
}

func TestLotRejectsMalformedBBL(t *testing.T) {
	svc := NewResolutionService(seededStore(t), testStage, nil)

	_, err := svc.Lot(context.Background(), "not-a-bbl")
	assert.ErrorIs(t, err, ErrLotNotFound)
}

func TestComplexes(t *testing.T) {
	svc := NewResolutionService(seededStore(t), testStage, nil)

	groups, err := svc.Complexes(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "1000580001", groups[0].BBL)
	assert.Equal(t, 2, groups[0].Size())
	// The named curated record wins the primary tie-break.
	assert.Equal(t, "r1", groups[0].Primary.RecordID)

	// r3 stands alone on its lot and is still its own primary.
	assert.Equal(t, "1008350041", groups[1].BBL)
	assert.Equal(t, 1, groups[1].Size())
	assert.Equal(t, "r3", groups[1].Primary.RecordID)
}

func TestRefreshRereadsCheckpoint(t *testing.T) {
	store := seededStore(t)
	svc := NewResolutionService(store, testStage, nil)

	rep, err := svc.Summary(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, rep.Records)

	records := []*models.BuildingRecord{{RecordID: "only", RawAddress: "1 Main Street", Source: models.SourceBulk}}
	led := ledger.New()
	led.Track("only")
	require.NoError(t, store.Save(testStage, records, led))

	// Cached until refreshed.
	rep, err = svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Records)

	svc.Refresh()
	rep, err = svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Records)
}
