package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nycbuildings/lotline/internal/ledger"
	"github.com/nycbuildings/lotline/internal/models"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	name := "4 World Trade Center"
	year := 2013
	height := 977.0
	rec := &models.BuildingRecord{
		RecordID:           "r1",
		RawAddress:         "150 Greenwich Street",
		RawBoroughHint:     "Manhattan",
		Source:             models.SourceCurated,
		Geometry:           &models.Point{X: 981234.5, Y: 198765.25},
		GeometryCRS:        models.CRSStatePlane,
		BuildingName:       &name,
		YearBuilt:          &year,
		Height:             &height,
		HeightSource:       models.HeightSourceArchitectural,
		PotentialDuplicate: true,
		ComplexPrimary:     true,
		ComplexGroupSize:   2,
		ComplexBBL:         "1000010001",
	}
	bare := &models.BuildingRecord{
		RecordID:   "r2",
		RawAddress: "1 Unknown Way",
		Source:     models.SourceBulk,
	}

	led := ledger.New()
	led.Track("r1")
	led.Track("r2")
	_, err = led.SetBBL("r1", "1000010001", ledger.ExactContainment, "parcels")
	require.NoError(t, err)
	_, err = led.SetBIN("r1", "1088469", ledger.NearestWithinTolerance, "footprints")
	require.NoError(t, err)
	dist := 12.5
	led.RecordAttempt("r1", "spatial_nearest", "hit", "footprints bin=1088469", &dist)
	led.Entry("r2").RetryEligible = true

	require.NoError(t, store.Save("spatial", []*models.BuildingRecord{rec, bare}, led))
	require.True(t, store.Exists("spatial"))

	records, restored, err := store.Load("spatial")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 2, restored.Len())

	got := records[0]
	assert.Equal(t, rec.RecordID, got.RecordID)
	assert.Equal(t, rec.RawAddress, got.RawAddress)
	assert.Equal(t, models.SourceCurated, got.Source)
	require.NotNil(t, got.Geometry)
	assert.Equal(t, rec.Geometry.X, got.Geometry.X)
	assert.Equal(t, models.CRSStatePlane, got.GeometryCRS)
	require.NotNil(t, got.BuildingName)
	assert.Equal(t, name, *got.BuildingName)
	require.NotNil(t, got.YearBuilt)
	assert.Equal(t, year, *got.YearBuilt)
	require.NotNil(t, got.Height)
	assert.Equal(t, height, *got.Height)
	assert.True(t, got.PotentialDuplicate)
	assert.True(t, got.ComplexPrimary)
	assert.Equal(t, 2, got.ComplexGroupSize)

	e := restored.Entry("r1")
	assert.Equal(t, "1000010001", e.Identifier.BBL)
	assert.Equal(t, ledger.ExactContainment, e.BBLConfidence)
	assert.Equal(t, "1088469", e.Identifier.BIN)
	assert.Equal(t, ledger.NearestWithinTolerance, e.BINConfidence)
	assert.Equal(t, "parcels", e.BBLSource)
	require.Len(t, e.Attempts, 1)
	assert.Equal(t, "spatial_nearest", e.Attempts[0].Stage)
	require.NotNil(t, e.Attempts[0].Distance)
	assert.Equal(t, dist, *e.Attempts[0].Distance)

	e2 := restored.Entry("r2")
	assert.Empty(t, e2.Identifier.BBL)
	assert.True(t, e2.RetryEligible)
	assert.Nil(t, records[1].Geometry)
}

func TestLoadMissingStage(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	assert.False(t, store.Exists("dedupe"))
	_, _, err = store.Load("dedupe")
	assert.Error(t, err)
}

func TestSaveOverwritesPrevious(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	led := ledger.New()
	a := &models.BuildingRecord{RecordID: "r1", RawAddress: "1 First St", Source: models.SourceBulk}
	led.Track("r1")
	require.NoError(t, store.Save("ingest", []*models.BuildingRecord{a}, led))

	b := &models.BuildingRecord{RecordID: "r2", RawAddress: "2 Second St", Source: models.SourceBulk}
	led.Track("r2")
	require.NoError(t, store.Save("ingest", []*models.BuildingRecord{a, b}, led))

	records, _, err := store.Load("ingest")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestNewStoreRequiresDir(t *testing.T) {
	_, err := NewStore("", nil)
	assert.Error(t, err)
}
