package report

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nycbuildings/lotline/internal/ledger"
	"github.com/nycbuildings/lotline/internal/models"
)

func buildFixture(t *testing.T) ([]*models.BuildingRecord, *ledger.Ledger) {
	t.Helper()
	led := ledger.New()
	records := []*models.BuildingRecord{
		{RecordID: "r1", RawAddress: "150 Greenwich Street", Source: models.SourceCurated},
		{RecordID: "r2", RawAddress: "233 Broadway", Source: models.SourceBulk},
		{RecordID: "r3", RawAddress: "Governors Island", Source: models.SourceBulk},
		{RecordID: "r4", RawAddress: "1 Nowhere Lane", Source: models.SourceBulk},
	}
	for _, rec := range records {
		led.Track(rec.RecordID)
	}

	_, err := led.SetBBL("r1", "1000010001", ledger.ExactContainment, "parcels")
	require.NoError(t, err)
	_, err = led.SetBIN("r1", "1088469", ledger.ExactContainment, "footprints")
	require.NoError(t, err)

	_, err = led.SetBBL("r2", "1001220001", ledger.ExternalStructured, "structured_geocoder")
	require.NoError(t, err)

	led.Entry("r3").NonProperty = true

	led.RecordAttempt("r4", "text_search_wide", "miss", "", nil)
	return records, led
}

func TestBuild(t *testing.T) {
	records, led := buildFixture(t)
	rep := Build(records, led, 1)

	assert.Equal(t, 4, rep.Records)
	assert.Equal(t, 1, rep.Complexes)

	assert.Equal(t, 2, rep.BBL.Resolved)
	assert.Equal(t, 2, rep.BBL.Unresolved)
	assert.InDelta(t, 50.0, rep.BBL.ResolvedPct, 1e-9)
	assert.Equal(t, 1, rep.BBL.ByConfidence["exact_containment"])
	assert.Equal(t, 1, rep.BBL.ByConfidence["external_structured"])
	assert.Equal(t, 1, rep.BBL.NonProperty)

	assert.Equal(t, 1, rep.BIN.Resolved)
	assert.Equal(t, 3, rep.BIN.Unresolved)

	// r2 is missing only its BIN; r3 and r4 miss both.
	require.Len(t, rep.Unresolved, 3)
	assert.Equal(t, "r2", rep.Unresolved[0].RecordID)
	assert.False(t, rep.Unresolved[0].MissingBBL)
	assert.True(t, rep.Unresolved[0].MissingBIN)
	assert.True(t, rep.Unresolved[1].NonProperty)
	assert.Equal(t, "text_search_wide: miss", rep.Unresolved[2].LastAttempt)
}

func TestTextRendering(t *testing.T) {
	records, led := buildFixture(t)
	text := Build(records, led, 1).Text()

	assert.Contains(t, text, "records: 4")
	assert.Contains(t, text, "bbl: 2/4 resolved (50.0%)")
	assert.Contains(t, text, "exact_containment")
	assert.Contains(t, text, "unresolved records (3):")
	assert.Contains(t, text, "1 Nowhere Lane")
	assert.Contains(t, text, "last attempt: text_search_wide: miss")
	assert.Contains(t, text, "[non-property]")
}

func TestJSONRendering(t *testing.T) {
	records, led := buildFixture(t)
	rep := Build(records, led, 0)

	raw, err := json.Marshal(rep)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, rep.BBL.Resolved, decoded.BBL.Resolved)
	assert.Len(t, decoded.Unresolved, 3)
}

func TestBuildEmpty(t *testing.T) {
	rep := Build(nil, ledger.New(), 0)
	assert.Zero(t, rep.Records)
	assert.Zero(t, rep.BBL.ResolvedPct)
	assert.Empty(t, rep.Unresolved)
}
