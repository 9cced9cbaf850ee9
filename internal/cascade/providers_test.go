package cascade

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nycbuildings/lotline/internal/geocode"
	"github.com/nycbuildings/lotline/internal/ledger"
	"github.com/nycbuildings/lotline/internal/models"
	"github.com/nycbuildings/lotline/internal/overrides"
)

func TestOverrideProviderLookup(t *testing.T) {
	table, err := overrides.Parse(strings.NewReader(`address,bbl,bin
4 World Trade Center,1000010001,1088469
`))
	require.NoError(t, err)

	p := NewOverrideProvider(table)
	require.NotNil(t, p)

	res, ok, err := p.Resolve(context.Background(), &models.BuildingRecord{
		RecordID:   "r1",
		RawAddress: "4 world trade center",
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1000010001", res.BBL)
	assert.Equal(t, "1088469", res.BIN)
	assert.Equal(t, ledger.ManualOverride, res.Confidence)

	_, ok, err = p.Resolve(context.Background(), &models.BuildingRecord{RawAddress: "unknown"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewOverrideProviderEmptyTable(t *testing.T) {
	assert.Nil(t, NewOverrideProvider(nil))

	table, err := overrides.Parse(strings.NewReader("address,bbl,bin\n"))
	require.NoError(t, err)
	assert.Nil(t, NewOverrideProvider(table))
}

func TestNewProvidersWithoutCredentials(t *testing.T) {
	gc := geocode.NewGeoclient("", "", geocode.NewThrottle(0), nil)
	assert.Nil(t, NewStructuredProvider(gc))

	sc := geocode.NewSearchClient("", "", geocode.NewThrottle(0), nil)
	assert.Nil(t, NewTextSearchProvider(sc, true))
}

func TestSearchQuery(t *testing.T) {
	name := "Woolworth Building"
	tests := []struct {
		name string
		rec  *models.BuildingRecord
		want string
	}{
		{
			name: "name and address",
			rec:  &models.BuildingRecord{RawAddress: "233 Broadway", RawBoroughHint: "Manhattan", BuildingName: &name},
			want: `"Woolworth Building" 233 Broadway, MANHATTAN, NY BBL borough block lot`,
		},
		{
			name: "address only",
			rec:  &models.BuildingRecord{RawAddress: "233 Broadway"},
			want: "233 Broadway, NY BBL borough block lot",
		},
		{
			name: "name only",
			rec:  &models.BuildingRecord{BuildingName: &name},
			want: `"Woolworth Building" New York City BBL borough block lot`,
		},
		{
			name: "neither",
			rec:  &models.BuildingRecord{},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, searchQuery(tt.rec))
		})
	}
}

func TestTextSearchProviderName(t *testing.T) {
	p := &TextSearchProvider{Restricted: true}
	assert.Equal(t, "text_search_restricted", p.Name())
	p.Restricted = false
	assert.Equal(t, "text_search_wide", p.Name())
}
