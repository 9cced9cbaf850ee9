package crs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nycbuildings/lotline/internal/models"
)

func TestDetectStatePlane(t *testing.T) {
	cls, err := Detect(
		[]float64{981000, 983500, 987200},
		[]float64{195000, 198900, 203000},
	)
	require.NoError(t, err)
	assert.Equal(t, models.CRSStatePlane, cls.CRS)
	assert.False(t, cls.SwapXY)
}

func TestDetectStatePlaneSwapped(t *testing.T) {
	cls, err := Detect(
		[]float64{195000, 198900, 203000},
		[]float64{981000, 983500, 987200},
	)
	require.NoError(t, err)
	assert.Equal(t, models.CRSStatePlane, cls.CRS)
	assert.True(t, cls.SwapXY)
}

func TestDetectWGS84(t *testing.T) {
	cls, err := Detect(
		[]float64{-74.0060, -73.9857, -73.9680},
		[]float64{40.7128, 40.7484, 40.7851},
	)
	require.NoError(t, err)
	assert.Equal(t, models.CRSWGS84, cls.CRS)
	assert.False(t, cls.SwapXY)
}

func TestDetectWGS84Swapped(t *testing.T) {
	cls, err := Detect(
		[]float64{40.7128, 40.7484, 40.7851},
		[]float64{-74.0060, -73.9857, -73.9680},
	)
	require.NoError(t, err)
	assert.Equal(t, models.CRSWGS84, cls.CRS)
	assert.True(t, cls.SwapXY)
}

func TestDetectPlausiblyGeographicFallback(t *testing.T) {
	// Valid lon/lat, outside the metro window: still WGS84, no swap.
	cls, err := Detect([]float64{-118.24, -118.25}, []float64{34.05, 34.06})
	require.NoError(t, err)
	assert.Equal(t, models.CRSWGS84, cls.CRS)
	assert.False(t, cls.SwapXY)
}

func TestDetectUnclassifiable(t *testing.T) {
	_, err := Detect([]float64{5e6, 6e6}, []float64{7e6, 8e6})
	assert.ErrorIs(t, err, ErrUnclassified)

	_, err = Detect(nil, nil)
	assert.ErrorIs(t, err, ErrUnclassified)
}

func TestDetectIgnoresNonFinite(t *testing.T) {
	cls, err := Detect(
		[]float64{math.NaN(), -74.0060, -73.9857},
		[]float64{40.7128, math.NaN(), 40.7484},
	)
	require.NoError(t, err)
	assert.Equal(t, models.CRSWGS84, cls.CRS)
}

func TestToStatePlaneCityHall(t *testing.T) {
	// NYC City Hall sits just west of the -74.0 central meridian, so its
	// easting lands a little under the 984250 ft false easting.
	pt, err := ToStatePlane(models.Point{X: -74.0060, Y: 40.7128}, models.CRSWGS84)
	require.NoError(t, err)
	assert.InDelta(t, 982590, pt.X, 500)
	assert.InDelta(t, 198900, pt.Y, 500)
}

func TestToStatePlanePassThrough(t *testing.T) {
	in := models.Point{X: 983000, Y: 199000}
	pt, err := ToStatePlane(in, models.CRSStatePlane)
	require.NoError(t, err)
	assert.Equal(t, in, pt)
}

func TestToStatePlaneUnknownCRS(t *testing.T) {
	_, err := ToStatePlane(models.Point{}, models.CRSUnknown)
	assert.Error(t, err)
}

func TestProjectionIsMonotonic(t *testing.T) {
	// East of the central meridian lands east of the false easting.
	east, err := ToStatePlane(models.Point{X: -73.9, Y: 40.7}, models.CRSWGS84)
	require.NoError(t, err)
	west, err := ToStatePlane(models.Point{X: -74.1, Y: 40.7}, models.CRSWGS84)
	require.NoError(t, err)
	assert.Greater(t, east.X, west.X)

	north, err := ToStatePlane(models.Point{X: -74.0, Y: 40.8}, models.CRSWGS84)
	require.NoError(t, err)
	south, err := ToStatePlane(models.Point{X: -74.0, Y: 40.6}, models.CRSWGS84)
	require.NoError(t, err)
	assert.Greater(t, north.Y, south.Y)
}

func TestNormalizePointSwaps(t *testing.T) {
	cls := Classification{CRS: models.CRSWGS84, SwapXY: true}
	pt, err := NormalizePoint(40.7128, -74.0060, cls)
	require.NoError(t, err)
	assert.InDelta(t, 982590, pt.X, 500)
	assert.InDelta(t, 198900, pt.Y, 500)
}
