package layers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nycbuildings/lotline/internal/models"
)

func square(minX, minY, size float64) models.Polygon {
	return models.NewPolygon([]models.Ring{{
		{X: minX, Y: minY},
		{X: minX + size, Y: minY},
		{X: minX + size, Y: minY + size},
		{X: minX, Y: minY + size},
		{X: minX, Y: minY},
	}})
}

func TestMemoryIndexContaining(t *testing.T) {
	idx, err := newMemoryIndex("parcels", []Feature{
		{ID: "1004920019", Geom: square(987000, 203000, 100)},
		{ID: "1004920020", Geom: square(988000, 203000, 100)},
	})
	require.NoError(t, err)

	m, ok, err := idx.Containing(context.Background(), models.Point{X: 987050, Y: 203050})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1004920019", m.ID)

	_, ok, err = idx.Containing(context.Background(), models.Point{X: 990000, Y: 203050})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryIndexContainingOverlapFirstWins(t *testing.T) {
	// Overlapping polygons resolve to load order.
	idx, err := newMemoryIndex("parcels", []Feature{
		{ID: "first", Geom: square(0, 0, 100)},
		{ID: "second", Geom: square(50, 50, 100)},
	})
	require.NoError(t, err)

	m, ok, err := idx.Containing(context.Background(), models.Point{X: 75, Y: 75})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", m.ID)
}

func TestMemoryIndexNearest(t *testing.T) {
	idx, err := newMemoryIndex("footprints", []Feature{
		{ID: "1089145", Secondary: "1004920019", Geom: square(1000, 1000, 50)},
	})
	require.NoError(t, err)

	// 10 ft west of the footprint's left edge.
	m, ok, err := idx.Nearest(context.Background(), models.Point{X: 990, Y: 1025}, 20)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1089145", m.ID)
	assert.Equal(t, "1004920019", m.Secondary)
	assert.InDelta(t, 10, m.Distance, 1e-9)

	// Beyond the tolerance.
	_, ok, err = idx.Nearest(context.Background(), models.Point{X: 900, Y: 1025}, 20)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryIndexNearestPicksClosest(t *testing.T) {
	idx, err := newMemoryIndex("parcels", []Feature{
		{ID: "far", Geom: square(1100, 1000, 50)},
		{ID: "near", Geom: square(1020, 1000, 50)},
	})
	require.NoError(t, err)

	m, ok, err := idx.Nearest(context.Background(), models.Point{X: 1000, Y: 1025}, 25)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "near", m.ID)
}

func TestMemoryIndexNearestInsideIsZero(t *testing.T) {
	idx, err := newMemoryIndex("parcels", []Feature{
		{ID: "lot", Geom: square(0, 0, 100)},
	})
	require.NoError(t, err)

	m, ok, err := idx.Nearest(context.Background(), models.Point{X: 50, Y: 50}, 25)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, m.Distance)
}

func TestMemoryIndexPointFeatureDistance(t *testing.T) {
	// Point layers load as single-vertex polygons.
	idx, err := newMemoryIndex("points", []Feature{
		{ID: "p1", Geom: pointFeature(models.Point{X: 100, Y: 100})},
	})
	require.NoError(t, err)

	m, ok, err := idx.Nearest(context.Background(), models.Point{X: 103, Y: 104}, 25)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 5, m.Distance, 1e-9)

	_, ok, err = idx.Containing(context.Background(), models.Point{X: 100, Y: 100})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryIndexEmpty(t *testing.T) {
	_, err := newMemoryIndex("parcels", nil)
	assert.ErrorIs(t, err, ErrNoGeometry)
}

func TestMemoryIndexSecondaryFor(t *testing.T) {
	idx, err := newMemoryIndex("footprints", []Feature{
		{ID: "1089145", Secondary: "1004920019", Geom: square(0, 0, 10)},
		{ID: "2001234", Geom: square(20, 0, 10)},
	})
	require.NoError(t, err)

	s, ok, err := idx.SecondaryFor(context.Background(), "1089145")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1004920019", s)

	_, ok, err = idx.SecondaryFor(context.Background(), "2001234")
	require.NoError(t, err)
	assert.False(t, ok)
}
