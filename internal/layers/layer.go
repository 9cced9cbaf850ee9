// Package layers loads authoritative polygon reference layers (tax
// parcels, building footprints) and exposes point-in-polygon and
// bounded nearest-polygon queries over them.
package layers

import (
	"context"
	"errors"
	"math"

	"github.com/nycbuildings/lotline/internal/models"
)

// Errors distinguishing "layer unusable" from "no match". Callers must
// treat these as configuration failures, never as zero matches.
var (
	// ErrIdentifierFieldNotFound means none of the candidate identifier
	// column names were present in the source.
	ErrIdentifierFieldNotFound = errors.New("identifier field not found among candidates")
	// ErrNoGeometry means the source yielded no usable geometry.
	ErrNoGeometry = errors.New("layer has no usable geometry")
)

// Feature is one polygon with its identifier attributes. Secondary
// carries the footprint layer's BBL when present; parcels leave it
// empty.
type Feature struct {
	ID        string
	Secondary string
	Geom      models.Polygon
}

// Match is the result of a spatial query.
type Match struct {
	ID        string
	Secondary string
	Distance  float64
}

// Index is a queryable polygon layer. Implementations are read-only
// after construction and safe for concurrent queries.
type Index interface {
	// Name identifies the layer in attempt trails and log fields.
	Name() string
	// Containing returns the identifier of the first polygon containing
	// the point. Ties between overlapping polygons resolve to the first
	// match in load order; this is a documented arbitrary choice.
	Containing(ctx context.Context, pt models.Point) (Match, bool, error)
	// Nearest returns the closest polygon within maxDist feet of the
	// point, or ok=false when none qualifies.
	Nearest(ctx context.Context, pt models.Point, maxDist float64) (Match, bool, error)
}

// SecondaryLookup is implemented by indexes that can map a primary
// identifier to its secondary one (footprint BIN to base BBL), used for
// sentinel repair.
type SecondaryLookup interface {
	SecondaryFor(ctx context.Context, id string) (string, bool, error)
}

// gridCell is the spatial hash bucket size in feet. City lots are tens
// to a few hundred feet across, so one cell holds few candidates.
const gridCell = 500.0

// MemoryIndex is the in-memory Index over features loaded from a
// shapefile or tabular source, bucketed into a uniform grid keyed by
// bounding box coverage.
type MemoryIndex struct {
	name        string
	features    []Feature
	grid        map[[2]int][]int
	secondaries map[string]string
}

// newMemoryIndex builds the grid over the given features.
func newMemoryIndex(name string, features []Feature) (*MemoryIndex, error) {
	if len(features) == 0 {
		return nil, ErrNoGeometry
	}
	idx := &MemoryIndex{
		name:        name,
		features:    features,
		grid:        make(map[[2]int][]int),
		secondaries: make(map[string]string),
	}
	for i, f := range features {
		minCX, minCY := cellOf(f.Geom.MinX, f.Geom.MinY)
		maxCX, maxCY := cellOf(f.Geom.MaxX, f.Geom.MaxY)
		for cx := minCX; cx <= maxCX; cx++ {
			for cy := minCY; cy <= maxCY; cy++ {
				key := [2]int{cx, cy}
				idx.grid[key] = append(idx.grid[key], i)
			}
		}
		if f.Secondary != "" {
			if _, ok := idx.secondaries[f.ID]; !ok {
				idx.secondaries[f.ID] = f.Secondary
			}
		}
	}
	return idx, nil
}

func cellOf(x, y float64) (int, int) {
	return int(math.Floor(x / gridCell)), int(math.Floor(y / gridCell))
}

// Name implements Index.
func (m *MemoryIndex) Name() string { return m.name }

// Len returns the number of loaded features.
func (m *MemoryIndex) Len() int { return len(m.features) }

// Containing implements Index. Any polygon containing the point has a
// bounding box covering the point's cell, so one bucket suffices.
func (m *MemoryIndex) Containing(_ context.Context, pt models.Point) (Match, bool, error) {
	cx, cy := cellOf(pt.X, pt.Y)
	for _, i := range m.grid[[2]int{cx, cy}] {
		f := m.features[i]
		if f.Geom.Contains(pt) {
			return Match{ID: f.ID, Secondary: f.Secondary}, true, nil
		}
	}
	return Match{}, false, nil
}

// Nearest implements Index. It scans the grid cells intersecting the
// search radius, using a bounding-box distance quick-reject before the
// exact edge-distance computation.
func (m *MemoryIndex) Nearest(_ context.Context, pt models.Point, maxDist float64) (Match, bool, error) {
	if maxDist < 0 {
		return Match{}, false, nil
	}
	minCX, minCY := cellOf(pt.X-maxDist, pt.Y-maxDist)
	maxCX, maxCY := cellOf(pt.X+maxDist, pt.Y+maxDist)

	best := Match{Distance: math.MaxFloat64}
	found := false
	seen := make(map[int]struct{})

	for cx := minCX; cx <= maxCX; cx++ {
		for cy := minCY; cy <= maxCY; cy++ {
			for _, i := range m.grid[[2]int{cx, cy}] {
				if _, dup := seen[i]; dup {
					continue
				}
				seen[i] = struct{}{}
				f := m.features[i]
				if bboxDistance(pt, f.Geom) > maxDist {
					continue
				}
				d := f.Geom.Distance(pt)
				if d <= maxDist && d < best.Distance {
					best = Match{ID: f.ID, Secondary: f.Secondary, Distance: d}
					found = true
				}
			}
		}
	}
	if !found {
		return Match{}, false, nil
	}
	return best, true, nil
}

// SecondaryFor implements SecondaryLookup from the loaded attribute
// table.
func (m *MemoryIndex) SecondaryFor(_ context.Context, id string) (string, bool, error) {
	s, ok := m.secondaries[id]
	return s, ok, nil
}

// bboxDistance is the distance from the point to the polygon's bounding
// box; zero when inside it.
func bboxDistance(pt models.Point, poly models.Polygon) float64 {
	dx := math.Max(math.Max(poly.MinX-pt.X, 0), pt.X-poly.MaxX)
	dy := math.Max(math.Max(poly.MinY-pt.Y, 0), pt.Y-poly.MaxY)
	return math.Hypot(dx, dy)
}
