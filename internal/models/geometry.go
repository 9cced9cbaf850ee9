package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CRS identifies the coordinate reference system a geometry is expressed in.
type CRS int

const (
	// CRSUnknown means the reference system has not been classified yet.
	CRSUnknown CRS = iota
	// CRSWGS84 is geographic longitude/latitude (EPSG:4326).
	CRSWGS84
	// CRSStatePlane is NY Long Island state plane, US feet (EPSG:2263).
	CRSStatePlane
)

// String returns the EPSG-style name of the CRS.
func (c CRS) String() string {
	switch c {
	case CRSWGS84:
		return "EPSG:4326"
	case CRSStatePlane:
		return "EPSG:2263"
	default:
		return "unknown"
	}
}

// ParseCRS is the inverse of String. Unknown names map to CRSUnknown.
func ParseCRS(s string) CRS {
	switch s {
	case "EPSG:4326":
		return CRSWGS84
	case "EPSG:2263":
		return CRSStatePlane
	default:
		return CRSUnknown
	}
}

// Point is a planar or geographic coordinate pair. For CRSWGS84 points,
// X is longitude and Y is latitude. For CRSStatePlane points, X is
// easting and Y is northing in US feet.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DistanceTo returns the Euclidean distance to another point. Only
// meaningful once both points are in the same planar CRS.
func (p Point) DistanceTo(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Ring is a closed sequence of points forming one polygon boundary.
// Shapefile and WKT rings repeat the first point at the end; Contains
// does not require the closing point.
type Ring []Point

// Polygon is one or more rings with a precomputed bounding box for
// quick-reject tests. Multi-part (MultiPolygon) geometries are flattened
// into the same structure, one ring per part, matching how the parcel
// and footprint layers are consumed.
type Polygon struct {
	Rings []Ring
	MinX  float64
	MinY  float64
	MaxX  float64
	MaxY  float64
}

// NewPolygon builds a Polygon from rings and computes its bounding box.
func NewPolygon(rings []Ring) Polygon {
	poly := Polygon{
		Rings: rings,
		MinX:  math.MaxFloat64,
		MinY:  math.MaxFloat64,
		MaxX:  -math.MaxFloat64,
		MaxY:  -math.MaxFloat64,
	}
	for _, ring := range rings {
		for _, pt := range ring {
			if pt.X < poly.MinX {
				poly.MinX = pt.X
			}
			if pt.X > poly.MaxX {
				poly.MaxX = pt.X
			}
			if pt.Y < poly.MinY {
				poly.MinY = pt.Y
			}
			if pt.Y > poly.MaxY {
				poly.MaxY = pt.Y
			}
		}
	}
	return poly
}

// Contains reports whether the point falls inside any ring of the
// polygon, using the ray-casting algorithm after a bounding-box
// quick-reject.
func (poly Polygon) Contains(p Point) bool {
	if p.X < poly.MinX || p.X > poly.MaxX || p.Y < poly.MinY || p.Y > poly.MaxY {
		return false
	}
	for _, ring := range poly.Rings {
		if ring.contains(p) {
			return true
		}
	}
	return false
}

func (ring Ring) contains(p Point) bool {
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		xi, yi := ring[i].X, ring[i].Y
		xj, yj := ring[j].X, ring[j].Y
		if ((yi > p.Y) != (yj > p.Y)) && (p.X < (xj-xi)*(p.Y-yi)/(yj-yi)+xi) {
			inside = !inside
		}
		j = i
	}
	return inside
}

// Distance returns the planar distance from the point to the polygon
// boundary, or 0 if the point is inside.
func (poly Polygon) Distance(p Point) float64 {
	if poly.Contains(p) {
		return 0
	}
	min := math.MaxFloat64
	for _, ring := range poly.Rings {
		j := len(ring) - 1
		for i := 0; i < len(ring); i++ {
			if d := segmentDistance(p, ring[j], ring[i]); d < min {
				min = d
			}
			j = i
		}
	}
	return min
}

// segmentDistance computes the distance from p to the segment a-b.
func segmentDistance(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return p.DistanceTo(a)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return p.DistanceTo(Point{X: a.X + t*dx, Y: a.Y + t*dy})
}

// ParseWKTPoint parses a "POINT(x y)" well-known-text string.
func ParseWKTPoint(wkt string) (Point, error) {
	s := strings.TrimSpace(wkt)
	if !strings.HasPrefix(strings.ToUpper(s), "POINT") {
		return Point{}, fmt.Errorf("not a WKT point: %q", truncate(wkt, 40))
	}
	open := strings.IndexByte(s, '(')
	end := strings.LastIndexByte(s, ')')
	if open < 0 || end < open {
		return Point{}, fmt.Errorf("malformed WKT point: %q", truncate(wkt, 40))
	}
	fields := strings.Fields(s[open+1 : end])
	if len(fields) != 2 {
		return Point{}, fmt.Errorf("WKT point needs two coordinates: %q", truncate(wkt, 40))
	}
	x, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Point{}, fmt.Errorf("WKT point x coordinate: %w", err)
	}
	y, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Point{}, fmt.Errorf("WKT point y coordinate: %w", err)
	}
	return Point{X: x, Y: y}, nil
}

// ParseWKTPolygon parses POLYGON and MULTIPOLYGON well-known-text into a
// flattened Polygon. Reference layers exported as CSV carry geometry in
// this form.
func ParseWKTPolygon(wkt string) (Polygon, error) {
	s := strings.TrimSpace(wkt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "MULTIPOLYGON") && !strings.HasPrefix(upper, "POLYGON") {
		return Polygon{}, fmt.Errorf("not a WKT polygon: %q", truncate(wkt, 40))
	}
	open := strings.IndexByte(s, '(')
	end := strings.LastIndexByte(s, ')')
	if open < 0 || end < open {
		return Polygon{}, fmt.Errorf("malformed WKT polygon: %q", truncate(wkt, 40))
	}
	rings, err := parseWKTRings(s[open+1 : end])
	if err != nil {
		return Polygon{}, fmt.Errorf("parse WKT polygon: %w", err)
	}
	if len(rings) == 0 {
		return Polygon{}, fmt.Errorf("WKT polygon has no rings: %q", truncate(wkt, 40))
	}
	return NewPolygon(rings), nil
}

// parseWKTRings extracts every innermost parenthesized coordinate list,
// flattening nesting so POLYGON and MULTIPOLYGON parse identically.
func parseWKTRings(body string) ([]Ring, error) {
	var rings []Ring
	start := -1
	nested := false
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '(':
			start = i + 1
			nested = true
		case ')':
			if start >= 0 {
				ring, err := parseCoordList(body[start:i])
				if err != nil {
					return nil, err
				}
				if len(ring) > 0 {
					rings = append(rings, ring)
				}
				start = -1
			}
		}
	}
	if !nested {
		// Bare coordinate list without inner parentheses.
		ring, err := parseCoordList(body)
		if err != nil {
			return nil, err
		}
		if len(ring) > 0 {
			rings = append(rings, ring)
		}
	}
	return rings, nil
}

func parseCoordList(s string) (Ring, error) {
	var ring Ring
	for _, pair := range strings.Split(s, ",") {
		fields := strings.Fields(strings.TrimSpace(pair))
		if len(fields) < 2 {
			continue
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("coordinate %q: %w", pair, err)
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("coordinate %q: %w", pair, err)
		}
		ring = append(ring, Point{X: x, Y: y})
	}
	return ring, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
