// Package crs classifies raw coordinate pairs into a known reference
// system and reprojects geographic coordinates into the pipeline's
// common planar system, NY Long Island state plane feet (EPSG:2263).
package crs

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/nycbuildings/lotline/internal/models"
)

// ErrUnclassified is returned when a coordinate sample matches neither
// the geographic nor the state-plane magnitude heuristic in either axis
// order. Callers must surface this, never silently default.
var ErrUnclassified = errors.New("coordinate sample matches no known reference system")

// Magnitude windows for the classification heuristic. State-plane
// eastings/northings for the five boroughs sit well inside these bands,
// and WGS84 longitudes/latitudes for the metro area inside theirs, so a
// sample median is enough to tell them apart.
const (
	spEastingMin  = 600000
	spEastingMax  = 1200000
	spNorthingMin = 100000
	spNorthingMax = 400000

	wgsLonMin = -80
	wgsLonMax = -70
	wgsLatMin = 35
	wgsLatMax = 45
)

// Classification is the outcome of detecting a coordinate sample's
// reference system. SwapXY means the columns arrived in (y, x) order.
type Classification struct {
	CRS    models.CRS
	SwapXY bool
}

// Detect classifies a pair of coordinate columns using the median of
// the sample, trying both axis orders, state plane first. A sample that
// is at least plausibly geographic falls back to "WGS84, no swap";
// anything else is a classification failure.
func Detect(xs, ys []float64) (Classification, error) {
	xMed, okX := median(xs)
	yMed, okY := median(ys)
	if !okX || !okY {
		return Classification{}, fmt.Errorf("detect crs: %w", ErrUnclassified)
	}

	switch {
	case looksLikeStatePlane(xMed, yMed):
		return Classification{CRS: models.CRSStatePlane}, nil
	case looksLikeStatePlane(yMed, xMed):
		return Classification{CRS: models.CRSStatePlane, SwapXY: true}, nil
	case looksLikeWGS84(xMed, yMed):
		return Classification{CRS: models.CRSWGS84}, nil
	case looksLikeWGS84(yMed, xMed):
		return Classification{CRS: models.CRSWGS84, SwapXY: true}, nil
	}

	// Plausibly-geographic fallback: values inside valid lon/lat ranges
	// but outside the metro window still classify as WGS84 with no swap.
	if math.Abs(xMed) <= 180 && math.Abs(yMed) <= 90 {
		return Classification{CRS: models.CRSWGS84}, nil
	}
	return Classification{}, fmt.Errorf("detect crs: medians (%.2f, %.2f): %w", xMed, yMed, ErrUnclassified)
}

func looksLikeStatePlane(a, b float64) bool {
	return a >= spEastingMin && a <= spEastingMax && b >= spNorthingMin && b <= spNorthingMax
}

func looksLikeWGS84(a, b float64) bool {
	return a >= wgsLonMin && a <= wgsLonMax && b >= wgsLatMin && b <= wgsLatMax
}

// median returns the median of the finite values in vs.
func median(vs []float64) (float64, bool) {
	finite := make([]float64, 0, len(vs))
	for _, v := range vs {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 0, false
	}
	sort.Float64s(finite)
	mid := len(finite) / 2
	if len(finite)%2 == 0 {
		return (finite[mid-1] + finite[mid]) / 2, true
	}
	return finite[mid], true
}

// EPSG:2263 — NAD83 / New York Long Island, Lambert conformal conic,
// US survey feet.
const (
	falseEastingFt  = 984250.0
	falseNorthingFt = 0.0
	phi0Deg         = 40.166666666666664 // latitude of origin
	phi1Deg         = 40.666666666666664 // standard parallel 1
	phi2Deg         = 41.03333333333333  // standard parallel 2
	lon0Deg         = -74.0              // central meridian

	ftPerMeter = 3.2808333333333334 // US survey foot
	semiMajorM = 6378137.0          // NAD83 semi-major axis, metres
	e2         = 0.00669438002290   // NAD83 eccentricity squared
)

var (
	lccN    float64
	lccF    float64
	lccRho0 float64
)

func init() {
	phi0 := phi0Deg * math.Pi / 180
	phi1 := phi1Deg * math.Pi / 180
	phi2 := phi2Deg * math.Pi / 180

	m1 := lccM(phi1)
	m2 := lccM(phi2)
	t0 := lccT(phi0)
	t1 := lccT(phi1)
	t2 := lccT(phi2)

	lccN = math.Log(m1/m2) / math.Log(t1/t2)

	aFt := semiMajorM * ftPerMeter
	lccF = aFt * m1 / (lccN * math.Pow(t1, lccN))
	lccRho0 = lccF * math.Pow(t0, lccN)
}

func lccM(phi float64) float64 {
	return math.Cos(phi) / math.Sqrt(1-e2*math.Sin(phi)*math.Sin(phi))
}

func lccT(phi float64) float64 {
	e := math.Sqrt(e2)
	return math.Tan(math.Pi/4-phi/2) /
		math.Pow((1-e*math.Sin(phi))/(1+e*math.Sin(phi)), e/2)
}

// ToStatePlane converts a WGS84 longitude/latitude point to state-plane
// easting/northing feet. A point already in state plane passes through
// unchanged; an unknown CRS is an error.
func ToStatePlane(p models.Point, from models.CRS) (models.Point, error) {
	switch from {
	case models.CRSStatePlane:
		return p, nil
	case models.CRSWGS84:
		e, n := project(p.Y, p.X)
		return models.Point{X: e, Y: n}, nil
	default:
		return models.Point{}, fmt.Errorf("cannot reproject from %s", from)
	}
}

// project applies the Lambert conformal conic forward projection.
func project(latDeg, lonDeg float64) (eastingFt, northingFt float64) {
	phi := latDeg * math.Pi / 180
	lambda := lonDeg * math.Pi / 180
	lambda0 := lon0Deg * math.Pi / 180

	t := lccT(phi)
	rho := lccF * math.Pow(t, lccN)
	theta := lccN * (lambda - lambda0)

	eastingFt = rho*math.Sin(theta) + falseEastingFt
	northingFt = lccRho0 - rho*math.Cos(theta) + falseNorthingFt
	return eastingFt, northingFt
}

// NormalizePoint orients a raw coordinate pair per the classification
// and reprojects it into state plane.
func NormalizePoint(x, y float64, cls Classification) (models.Point, error) {
	if cls.SwapXY {
		x, y = y, x
	}
	return ToStatePlane(models.Point{X: x, Y: y}, cls.CRS)
}
