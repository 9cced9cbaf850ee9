package layers

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	shp "github.com/jonas-p/go-shp"

	"github.com/nycbuildings/lotline/internal/crs"
	"github.com/nycbuildings/lotline/internal/models"
)

// Historically used identifier column names, tried in priority order.
var (
	// ParcelIDFields are the tax-lot identifier candidates in the parcel
	// layer.
	ParcelIDFields = []string{"BBL", "bbl", "bbl_10", "bbl10", "boro_block_lot"}
	// FootprintIDFields are the structure identifier candidates in the
	// footprint layer.
	FootprintIDFields = []string{"BIN", "bin", "buildingid", "building_id"}
	// FootprintBBLFields are the tax-lot identifier candidates the
	// footprint layer sometimes carries alongside the BIN.
	FootprintBBLFields = []string{"Map Pluto BBL", "map_pluto_bbl", "MAP_PLUTO_BBL", "BASE_BBL", "base_bbl", "BBL", "bbl"}
	// HeightFields are the roof-height candidates in the footprint layer.
	HeightFields = []string{"HEIGHTROOF", "heightroof", "height_roof"}

	// geometryFields are the WKT geometry column candidates for tabular
	// sources.
	geometryFields = []string{"geometry", "geom", "the_geom", "wkt"}
)

// pointColumns are coordinate-column candidates for tabular sources
// whose geometry is a bare x/y pair, with the CRS each implies.
var pointColumns = []struct {
	x, y string
	crs  models.CRS
}{
	{"xcoord", "ycoord", models.CRSStatePlane},
	{"XCoord", "YCoord", models.CRSStatePlane},
	{"XCOORD", "YCOORD", models.CRSStatePlane},
	{"longitude", "latitude", models.CRSWGS84},
	{"Longitude", "Latitude", models.CRSWGS84},
	{"lon", "lat", models.CRSWGS84},
}

// LayerSpec names a reference layer and the candidate columns its
// identifiers hide behind.
type LayerSpec struct {
	Name             string
	IDFields         []string
	SecondaryFields  []string
	HeightFields     []string
	RequireGeometry  bool
	RequireSecondary bool
}

// HeightByID is filled while loading the footprint layer: primary
// identifier to roof height, for enrichment.
type HeightByID map[string]float64

// LoadResult bundles a loaded index with side tables read from the same
// attribute rows.
type LoadResult struct {
	Index   *MemoryIndex
	Heights HeightByID
}

// Load reads a reference layer from a shapefile or CSV, reconciles its
// identifier columns, reprojects into state plane, and builds the
// spatial index. Configuration failures (missing identifier column, no
// geometry) are returned as errors; the caller treats them as "index
// unavailable", which is fatal for a required layer.
func Load(path string, spec LayerSpec) (*LoadResult, error) {
	var (
		features []Feature
		heights  HeightByID
		err      error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		features, heights, err = loadShapefile(path, spec)
	case ".csv":
		features, heights, err = loadCSV(path, spec)
	default:
		return nil, fmt.Errorf("layer %s: unsupported source %q", spec.Name, path)
	}
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", spec.Name, err)
	}

	features, err = reprojectFeatures(features)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", spec.Name, err)
	}

	idx, err := newMemoryIndex(spec.Name, features)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", spec.Name, err)
	}
	return &LoadResult{Index: idx, Heights: heights}, nil
}

// loadShapefile reads polygon features and their attribute values via
// go-shp.
func loadShapefile(path string, spec LayerSpec) ([]Feature, HeightByID, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer r.Close()

	fields := r.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
	}

	idCol, err := resolveField(names, spec.IDFields)
	if err != nil {
		return nil, nil, err
	}
	secCol := -1
	if len(spec.SecondaryFields) > 0 {
		secCol, err = resolveField(names, spec.SecondaryFields)
		if err != nil && spec.RequireSecondary {
			return nil, nil, err
		}
	}
	heightCol := -1
	if len(spec.HeightFields) > 0 {
		heightCol, _ = resolveField(names, spec.HeightFields)
	}

	var features []Feature
	heights := make(HeightByID)

	for r.Next() {
		n, shape := r.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			// Non-polygon geometries do not belong in a reference layer.
			continue
		}
		id := models.CanonicalDigits(r.ReadAttribute(n, idCol))
		if id == "" {
			continue
		}
		f := Feature{ID: id, Geom: shpPolygon(poly)}
		if secCol >= 0 {
			f.Secondary = models.CanonicalDigits(r.ReadAttribute(n, secCol))
		}
		if heightCol >= 0 {
			if h, err := strconv.ParseFloat(strings.TrimSpace(r.ReadAttribute(n, heightCol)), 64); err == nil && h > 0 {
				heights[id] = h
			}
		}
		features = append(features, f)
	}
	return features, heights, nil
}

// shpPolygon splits go-shp's flat point slice into rings.
func shpPolygon(poly *shp.Polygon) models.Polygon {
	numParts := len(poly.Parts)
	rings := make([]models.Ring, 0, numParts)
	for partIdx := 0; partIdx < numParts; partIdx++ {
		start := poly.Parts[partIdx]
		end := int32(len(poly.Points))
		if partIdx+1 < numParts {
			end = poly.Parts[partIdx+1]
		}
		ring := make(models.Ring, 0, end-start)
		for i := start; i < end; i++ {
			ring = append(ring, models.Point{X: poly.Points[i].X, Y: poly.Points[i].Y})
		}
		if len(ring) > 0 {
			rings = append(rings, ring)
		}
	}
	return models.NewPolygon(rings)
}

// loadCSV reads a tabular layer whose geometry is a WKT column or a
// coordinate-column pair.
func loadCSV(path string, spec LayerSpec) ([]Feature, HeightByID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}

	idCol, err := resolveField(header, spec.IDFields)
	if err != nil {
		return nil, nil, err
	}
	secCol := -1
	if len(spec.SecondaryFields) > 0 {
		secCol, err = resolveField(header, spec.SecondaryFields)
		if err != nil && spec.RequireSecondary {
			return nil, nil, err
		}
	}
	heightCol := -1
	if len(spec.HeightFields) > 0 {
		heightCol, _ = resolveField(header, spec.HeightFields)
	}
	geomCol, _ := resolveField(header, geometryFields)

	// Coordinate-column fallback with the CRS each pair implies.
	ptXCol, ptYCol := -1, -1
	ptCRS := models.CRSUnknown
	if geomCol < 0 {
		for _, cand := range pointColumns {
			xc, errX := resolveField(header, []string{cand.x})
			yc, errY := resolveField(header, []string{cand.y})
			if errX == nil && errY == nil {
				ptXCol, ptYCol, ptCRS = xc, yc, cand.crs
				break
			}
		}
	}
	if geomCol < 0 && ptXCol < 0 {
		return nil, nil, fmt.Errorf("no geometry column among %v and no coordinate pair: %w", geometryFields, ErrNoGeometry)
	}

	var features []Feature
	heights := make(HeightByID)

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv row: %w", err)
		}
		id := models.CanonicalDigits(cell(row, idCol))
		if id == "" {
			continue
		}

		var geom models.Polygon
		haveGeom := false
		if geomCol >= 0 {
			if wkt := cell(row, geomCol); wkt != "" {
				if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(wkt)), "POINT") {
					if pt, err := models.ParseWKTPoint(wkt); err == nil {
						geom = pointFeature(pt)
						haveGeom = true
					}
				} else if poly, err := models.ParseWKTPolygon(wkt); err == nil {
					geom = poly
					haveGeom = true
				}
			}
		}
		if !haveGeom && ptXCol >= 0 {
			x, errX := parseCoord(cell(row, ptXCol))
			y, errY := parseCoord(cell(row, ptYCol))
			if errX == nil && errY == nil {
				if ptCRS == models.CRSWGS84 {
					// Column names imply (lon, lat) already in X/Y order.
					pt, err := crs.ToStatePlane(models.Point{X: x, Y: y}, models.CRSWGS84)
					if err == nil {
						geom = pointFeature(pt)
						haveGeom = true
					}
				} else {
					geom = pointFeature(models.Point{X: x, Y: y})
					haveGeom = true
				}
			}
		}
		if !haveGeom {
			continue
		}

		feat := Feature{ID: id, Geom: geom}
		if secCol >= 0 {
			feat.Secondary = models.CanonicalDigits(cell(row, secCol))
		}
		if heightCol >= 0 {
			if h, err := strconv.ParseFloat(strings.TrimSpace(cell(row, heightCol)), 64); err == nil && h > 0 {
				heights[id] = h
			}
		}
		features = append(features, feat)
	}
	return features, heights, nil
}

// pointFeature wraps a point as a degenerate single-vertex polygon so
// point layers answer nearest queries through the same index.
func pointFeature(pt models.Point) models.Polygon {
	return models.NewPolygon([]models.Ring{{pt}})
}

// reprojectFeatures detects the layer CRS from a vertex sample and
// reprojects geographic layers into state plane.
func reprojectFeatures(features []Feature) ([]Feature, error) {
	if len(features) == 0 {
		return features, nil
	}
	const sampleCap = 500
	xs := make([]float64, 0, sampleCap)
	ys := make([]float64, 0, sampleCap)
	for _, f := range features {
		if len(f.Geom.Rings) == 0 || len(f.Geom.Rings[0]) == 0 {
			continue
		}
		v := f.Geom.Rings[0][0]
		xs = append(xs, v.X)
		ys = append(ys, v.Y)
		if len(xs) >= sampleCap {
			break
		}
	}
	cls, err := crs.Detect(xs, ys)
	if err != nil {
		return nil, fmt.Errorf("classify layer crs: %w", err)
	}
	if cls.CRS == models.CRSStatePlane && !cls.SwapXY {
		return features, nil
	}

	out := make([]Feature, len(features))
	for i, f := range features {
		rings := make([]models.Ring, len(f.Geom.Rings))
		for j, ring := range f.Geom.Rings {
			converted := make(models.Ring, len(ring))
			for k, v := range ring {
				pt, err := crs.NormalizePoint(v.X, v.Y, cls)
				if err != nil {
					return nil, err
				}
				converted[k] = pt
			}
			rings[j] = converted
		}
		out[i] = Feature{ID: f.ID, Secondary: f.Secondary, Geom: models.NewPolygon(rings)}
	}
	return out, nil
}

// resolveField returns the index of the first candidate present in the
// header, or ErrIdentifierFieldNotFound.
func resolveField(header []string, candidates []string) (int, error) {
	for _, cand := range candidates {
		for i, h := range header {
			if strings.TrimSpace(h) == cand {
				return i, nil
			}
		}
	}
	return -1, fmt.Errorf("%w: tried %v", ErrIdentifierFieldNotFound, candidates)
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseCoord parses a numeric cell, tolerating thousands separators.
func parseCoord(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
}
