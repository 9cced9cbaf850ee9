// Package ingest reads the heterogeneous input feeds, reconciles their
// column names into typed records, tags each record's source, and marks
// potential duplicates across feeds. Messy input stops here; everything
// downstream sees only BuildingRecord.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/TomiHiltunen/geohash-golang"
	"github.com/google/uuid"

	"github.com/nycbuildings/lotline/internal/crs"
	"github.com/nycbuildings/lotline/internal/ledger"
	"github.com/nycbuildings/lotline/internal/logger"
	"github.com/nycbuildings/lotline/internal/models"
)

// Column candidates per record field, tried in priority order.
var (
	addressFields = []string{"des_addres", "address", "raw_address", "street_address", "location"}
	nameFields    = []string{"build_nme", "building_name", "name", "bldg_name"}
	boroughFields = []string{"borough", "boro", "borough_name"}
	bblFields     = []string{"bbl", "BBL"}
	binFields     = []string{"bin", "BIN"}
	yearFields    = []string{"year_built", "yearbuilt", "date_combo", "year"}
	floorFields   = []string{"num_floors", "floors", "floor_count"}
	heightFields  = []string{"height", "height_ft", "architectural_height"}
	xFields       = []string{"longitude", "lon", "lng", "xcoord", "x"}
	yFields       = []string{"latitude", "lat", "ycoord", "y"}
)

// Sanity windows for enrichment fields; values outside are dropped at
// ingestion rather than poisoning the output.
const (
	yearMin  = 1850
	yearMax  = 2025
	floorMin = 1
	floorMax = 180
)

// geohashPrecision 8 buckets WGS84 points into roughly 40 m cells,
// close enough that two records in one cell are plausibly one building.
const geohashPrecision = 8

// Feed is one input file with its source tag.
type Feed struct {
	Path   string
	Source models.SourceTag
}

// Loader reads and combines feeds.
type Loader struct {
	log *logger.Logger
}

// NewLoader builds a loader.
func NewLoader(log *logger.Logger) *Loader {
	return &Loader{log: log}
}

// Load reads every feed in order, combines them into one record set,
// registers each record with the ledger (importing feed-carried
// identifiers raw, sentinel included), and marks potential duplicates.
// Supplemental rows replace earlier bulk rows sharing a normalized
// address instead of adding a new record.
func (l *Loader) Load(feeds []Feed, led *ledger.Ledger) ([]*models.BuildingRecord, error) {
	var records []*models.BuildingRecord
	byAddress := make(map[string]*models.BuildingRecord)

	for _, feed := range feeds {
		rows, err := l.readFeed(feed)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", feed.Path, err)
		}
		for _, row := range rows {
			key := models.NormalizeAddressKey(row.record.RawAddress)

			if feed.Source == models.SourceSupplemental {
				if prior, ok := byAddress[key]; ok && prior.Source == models.SourceBulk {
					mergeSupplemental(prior, row.record)
					led.ImportRaw(prior.RecordID, row.rawBBL, row.rawBIN, string(feed.Source))
					continue
				}
			}

			records = append(records, row.record)
			led.Track(row.record.RecordID)
			led.ImportRaw(row.record.RecordID, row.rawBBL, row.rawBIN, string(feed.Source))

			if key != "" {
				if prior, ok := byAddress[key]; ok {
					prior.PotentialDuplicate = true
					row.record.PotentialDuplicate = true
				} else {
					byAddress[key] = row.record
				}
			}
		}
		if l.log != nil {
			l.log.Info("feed ingested", map[string]interface{}{
				"path":    feed.Path,
				"source":  string(feed.Source),
				"records": len(rows),
			})
		}
	}

	markProximityDuplicates(records)
	return records, nil
}

// parsedRow keeps the raw identifier strings next to the typed record
// so the ledger import sees them before normalization.
type parsedRow struct {
	record *models.BuildingRecord
	rawBBL string
	rawBIN string
}

func (l *Loader) readFeed(feed Feed) ([]parsedRow, error) {
	f, err := os.Open(feed.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := newColumnMap(header)

	addrCol := cols.first(addressFields)
	if addrCol < 0 {
		return nil, fmt.Errorf("no address column among %v", addressFields)
	}
	xCol, yCol := cols.first(xFields), cols.first(yFields)

	var rows []parsedRow
	var xs, ys []float64
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		address := strings.TrimSpace(at(rec, addrCol))
		if address == "" {
			continue
		}

		row := parsedRow{
			record: &models.BuildingRecord{
				RecordID:       uuid.NewString(),
				RawAddress:     address,
				RawBoroughHint: at(rec, cols.first(boroughFields)),
				Source:         feed.Source,
			},
			rawBBL: at(rec, cols.first(bblFields)),
			rawBIN: at(rec, cols.first(binFields)),
		}
		fillName(row.record, at(rec, cols.first(nameFields)))
		fillYear(row.record, at(rec, cols.first(yearFields)))
		fillFloors(row.record, at(rec, cols.first(floorFields)))
		fillHeight(row.record, at(rec, cols.first(heightFields)))

		if xCol >= 0 && yCol >= 0 {
			x, errX := parseNumber(at(rec, xCol))
			y, errY := parseNumber(at(rec, yCol))
			if errX == nil && errY == nil {
				row.record.Geometry = &models.Point{X: x, Y: y}
				xs = append(xs, x)
				ys = append(ys, y)
			}
		}
		rows = append(rows, row)
	}

	if len(xs) > 0 {
		cls, err := crs.Detect(xs, ys)
		if err != nil {
			return nil, fmt.Errorf("coordinate columns: %w", err)
		}
		for _, row := range rows {
			if row.record.Geometry == nil {
				continue
			}
			if cls.SwapXY {
				row.record.Geometry.X, row.record.Geometry.Y = row.record.Geometry.Y, row.record.Geometry.X
			}
			row.record.GeometryCRS = cls.CRS
		}
	}
	return rows, nil
}

// mergeSupplemental overwrites a bulk record's fields with the
// supplemental row's non-empty ones, keeping the record identity.
func mergeSupplemental(dst, src *models.BuildingRecord) {
	dst.Source = models.SourceSupplemental
	if src.RawBoroughHint != "" {
		dst.RawBoroughHint = src.RawBoroughHint
	}
	if src.BuildingName != nil {
		dst.BuildingName = src.BuildingName
	}
	if src.YearBuilt != nil {
		dst.YearBuilt = src.YearBuilt
	}
	if src.FloorCount != nil {
		dst.FloorCount = src.FloorCount
	}
	if src.Height != nil {
		dst.Height = src.Height
		dst.HeightSource = src.HeightSource
	}
	if src.Geometry != nil {
		dst.Geometry = src.Geometry
		dst.GeometryCRS = src.GeometryCRS
	}
}

// markProximityDuplicates buckets geographic points by geohash prefix
// and flags every record sharing a bucket with another.
func markProximityDuplicates(records []*models.BuildingRecord) {
	buckets := make(map[string][]*models.BuildingRecord)
	for _, rec := range records {
		if rec.Geometry == nil || rec.GeometryCRS != models.CRSWGS84 {
			continue
		}
		h := geohash.EncodeWithPrecision(rec.Geometry.Y, rec.Geometry.X, geohashPrecision)
		buckets[h] = append(buckets[h], rec)
	}
	for _, group := range buckets {
		if len(group) < 2 {
			continue
		}
		for _, rec := range group {
			rec.PotentialDuplicate = true
		}
	}
}

type columnMap map[string]int

func newColumnMap(header []string) columnMap {
	m := make(columnMap, len(header))
	for i, h := range header {
		m[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return m
}

// first returns the index of the first candidate present, or -1.
func (c columnMap) first(candidates []string) int {
	for _, cand := range candidates {
		if i, ok := c[strings.ToLower(cand)]; ok {
			return i
		}
	}
	return -1
}

func at(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

func fillName(rec *models.BuildingRecord, raw string) {
	if raw != "" {
		rec.BuildingName = &raw
	}
}

func fillYear(rec *models.BuildingRecord, raw string) {
	// Some feeds store "1931 (renovated 1999)"; the leading year wins.
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r < '0' || r > '9' })
	if len(fields) == 0 {
		return
	}
	y, err := strconv.Atoi(fields[0])
	if err != nil || y < yearMin || y > yearMax {
		return
	}
	rec.YearBuilt = &y
}

func fillFloors(rec *models.BuildingRecord, raw string) {
	n, err := strconv.Atoi(strings.TrimSuffix(raw, ".0"))
	if err != nil || n < floorMin || n > floorMax {
		return
	}
	rec.FloorCount = &n
}

func fillHeight(rec *models.BuildingRecord, raw string) {
	h, err := parseNumber(raw)
	if err != nil {
		return
	}
	rec.ApplyHeight(h, models.HeightSourceArchitectural)
}
