// Package checkpoint persists the full record-plus-ledger set to a
// tabular file after every pipeline stage, so a run can restart from
// any stage without recomputing earlier ones.
package checkpoint

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nycbuildings/lotline/internal/ledger"
	"github.com/nycbuildings/lotline/internal/logger"
	"github.com/nycbuildings/lotline/internal/models"
)

// Store writes and reads per-stage checkpoint files in one directory.
type Store struct {
	dir string
	log *logger.Logger
}

// NewStore creates the checkpoint directory if needed.
func NewStore(dir string, log *logger.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) path(stage string) string {
	return filepath.Join(s.dir, "checkpoint_"+stage+".csv")
}

// Exists reports whether a stage's checkpoint is present.
func (s *Store) Exists(stage string) bool {
	_, err := os.Stat(s.path(stage))
	return err == nil
}

var header = []string{
	"record_id", "raw_address", "raw_borough_hint", "source",
	"geom_x", "geom_y", "geom_crs",
	"building_name", "year_built", "floor_count", "height", "height_source",
	"potential_duplicate", "complex_primary", "complex_group_size", "complex_bbl",
	"bbl", "bin", "bbl_confidence", "bin_confidence", "bbl_source", "bin_source",
	"non_property", "retry_eligible", "attempts",
}

// Save writes the stage checkpoint atomically (write temp, rename).
func (s *Store) Save(stage string, records []*models.BuildingRecord, led *ledger.Ledger) error {
	tmp, err := os.CreateTemp(s.dir, "checkpoint_*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", stage, err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint %s: %w", stage, err)
	}
	for _, rec := range records {
		row, err := encodeRow(rec, led.Entry(rec.RecordID))
		if err != nil {
			tmp.Close()
			return fmt.Errorf("checkpoint %s: record %s: %w", stage, rec.RecordID, err)
		}
		if err := w.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("checkpoint %s: %w", stage, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint %s: %w", stage, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint %s: %w", stage, err)
	}
	if err := os.Rename(tmp.Name(), s.path(stage)); err != nil {
		return fmt.Errorf("checkpoint %s: %w", stage, err)
	}

	if s.log != nil {
		s.log.Info("checkpoint saved", map[string]interface{}{
			"stage":   stage,
			"records": len(records),
		})
	}
	return nil
}

// Load restores a stage's records and ledger entries.
func (s *Store) Load(stage string) ([]*models.BuildingRecord, *ledger.Ledger, error) {
	f, err := os.Open(s.path(stage))
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint %s: %w", stage, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	got, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint %s: read header: %w", stage, err)
	}
	if strings.Join(got, ",") != strings.Join(header, ",") {
		return nil, nil, fmt.Errorf("checkpoint %s: unexpected header", stage)
	}

	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint %s: %w", stage, err)
	}

	led := ledger.New()
	records := make([]*models.BuildingRecord, 0, len(rows))
	for i, row := range rows {
		rec, entry, err := decodeRow(row)
		if err != nil {
			return nil, nil, fmt.Errorf("checkpoint %s: row %d: %w", stage, i+2, err)
		}
		records = append(records, rec)
		led.Restore(entry)
	}
	return records, led, nil
}

func encodeRow(rec *models.BuildingRecord, entry *ledger.Entry) ([]string, error) {
	if entry == nil {
		entry = &ledger.Entry{RecordID: rec.RecordID}
	}
	attempts, err := json.Marshal(entry.Attempts)
	if err != nil {
		return nil, err
	}

	geomX, geomY, geomCRS := "", "", ""
	if rec.Geometry != nil {
		geomX = formatFloat(rec.Geometry.X)
		geomY = formatFloat(rec.Geometry.Y)
		geomCRS = rec.GeometryCRS.String()
	}
	return []string{
		rec.RecordID, rec.RawAddress, rec.RawBoroughHint, string(rec.Source),
		geomX, geomY, geomCRS,
		strPtr(rec.BuildingName), intPtr(rec.YearBuilt), intPtr(rec.FloorCount),
		floatPtr(rec.Height), rec.HeightSource,
		formatBool(rec.PotentialDuplicate), formatBool(rec.ComplexPrimary),
		strconv.Itoa(rec.ComplexGroupSize), rec.ComplexBBL,
		entry.Identifier.BBL, entry.Identifier.BIN,
		entry.BBLConfidence.String(), entry.BINConfidence.String(),
		entry.BBLSource, entry.BINSource,
		formatBool(entry.NonProperty), formatBool(entry.RetryEligible),
		string(attempts),
	}, nil
}

func decodeRow(row []string) (*models.BuildingRecord, *ledger.Entry, error) {
	if len(row) != len(header) {
		return nil, nil, fmt.Errorf("expected %d columns, got %d", len(header), len(row))
	}
	col := func(name string) string {
		for i, h := range header {
			if h == name {
				return row[i]
			}
		}
		return ""
	}

	rec := &models.BuildingRecord{
		RecordID:           col("record_id"),
		RawAddress:         col("raw_address"),
		RawBoroughHint:     col("raw_borough_hint"),
		Source:             models.SourceTag(col("source")),
		HeightSource:       col("height_source"),
		PotentialDuplicate: col("potential_duplicate") == "true",
		ComplexPrimary:     col("complex_primary") == "true",
		ComplexBBL:         col("complex_bbl"),
	}
	if rec.RecordID == "" {
		return nil, nil, fmt.Errorf("empty record_id")
	}
	if v := col("complex_group_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, nil, fmt.Errorf("complex_group_size: %w", err)
		}
		rec.ComplexGroupSize = n
	}
	if x, y := col("geom_x"), col("geom_y"); x != "" && y != "" {
		px, err1 := strconv.ParseFloat(x, 64)
		py, err2 := strconv.ParseFloat(y, 64)
		if err1 != nil || err2 != nil {
			return nil, nil, fmt.Errorf("bad geometry %q,%q", x, y)
		}
		rec.Geometry = &models.Point{X: px, Y: py}
		rec.GeometryCRS = models.ParseCRS(col("geom_crs"))
	}
	if v := col("building_name"); v != "" {
		rec.BuildingName = &v
	}
	if v := col("year_built"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, nil, fmt.Errorf("year_built: %w", err)
		}
		rec.YearBuilt = &n
	}
	if v := col("floor_count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, nil, fmt.Errorf("floor_count: %w", err)
		}
		rec.FloorCount = &n
	}
	if v := col("height"); v != "" {
		h, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("height: %w", err)
		}
		rec.Height = &h
	}

	entry := &ledger.Entry{
		RecordID: rec.RecordID,
		Identifier: models.Identifier{
			BBL: col("bbl"),
			BIN: col("bin"),
		},
		BBLConfidence: ledger.ParseConfidence(col("bbl_confidence")),
		BINConfidence: ledger.ParseConfidence(col("bin_confidence")),
		BBLSource:     col("bbl_source"),
		BINSource:     col("bin_source"),
		NonProperty:   col("non_property") == "true",
		RetryEligible: col("retry_eligible") == "true",
	}
	if v := col("attempts"); v != "" && v != "null" {
		if err := json.Unmarshal([]byte(v), &entry.Attempts); err != nil {
			return nil, nil, fmt.Errorf("attempts: %w", err)
		}
	}
	return rec, entry, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return ""
}

func strPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intPtr(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func floatPtr(f *float64) string {
	if f == nil {
		return ""
	}
	return formatFloat(*f)
}
