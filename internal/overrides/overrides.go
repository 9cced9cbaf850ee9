// Package overrides loads the operator-maintained address-to-identifier
// table. The file is the single declarative home for manual fixes;
// nothing else in the pipeline hard-codes per-address corrections.
package overrides

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/nycbuildings/lotline/internal/logger"
	"github.com/nycbuildings/lotline/internal/models"
)

// Row is one override entry as validated from the CSV. At least one of
// BBL or BIN must be present.
type Row struct {
	Address string `validate:"required"`
	BBL     string `validate:"omitempty,len=10,numeric"`
	BIN     string `validate:"omitempty,len=7,numeric"`
	Note    string
}

// Table is the loaded override set, keyed by normalized address.
type Table struct {
	rows map[string]Row
}

var validate = validator.New()

// Load reads and validates the override CSV. Header: address, bbl, bin,
// note (note optional). Invalid rows fail the load; a bad override
// silently skipped would defeat the point of the file.
func Load(path string, log *logger.Logger) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open overrides: %w", err)
	}
	defer f.Close()
	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("overrides %s: %w", path, err)
	}
	if log != nil {
		log.Info("loaded manual overrides", map[string]interface{}{
			"path":  path,
			"count": t.Len(),
		})
	}
	return t, nil
}

// Parse reads the override table from a reader.
func Parse(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[h] = i
	}
	for _, required := range []string{"address", "bbl", "bin"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	t := &Table{rows: make(map[string]Row)}
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		line++

		row := Row{
			Address: field(rec, cols, "address"),
			BBL:     models.CanonicalDigits(field(rec, cols, "bbl")),
			BIN:     models.CanonicalDigits(field(rec, cols, "bin")),
			Note:    field(rec, cols, "note"),
		}
		if err := validate.Struct(row); err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		if row.BBL == "" && row.BIN == "" {
			return nil, fmt.Errorf("row %d: neither bbl nor bin present", line)
		}
		if row.BBL != "" && !models.ValidBBL(row.BBL) {
			return nil, fmt.Errorf("row %d: bbl %q invalid or placeholder", line, row.BBL)
		}
		if row.BIN != "" && !models.ValidBIN(row.BIN) {
			return nil, fmt.Errorf("row %d: bin %q invalid", line, row.BIN)
		}
		t.rows[models.NormalizeAddressKey(row.Address)] = row
	}
	return t, nil
}

func field(rec []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

// Lookup returns the override for an address, matching on the
// normalized key.
func (t *Table) Lookup(address string) (models.Identifier, bool) {
	if t == nil {
		return models.Identifier{}, false
	}
	row, ok := t.rows[models.NormalizeAddressKey(address)]
	if !ok {
		return models.Identifier{}, false
	}
	return models.Identifier{BBL: row.BBL, BIN: row.BIN}, true
}

// Len returns the number of loaded overrides.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}
