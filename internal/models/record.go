package models

import (
	"strings"
)

// SourceTag identifies which input feed produced a record. The curated
// feed is authoritative for tie-breaks; bulk feeds are not.
type SourceTag string

const (
	// SourceCurated is the hand-maintained landmark list.
	SourceCurated SourceTag = "curated_landmarks"
	// SourceBulk is the bulk-ingested additions feed.
	SourceBulk SourceTag = "bulk_additions"
	// SourceSupplemental is the operator-supplied supplemental feed that
	// overrides bulk rows sharing the same normalized address.
	SourceSupplemental SourceTag = "supplemental"
)

// Height provenance, ordered by precedence. A conflicting height is
// resolved by this order, never by silent overwrite.
const (
	HeightSourceArchitectural = "architectural"
	HeightSourceFootprintRoof = "footprint_roof"
)

// heightPrecedence gives lower numbers to more trusted sources.
var heightPrecedence = map[string]int{
	HeightSourceArchitectural: 0,
	HeightSourceFootprintRoof: 1,
}

// ApplyHeight sets the record's height only when the new source
// outranks the current one, or no height is set.
func (r *BuildingRecord) ApplyHeight(h float64, source string) bool {
	if h <= 0 {
		return false
	}
	newRank, ok := heightPrecedence[source]
	if !ok {
		return false
	}
	if r.Height != nil {
		curRank, ok := heightPrecedence[r.HeightSource]
		if ok && curRank <= newRank {
			return false
		}
	}
	r.Height = &h
	r.HeightSource = source
	return true
}

// Authoritative reports whether the feed is trusted over bulk feeds when
// choosing which of two duplicate records to keep.
func (s SourceTag) Authoritative() bool {
	return s == SourceCurated
}

// BuildingRecord is one physical structure or its record of origin.
// Created once at ingestion; enrichment fields are filled in place by
// later stages. Nullable attributes use pointers to distinguish zero
// values from absent values.
type BuildingRecord struct {
	RecordID       string    `json:"record_id"`
	RawAddress     string    `json:"raw_address"`
	RawBoroughHint string    `json:"raw_borough_hint,omitempty"`
	Source         SourceTag `json:"source"`

	// Geometry carries the input point once its CRS is known. Nil when
	// the feed supplied no usable coordinates.
	Geometry    *Point `json:"geometry,omitempty"`
	GeometryCRS CRS    `json:"geometry_crs,omitempty"`

	BuildingName *string  `json:"building_name,omitempty"`
	YearBuilt    *int     `json:"year_built,omitempty"`
	FloorCount   *int     `json:"floor_count,omitempty"`
	Height       *float64 `json:"height,omitempty"`
	// HeightSource records which layer the height came from so conflicts
	// resolve by precedence, never silent overwrite.
	HeightSource string `json:"height_source,omitempty"`

	// PotentialDuplicate is set at ingestion when another record shares a
	// normalized address or a coordinate bucket. Informational only.
	PotentialDuplicate bool `json:"potential_duplicate,omitempty"`

	// Complex annotations, filled by the deduplication pass.
	ComplexPrimary   bool   `json:"complex_primary,omitempty"`
	ComplexGroupSize int    `json:"complex_group_size,omitempty"`
	ComplexBBL       string `json:"complex_bbl,omitempty"`
}

// NormalizedAddress lowercases and collapses whitespace in the raw
// address for use as a comparison or lookup key.
func (r *BuildingRecord) NormalizedAddress() string {
	return NormalizeAddressKey(r.RawAddress)
}

// NormalizeAddressKey produces the canonical lookup key for an address:
// lowercase, trimmed, interior whitespace collapsed.
func NormalizeAddressKey(addr string) string {
	return strings.Join(strings.Fields(strings.ToLower(addr)), " ")
}

// ComplexGroup is a derived grouping of records that resolved to the
// same tax lot. Recomputed whenever the ledger changes; never persisted
// as an independent source of truth.
type ComplexGroup struct {
	BBL       string            `json:"bbl"`
	Primary   *BuildingRecord   `json:"primary"`
	Secondary []*BuildingRecord `json:"secondary,omitempty"`
}

// Size returns the group cardinality including the primary.
func (g *ComplexGroup) Size() int {
	return 1 + len(g.Secondary)
}
