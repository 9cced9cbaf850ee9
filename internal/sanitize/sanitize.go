// Package sanitize purges the placeholder sentinel from the resolved
// set. Upstream failure paths degrade to a fixed fake BBL and a fixed
// fake coordinate pair; both must read as "not resolved", never as
// data.
package sanitize

import (
	"context"
	"math"

	"github.com/nycbuildings/lotline/internal/layers"
	"github.com/nycbuildings/lotline/internal/ledger"
	"github.com/nycbuildings/lotline/internal/logger"
	"github.com/nycbuildings/lotline/internal/models"
)

const stage = "placeholder_sanitizer"

// KnownNonPropertyAddresses is the closed set of addresses that
// legitimately do not map to a tax lot. Their sentinels become
// "intentionally unresolved" with no retry.
var KnownNonPropertyAddresses = []string{
	"1 idlewild drive",
	"flushing meadows corona park",
	"pier 55",
	"governors island",
	"59th street and 2nd avenue",
	"gansevoort & washington streets",
}

var knownNonProperty = func() map[string]struct{} {
	m := make(map[string]struct{}, len(KnownNonPropertyAddresses))
	for _, a := range KnownNonPropertyAddresses {
		m[models.NormalizeAddressKey(a)] = struct{}{}
	}
	return m
}()

// Sanitizer strips sentinel values and repairs what it can. The
// footprint lookup is optional; without it the BIN-based repair is
// skipped.
type Sanitizer struct {
	footprints layers.SecondaryLookup
	log        *logger.Logger
}

// New builds a sanitizer. footprints may be nil.
func New(footprints layers.SecondaryLookup, log *logger.Logger) *Sanitizer {
	return &Sanitizer{footprints: footprints, log: log}
}

// Result counts what one pass did.
type Result struct {
	SentinelBBLs   int
	SentinelCoords int
	Repaired       int
	NonProperty    int
	RetryEligible  int
}

// Run sweeps every record. For a sentinel BBL: first try the BIN-based
// repair, then classify the record as non-property or retry-eligible.
// Sentinel coordinates are dropped from the record outright.
func (s *Sanitizer) Run(ctx context.Context, records []*models.BuildingRecord, led *ledger.Ledger) (Result, error) {
	var res Result
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		entry := led.Entry(rec.RecordID)
		if entry == nil {
			continue
		}

		if hasSentinelCoords(rec) {
			rec.Geometry = nil
			rec.GeometryCRS = models.CRSUnknown
			led.RecordAttempt(rec.RecordID, stage, "stripped", "sentinel coordinates", nil)
			res.SentinelCoords++
		}

		if entry.Identifier.BBL != models.PlaceholderBBL {
			continue
		}
		res.SentinelBBLs++

		if s.repair(ctx, rec, entry, led) {
			res.Repaired++
			continue
		}

		led.ClearBBL(rec.RecordID)
		if _, ok := knownNonProperty[rec.NormalizedAddress()]; ok {
			entry.NonProperty = true
			led.RecordAttempt(rec.RecordID, stage, "non_property", "known non-property address", nil)
			res.NonProperty++
		} else {
			entry.RetryEligible = true
			led.RecordAttempt(rec.RecordID, stage, "stripped", "sentinel bbl, retry eligible", nil)
			res.RetryEligible++
		}
	}

	if s.log != nil {
		s.log.Info("sanitizer pass complete", map[string]interface{}{
			"sentinel_bbls":   res.SentinelBBLs,
			"sentinel_coords": res.SentinelCoords,
			"repaired":        res.Repaired,
			"non_property":    res.NonProperty,
			"retry_eligible":  res.RetryEligible,
		})
	}
	return res, nil
}

// repair replaces a sentinel BBL using the footprint layer's BIN to
// base-BBL mapping, keeping the BIN's own confidence and provenance.
func (s *Sanitizer) repair(ctx context.Context, rec *models.BuildingRecord, entry *ledger.Entry, led *ledger.Ledger) bool {
	if s.footprints == nil || !models.ValidBIN(entry.Identifier.BIN) {
		return false
	}
	bbl, ok, err := s.footprints.SecondaryFor(ctx, entry.Identifier.BIN)
	if err != nil {
		led.RecordAttempt(rec.RecordID, stage, "error", err.Error(), nil)
		return false
	}
	if !ok || !models.ValidBBL(bbl) {
		return false
	}

	led.ClearBBL(rec.RecordID)
	applied, err := led.SetBBL(rec.RecordID, bbl, entry.BINConfidence, "bin_repair")
	if err != nil || !applied {
		return false
	}
	led.RecordAttempt(rec.RecordID, stage, "repaired", "bbl recovered from bin "+entry.Identifier.BIN, nil)
	return true
}

// RetryRecords returns the records flagged for another cascade pass.
func RetryRecords(records []*models.BuildingRecord, led *ledger.Ledger) []*models.BuildingRecord {
	var out []*models.BuildingRecord
	for _, rec := range records {
		if e := led.Entry(rec.RecordID); e != nil && e.RetryEligible {
			out = append(out, rec)
		}
	}
	return out
}

// hasSentinelCoords matches the fixed fake coordinate pair on a
// geographic record.
func hasSentinelCoords(rec *models.BuildingRecord) bool {
	if rec.Geometry == nil || rec.GeometryCRS != models.CRSWGS84 {
		return false
	}
	const eps = 1e-5
	return math.Abs(rec.Geometry.Y-models.PlaceholderLat) < eps &&
		math.Abs(rec.Geometry.X-models.PlaceholderLng) < eps
}
