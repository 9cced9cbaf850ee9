// Package resolver implements the spatial tier of the identifier
// cascade: exact containment against the parcel and footprint layers,
// then distance-bounded nearest-polygon matches, then a tight probe of
// the footprint layer for its base lot as a last resort.
package resolver

import (
	"context"
	"fmt"

	"github.com/nycbuildings/lotline/internal/layers"
	"github.com/nycbuildings/lotline/internal/ledger"
	"github.com/nycbuildings/lotline/internal/logger"
	"github.com/nycbuildings/lotline/internal/models"
)

// Distance tolerances in state-plane feet. Parcels get a wider band
// than footprints because lot lines extend past building walls.
const (
	ParcelNearestToleranceFt    = 25.0
	FootprintNearestToleranceFt = 20.0
	BufferProbeFt               = 5.0
)

// Stage names recorded in the attempt trail.
const (
	StageContainment = "spatial_containment"
	StageNearest     = "spatial_nearest"
	StageBuffer      = "spatial_buffer"
)

// SpatialResolver resolves identifiers for records that carry a usable
// point, by querying the parcel layer for the BBL and the footprint
// layer for the BIN (and the footprint's base BBL when the parcel layer
// misses).
type SpatialResolver struct {
	parcels    layers.Index
	footprints layers.Index
	log        *logger.Logger
}

// NewSpatialResolver wires the two reference layers. Either may be nil
// when a deployment lacks that layer; the resolver skips what it cannot
// query.
func NewSpatialResolver(parcels, footprints layers.Index, log *logger.Logger) *SpatialResolver {
	return &SpatialResolver{parcels: parcels, footprints: footprints, log: log}
}

// Resolve runs the spatial tiers for one record. Records without
// geometry, or flagged as non-property, pass through untouched.
func (r *SpatialResolver) Resolve(ctx context.Context, rec *models.BuildingRecord, led *ledger.Ledger) error {
	entry := led.Entry(rec.RecordID)
	if entry == nil || entry.NonProperty || rec.Geometry == nil {
		return nil
	}
	pt, err := normalizedPoint(rec)
	if err != nil {
		led.RecordAttempt(rec.RecordID, StageContainment, "skipped", err.Error(), nil)
		return nil
	}

	if err := r.containment(ctx, rec.RecordID, pt, led); err != nil {
		return err
	}
	if err := r.nearest(ctx, rec.RecordID, pt, led); err != nil {
		return err
	}
	return r.buffer(ctx, rec.RecordID, pt, led)
}

// normalizedPoint returns the record's point in state plane.
func normalizedPoint(rec *models.BuildingRecord) (models.Point, error) {
	switch rec.GeometryCRS {
	case models.CRSStatePlane:
		return *rec.Geometry, nil
	default:
		return models.Point{}, fmt.Errorf("geometry crs %s not normalized", rec.GeometryCRS)
	}
}

func (r *SpatialResolver) containment(ctx context.Context, recordID string, pt models.Point, led *ledger.Ledger) error {
	if r.parcels != nil && led.NeedsBBL(recordID) {
		m, ok, err := r.parcels.Containing(ctx, pt)
		if err != nil {
			return fmt.Errorf("parcel containment: %w", err)
		}
		if ok {
			r.assignBBL(recordID, m.ID, ledger.ExactContainment, r.parcels.Name(), StageContainment, nil, led)
		} else {
			led.RecordAttempt(recordID, StageContainment, "miss", r.parcels.Name(), nil)
		}
	}
	if r.footprints != nil && led.NeedsBIN(recordID) {
		m, ok, err := r.footprints.Containing(ctx, pt)
		if err != nil {
			return fmt.Errorf("footprint containment: %w", err)
		}
		if ok {
			r.assignBIN(recordID, m, ledger.ExactContainment, StageContainment, led)
		} else {
			led.RecordAttempt(recordID, StageContainment, "miss", r.footprints.Name(), nil)
		}
	}
	return nil
}

func (r *SpatialResolver) nearest(ctx context.Context, recordID string, pt models.Point, led *ledger.Ledger) error {
	if r.parcels != nil && led.NeedsBBL(recordID) {
		m, ok, err := r.parcels.Nearest(ctx, pt, ParcelNearestToleranceFt)
		if err != nil {
			return fmt.Errorf("parcel nearest: %w", err)
		}
		if ok {
			d := m.Distance
			r.assignBBL(recordID, m.ID, ledger.NearestWithinTolerance, r.parcels.Name(), StageNearest, &d, led)
		} else {
			led.RecordAttempt(recordID, StageNearest, "miss", r.parcels.Name(), nil)
		}
	}
	if r.footprints != nil && led.NeedsBIN(recordID) {
		m, ok, err := r.footprints.Nearest(ctx, pt, FootprintNearestToleranceFt)
		if err != nil {
			return fmt.Errorf("footprint nearest: %w", err)
		}
		if ok {
			r.assignBIN(recordID, m, ledger.NearestWithinTolerance, StageNearest, led)
		} else {
			led.RecordAttempt(recordID, StageNearest, "miss", r.footprints.Name(), nil)
		}
	}
	return nil
}

// buffer is the last spatial resort for the BBL. When the record's BIN
// arrived from a feed, the footprint tiers above never ran, so a tight
// probe of the footprint layer can still recover its base BBL where
// the parcel layer missed.
func (r *SpatialResolver) buffer(ctx context.Context, recordID string, pt models.Point, led *ledger.Ledger) error {
	if r.footprints == nil || !led.NeedsBBL(recordID) {
		return nil
	}
	m, ok, err := r.footprints.Nearest(ctx, pt, BufferProbeFt)
	if err != nil {
		return fmt.Errorf("footprint buffer probe: %w", err)
	}
	if !ok || m.Secondary == "" {
		led.RecordAttempt(recordID, StageBuffer, "miss", r.footprints.Name(), nil)
		return nil
	}
	d := m.Distance
	r.assignBBL(recordID, m.Secondary, ledger.NearestWithinTolerance, r.footprints.Name(), StageBuffer, &d, led)
	return nil
}

func (r *SpatialResolver) assignBBL(recordID, bbl string, conf ledger.Confidence, source, stage string, dist *float64, led *ledger.Ledger) {
	applied, err := led.SetBBL(recordID, bbl, conf, source)
	switch {
	case err != nil:
		led.RecordAttempt(recordID, stage, "rejected", err.Error(), dist)
	case applied:
		led.RecordAttempt(recordID, stage, "hit", fmt.Sprintf("%s bbl=%s", source, bbl), dist)
		if r.log != nil {
			r.log.Debug("assigned bbl", map[string]interface{}{
				"record_id": recordID,
				"bbl":       bbl,
				"stage":     stage,
			})
		}
	default:
		led.RecordAttempt(recordID, stage, "superseded", fmt.Sprintf("%s bbl=%s", source, bbl), dist)
	}
}

// assignBIN stores the footprint match's BIN, and its base BBL too when
// the parcel layer left the BBL unresolved.
func (r *SpatialResolver) assignBIN(recordID string, m layers.Match, conf ledger.Confidence, stage string, led *ledger.Ledger) {
	d := m.Distance
	applied, err := led.SetBIN(recordID, m.ID, conf, r.footprints.Name())
	switch {
	case err != nil:
		led.RecordAttempt(recordID, stage, "rejected", err.Error(), &d)
		return
	case applied:
		led.RecordAttempt(recordID, stage, "hit", fmt.Sprintf("%s bin=%s", r.footprints.Name(), m.ID), &d)
	default:
		led.RecordAttempt(recordID, stage, "superseded", fmt.Sprintf("%s bin=%s", r.footprints.Name(), m.ID), &d)
	}
	if m.Secondary != "" && led.NeedsBBL(recordID) {
		r.assignBBL(recordID, m.Secondary, conf, r.footprints.Name(), stage, &d, led)
	}
}
