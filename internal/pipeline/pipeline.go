// Package pipeline orchestrates the resolution stages in order,
// checkpointing the full record-plus-ledger set after each one so a run
// can restart from any stage.
package pipeline

import (
	"context"
	"fmt"

	"github.com/nycbuildings/lotline/internal/cascade"
	"github.com/nycbuildings/lotline/internal/checkpoint"
	"github.com/nycbuildings/lotline/internal/crs"
	"github.com/nycbuildings/lotline/internal/dedupe"
	"github.com/nycbuildings/lotline/internal/ingest"
	"github.com/nycbuildings/lotline/internal/layers"
	"github.com/nycbuildings/lotline/internal/ledger"
	"github.com/nycbuildings/lotline/internal/logger"
	"github.com/nycbuildings/lotline/internal/models"
	"github.com/nycbuildings/lotline/internal/report"
	"github.com/nycbuildings/lotline/internal/resolver"
	"github.com/nycbuildings/lotline/internal/sanitize"
)

// Stage names, in run order. Each is also the checkpoint it produces.
const (
	StageIngest    = "ingest"
	StageNormalize = "normalize"
	StageSpatial   = "spatial"
	StageCascade   = "cascade"
	StageSanitize  = "sanitize"
	StageDedupe    = "dedupe"
)

// Stages lists the run order.
var Stages = []string{StageIngest, StageNormalize, StageSpatial, StageCascade, StageSanitize, StageDedupe}

// FinalStage is the checkpoint the report server reads.
const FinalStage = StageDedupe

// Pipeline wires the stage implementations together.
type Pipeline struct {
	Feeds     []ingest.Feed
	Spatial   *resolver.SpatialResolver
	Cascade   *cascade.Cascade
	Sanitizer *sanitize.Sanitizer
	Dedupe    *dedupe.Deduplicator
	Store     *checkpoint.Store
	Workers   int

	// Heights maps footprint BIN to roof height, filled when the
	// footprint layer is file-backed. Applied after spatial resolution
	// at footprint-roof precedence.
	Heights layers.HeightByID

	log *logger.Logger
}

// New builds a pipeline. Workers below 1 is treated as 1.
func New(feeds []ingest.Feed, spatial *resolver.SpatialResolver, casc *cascade.Cascade,
	sanitizer *sanitize.Sanitizer, dd *dedupe.Deduplicator, store *checkpoint.Store,
	workers int, log *logger.Logger) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		Feeds:     feeds,
		Spatial:   spatial,
		Cascade:   casc,
		Sanitizer: sanitizer,
		Dedupe:    dd,
		Store:     store,
		Workers:   workers,
		log:       log,
	}
}

// Result is the completed run's output.
type Result struct {
	Records []*models.BuildingRecord
	Ledger  *ledger.Ledger
	Groups  []models.ComplexGroup
	Report  report.Report
}

// Run executes every stage from fromStage onward. An empty fromStage
// starts at ingestion; any other value restores that stage's
// checkpoint and resumes with the next stage.
func (p *Pipeline) Run(ctx context.Context, fromStage string) (Result, error) {
	start := 0
	var (
		records []*models.BuildingRecord
		led     *ledger.Ledger
		err     error
	)

	if fromStage != "" {
		idx := stageIndex(fromStage)
		if idx < 0 {
			return Result{}, fmt.Errorf("unknown stage %q", fromStage)
		}
		records, led, err = p.Store.Load(fromStage)
		if err != nil {
			return Result{}, fmt.Errorf("restart from %s: %w", fromStage, err)
		}
		start = idx + 1
		if p.log != nil {
			p.log.Info("restarting from checkpoint", map[string]interface{}{
				"stage":   fromStage,
				"records": len(records),
			})
		}
	}

	var groups []models.ComplexGroup
	for _, stage := range Stages[start:] {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if p.log != nil {
			p.log.WithStage(stage).Info("stage starting", nil)
		}

		switch stage {
		case StageIngest:
			led = ledger.New()
			records, err = ingest.NewLoader(p.log).Load(p.Feeds, led)
		case StageNormalize:
			err = normalizeGeometry(records)
		case StageSpatial:
			err = p.runSpatial(ctx, records, led)
		case StageCascade:
			err = p.Cascade.Run(ctx, records, led, p.Workers)
		case StageSanitize:
			err = p.runSanitize(ctx, records, led)
		case StageDedupe:
			var res dedupe.Result
			res, err = p.Dedupe.Run(ctx, records, led)
			if err == nil {
				records, groups = res.Records, res.Groups
			}
		}
		if err != nil {
			return Result{}, fmt.Errorf("stage %s: %w", stage, err)
		}
		if err := p.Store.Save(stage, records, led); err != nil {
			return Result{}, err
		}
	}

	if groups == nil && start > stageIndex(StageDedupe) {
		// Restarted past the final stage: recompute the grouping view.
		res, err := p.Dedupe.Run(ctx, records, led)
		if err != nil {
			return Result{}, err
		}
		records, groups = res.Records, res.Groups
	}

	return Result{
		Records: records,
		Ledger:  led,
		Groups:  groups,
		Report:  report.Build(records, led, len(groups)),
	}, nil
}

// normalizeGeometry reprojects feed geometry into state plane. The
// sentinel coordinate pair is left in place for the sanitizer to
// strip, and classification failures surface instead of defaulting.
func normalizeGeometry(records []*models.BuildingRecord) error {
	for _, rec := range records {
		if rec.Geometry == nil || rec.GeometryCRS != models.CRSWGS84 {
			continue
		}
		if isSentinelPair(rec.Geometry) {
			continue
		}
		pt, err := crs.ToStatePlane(*rec.Geometry, models.CRSWGS84)
		if err != nil {
			return fmt.Errorf("record %s: %w", rec.RecordID, err)
		}
		rec.Geometry = &pt
		rec.GeometryCRS = models.CRSStatePlane
	}
	return nil
}

func isSentinelPair(pt *models.Point) bool {
	const eps = 1e-5
	return abs(pt.Y-models.PlaceholderLat) < eps && abs(pt.X-models.PlaceholderLng) < eps
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func (p *Pipeline) runSpatial(ctx context.Context, records []*models.BuildingRecord, led *ledger.Ledger) error {
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.Spatial.Resolve(ctx, rec, led); err != nil {
			return err
		}
		p.applyFootprintHeight(rec, led)
	}
	return nil
}

// applyFootprintHeight fills the roof height for records that gained a
// BIN, at the lowest height precedence so an architectural height from
// the feed is never displaced.
func (p *Pipeline) applyFootprintHeight(rec *models.BuildingRecord, led *ledger.Ledger) {
	if len(p.Heights) == 0 {
		return
	}
	e := led.Entry(rec.RecordID)
	if e == nil || e.Identifier.BIN == "" {
		return
	}
	if h, ok := p.Heights[e.Identifier.BIN]; ok {
		rec.ApplyHeight(h, models.HeightSourceFootprintRoof)
	}
}

// runSanitize strips sentinels and sends retry-eligible records back
// through the external cascade once, then sweeps the retried records
// again so no reintroduced sentinel survives.
func (p *Pipeline) runSanitize(ctx context.Context, records []*models.BuildingRecord, led *ledger.Ledger) error {
	if _, err := p.Sanitizer.Run(ctx, records, led); err != nil {
		return err
	}
	retry := sanitize.RetryRecords(records, led)
	if len(retry) == 0 {
		return nil
	}
	if p.log != nil {
		p.log.Info("re-running cascade for retry-eligible records", map[string]interface{}{
			"records": len(retry),
		})
	}
	if err := p.Cascade.Run(ctx, retry, led, p.Workers); err != nil {
		return err
	}
	// A second sweep catches any sentinel the retry pass reintroduced;
	// survivors keep their retry flag cleared so this terminates.
	if _, err := p.Sanitizer.Run(ctx, retry, led); err != nil {
		return err
	}
	for _, rec := range retry {
		if e := led.Entry(rec.RecordID); e != nil {
			e.RetryEligible = false
		}
	}
	return nil
}

func stageIndex(stage string) int {
	for i, s := range Stages {
		if s == stage {
			return i
		}
	}
	return -1
}
