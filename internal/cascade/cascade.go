// Package cascade runs the ordered external-provider chain for records
// whose identifiers are still null after spatial resolution. Providers
// fail soft: an error is recorded as an attempt and the chain moves on,
// never aborting the batch.
package cascade

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/nycbuildings/lotline/internal/ledger"
	"github.com/nycbuildings/lotline/internal/logger"
	"github.com/nycbuildings/lotline/internal/models"
)

// Result is one provider's answer for one record. Empty identifier
// fields mean "no answer". Coordinates and year are enrichment finds
// applied to the record itself, not the ledger.
type Result struct {
	BBL        string
	BIN        string
	Confidence ledger.Confidence
	Detail     string

	Latitude  *float64
	Longitude *float64
	YearBuilt *int
}

// Provider is one step of the chain. Implementations must be safe for
// concurrent calls; rate limiting happens inside the provider via the
// shared throttle.
type Provider interface {
	Name() string
	// Resolve returns ok=false for a clean miss. An error is a provider
	// failure; the cascade records it and continues.
	Resolve(ctx context.Context, rec *models.BuildingRecord) (Result, bool, error)
}

// Cascade holds the ordered provider chain.
type Cascade struct {
	providers []Provider
	log       *logger.Logger
}

// New builds a cascade. Providers run in the given order; nils are
// skipped so callers can pass optional providers unconditionally.
func New(log *logger.Logger, providers ...Provider) *Cascade {
	kept := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &Cascade{providers: kept, log: log}
}

// Run processes every record still missing an identifier. workers <= 1
// runs batch-sequential; higher values fan records out over an errgroup
// while the providers' shared throttle keeps the global call spacing.
// All records must already be tracked in the ledger.
func (c *Cascade) Run(ctx context.Context, records []*models.BuildingRecord, led *ledger.Ledger, workers int) error {
	if workers <= 1 {
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.resolveRecord(ctx, rec, led)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c.resolveRecord(gctx, rec, led)
			return nil
		})
	}
	return g.Wait()
}

// resolveRecord walks the chain for one record, stopping as soon as
// both identifiers are present or the chain is exhausted.
func (c *Cascade) resolveRecord(ctx context.Context, rec *models.BuildingRecord, led *ledger.Ledger) {
	entry := led.Entry(rec.RecordID)
	if entry == nil || entry.NonProperty {
		return
	}
	for _, p := range c.providers {
		if !led.NeedsBBL(rec.RecordID) && !led.NeedsBIN(rec.RecordID) {
			return
		}
		if ctx.Err() != nil {
			return
		}

		res, ok, err := p.Resolve(ctx, rec)
		if err != nil {
			led.RecordAttempt(rec.RecordID, p.Name(), "error", err.Error(), nil)
			if c.log != nil {
				c.log.Warn("provider failed", map[string]interface{}{
					"provider":  p.Name(),
					"record_id": rec.RecordID,
					"error":     err.Error(),
				})
			}
			continue
		}
		if !ok {
			led.RecordAttempt(rec.RecordID, p.Name(), "miss", "", nil)
			continue
		}
		c.apply(rec, res, p.Name(), led)
	}
}

func (c *Cascade) apply(rec *models.BuildingRecord, res Result, provider string, led *ledger.Ledger) {
	hit := false
	if res.BBL != "" && led.NeedsBBL(rec.RecordID) {
		applied, err := led.SetBBL(rec.RecordID, res.BBL, res.Confidence, provider)
		if err != nil {
			led.RecordAttempt(rec.RecordID, provider, "rejected", err.Error(), nil)
		} else if applied {
			hit = true
		}
	}
	if res.BIN != "" && led.NeedsBIN(rec.RecordID) {
		applied, err := led.SetBIN(rec.RecordID, res.BIN, res.Confidence, provider)
		if err != nil {
			led.RecordAttempt(rec.RecordID, provider, "rejected", err.Error(), nil)
		} else if applied {
			hit = true
		}
	}
	if hit {
		led.RecordAttempt(rec.RecordID, provider, "hit", res.Detail, nil)
	} else {
		led.RecordAttempt(rec.RecordID, provider, "miss", res.Detail, nil)
	}

	c.enrich(rec, res)
}

// enrich fills record attributes a provider found along the way.
// Geometry is only filled when the record had none, so provider
// coordinates never displace feed coordinates.
func (c *Cascade) enrich(rec *models.BuildingRecord, res Result) {
	if rec.Geometry == nil && res.Latitude != nil && res.Longitude != nil {
		rec.Geometry = &models.Point{X: *res.Longitude, Y: *res.Latitude}
		rec.GeometryCRS = models.CRSWGS84
	}
	if rec.YearBuilt == nil && res.YearBuilt != nil {
		rec.YearBuilt = res.YearBuilt
	}
}
