package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nycbuildings/lotline/internal/checkpoint"
	"github.com/nycbuildings/lotline/internal/dedupe"
	"github.com/nycbuildings/lotline/internal/ledger"
	"github.com/nycbuildings/lotline/internal/logger"
	"github.com/nycbuildings/lotline/internal/models"
	"github.com/nycbuildings/lotline/internal/report"
)

// Service-level errors
var (
	ErrResultsUnavailable = errors.New("resolution results not available")
	ErrRecordNotFound     = errors.New("record not found")
	ErrLotNotFound        = errors.New("no records resolved to that lot")
)

// RecordDetail pairs a building record with its ledger entry so the API
// can show both the attributes and the resolution provenance.
type RecordDetail struct {
	Record *models.BuildingRecord `json:"record"`
	Entry  *ledger.Entry          `json:"entry"`
}

// ResolutionService reads the pipeline's final checkpoint and answers
// report queries over it.
type ResolutionService interface {
	// Summary returns the completeness report.
	// Returns ErrResultsUnavailable until the pipeline has completed.
	Summary(ctx context.Context) (report.Report, error)

	// Record returns one record with its full attempt trail.
	// Returns ErrRecordNotFound for an unknown ID.
	Record(ctx context.Context, recordID string) (RecordDetail, error)

	// Lot returns every record that resolved to the given BBL.
	// Returns ErrLotNotFound when no record carries it.
	Lot(ctx context.Context, bbl string) ([]RecordDetail, error)

	// Complexes returns the per-lot groupings, singletons included.
	Complexes(ctx context.Context) ([]models.ComplexGroup, error)

	// Refresh drops the cached result set so the next query rereads the
	// checkpoint. Used after a pipeline rerun.
	Refresh()
}

// resolutionService caches the checkpoint contents after the first read.
type resolutionService struct {
	store *checkpoint.Store
	stage string
	log   *logger.Logger

	mu      sync.RWMutex
	loaded  bool
	records []*models.BuildingRecord
	byID    map[string]*models.BuildingRecord
	led     *ledger.Ledger
	groups  []models.ComplexGroup
	summary report.Report
}

// NewResolutionService creates a service over the named stage's
// checkpoint. The checkpoint is read lazily so the server can start
// before the pipeline finishes.
func NewResolutionService(store *checkpoint.Store, stage string, log *logger.Logger) ResolutionService {
	return &resolutionService{store: store, stage: stage, log: log}
}

func (s *resolutionService) Summary(ctx context.Context) (report.Report, error) {
	if err := s.ensure(ctx); err != nil {
		return report.Report{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary, nil
}

func (s *resolutionService) Record(ctx context.Context, recordID string) (RecordDetail, error) {
	if err := s.ensure(ctx); err != nil {
		return RecordDetail{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[recordID]
	if !ok {
		return RecordDetail{}, ErrRecordNotFound
	}
	return RecordDetail{Record: rec, Entry: s.led.Entry(recordID)}, nil
}

func (s *resolutionService) Lot(ctx context.Context, bbl string) ([]RecordDetail, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	canonical, err := models.NormalizeBBL(bbl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLotNotFound, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []RecordDetail
	for _, rec := range s.records {
		e := s.led.Entry(rec.RecordID)
		if e != nil && e.Identifier.BBL == canonical {
			out = append(out, RecordDetail{Record: rec, Entry: e})
		}
	}
	if len(out) == 0 {
		return nil, ErrLotNotFound
	}
	return out, nil
}

func (s *resolutionService) Complexes(ctx context.Context) ([]models.ComplexGroup, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups, nil
}

func (s *resolutionService) Refresh() {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
}

// ensure reads the checkpoint on first use or after a Refresh. The
// grouping view is recomputed from the ledger rather than trusted from
// the stored annotations.
func (s *resolutionService) ensure(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	if !s.store.Exists(s.stage) {
		return fmt.Errorf("%w: checkpoint %q not found", ErrResultsUnavailable, s.stage)
	}
	records, led, err := s.store.Load(s.stage)
	if err != nil {
		if s.log != nil {
			s.log.Error("failed to load results checkpoint", err, map[string]interface{}{
				"stage": s.stage,
			})
		}
		return fmt.Errorf("%w: %v", ErrResultsUnavailable, err)
	}

	res, err := dedupe.New(s.log).Run(ctx, records, led)
	if err != nil {
		return err
	}

	s.records = res.Records
	s.byID = make(map[string]*models.BuildingRecord, len(res.Records))
	for _, rec := range res.Records {
		s.byID[rec.RecordID] = rec
	}
	s.led = led
	s.groups = res.Groups
	s.summary = report.Build(res.Records, led, len(res.Groups))
	s.loaded = true

	if s.log != nil {
		s.log.Info("resolution results loaded", map[string]interface{}{
			"stage":     s.stage,
			"records":   len(s.records),
			"complexes": len(s.groups),
		})
	}
	return nil
}
