package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nycbuildings/lotline/internal/cascade"
	"github.com/nycbuildings/lotline/internal/checkpoint"
	"github.com/nycbuildings/lotline/internal/config"
	"github.com/nycbuildings/lotline/internal/database"
	"github.com/nycbuildings/lotline/internal/dedupe"
	"github.com/nycbuildings/lotline/internal/geocode"
	"github.com/nycbuildings/lotline/internal/ingest"
	"github.com/nycbuildings/lotline/internal/layers"
	"github.com/nycbuildings/lotline/internal/logger"
	"github.com/nycbuildings/lotline/internal/models"
	"github.com/nycbuildings/lotline/internal/overrides"
	"github.com/nycbuildings/lotline/internal/pipeline"
	"github.com/nycbuildings/lotline/internal/resolver"
	"github.com/nycbuildings/lotline/internal/sanitize"
)

func main() {
	fromStage := flag.String("from", "", "restart from this stage's checkpoint instead of running from scratch")
	recordsPath := flag.String("records", "", "override the bulk additions feed path")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *recordsPath != "" {
		cfg.Feeds.BulkPath = *recordsPath
	}

	log := logger.New(cfg.Server.Env)
	log.Info("Starting Lotline resolution run", map[string]interface{}{
		"environment": cfg.Server.Env,
		"workers":     cfg.Pipeline.Workers,
		"from":        *fromStage,
	})

	// Cancel the run cleanly on SIGINT/SIGTERM; the pipeline checks the
	// context between records.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := checkpoint.NewStore(cfg.Pipeline.CheckpointDir, log)
	if err != nil {
		log.Fatal("Failed to open checkpoint store", err, map[string]interface{}{
			"dir": cfg.Pipeline.CheckpointDir,
		})
	}

	parcels, footprints, heights, cleanup, err := buildLayers(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to load reference layers", err, nil)
	}
	defer cleanup()

	p := pipeline.New(
		buildFeeds(cfg),
		resolver.NewSpatialResolver(parcels, footprints, log),
		cascade.New(log, buildProviders(cfg, log)...),
		sanitize.New(footprints, log),
		dedupe.New(log),
		store,
		cfg.Pipeline.Workers,
		log,
	)
	p.Heights = heights

	res, err := p.Run(ctx, *fromStage)
	if err != nil {
		log.Fatal("Resolution run failed", err, nil)
	}

	log.Info("Resolution run complete", map[string]interface{}{
		"records":      res.Report.Records,
		"bbl_resolved": res.Report.BBL.Resolved,
		"bin_resolved": res.Report.BIN.Resolved,
		"complexes":    res.Report.Complexes,
	})
	fmt.Print(res.Report.Text())
}

// buildFeeds returns the configured input feeds in ingestion order.
// Curated rows load first so they win authoritative tie-breaks.
func buildFeeds(cfg *config.Config) []ingest.Feed {
	var feeds []ingest.Feed
	if cfg.Feeds.CuratedPath != "" {
		feeds = append(feeds, ingest.Feed{Path: cfg.Feeds.CuratedPath, Source: models.SourceCurated})
	}
	if cfg.Feeds.BulkPath != "" {
		feeds = append(feeds, ingest.Feed{Path: cfg.Feeds.BulkPath, Source: models.SourceBulk})
	}
	if cfg.Feeds.SupplementalPath != "" {
		feeds = append(feeds, ingest.Feed{Path: cfg.Feeds.SupplementalPath, Source: models.SourceSupplemental})
	}
	return feeds
}

// footprintLayer is what the footprint side must support: spatial
// queries for resolution plus BIN-to-BBL lookup for sentinel repair.
type footprintLayer interface {
	layers.Index
	layers.SecondaryLookup
}

// buildLayers opens the parcel and footprint layers from PostGIS when
// configured, otherwise from the files named in the config. Roof
// heights are only available from file-backed footprints.
func buildLayers(ctx context.Context, cfg *config.Config, log *logger.Logger) (layers.Index, footprintLayer, layers.HeightByID, func(), error) {
	noop := func() {}

	if cfg.Database.Enabled() {
		db, err := database.NewPostgresPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, nil, noop, err
		}
		parcels, err := layers.NewPostGISIndex(db.Pool, layers.PostGISSpec{
			Name:           "parcels",
			Table:          cfg.Database.ParcelTable,
			IDColumn:       "bbl",
			GeometryColumn: "geom",
		})
		if err != nil {
			db.Close()
			return nil, nil, nil, noop, err
		}
		footprints, err := layers.NewPostGISIndex(db.Pool, layers.PostGISSpec{
			Name:            "footprints",
			Table:           cfg.Database.FootprintTable,
			IDColumn:        "bin",
			SecondaryColumn: "base_bbl",
			GeometryColumn:  "geom",
		})
		if err != nil {
			db.Close()
			return nil, nil, nil, noop, err
		}
		log.Info("Using PostGIS reference layers", map[string]interface{}{
			"parcel_table":    cfg.Database.ParcelTable,
			"footprint_table": cfg.Database.FootprintTable,
		})
		return parcels, footprints, nil, db.Close, nil
	}

	parcelRes, err := layers.Load(cfg.Layers.ParcelPath, layers.LayerSpec{
		Name:            "parcels",
		IDFields:        layers.ParcelIDFields,
		RequireGeometry: true,
	})
	if err != nil {
		return nil, nil, nil, noop, err
	}
	footRes, err := layers.Load(cfg.Layers.FootprintPath, layers.LayerSpec{
		Name:            "footprints",
		IDFields:        layers.FootprintIDFields,
		SecondaryFields: layers.FootprintBBLFields,
		HeightFields:    layers.HeightFields,
		RequireGeometry: true,
	})
	if err != nil {
		return nil, nil, nil, noop, err
	}
	return parcelRes.Index, footRes.Index, footRes.Heights, noop, nil
}

// buildProviders assembles the external cascade in trust order:
// structured geocoding, domain-restricted search, wide search, manual
// overrides. Constructors return nil for unconfigured providers and
// the cascade skips them.
func buildProviders(cfg *config.Config, log *logger.Logger) []cascade.Provider {
	throttle := geocode.NewThrottle(cfg.Providers.MinCallInterval)

	geoclient := geocode.NewGeoclient(cfg.Providers.GeoclientURL, cfg.Providers.GeoclientKey, throttle, log)
	search := geocode.NewSearchClient(cfg.Providers.SearchURL, cfg.Providers.SearchKey, throttle, log)

	var table *overrides.Table
	if cfg.Feeds.OverridesPath != "" {
		var err error
		table, err = overrides.Load(cfg.Feeds.OverridesPath, log)
		if err != nil {
			log.Fatal("Failed to load manual overrides", err, map[string]interface{}{
				"path": cfg.Feeds.OverridesPath,
			})
		}
	}

	var providers []cascade.Provider
	if p := cascade.NewStructuredProvider(geoclient); p != nil {
		providers = append(providers, p)
	}
	if p := cascade.NewTextSearchProvider(search, true); p != nil {
		providers = append(providers, p)
	}
	if p := cascade.NewTextSearchProvider(search, false); p != nil {
		providers = append(providers, p)
	}
	if p := cascade.NewOverrideProvider(table); p != nil {
		providers = append(providers, p)
	}
	return providers
}
