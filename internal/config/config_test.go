package config

import (
	"os"
	"testing"
	"time"
)

var configEnvVars = []string{
	"PORT", "ENV",
	"DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD",
	"DB_POOL_MIN", "DB_POOL_MAX", "DB_PARCEL_TABLE", "DB_FOOTPRINT_TABLE",
	"CORS_ORIGINS",
	"FEED_CURATED", "FEED_BULK", "FEED_SUPPLEMENTAL", "OVERRIDES_PATH",
	"LAYER_PARCELS", "LAYER_FOOTPRINTS",
	"GEOCLIENT_URL", "GEOCLIENT_KEY", "SEARCH_URL", "SEARCH_KEY",
	"PROVIDER_MIN_INTERVAL", "CHECKPOINT_DIR", "PIPELINE_WORKERS",
}

func clearConfigEnvVars() {
	for _, v := range configEnvVars {
		os.Unsetenv(v)
	}
}

func TestLoad_WithDefaults(t *testing.T) {
	clearConfigEnvVars()
	// Without a database, both layer paths are required
	os.Setenv("LAYER_PARCELS", "parcels.shp")
	os.Setenv("LAYER_FOOTPRINTS", "footprints.csv")
	defer clearConfigEnvVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.Env != "development" {
		t.Errorf("Expected env development, got %s", cfg.Server.Env)
	}
	if cfg.Database.Enabled() {
		t.Error("Expected database disabled without DB_HOST")
	}
	if cfg.Pipeline.Workers != 1 {
		t.Errorf("Expected 1 worker, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.CheckpointDir != "checkpoints" {
		t.Errorf("Expected checkpoint dir checkpoints, got %s", cfg.Pipeline.CheckpointDir)
	}
	if cfg.Providers.MinCallInterval != 500*time.Millisecond {
		t.Errorf("Expected 500ms min interval, got %s", cfg.Providers.MinCallInterval)
	}
	if cfg.Providers.GeoclientKey != "" {
		t.Errorf("Expected no geocoder credential by default")
	}
	if len(cfg.CORS.Origins) != 1 {
		t.Errorf("Expected 1 CORS origin, got %d", len(cfg.CORS.Origins))
	}
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	clearConfigEnvVars()
	os.Setenv("PORT", "9090")
	os.Setenv("ENV", "production")
	os.Setenv("DB_HOST", "localhost")
	os.Setenv("DB_PASSWORD", "testpass")
	os.Setenv("DB_PARCEL_TABLE", "parcels_2263")
	os.Setenv("GEOCLIENT_KEY", "abc123")
	os.Setenv("PROVIDER_MIN_INTERVAL", "2s")
	os.Setenv("PIPELINE_WORKERS", "4")
	os.Setenv("CORS_ORIGINS", "http://example.com,https://app.example.com")
	defer clearConfigEnvVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Server.Port)
	}
	if !cfg.Database.Enabled() {
		t.Error("Expected database enabled with DB_HOST")
	}
	if cfg.Database.ParcelTable != "parcels_2263" {
		t.Errorf("Expected parcel table parcels_2263, got %s", cfg.Database.ParcelTable)
	}
	if cfg.Providers.GeoclientKey != "abc123" {
		t.Errorf("Expected geoclient key abc123, got %s", cfg.Providers.GeoclientKey)
	}
	if cfg.Providers.MinCallInterval != 2*time.Second {
		t.Errorf("Expected 2s min interval, got %s", cfg.Providers.MinCallInterval)
	}
	if cfg.Pipeline.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", cfg.Pipeline.Workers)
	}
	if len(cfg.CORS.Origins) != 2 {
		t.Errorf("Expected 2 CORS origins, got %d", len(cfg.CORS.Origins))
	}
}

func TestLoad_MissingLayersWithoutDatabase(t *testing.T) {
	clearConfigEnvVars()
	defer clearConfigEnvVars()

	if _, err := Load(); err == nil {
		t.Fatal("Expected error when layer paths and DB_HOST are all missing")
	}
}

func TestLoad_DatabaseRequiresPassword(t *testing.T) {
	clearConfigEnvVars()
	os.Setenv("DB_HOST", "localhost")
	defer clearConfigEnvVars()

	if _, err := Load(); err == nil {
		t.Fatal("Expected error when DB_HOST is set without DB_PASSWORD")
	}
}

func TestValidate_WorkerAndIntervalBounds(t *testing.T) {
	clearConfigEnvVars()
	os.Setenv("LAYER_PARCELS", "parcels.shp")
	os.Setenv("LAYER_FOOTPRINTS", "footprints.csv")
	os.Setenv("PIPELINE_WORKERS", "0")
	defer clearConfigEnvVars()

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for zero workers")
	}
}
