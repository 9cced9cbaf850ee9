package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all pipeline and server configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	CORS      CORSConfig
	Feeds     FeedsConfig
	Layers    LayersConfig
	Providers ProvidersConfig
	Pipeline  PipelineConfig
}

// ServerConfig holds HTTP server configuration for the report API.
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds the optional PostGIS connection. When Host is
// empty the pipeline uses file-backed layers only.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int

	ParcelTable    string
	FootprintTable string
}

// Enabled reports whether a PostGIS connection is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// CORSConfig holds CORS configuration for the report API.
type CORSConfig struct {
	Origins []string
}

// FeedsConfig lists the input feed paths. Curated is authoritative for
// dedup tie-breaks; supplemental rows override bulk rows by address.
type FeedsConfig struct {
	CuratedPath      string
	BulkPath         string
	SupplementalPath string
	OverridesPath    string
}

// LayersConfig locates the reference layers. Both paths are required
// unless PostGIS is configured; a missing layer is a configuration
// error, never "zero matches".
type LayersConfig struct {
	ParcelPath    string
	FootprintPath string
}

// ProvidersConfig holds external-service credentials and the shared
// rate limit. Empty credentials degrade the cascade, never fail it.
type ProvidersConfig struct {
	GeoclientURL    string
	GeoclientKey    string
	SearchURL       string
	SearchKey       string
	MinCallInterval time.Duration
}

// PipelineConfig holds run-shape settings.
type PipelineConfig struct {
	CheckpointDir string
	Workers       int
}

// Load reads configuration from environment variables with viper,
// applying development defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "lotline")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("DB_PARCEL_TABLE", "tax_parcels")
	v.SetDefault("DB_FOOTPRINT_TABLE", "building_footprints")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("CHECKPOINT_DIR", "checkpoints")
	v.SetDefault("PIPELINE_WORKERS", 1)
	v.SetDefault("PROVIDER_MIN_INTERVAL", "500ms")

	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Database: DatabaseConfig{
			Host:           v.GetString("DB_HOST"),
			Port:           v.GetString("DB_PORT"),
			Name:           v.GetString("DB_NAME"),
			User:           v.GetString("DB_USER"),
			Password:       v.GetString("DB_PASSWORD"),
			PoolMin:        v.GetInt("DB_POOL_MIN"),
			PoolMax:        v.GetInt("DB_POOL_MAX"),
			ParcelTable:    v.GetString("DB_PARCEL_TABLE"),
			FootprintTable: v.GetString("DB_FOOTPRINT_TABLE"),
		},
		CORS: CORSConfig{
			Origins: splitList(v.GetString("CORS_ORIGINS")),
		},
		Feeds: FeedsConfig{
			CuratedPath:      v.GetString("FEED_CURATED"),
			BulkPath:         v.GetString("FEED_BULK"),
			SupplementalPath: v.GetString("FEED_SUPPLEMENTAL"),
			OverridesPath:    v.GetString("OVERRIDES_PATH"),
		},
		Layers: LayersConfig{
			ParcelPath:    v.GetString("LAYER_PARCELS"),
			FootprintPath: v.GetString("LAYER_FOOTPRINTS"),
		},
		Providers: ProvidersConfig{
			GeoclientURL:    v.GetString("GEOCLIENT_URL"),
			GeoclientKey:    v.GetString("GEOCLIENT_KEY"),
			SearchURL:       v.GetString("SEARCH_URL"),
			SearchKey:       v.GetString("SEARCH_KEY"),
			MinCallInterval: v.GetDuration("PROVIDER_MIN_INTERVAL"),
		},
		Pipeline: PipelineConfig{
			CheckpointDir: v.GetString("CHECKPOINT_DIR"),
			Workers:       v.GetInt("PIPELINE_WORKERS"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that required configuration is present and valid.
// Provider credentials are deliberately not required.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.Pipeline.CheckpointDir == "" {
		return fmt.Errorf("CHECKPOINT_DIR is required")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be at least 1")
	}
	if c.Providers.MinCallInterval < 0 {
		return fmt.Errorf("PROVIDER_MIN_INTERVAL must be non-negative")
	}

	if c.Database.Enabled() {
		if c.Database.Port == "" {
			return fmt.Errorf("DB_PORT is required when DB_HOST is set")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME is required when DB_HOST is set")
		}
		if c.Database.User == "" {
			return fmt.Errorf("DB_USER is required when DB_HOST is set")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required when DB_HOST is set")
		}
		if c.Database.PoolMin < 0 {
			return fmt.Errorf("DB_POOL_MIN must be non-negative")
		}
		if c.Database.PoolMax < 1 {
			return fmt.Errorf("DB_POOL_MAX must be at least 1")
		}
		if c.Database.PoolMin > c.Database.PoolMax {
			return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
		}
	} else {
		// File-backed layers are the only source of truth without
		// PostGIS, so both paths become required.
		if c.Layers.ParcelPath == "" {
			return fmt.Errorf("LAYER_PARCELS is required when DB_HOST is not set")
		}
		if c.Layers.FootprintPath == "" {
			return fmt.Errorf("LAYER_FOOTPRINTS is required when DB_HOST is not set")
		}
	}

	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
