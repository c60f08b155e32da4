package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devrev/tableview/internal/timeline"
	"github.com/devrev/tableview/internal/validation"
)

// View kinds
const (
	ViewIncremental = "incremental"
	ViewFullRefresh = "full_refresh"
)

// Timeline backends
const (
	BackendDirectory = "directory"
	BackendSQLite    = "sqlite"
	BackendPostgres  = "postgres"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	GRPCPort        int           `yaml:"grpc_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Config represents the complete configuration of the view service
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Tables  []TableConfig `yaml:"tables"`
	Sync    SyncConfig    `yaml:"sync"`
	Listing ListingConfig `yaml:"listing"`
	Cache   CacheConfig   `yaml:"cache"`
	Health  HealthConfig  `yaml:"health"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// TableConfig describes one table served by the view service
type TableConfig struct {
	Name                  string         `yaml:"name"`
	BasePath              string         `yaml:"base_path"`
	View                  string         `yaml:"view"`
	FallbackToFullRebuild bool           `yaml:"fallback_to_full_rebuild"`
	Timeline              TimelineConfig `yaml:"timeline"`
}

// TimelineConfig selects where a table's instants are stored
type TimelineConfig struct {
	Backend     string `yaml:"backend"`
	DSN         string `yaml:"dsn"`
	PGTable     string `yaml:"pg_table"`
	Compression string `yaml:"compression"`
}

// SyncConfig holds periodic sync configuration
type SyncConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
}

// ListingConfig holds storage listing configuration
type ListingConfig struct {
	Parallelism int `yaml:"parallelism"`
}

// CacheConfig holds instant details cache configuration
type CacheConfig struct {
	MaxSize         int64         `yaml:"max_size"`
	FrequencyWeight float64       `yaml:"frequency_weight"`
	RecencyWeight   float64       `yaml:"recency_weight"`
	AdaptiveWindow  time.Duration `yaml:"adaptive_window"`
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	Interval     time.Duration `yaml:"interval"`
	MaxStaleness time.Duration `yaml:"max_staleness"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 50061
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	for i := range cfg.Tables {
		t := &cfg.Tables[i]
		if t.View == "" {
			t.View = ViewIncremental
		}
		if t.Timeline.Backend == "" {
			t.Timeline.Backend = BackendDirectory
		}
		if t.Timeline.Backend == BackendSQLite && t.Timeline.DSN == "" {
			t.Timeline.DSN = t.BasePath + "/.hoodie/timeline.db"
		}
		if t.Timeline.Backend == BackendPostgres && t.Timeline.PGTable == "" {
			t.Timeline.PGTable = "timeline_" + t.Name
		}
		if t.Timeline.Compression == "" {
			t.Timeline.Compression = "none"
		}
	}

	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = 30 * time.Second
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 4
	}
	if cfg.Sync.QueueSize == 0 {
		cfg.Sync.QueueSize = 64
	}

	if cfg.Listing.Parallelism == 0 {
		cfg.Listing.Parallelism = 8
	}

	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = 64 << 20 // 64MB
	}
	if cfg.Cache.FrequencyWeight == 0 {
		cfg.Cache.FrequencyWeight = 0.5
	}
	if cfg.Cache.RecencyWeight == 0 {
		cfg.Cache.RecencyWeight = 0.5
	}
	if cfg.Cache.AdaptiveWindow == 0 {
		cfg.Cache.AdaptiveWindow = 5 * time.Minute
	}

	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = 10 * time.Second
	}
	if cfg.Health.MaxStaleness == 0 {
		cfg.Health.MaxStaleness = 10 * cfg.Sync.Interval
	}
	if cfg.Health.ProbeTimeout == 0 {
		cfg.Health.ProbeTimeout = 2 * time.Second
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be between 1 and 65535")
	}
	if c.Server.GRPCPort < 1 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port must be between 1 and 65535")
	}
	if c.Server.GRPCPort == c.Server.HTTPPort {
		return fmt.Errorf("server.grpc_port and server.http_port must differ")
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("at least one table is required")
	}

	v := validation.NewValidator()
	seen := make(map[string]bool, len(c.Tables))
	for i, t := range c.Tables {
		if err := v.ValidateTableName(t.Name); err != nil {
			return fmt.Errorf("tables[%d].name: %w", i, err)
		}
		if seen[t.Name] {
			return fmt.Errorf("tables[%d]: duplicate table %q", i, t.Name)
		}
		seen[t.Name] = true
		if t.BasePath == "" {
			return fmt.Errorf("tables[%d].base_path is required", i)
		}
		switch t.View {
		case ViewIncremental, ViewFullRefresh:
		default:
			return fmt.Errorf("tables[%d].view must be %q or %q", i, ViewIncremental, ViewFullRefresh)
		}
		switch t.Timeline.Backend {
		case BackendDirectory, BackendSQLite:
		case BackendPostgres:
			if t.Timeline.DSN == "" {
				return fmt.Errorf("tables[%d].timeline.dsn is required for postgres", i)
			}
		default:
			return fmt.Errorf("tables[%d].timeline.backend %q is not supported", i, t.Timeline.Backend)
		}
		if _, err := timeline.ParseCompressionType(t.Timeline.Compression); err != nil {
			return fmt.Errorf("tables[%d].timeline.compression: %w", i, err)
		}
	}

	if c.Sync.Interval < time.Second {
		return fmt.Errorf("sync.interval must be at least 1s")
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be positive")
	}
	if c.Listing.Parallelism < 1 {
		return fmt.Errorf("listing.parallelism must be positive")
	}
	if c.Cache.FrequencyWeight < 0 || c.Cache.RecencyWeight < 0 {
		return fmt.Errorf("cache weights must not be negative")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}
	return nil
}
