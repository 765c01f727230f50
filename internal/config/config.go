// Package config loads runledger configuration from a YAML file, layers
// TELEMETRY_* environment overrides on top, and validates the result against
// the storage durability contract.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the runledger service and tooling.
type Config struct {
	// BaseDir is the root for all persisted state (db/, raw/, buffer/, backups/, logs/).
	BaseDir string `yaml:"base_dir"`

	DB        DBConfig        `yaml:"db"`
	API       APIConfig       `yaml:"api"`
	Client    ClientConfig    `yaml:"client"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Backup    BackupConfig    `yaml:"backup"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DBConfig controls the embedded SQLite engine.
type DBConfig struct {
	// Path overrides the composed {base}/db/telemetry.sqlite location.
	Path string `yaml:"path"`
	// JournalMode must be DELETE; WAL triggers a startup warning (the target
	// volumes corrupt under WAL).
	JournalMode string `yaml:"journal_mode"`
	// Synchronous must be FULL; anything else is a startup error.
	Synchronous string `yaml:"synchronous"`
	// BusyTimeout applied via PRAGMA busy_timeout.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// APIConfig controls the HTTP ingestion/query surface.
type APIConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	AuthEnabled      bool          `yaml:"auth_enabled"`
	AuthToken        string        `yaml:"auth_token"`
	RateLimitEnabled bool          `yaml:"rate_limit_enabled"`
	RateLimitRPM     int           `yaml:"rate_limit_rpm"`
	// Workers must be 1; the storage file has exactly one writer process.
	Workers        int           `yaml:"workers"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ClientConfig controls the in-process delivery pipeline.
type ClientConfig struct {
	APIBaseURL   string        `yaml:"api_base_url"`
	APIToken     string        `yaml:"api_token"`
	SyncInterval time.Duration `yaml:"sync_interval"`
	PostTimeout  time.Duration `yaml:"post_timeout"`
}

// MirrorConfig controls the fire-and-forget external mirror sink.
type MirrorConfig struct {
	Enabled bool   `yaml:"enabled"`
	// URL posts finished runs to an opaque webhook (e.g. a spreadsheet bridge).
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// NATSURL, when set, publishes to a JetStream subject instead of a webhook.
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
}

// BackupConfig controls the backup controller.
type BackupConfig struct {
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
	MinFreeBytes  int64  `yaml:"min_free_bytes"`
	// Schedule, when non-zero, enables in-daemon scheduled backups.
	Schedule time.Duration `yaml:"schedule"`
}

// RetentionConfig controls the retention controller defaults.
type RetentionConfig struct {
	DaysToKeep int `yaml:"days_to_keep"`
	BatchSize  int `yaml:"batch_size"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables rotated file logging in addition to stdout.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load reads the YAML configuration from path (missing file yields pure
// defaults), applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// defaults + env only
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	loadEnvFiles()
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Init writes a starter configuration file. Refuses to overwrite unless force.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal starter config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
