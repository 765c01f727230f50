package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default returns the built-in configuration. BaseDir auto-detects to
// ./telemetry-data relative to the working directory when unset.
func Default() *Config {
	return &Config{
		DB: DBConfig{
			JournalMode: "DELETE",
			Synchronous: "FULL",
			BusyTimeout: 30 * time.Second,
		},
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8787,
			RateLimitRPM:   60,
			Workers:        1,
			RequestTimeout: 30 * time.Second,
		},
		Client: ClientConfig{
			APIBaseURL:   "http://127.0.0.1:8787",
			SyncInterval: 30 * time.Second,
			PostTimeout:  10 * time.Second,
		},
		Mirror: MirrorConfig{
			NATSSubject: "runledger.runs",
		},
		Backup: BackupConfig{
			RetentionDays: 14,
			MinFreeBytes:  512 << 20, // 512 MiB
		},
		Retention: RetentionConfig{
			DaysToKeep: 90,
			BatchSize:  10000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
	}
}

// applyFallbacks resolves paths that depend on other settings.
func (c *Config) applyFallbacks() {
	if c.BaseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			wd = "."
		}
		c.BaseDir = filepath.Join(wd, "telemetry-data")
	}
	if c.DB.Path == "" {
		c.DB.Path = filepath.Join(c.BaseDir, "db", "telemetry.sqlite")
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(c.BaseDir, "backups")
	}
}

// Persisted state layout under BaseDir.

// RawDir holds the append-only per-day NDJSON event logs.
func (c *Config) RawDir() string { return filepath.Join(c.BaseDir, "raw") }

// BufferDir holds the client failover queue (one JSON file per event).
func (c *Config) BufferDir() string { return filepath.Join(c.BaseDir, "buffer") }

// LogsDir holds rotated service logs.
func (c *Config) LogsDir() string { return filepath.Join(c.BaseDir, "logs") }

// SafetyBackupsDir holds pre-restore safety copies.
func (c *Config) SafetyBackupsDir() string {
	return filepath.Join(c.Backup.Dir, "safety_backups")
}

// LockPath is the single-writer guard lockfile inside the data directory.
func (c *Config) LockPath() string { return filepath.Join(c.BaseDir, "db", ".runledger.lock") }
