package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// loadEnvFiles loads .env/.env.local without overriding the process
// environment. Missing files are not an error.
func loadEnvFiles() {
	for _, p := range []string{".env", ".env.local"} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// applyEnvOverrides layers TELEMETRY_* variables over the file configuration.
// Environment always wins over the YAML file.
func (c *Config) applyEnvOverrides() error {
	envString("TELEMETRY_BASE_DIR", &c.BaseDir)
	envString("TELEMETRY_DB_PATH", &c.DB.Path)
	envString("TELEMETRY_DB_JOURNAL_MODE", &c.DB.JournalMode)
	envString("TELEMETRY_DB_SYNCHRONOUS", &c.DB.Synchronous)
	envString("TELEMETRY_API_AUTH_TOKEN", &c.API.AuthToken)
	envString("TELEMETRY_MIRROR_URL", &c.Mirror.URL)
	envString("TELEMETRY_MIRROR_TOKEN", &c.Mirror.Token)
	envString("TELEMETRY_MIRROR_NATS_URL", &c.Mirror.NATSURL)
	envString("TELEMETRY_MIRROR_NATS_SUBJECT", &c.Mirror.NATSSubject)
	envString("TELEMETRY_LOG_LEVEL", &c.Logging.Level)
	envString("TELEMETRY_LOG_FORMAT", &c.Logging.Format)
	envString("TELEMETRY_API_BASE_URL", &c.Client.APIBaseURL)
	envString("TELEMETRY_API_TOKEN", &c.Client.APIToken)

	if err := envBool("TELEMETRY_API_AUTH_ENABLED", &c.API.AuthEnabled); err != nil {
		return err
	}
	if err := envBool("TELEMETRY_RATE_LIMIT_ENABLED", &c.API.RateLimitEnabled); err != nil {
		return err
	}
	if err := envBool("TELEMETRY_MIRROR_ENABLED", &c.Mirror.Enabled); err != nil {
		return err
	}
	if err := envInt("TELEMETRY_RATE_LIMIT_RPM", &c.API.RateLimitRPM); err != nil {
		return err
	}
	if err := envInt("TELEMETRY_API_WORKERS", &c.API.Workers); err != nil {
		return err
	}
	if err := envInt("TELEMETRY_API_PORT", &c.API.Port); err != nil {
		return err
	}
	if err := envDuration("TELEMETRY_SYNC_INTERVAL", &c.Client.SyncInterval); err != nil {
		return err
	}
	return nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envBool(name string, dst *bool) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: expected boolean, got %q", name, v)
	}
	*dst = parsed
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: expected integer, got %q", name, v)
	}
	*dst = parsed
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: expected duration, got %q", name, v)
	}
	*dst = parsed
	return nil
}
