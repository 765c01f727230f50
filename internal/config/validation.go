package config

import (
	"log/slog"
	"strings"

	derrors "git.home.luguber.info/inful/runledger/internal/foundation/errors"
)

// Validate enforces the durability and single-writer contracts. Journal-mode
// WAL is tolerated with a loud warning (operators may override for tooling);
// a non-FULL synchronous setting or multiple workers refuse to start.
func (c *Config) Validate() error {
	jm := strings.ToUpper(strings.TrimSpace(c.DB.JournalMode))
	switch jm {
	case "", "DELETE":
		c.DB.JournalMode = "DELETE"
	case "WAL":
		slog.Warn("journal_mode WAL configured; target volumes are known to corrupt under WAL, use DELETE",
			slog.String("journal_mode", jm))
		c.DB.JournalMode = jm
	default:
		return derrors.New(derrors.CategoryValidation, derrors.SeverityFatal, "unsupported journal_mode").
			WithContext("journal_mode", c.DB.JournalMode)
	}

	sync := strings.ToUpper(strings.TrimSpace(c.DB.Synchronous))
	if sync == "" {
		sync = "FULL"
	}
	if sync != "FULL" {
		return derrors.New(derrors.CategoryValidation, derrors.SeverityFatal, "synchronous must be FULL (durability contract)").
			WithContext("synchronous", c.DB.Synchronous)
	}
	c.DB.Synchronous = sync

	if c.API.Workers != 1 {
		return derrors.New(derrors.CategoryValidation, derrors.SeverityFatal, "api workers must be 1 (single-writer storage)").
			WithContext("workers", c.API.Workers)
	}

	if c.API.AuthEnabled && strings.TrimSpace(c.API.AuthToken) == "" {
		return derrors.New(derrors.CategoryValidation, derrors.SeverityFatal, "auth enabled but no auth token configured")
	}

	if c.API.RateLimitEnabled && c.API.RateLimitRPM <= 0 {
		return derrors.New(derrors.CategoryValidation, derrors.SeverityFatal, "rate limit enabled but rpm is not positive").
			WithContext("rpm", c.API.RateLimitRPM)
	}

	if c.Retention.BatchSize <= 0 {
		c.Retention.BatchSize = 10000
	}

	return nil
}
