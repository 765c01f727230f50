// Package retention implements the out-of-band data retention pass: batched
// deletion of runs older than the cutoff followed by a single space reclaim,
// performed under the single-writer lock.
package retention

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/runledger/internal/config"
	"git.home.luguber.info/inful/runledger/internal/lock"
	"git.home.luguber.info/inful/runledger/internal/logfields"
	"git.home.luguber.info/inful/runledger/internal/metrics"
	"git.home.luguber.info/inful/runledger/internal/storage"
)

// Report summarizes one retention pass.
type Report struct {
	DryRun       bool          `json:"dry_run"`
	Cutoff       string        `json:"cutoff"`
	RowsDeleted  int64         `json:"rows_deleted"`
	Before       storage.Stats `json:"before"`
	After        storage.Stats `json:"after"`
	SpaceFreed   int64         `json:"space_freed_bytes"`
	Duration     string        `json:"duration"`
	Cancelled    bool          `json:"cancelled,omitempty"`
	ReclaimError string        `json:"reclaim_error,omitempty"`
}

// Controller runs retention passes against a locked database.
type Controller struct {
	cfg      *config.Config
	recorder metrics.Recorder
	logger   *slog.Logger
}

// New creates a retention controller.
func New(cfg *config.Config, recorder metrics.Recorder, logger *slog.Logger) *Controller {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{cfg: cfg, recorder: recorder, logger: logger}
}

// Run executes one retention pass. It acquires the single-writer lock (so a
// running service must be stopped first), deletes in bounded batches with
// cancellation honored between batches, reclaims space once, and releases
// the lock in a guaranteed path even when a step fails. Stopping the service
// before the pass and restarting it afterwards is the invoker's job; the
// guaranteed lock release is what makes that restart possible after any
// outcome.
func (c *Controller) Run(ctx context.Context, daysToKeep int, dryRun bool) (*Report, error) {
	if daysToKeep <= 0 {
		daysToKeep = c.cfg.Retention.DaysToKeep
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep).Format(time.RFC3339)

	start := time.Now()
	report := &Report{DryRun: dryRun, Cutoff: cutoff}

	guard, err := lock.Acquire(c.cfg.LockPath())
	if err != nil {
		return nil, err
	}
	// The lock must never stay held after a failed pass; the service restart
	// depends on this release.
	defer func() {
		if rerr := guard.Release(); rerr != nil {
			c.logger.Error("failed to release writer lock", logfields.Error(rerr))
		}
	}()

	store, err := storage.Open(c.cfg.DB)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	report.Before, err = store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	if dryRun {
		n, err := store.CountOlderThan(ctx, cutoff)
		if err != nil {
			return nil, err
		}
		report.RowsDeleted = n
		report.After = report.Before
		report.Duration = time.Since(start).String()
		c.logger.Info("retention dry run",
			slog.String("cutoff", cutoff),
			slog.Int64("rows_would_delete", n))
		return report, nil
	}

	deleted, err := store.DeleteOlderThan(ctx, cutoff, c.cfg.Retention.BatchSize)
	report.RowsDeleted = deleted
	c.recorder.ObserveRetentionDeleted(deleted)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation between batches keeps the completed deletions.
			report.Cancelled = true
			c.logger.Warn("retention cancelled between batches",
				slog.Int64("rows_deleted", deleted))
		} else {
			return report, err
		}
	}

	if !report.Cancelled && deleted > 0 {
		// Space reclaim is not cancellable once started and may take a while
		// on large files. A failure here does not undo the deletions.
		if rerr := store.ReclaimSpace(context.WithoutCancel(ctx)); rerr != nil {
			report.ReclaimError = rerr.Error()
			c.logger.Error("space reclaim failed", logfields.Error(rerr))
		}
	}

	report.After, err = store.Stats(ctx)
	if err != nil {
		return report, err
	}
	report.SpaceFreed = report.Before.FileSizeBytes - report.After.FileSizeBytes
	report.Duration = time.Since(start).String()

	c.logger.Info("retention pass complete",
		slog.String("cutoff", cutoff),
		slog.Int64("rows_deleted", report.RowsDeleted),
		slog.Int64("space_freed_bytes", report.SpaceFreed),
		slog.String("duration", report.Duration))
	return report, nil
}
