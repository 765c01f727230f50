// Package backup implements consistent online backups of the telemetry
// database and verified restores with a safety-copy rollback path.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"git.home.luguber.info/inful/runledger/internal/config"
	derrors "git.home.luguber.info/inful/runledger/internal/foundation/errors"
	"git.home.luguber.info/inful/runledger/internal/logfields"
	"git.home.luguber.info/inful/runledger/internal/metrics"
	"git.home.luguber.info/inful/runledger/internal/retry"
	"git.home.luguber.info/inful/runledger/internal/storage"
)

const (
	timestampLayout = "20060102_150405"
	backupMethod    = "vacuum_into"
)

// Metadata is written next to every verified backup copy.
type Metadata struct {
	Timestamp string `json:"timestamp"`
	SizeBytes int64  `json:"size_bytes"`
	Verified  bool   `json:"verified"`
	Method    string `json:"method"`
}

// Controller performs backups against a live engine and prunes old copies.
type Controller struct {
	cfg      *config.Config
	recorder metrics.Recorder
	logger   *slog.Logger
}

// New creates a backup controller.
func New(cfg *config.Config, recorder metrics.Recorder, logger *slog.Logger) *Controller {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{cfg: cfg, recorder: recorder, logger: logger}
}

// Backup snapshots the database into backups/{YYYYMMDD_HHMMSS}/ using the
// engine's online-backup path, verifies the copy, writes metadata.json, and
// prunes copies older than the retention window. The engine may belong to a
// running service; writers are not blocked.
func (c *Controller) Backup(ctx context.Context, store *storage.Engine) (string, error) {
	start := time.Now()
	dir, err := c.backup(ctx, store)
	c.recorder.ObserveBackupDuration(time.Since(start), err == nil)
	return dir, err
}

func (c *Controller) backup(ctx context.Context, store *storage.Engine) (string, error) {
	if err := c.checkFreeSpace(); err != nil {
		return "", err
	}

	stamp := time.Now().UTC().Format(timestampLayout)
	dir := filepath.Join(c.cfg.Backup.Dir, stamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", derrors.StorageError(fmt.Sprintf("create backup directory: %v", err)).WithCause(err).Build()
	}
	dest := filepath.Join(dir, filepath.Base(store.Path()))

	// Transient I/O failures get three retries with backoff before the
	// backup is declared failed.
	policy := retry.NewPolicy(retry.BackoffExponential, time.Second, 4*time.Second, 3)
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("backup copy failed, retrying",
				slog.Int("attempt", attempt), logfields.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(policy.Delay(attempt)):
			}
			_ = os.Remove(dest)
		}
		if lastErr = store.BackupTo(ctx, dest); lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return "", derrors.StorageError("backup copy failed after retries").WithCause(lastErr).Build()
	}

	verified, err := verifyCopy(ctx, dest)
	if err != nil || !verified {
		return "", derrors.StorageError("backup integrity check failed").WithCause(err).
			WithContext("path", dest).Build()
	}

	info, err := os.Stat(dest)
	if err != nil {
		return "", derrors.StorageError(fmt.Sprintf("stat backup copy: %v", err)).WithCause(err).Build()
	}
	meta := Metadata{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		SizeBytes: info.Size(),
		Verified:  true,
		Method:    backupMethod,
	}
	if err := writeMetadata(filepath.Join(dir, "metadata.json"), meta); err != nil {
		return "", err
	}

	if err := c.pruneOld(); err != nil {
		// Pruning failure does not invalidate the fresh backup.
		c.logger.Warn("backup pruning failed", logfields.Error(err))
	}

	c.logger.Info("backup complete",
		logfields.Path(dir),
		slog.Int64("size_bytes", meta.SizeBytes))
	return dir, nil
}

// verifyCopy opens the snapshot and runs the engine's integrity check.
func verifyCopy(ctx context.Context, path string) (bool, error) {
	snap, err := storage.Open(config.DBConfig{Path: path})
	if err != nil {
		return false, err
	}
	defer snap.Close()

	verdict, err := snap.IntegrityCheck(ctx)
	if err != nil {
		return false, err
	}
	return verdict == "ok", nil
}

func writeMetadata(path string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal backup metadata: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write backup metadata: %w", err)
	}
	return nil
}

// pruneOld deletes backup directories older than the retention window.
// Safety backups live in their own subtree and are never pruned here.
func (c *Controller) pruneOld() error {
	if c.cfg.Backup.RetentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -c.cfg.Backup.RetentionDays)

	entries, err := os.ReadDir(c.cfg.Backup.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if !e.IsDir() || e.Name() == "safety_backups" {
			continue
		}
		ts, err := time.Parse(timestampLayout, e.Name())
		if err != nil {
			continue
		}
		if ts.Before(cutoff) {
			path := filepath.Join(c.cfg.Backup.Dir, e.Name())
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("prune backup %s: %w", path, err)
			}
			c.logger.Info("pruned expired backup", logfields.Path(path))
		}
	}
	return nil
}

// ListBackups returns the available backup directories, newest first.
func (c *Controller) ListBackups() ([]string, error) {
	entries, err := os.ReadDir(c.cfg.Backup.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "safety_backups" {
			continue
		}
		if _, err := time.Parse(timestampLayout, e.Name()); err != nil {
			continue
		}
		dirs = append(dirs, filepath.Join(c.cfg.Backup.Dir, e.Name()))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	return dirs, nil
}

// sidecarSuffixes are the SQLite journal files that must not outlive a
// replaced database file.
var sidecarSuffixes = []string{"-journal", "-wal", "-shm"}

func removeSidecars(dbPath string) {
	for _, suffix := range sidecarSuffixes {
		_ = os.Remove(dbPath + suffix)
	}
}

// backupFileIn locates the database copy inside a backup directory.
func backupFileIn(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read backup directory %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sqlite") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no .sqlite file in backup directory %s", dir)
}
