package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	derrors "git.home.luguber.info/inful/runledger/internal/foundation/errors"
	"git.home.luguber.info/inful/runledger/internal/lock"
	"git.home.luguber.info/inful/runledger/internal/logfields"
)

// RestoreOptions tunes a restore run.
type RestoreOptions struct {
	// BackupDir is the backups/{ts}/ directory to restore from.
	BackupDir string
	// HealthURL, when set, is polled after the restore until it answers OK
	// or HealthTimeout elapses.
	HealthURL     string
	HealthTimeout time.Duration
	// NoRollback disables the automatic rollback to the safety copy when
	// post-restore verification fails. Rollback is the default.
	NoRollback bool
}

// RestoreResult reports what the restore did.
type RestoreResult struct {
	RestoredFrom string `json:"restored_from"`
	SafetyCopy   string `json:"safety_copy"`
	RolledBack   bool   `json:"rolled_back,omitempty"`
}

// Restore replaces the live database file with a verified backup copy. The
// running service must be stopped first (the single-writer lock is acquired
// for the swap). On post-restore verification failure the safety copy is
// rolled back unless disabled.
func (c *Controller) Restore(ctx context.Context, opts RestoreOptions) (*RestoreResult, error) {
	source, err := backupFileIn(opts.BackupDir)
	if err != nil {
		return nil, derrors.ValidationError(err.Error()).Build()
	}
	if ok, verr := verifyCopy(ctx, source); verr != nil || !ok {
		return nil, derrors.StorageError("backup copy failed integrity check, refusing to restore").
			WithCause(verr).WithContext("path", source).Build()
	}

	// Holding the lock proves no writer has the live file open.
	guard, err := lock.Acquire(c.cfg.LockPath())
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := guard.Release(); rerr != nil {
			c.logger.Error("failed to release writer lock", logfields.Error(rerr))
		}
	}()

	result := &RestoreResult{RestoredFrom: source}

	livePath := c.cfg.DB.Path
	safetyDir := filepath.Join(c.cfg.SafetyBackupsDir(), "pre_restore_"+time.Now().UTC().Format(timestampLayout))
	if _, err := os.Stat(livePath); err == nil {
		if err := os.MkdirAll(safetyDir, 0o755); err != nil {
			return nil, derrors.StorageError(fmt.Sprintf("create safety backup directory: %v", err)).WithCause(err).Build()
		}
		safetyCopy := filepath.Join(safetyDir, filepath.Base(livePath))
		if err := copyFile(livePath, safetyCopy); err != nil {
			return nil, derrors.StorageError("safety backup failed, refusing to restore").WithCause(err).Build()
		}
		result.SafetyCopy = safetyCopy
		c.logger.Info("safety backup written", logfields.Path(safetyCopy))
	}

	if err := copyFile(source, livePath); err != nil {
		return result, derrors.StorageError("failed to replace database file").WithCause(err).Build()
	}
	removeSidecars(livePath)

	if ok, verr := verifyCopy(ctx, livePath); verr != nil || !ok {
		c.logger.Error("restored file failed integrity check", logfields.Error(verr))
		if opts.NoRollback || result.SafetyCopy == "" {
			return result, derrors.StorageError("restored file failed integrity check").WithCause(verr).Build()
		}
		if rerr := copyFile(result.SafetyCopy, livePath); rerr != nil {
			return result, derrors.StorageError("rollback failed; database needs manual recovery").WithCause(rerr).Build()
		}
		removeSidecars(livePath)
		result.RolledBack = true
		c.logger.Warn("rolled back to safety copy", logfields.Path(result.SafetyCopy))
		return result, derrors.StorageError("restore verification failed, rolled back to safety copy").Build()
	}

	c.logger.Info("restore complete", logfields.Path(livePath), slog.String("source", source))
	return result, nil
}

// PollHealth waits for the restarted service to answer its health endpoint.
func PollHealth(ctx context.Context, url string, timeout time.Duration) error {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return derrors.DaemonError("service did not become healthy after restore").
				WithContext("url", url).Build()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
