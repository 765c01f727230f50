package storage

import (
	"context"
	"fmt"
)

// CountOlderThan counts rows with created_at before the cutoff (dry-run path).
func (e *Engine) CountOlderThan(ctx context.Context, cutoff string) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var n int64
	err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM agent_runs WHERE created_at < ?", cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count older than %s: %w", cutoff, err)
	}
	return n, nil
}

// DeleteOlderThan removes rows created before the cutoff in bounded batches,
// committing between batches so the operation can be cancelled via ctx
// without losing completed work. Returns the number of rows deleted.
func (e *Engine) DeleteOlderThan(ctx context.Context, cutoff string, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 10000
	}

	var total int64
	for {
		// Cancellation is honored between batches only; an in-flight batch
		// always commits or rolls back whole.
		if err := ctx.Err(); err != nil {
			return total, err
		}

		e.mu.Lock()
		res, err := e.db.ExecContext(ctx,
			"DELETE FROM agent_runs WHERE id IN (SELECT id FROM agent_runs WHERE created_at < ? LIMIT ?)",
			cutoff, batchSize)
		e.mu.Unlock()
		if err != nil {
			return total, fmt.Errorf("delete batch: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("delete batch: rows affected: %w", err)
		}
		total += affected
		if affected < int64(batchSize) {
			return total, nil
		}
	}
}

// ReclaimSpace runs VACUUM. Requires exclusive access: no concurrent
// transactions may be open, so the retention controller stops the API (or
// holds the single-writer lock) around this call. Not cancellable once
// started.
func (e *Engine) ReclaimSpace(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// BackupTo writes a consistent snapshot of the live database to destPath
// using VACUUM INTO, the online-backup path that does not block writers for
// the duration of the copy.
func (e *Engine) BackupTo(ctx context.Context, destPath string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, err := e.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}
	return nil
}
