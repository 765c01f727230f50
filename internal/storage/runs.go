package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/runledger/internal/run"
)

// InsertResult distinguishes a fresh row from an idempotent replay.
type InsertResult string

const (
	InsertCreated   InsertResult = "created"
	InsertDuplicate InsertResult = "duplicate"
)

const insertRunSQL = `INSERT INTO agent_runs (
	event_id, run_id, created_at, updated_at, start_time, end_time,
	agent_name, job_type, status,
	duration_ms, items_discovered, items_succeeded, items_failed, items_skipped,
	input_summary, output_summary, error_summary, error_details,
	source_ref, target_ref,
	product, product_family, platform, subdomain,
	website, website_section, item_name,
	git_repo, git_branch, git_commit_hash, git_run_tag,
	git_commit_source, git_commit_author, git_commit_timestamp,
	host, environment, trigger_type,
	metrics_json, context_json,
	api_posted, api_posted_at, api_retry_count,
	insight_id, parent_run_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (event_id) DO NOTHING`

func insertArgs(rec *run.Record) ([]any, error) {
	createdAt := rec.CreatedAt
	if createdAt == "" {
		createdAt = run.Now()
	}
	metrics, err := marshalJSONColumn(rec.MetricsJSON)
	if err != nil {
		return nil, fmt.Errorf("marshal metrics_json: %w", err)
	}
	contextJSON, err := marshalJSONColumn(rec.ContextJSON)
	if err != nil {
		return nil, fmt.Errorf("marshal context_json: %w", err)
	}

	apiPosted := false
	if rec.APIPosted != nil {
		apiPosted = *rec.APIPosted
	}
	var retryCount int64
	if rec.APIRetryCount != nil {
		retryCount = *rec.APIRetryCount
	}

	return []any{
		rec.EventID, rec.RunID, createdAt, nullable(rec.UpdatedAt), rec.StartTime, nullable(rec.EndTime),
		rec.AgentName, rec.JobType, nullable(rec.Status),
		intOrNil(rec.DurationMS), intOrNil(rec.ItemsDiscovered), intOrNil(rec.ItemsSucceeded),
		intOrNil(rec.ItemsFailed), intOrNil(rec.ItemsSkipped),
		nullable(rec.InputSummary), nullable(rec.OutputSummary), nullable(rec.ErrorSummary), nullable(rec.ErrorDetails),
		nullable(rec.SourceRef), nullable(rec.TargetRef),
		nullable(rec.Product), nullable(rec.ProductFamily), nullable(rec.Platform), nullable(rec.Subdomain),
		nullable(rec.Website), nullable(rec.WebsiteSection), nullable(rec.ItemName),
		nullable(rec.GitRepo), nullable(rec.GitBranch), nullable(rec.GitCommitHash), nullable(rec.GitRunTag),
		nullable(rec.GitCommitSource), nullable(rec.GitCommitAuthor), nullable(rec.GitCommitTimestamp),
		nullable(rec.Host), nullable(rec.Environment), nullable(rec.TriggerType),
		metrics, contextJSON,
		apiPosted, nullable(rec.APIPostedAt), retryCount,
		nullable(rec.InsightID), nullable(rec.ParentRunID),
	}, nil
}

func intOrNil(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// InsertRun stores one run. A duplicate event_id is not an error: the
// conflict is absorbed and reported, which is the idempotency contract.
func (e *Engine) InsertRun(ctx context.Context, rec *run.Record) (InsertResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args, err := insertArgs(rec)
	if err != nil {
		return "", err
	}
	res, err := e.db.ExecContext(ctx, insertRunSQL, args...)
	if err != nil {
		return "", fmt.Errorf("insert run %s: %w", rec.EventID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("insert run %s: rows affected: %w", rec.EventID, err)
	}
	if affected == 0 {
		return InsertDuplicate, nil
	}
	return InsertCreated, nil
}

// BatchError captures a single failed record inside a batch.
type BatchError struct {
	Index   int    `json:"index"`
	EventID string `json:"event_id"`
	Error   string `json:"error"`
}

// BatchResult summarizes a batch insert. Partial failure is not an error at
// this layer; callers inspect the counts.
type BatchResult struct {
	Inserted   int          `json:"inserted"`
	Duplicates int          `json:"duplicates"`
	Errors     []BatchError `json:"errors"`
	Total      int          `json:"total"`
}

// BatchInsert attempts each record independently inside a single transaction.
// Duplicates increment a counter, per-record failures are collected, and the
// successful inserts commit together.
func (e *Engine) BatchInsert(ctx context.Context, recs []*run.Record) (BatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := BatchResult{Total: len(recs), Errors: []BatchError{}}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertRunSQL)
	if err != nil {
		return result, fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range recs {
		args, err := insertArgs(rec)
		if err != nil {
			result.Errors = append(result.Errors, BatchError{Index: i, EventID: rec.EventID, Error: err.Error()})
			continue
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			result.Errors = append(result.Errors, BatchError{Index: i, EventID: rec.EventID, Error: err.Error()})
			continue
		}
		affected, err := res.RowsAffected()
		if err != nil {
			result.Errors = append(result.Errors, BatchError{Index: i, EventID: rec.EventID, Error: err.Error()})
			continue
		}
		if affected == 0 {
			result.Duplicates++
		} else {
			result.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit batch: %w", err)
	}
	return result, nil
}

// PatchField is one ordered entry of a partial update. Value nil clears the
// column; the field order is preserved in the reported update list.
type PatchField struct {
	Name  string
	Value any
}

// UpdateFields applies a partial update to the run identified by eventID.
// Only fields present in the patch are written; unknown and immutable fields
// must already be filtered out by the caller. updated_at is stamped on every
// successful update.
func (e *Engine) UpdateFields(ctx context.Context, eventID string, patch []PatchField) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(patch) == 0 {
		return nil, ErrEmptyPatch
	}

	setClauses := make([]string, 0, len(patch)+1)
	args := make([]any, 0, len(patch)+2)
	updated := make([]string, 0, len(patch))

	for _, f := range patch {
		if !settableColumns[f.Name] {
			return nil, fmt.Errorf("column %q is not settable", f.Name)
		}
		value := f.Value
		if jsonColumns[f.Name] {
			if obj, ok := value.(map[string]any); ok {
				serialized, err := marshalJSONColumn(obj)
				if err != nil {
					return nil, fmt.Errorf("marshal %s: %w", f.Name, err)
				}
				value = serialized
			}
		}
		setClauses = append(setClauses, f.Name+" = ?")
		args = append(args, value)
		updated = append(updated, f.Name)
	}

	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, run.Now(), eventID)

	query := "UPDATE agent_runs SET " + strings.Join(setClauses, ", ") + " WHERE event_id = ?"
	res, err := e.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update run %s: %w", eventID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update run %s: rows affected: %w", eventID, err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return updated, nil
}

// FetchByEventID returns the full run as a JSON-ready map, or ErrNotFound.
func (e *Engine) FetchByEventID(ctx context.Context, eventID string) (map[string]any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	query := "SELECT " + strings.Join(selectColumns, ", ") + " FROM agent_runs WHERE event_id = ?"
	rows, err := e.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("fetch run %s: %w", eventID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("fetch run %s: %w", eventID, err)
		}
		return nil, ErrNotFound
	}
	row, err := scanRowMap(rows)
	if err != nil {
		return nil, fmt.Errorf("scan run %s: %w", eventID, err)
	}
	return row, nil
}

// CommitAssociation carries the git_commit_* fields written by AssociateCommit.
type CommitAssociation struct {
	Hash      string
	Source    string
	Author    string
	Timestamp string
	RepoURL   string
}

// AssociateCommit overwrites the git_commit_* fields of an existing run and
// refreshes the deduped commit cache.
func (e *Engine) AssociateCommit(ctx context.Context, eventID string, assoc CommitAssociation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin associate-commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT 1 FROM agent_runs WHERE event_id = ?", eventID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("associate commit %s: %w", eventID, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE agent_runs SET git_commit_hash = ?, git_commit_source = ?, git_commit_author = ?, git_commit_timestamp = ?, updated_at = ? WHERE event_id = ?`,
		assoc.Hash, nullable(assoc.Source), nullable(assoc.Author), nullable(assoc.Timestamp), run.Now(), eventID)
	if err != nil {
		return fmt.Errorf("associate commit %s: %w", eventID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO commits (commit_hash, repo_url, author, committed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (commit_hash) DO NOTHING`,
		assoc.Hash, nullable(assoc.RepoURL), nullable(assoc.Author), nullable(assoc.Timestamp))
	if err != nil {
		return fmt.Errorf("cache commit %s: %w", assoc.Hash, err)
	}

	return tx.Commit()
}
