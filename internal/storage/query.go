package storage

import (
	"context"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/runledger/internal/run"
)

// Query limits. Limit is clamped into [1, MaxQueryLimit] by callers.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Filters describes the dynamic predicates of a run query. Zero values mean
// "no filter". Timestamp bounds are half-open: created_at >= CreatedAfter,
// created_at < CreatedBefore (and likewise for start_time).
type Filters struct {
	AgentName     string
	Status        string
	JobType       string
	CreatedAfter  string
	CreatedBefore string
	StartAfter    string
	StartBefore   string
	Limit         int
	Offset        int
}

// Query returns runs matching the filters, newest first (created_at DESC,
// ties broken by insertion order). Status is alias-normalized before
// filtering so ?status=failed matches rows stored as failure.
func (e *Engine) Query(ctx context.Context, f Filters) ([]map[string]any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + strings.Join(selectColumns, ", ") + " FROM agent_runs WHERE 1=1")
	var args []any

	if f.AgentName != "" {
		sb.WriteString(" AND agent_name = ?")
		args = append(args, f.AgentName)
	}
	if f.Status != "" {
		sb.WriteString(" AND status = ?")
		args = append(args, run.NormalizeStatus(f.Status))
	}
	if f.JobType != "" {
		sb.WriteString(" AND job_type = ?")
		args = append(args, f.JobType)
	}
	if f.CreatedAfter != "" {
		sb.WriteString(" AND created_at >= ?")
		args = append(args, f.CreatedAfter)
	}
	if f.CreatedBefore != "" {
		sb.WriteString(" AND created_at < ?")
		args = append(args, f.CreatedBefore)
	}
	if f.StartAfter != "" {
		sb.WriteString(" AND start_time >= ?")
		args = append(args, f.StartAfter)
	}
	if f.StartBefore != "" {
		sb.WriteString(" AND start_time < ?")
		args = append(args, f.StartBefore)
	}

	sb.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := e.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	results := make([]map[string]any, 0, limit)
	for rows.Next() {
		row, err := scanRowMap(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return results, nil
}

// distinctColumns whitelists the columns DistinctValues may enumerate.
var distinctColumns = map[string]bool{"agent_name": true, "job_type": true}

// DistinctValues returns the distinct non-NULL values of a whitelisted
// column in alphabetical order.
func (e *Engine) DistinctValues(ctx context.Context, column string) ([]string, error) {
	if !distinctColumns[column] {
		return nil, fmt.Errorf("column %q not allowed for distinct enumeration", column)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	query := fmt.Sprintf("SELECT DISTINCT %s FROM agent_runs WHERE %s IS NOT NULL ORDER BY %s ASC", column, column, column)
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", column, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct %s: %w", column, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Stats summarizes the table for retention and backup reports.
type Stats struct {
	TotalRuns     int64  `json:"total_runs"`
	MinCreatedAt  string `json:"min_created_at,omitempty"`
	MaxCreatedAt  string `json:"max_created_at,omitempty"`
	FileSizeBytes int64  `json:"file_size_bytes"`
}

// Stats returns row count, created_at bounds, and the database file size.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var s Stats
	row := e.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(MIN(created_at), ''), COALESCE(MAX(created_at), '') FROM agent_runs")
	if err := row.Scan(&s.TotalRuns, &s.MinCreatedAt, &s.MaxCreatedAt); err != nil {
		return s, fmt.Errorf("table stats: %w", err)
	}
	if size, err := e.FileSize(); err == nil {
		s.FileSizeBytes = size
	}
	return s, nil
}

// AgentCount pairs an agent with its run count for the metrics endpoint.
type AgentCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// MetricsSnapshot aggregates the three observability queries: total runs,
// per-agent counts (descending), and the last-24h ingest count.
func (e *Engine) MetricsSnapshot(ctx context.Context) (total int64, agents []AgentCount, recent24h int64, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err = e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM agent_runs").Scan(&total); err != nil {
		return 0, nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, qerr := e.db.QueryContext(ctx,
		"SELECT agent_name, COUNT(*) AS n FROM agent_runs GROUP BY agent_name ORDER BY n DESC, agent_name ASC")
	if qerr != nil {
		return 0, nil, 0, fmt.Errorf("per-agent counts: %w", qerr)
	}
	defer rows.Close()
	for rows.Next() {
		var ac AgentCount
		if err = rows.Scan(&ac.Name, &ac.Count); err != nil {
			return 0, nil, 0, fmt.Errorf("scan agent count: %w", err)
		}
		agents = append(agents, ac)
	}
	if err = rows.Err(); err != nil {
		return 0, nil, 0, err
	}

	if err = e.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM agent_runs WHERE created_at >= strftime('%Y-%m-%dT%H:%M:%SZ', 'now', '-1 day')").Scan(&recent24h); err != nil {
		return 0, nil, 0, fmt.Errorf("recent-24h count: %w", err)
	}

	return total, agents, recent24h, nil
}
