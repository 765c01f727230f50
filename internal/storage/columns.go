package storage

import (
	"database/sql"
	"encoding/json"
)

// selectColumns is the canonical column order for reads. id is internal
// (rowid tie-breaker) and never leaves the engine.
var selectColumns = []string{
	"event_id", "run_id", "created_at", "updated_at", "start_time", "end_time",
	"agent_name", "job_type", "status",
	"duration_ms", "items_discovered", "items_succeeded", "items_failed", "items_skipped",
	"input_summary", "output_summary", "error_summary", "error_details",
	"source_ref", "target_ref",
	"product", "product_family", "platform", "subdomain",
	"website", "website_section", "item_name",
	"git_repo", "git_branch", "git_commit_hash", "git_run_tag",
	"git_commit_source", "git_commit_author", "git_commit_timestamp",
	"host", "environment", "trigger_type",
	"metrics_json", "context_json",
	"api_posted", "api_posted_at", "api_retry_count",
	"insight_id", "parent_run_id",
}

// settableColumns are the columns a partial update may touch. event_id and
// run_id are immutable once the row exists; created_at is insert-only.
var settableColumns = map[string]bool{
	"start_time": true, "end_time": true,
	"agent_name": true, "job_type": true, "status": true,
	"duration_ms": true, "items_discovered": true, "items_succeeded": true,
	"items_failed": true, "items_skipped": true,
	"input_summary": true, "output_summary": true, "error_summary": true, "error_details": true,
	"source_ref": true, "target_ref": true,
	"product": true, "product_family": true, "platform": true, "subdomain": true,
	"website": true, "website_section": true, "item_name": true,
	"git_repo": true, "git_branch": true, "git_commit_hash": true, "git_run_tag": true,
	"git_commit_source": true, "git_commit_author": true, "git_commit_timestamp": true,
	"host": true, "environment": true, "trigger_type": true,
	"metrics_json": true, "context_json": true,
	"api_posted": true, "api_posted_at": true, "api_retry_count": true,
	"insight_id": true, "parent_run_id": true,
}

// IsSettableColumn reports whether a partial update may write the column.
func IsSettableColumn(name string) bool { return settableColumns[name] }

var jsonColumns = map[string]bool{"metrics_json": true, "context_json": true}
var boolColumns = map[string]bool{"api_posted": true}

// scanRowMap scans the current row (selected with selectColumns) into a
// JSON-ready map: 0/1 booleans become bools, JSON text columns are parsed
// back to objects, and a malformed JSON column keeps its raw string with a
// sibling {col}_parse_error key instead of failing the row.
func scanRowMap(rows *sql.Rows) (map[string]any, error) {
	raw := make([]any, len(selectColumns))
	ptrs := make([]any, len(selectColumns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	row := make(map[string]any, len(selectColumns)+2)
	for i, col := range selectColumns {
		v := raw[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		switch {
		case v == nil:
			row[col] = nil
		case boolColumns[col]:
			n, _ := v.(int64)
			row[col] = n != 0
		case jsonColumns[col]:
			s, _ := v.(string)
			if s == "" {
				row[col] = nil
				continue
			}
			var parsed any
			if err := json.Unmarshal([]byte(s), &parsed); err != nil {
				row[col] = s
				row[col+"_parse_error"] = err.Error()
				continue
			}
			row[col] = parsed
		default:
			row[col] = v
		}
	}
	return row, nil
}

// marshalJSONColumn serializes an opaque metrics/context object for storage,
// returning nil for absent objects.
func marshalJSONColumn(obj map[string]any) (any, error) {
	if obj == nil {
		return nil, nil
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// nullable converts an empty string to NULL for optional text columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
