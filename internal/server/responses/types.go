// Package responses defines the wire types returned by runledger HTTP handlers.
package responses

import "git.home.luguber.info/inful/runledger/internal/storage"

// CreateRunResponse reports the outcome of a single-run ingest.
type CreateRunResponse struct {
	Status  string `json:"status"` // created | duplicate
	EventID string `json:"event_id"`
	RunID   string `json:"run_id,omitempty"`
}

// BatchResponse reports a bulk ingest. Partial failure is expressed through
// the error list, never through the HTTP status.
type BatchResponse struct {
	Inserted   int                  `json:"inserted"`
	Duplicates int                  `json:"duplicates"`
	Errors     []storage.BatchError `json:"errors"`
	Total      int                  `json:"total"`
}

// PatchResponse reports a partial update, listing the columns written in
// the order they appeared in the request body.
type PatchResponse struct {
	EventID       string   `json:"event_id"`
	Updated       bool     `json:"updated"`
	FieldsUpdated []string `json:"fields_updated"`
}

// CommitURLResponse carries the derived commit browse URL, or null when the
// run has no git data or the platform is unsupported.
type CommitURLResponse struct {
	CommitURL *string `json:"commit_url"`
}

// RepoURLResponse carries the normalized repository URL, or null.
type RepoURLResponse struct {
	RepoURL *string `json:"repo_url"`
}

// AssociateCommitResponse confirms a commit association.
type AssociateCommitResponse struct {
	Status        string `json:"status"`
	EventID       string `json:"event_id"`
	GitCommitHash string `json:"git_commit_hash"`
}

// MetadataResponse enumerates the distinct filter values and their counts.
type MetadataResponse struct {
	AgentNames []string       `json:"agent_names"`
	JobTypes   []string       `json:"job_types"`
	Counts     MetadataCounts `json:"counts"`
}

// MetadataCounts summarizes the distinct-value cardinalities.
type MetadataCounts struct {
	AgentNames int `json:"agent_names"`
	JobTypes   int `json:"job_types"`
}

// HealthResponse is the liveness payload. It is served without touching the
// database; the PRAGMA values are cached at startup.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	DBPath      string `json:"db_path"`
	JournalMode string `json:"journal_mode"`
	Synchronous string `json:"synchronous"`
}

// MetricsResponse is the JSON observability payload.
type MetricsResponse struct {
	TotalRuns   int64              `json:"total_runs"`
	Agents      map[string]int64   `json:"agents"`
	AgentsDesc  []AgentCountEntry  `json:"agents_desc"`
	Recent24h   int64              `json:"recent_24h"`
	Performance PerformanceSummary `json:"performance"`
}

// AgentCountEntry preserves the descending order the map cannot.
type AgentCountEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// PerformanceSummary exposes the storage configuration behind the metrics.
type PerformanceSummary struct {
	DBPath      string `json:"db_path"`
	JournalMode string `json:"journal_mode"`
}
