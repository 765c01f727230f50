// Package run defines the canonical Run record tracked by runledger, the
// status vocabulary with its alias normalization, and the validation rules
// applied at every ingest boundary.
package run

import "time"

// Status is the canonical lifecycle status of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusPartial   Status = "partial"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// CommitSource identifies how a git commit got associated with a run.
type CommitSource string

const (
	CommitSourceManual CommitSource = "manual"
	CommitSourceLLM    CommitSource = "llm"
	CommitSourceCI     CommitSource = "ci"
)

// Record is one tracked unit of agent work. EventID is the idempotency key;
// RunID is the application-level identifier and is not unique. Optional
// fields are pointers so that partial payloads keep absent and null apart.
type Record struct {
	EventID   string `json:"event_id"`
	RunID     string `json:"run_id"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time,omitempty"`

	AgentName string `json:"agent_name"`
	JobType   string `json:"job_type"`
	Status    string `json:"status,omitempty"`

	DurationMS      *int64 `json:"duration_ms,omitempty"`
	ItemsDiscovered *int64 `json:"items_discovered,omitempty"`
	ItemsSucceeded  *int64 `json:"items_succeeded,omitempty"`
	ItemsFailed     *int64 `json:"items_failed,omitempty"`
	ItemsSkipped    *int64 `json:"items_skipped,omitempty"`

	InputSummary  string `json:"input_summary,omitempty"`
	OutputSummary string `json:"output_summary,omitempty"`
	ErrorSummary  string `json:"error_summary,omitempty"`
	ErrorDetails  string `json:"error_details,omitempty"`

	SourceRef string `json:"source_ref,omitempty"`
	TargetRef string `json:"target_ref,omitempty"`

	Product       string `json:"product,omitempty"`
	ProductFamily string `json:"product_family,omitempty"`
	Platform      string `json:"platform,omitempty"`
	Subdomain     string `json:"subdomain,omitempty"`

	Website        string `json:"website,omitempty"`
	WebsiteSection string `json:"website_section,omitempty"`
	ItemName       string `json:"item_name,omitempty"`

	GitRepo            string `json:"git_repo,omitempty"`
	GitBranch          string `json:"git_branch,omitempty"`
	GitCommitHash      string `json:"git_commit_hash,omitempty"`
	GitRunTag          string `json:"git_run_tag,omitempty"`
	GitCommitSource    string `json:"git_commit_source,omitempty"`
	GitCommitAuthor    string `json:"git_commit_author,omitempty"`
	GitCommitTimestamp string `json:"git_commit_timestamp,omitempty"`

	Host        string `json:"host,omitempty"`
	Environment string `json:"environment,omitempty"`
	TriggerType string `json:"trigger_type,omitempty"`

	MetricsJSON map[string]any `json:"metrics_json,omitempty"`
	ContextJSON map[string]any `json:"context_json,omitempty"`

	APIPosted     *bool  `json:"api_posted,omitempty"`
	APIPostedAt   string `json:"api_posted_at,omitempty"`
	APIRetryCount *int64 `json:"api_retry_count,omitempty"`

	InsightID   string `json:"insight_id,omitempty"`
	ParentRunID string `json:"parent_run_id,omitempty"`
}

// Event is a lightweight per-run log message. Events are persisted only to
// the append-only NDJSON log, never to the SQL table.
type Event struct {
	RunID     string         `json:"run_id"`
	EventID   string         `json:"event_id,omitempty"`
	EventType string         `json:"event_type"`
	Timestamp string         `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// ParseTimestamp validates an ISO-8601 timestamp with timezone.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// Now returns the current UTC time formatted as an ISO-8601 timestamp.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
