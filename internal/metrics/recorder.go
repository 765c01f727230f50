package metrics

import "time"

// Outcome enumerates ingest result categories for counters.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeError     Outcome = "error"
)

// Recorder defines observability hooks for the ingestion service.
// Implementations may forward to Prometheus, etc. All methods must be safe
// for nil receivers when using the NoopRecorder (allowing optional injection).
type Recorder interface {
	ObserveRequestDuration(route, method string, status int, d time.Duration)
	IncIngestOutcome(outcome Outcome)
	IncRateLimited(route string)
	IncAuthFailure()
	SetRunsTotal(n int64)
	ObserveRetentionDeleted(n int64)
	ObserveBackupDuration(d time.Duration, success bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveRequestDuration(string, string, int, time.Duration) {}
func (NoopRecorder) IncIngestOutcome(Outcome)                                  {}
func (NoopRecorder) IncRateLimited(string)                                     {}
func (NoopRecorder) IncAuthFailure()                                           {}
func (NoopRecorder) SetRunsTotal(int64)                                        {}
func (NoopRecorder) ObserveRetentionDeleted(int64)                             {}
func (NoopRecorder) ObserveBackupDuration(time.Duration, bool)                 {}
