// Package client implements the in-process delivery pipeline agents use to
// report runs: a scope-guarded lifecycle, a durable failover buffer with a
// background sync worker, a per-day NDJSON event log, and an optional
// fire-and-forget external mirror.
//
// Public operations never raise to the agent: every failure is logged and
// absorbed (the scope guard re-raises the agent's own error after recording
// it). For every accepted start or end, at least one of {API write, buffer
// file, event-log line} exists.
package client

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/runledger/internal/config"
	"git.home.luguber.info/inful/runledger/internal/logfields"
	"git.home.luguber.info/inful/runledger/internal/mirror"
	"git.home.luguber.info/inful/runledger/internal/retry"
	"git.home.luguber.info/inful/runledger/internal/run"
)

// Client is the agent-facing telemetry pipeline.
type Client struct {
	cfg      config.ClientConfig
	api      *apiClient
	registry *registry
	eventlog *eventLog
	buffer   *buffer
	counters *runIDCounters
	sink     mirror.Sink
	logger   *slog.Logger
	worker   *syncWorker
}

// Options tunes client construction.
type Options struct {
	// BaseDir roots the raw/ event log and buffer/ failover directories.
	BaseDir string
	// Mirror enables the fire-and-forget external sink.
	Mirror config.MirrorConfig
	Logger *slog.Logger
	// StartSyncWorker launches the background buffer drain loop.
	StartSyncWorker bool
}

// StartOptions describes one run start.
type StartOptions struct {
	AgentName string
	JobType   string
	// RunID requests a custom id; invalid or colliding values fall back per
	// the repair rules.
	RunID        string
	InputSummary string
	TriggerType  string
	// WorkDir enables git-context capture from the surrounding checkout.
	WorkDir string
	Context map[string]any
}

// EndOptions describes one run end.
type EndOptions struct {
	Status        string
	OutputSummary string
	ErrorSummary  string
	Metrics       map[string]any
	ItemsOK       *int64
	ItemsFailed   *int64
}

// New creates a Client. The sync worker starts when requested and stops via
// Close.
func New(cfg config.ClientConfig, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := opts.BaseDir
	if base == "" {
		base = "."
	}

	sink, err := mirror.FromConfig(opts.Mirror)
	if err != nil {
		// A broken mirror must not break telemetry; run without it.
		logger.Warn("mirror sink unavailable, continuing without it", logfields.Error(err))
		sink = nil
	}

	c := &Client{
		cfg:      cfg,
		api:      newAPIClient(cfg.APIBaseURL, cfg.APIToken, cfg.PostTimeout),
		registry: newRegistry(),
		eventlog: newEventLog(filepath.Join(base, "raw")),
		buffer:   newBuffer(filepath.Join(base, "buffer")),
		counters: &runIDCounters{},
		sink:     sink,
		logger:   logger,
	}
	if opts.StartSyncWorker {
		c.worker = newSyncWorker(c, cfg.SyncInterval)
		c.worker.start()
	}
	return c, nil
}

// StartRun opens a run: registers it, appends the event-log line, and posts
// the record to the API with buffer fallback. Never returns an error; the
// resolved run_id is always usable.
func (c *Client) StartRun(ctx context.Context, opts StartOptions) string {
	runID := c.resolveRunID(opts.AgentName, opts.RunID)
	host, _ := os.Hostname()

	rec := &run.Record{
		EventID:      uuid.NewString(),
		RunID:        runID,
		AgentName:    opts.AgentName,
		JobType:      opts.JobType,
		StartTime:    run.Now(),
		Status:       string(run.StatusRunning),
		InputSummary: opts.InputSummary,
		TriggerType:  opts.TriggerType,
		Host:         host,
		ContextJSON:  opts.Context,
	}
	if opts.WorkDir != "" {
		gc := captureGitContext(opts.WorkDir)
		rec.GitRepo = gc.Repo
		rec.GitBranch = gc.Branch
		rec.GitCommitHash = gc.CommitHash
		rec.GitCommitAuthor = gc.CommitAuthor
		rec.GitCommitTimestamp = gc.CommitTimestamp
	}

	c.registry.insert(rec)

	// Disaster-recovery line first: attempted on every path, never fatal.
	if err := c.eventlog.appendRecord("run_start", rec); err != nil {
		c.logger.Error("event-log append failed", logfields.RunID(runID), logfields.Error(err))
	}

	if err := c.api.postRun(ctx, rec); err != nil {
		c.logger.Warn("run start not delivered, buffering",
			logfields.EventID(rec.EventID), logfields.RunID(runID), logfields.Error(err))
		if berr := c.buffer.enqueue(opCreate, rec); berr != nil {
			c.logger.Error("buffer enqueue failed; event-log line is the only record",
				logfields.EventID(rec.EventID), logfields.Error(berr))
		}
	}

	c.logger.Info("run started",
		logfields.EventID(rec.EventID),
		logfields.RunID(runID),
		logfields.Agent(opts.AgentName),
		logfields.JobType(opts.JobType))
	return runID
}

// LogEvent appends a per-run message to the event log only; it never touches
// the API or the database.
func (c *Client) LogEvent(runID, eventType, message string, details map[string]any) {
	ev := run.Event{RunID: runID, EventType: eventType, Message: message, Details: details}
	if rec := c.registry.get(runID); rec != nil {
		ev.EventID = rec.EventID
	}
	if err := c.eventlog.appendEvent(ev); err != nil {
		c.logger.Error("event-log append failed", logfields.RunID(runID), logfields.Error(err))
	}
}

// SetMetrics merges metric values into the open run's record. They are
// delivered with the end_run patch.
func (c *Client) SetMetrics(runID string, metrics map[string]any) {
	rec := c.registry.get(runID)
	if rec == nil {
		c.logger.Warn("set_metrics for unknown run", logfields.RunID(runID))
		return
	}
	if rec.MetricsJSON == nil {
		rec.MetricsJSON = map[string]any{}
	}
	for k, v := range metrics {
		rec.MetricsJSON[k] = v
	}
}

// EndRun closes a run: removes it from the registry, appends the event-log
// line, patches the stored row, and fires the external mirror. An unknown
// run_id is logged and swallowed.
func (c *Client) EndRun(ctx context.Context, runID string, opts EndOptions) {
	rec := c.registry.remove(runID)
	if rec == nil {
		c.logger.Warn("end_run for unknown run", logfields.RunID(runID))
		return
	}

	endTime := run.Now()
	rec.EndTime = endTime
	rec.Status = run.NormalizeStatus(opts.Status)
	rec.OutputSummary = opts.OutputSummary
	rec.ErrorSummary = opts.ErrorSummary
	rec.ItemsSucceeded = opts.ItemsOK
	rec.ItemsFailed = opts.ItemsFailed
	if start, err := run.ParseTimestamp(rec.StartTime); err == nil {
		if end, err := run.ParseTimestamp(endTime); err == nil {
			d := end.Sub(start).Milliseconds()
			rec.DurationMS = &d
		}
	}
	if opts.Metrics != nil {
		if rec.MetricsJSON == nil {
			rec.MetricsJSON = map[string]any{}
		}
		for k, v := range opts.Metrics {
			rec.MetricsJSON[k] = v
		}
	}

	if err := c.eventlog.appendRecord("run_end", rec); err != nil {
		c.logger.Error("event-log append failed", logfields.RunID(runID), logfields.Error(err))
	}

	if err := c.finalize(ctx, rec); err != nil {
		c.logger.Warn("run end not delivered, buffering",
			logfields.EventID(rec.EventID), logfields.RunID(runID), logfields.Error(err))
		if berr := c.buffer.enqueue(opFinalize, rec); berr != nil {
			c.logger.Error("buffer enqueue failed; event-log line is the only record",
				logfields.EventID(rec.EventID), logfields.Error(berr))
		}
	}

	c.mirrorRun(ctx, rec)

	c.logger.Info("run ended",
		logfields.EventID(rec.EventID),
		logfields.RunID(runID),
		logfields.Status(rec.Status))
}

// finalize converges the stored row to the final record: the POST is
// absorbed as duplicate when the start already landed, then the PATCH
// applies the final fields.
func (c *Client) finalize(ctx context.Context, rec *run.Record) error {
	if err := c.api.postRun(ctx, rec); err != nil {
		return err
	}
	return c.api.patchRun(ctx, rec.EventID, finalFields(rec))
}

// finalFields builds the end-of-run patch payload.
func finalFields(rec *run.Record) map[string]any {
	fields := map[string]any{
		"status":   rec.Status,
		"end_time": rec.EndTime,
	}
	if rec.DurationMS != nil {
		fields["duration_ms"] = *rec.DurationMS
	}
	if rec.OutputSummary != "" {
		fields["output_summary"] = rec.OutputSummary
	}
	if rec.ErrorSummary != "" {
		fields["error_summary"] = rec.ErrorSummary
	}
	if rec.ItemsSucceeded != nil {
		fields["items_succeeded"] = *rec.ItemsSucceeded
	}
	if rec.ItemsFailed != nil {
		fields["items_failed"] = *rec.ItemsFailed
	}
	if rec.MetricsJSON != nil {
		fields["metrics_json"] = rec.MetricsJSON
	}
	return fields
}

// mirrorRun posts the finished record to the external sink on the bounded
// 1s/2s/4s schedule. The outcome is stamped back onto the stored row;
// nothing here ever reaches the agent.
func (c *Client) mirrorRun(ctx context.Context, rec *run.Record) {
	if c.sink == nil {
		return
	}

	policy := retry.MirrorPolicy()
	var lastErr error
	var cancelled bool
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				cancelled = true
			case <-time.After(policy.Delay(attempt)):
			}
			if cancelled {
				break
			}
		}
		if lastErr = c.sink.Post(ctx, rec); lastErr == nil {
			break
		}
	}

	if lastErr == nil {
		now := run.Now()
		posted := true
		rec.APIPosted = &posted
		rec.APIPostedAt = now
		if err := c.api.patchRun(ctx, rec.EventID, map[string]any{
			"api_posted":    true,
			"api_posted_at": now,
		}); err != nil {
			c.logger.Warn("failed to stamp mirror success", logfields.EventID(rec.EventID), logfields.Error(err))
		}
		return
	}

	c.logger.Warn("mirror post failed after bounded retries",
		logfields.EventID(rec.EventID),
		slog.String("sink", c.sink.Name()),
		logfields.Error(lastErr))
	retries := int64(policy.MaxRetries)
	rec.APIRetryCount = &retries
	if err := c.api.patchRun(ctx, rec.EventID, map[string]any{
		"api_retry_count": retries,
	}); err != nil {
		c.logger.Warn("failed to stamp mirror retry count", logfields.EventID(rec.EventID), logfields.Error(err))
	}
}

// RunIDMetricsSnapshot returns the thread-safe run-id counter snapshot.
func (c *Client) RunIDMetricsSnapshot() RunIDMetrics {
	return c.counters.snapshot()
}

// PendingBufferEvents reports how many events await replay.
func (c *Client) PendingBufferEvents() int {
	return c.buffer.pending()
}

// SyncNow drains the buffer once, replaying each pending event against the
// API. Files are removed only after a successful replay.
func (c *Client) SyncNow(ctx context.Context) (replayed int, err error) {
	return c.drainBuffer(ctx)
}

// Close stops the sync worker, draining at most one in-flight replay, and
// releases the mirror sink. Buffer files are left intact for the next
// process.
func (c *Client) Close() error {
	if c.worker != nil {
		c.worker.stop()
	}
	if c.sink != nil {
		return c.sink.Close()
	}
	return nil
}
