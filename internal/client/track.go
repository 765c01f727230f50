package client

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/runledger/internal/run"
)

// RunScope is the handle yielded to a tracked run body.
type RunScope struct {
	client *Client
	runID  string
}

// RunID returns the resolved run identifier (which may differ from the
// requested custom id after validation or collision repair).
func (s *RunScope) RunID() string { return s.runID }

// LogEvent appends a message to the run's event log.
func (s *RunScope) LogEvent(eventType, message string, details map[string]any) {
	s.client.LogEvent(s.runID, eventType, message, details)
}

// SetMetrics merges metric values into the run's record.
func (s *RunScope) SetMetrics(metrics map[string]any) {
	s.client.SetMetrics(s.runID, metrics)
}

// TrackRun wraps fn in the run lifecycle: StartRun on entry, EndRun with
// status success on normal return, EndRun with status failure and the error
// string on failure or panic. The body's error (or panic) always propagates
// to the caller; the registry entry is released on every path.
func (c *Client) TrackRun(ctx context.Context, opts StartOptions, fn func(*RunScope) error) (err error) {
	runID := c.StartRun(ctx, opts)
	scope := &RunScope{client: c, runID: runID}

	defer func() {
		if p := recover(); p != nil {
			c.EndRun(ctx, runID, EndOptions{
				Status:       string(run.StatusFailure),
				ErrorSummary: fmt.Sprint(p),
			})
			panic(p)
		}
		if err != nil {
			c.EndRun(ctx, runID, EndOptions{
				Status:       string(run.StatusFailure),
				ErrorSummary: err.Error(),
			})
			return
		}
		c.EndRun(ctx, runID, EndOptions{Status: string(run.StatusSuccess)})
	}()

	return fn(scope)
}
