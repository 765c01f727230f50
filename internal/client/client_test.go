package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/runledger/internal/config"
	"git.home.luguber.info/inful/runledger/internal/run"
)

// fakeAPI mimics the ingestion endpoints with toggleable availability.
type fakeAPI struct {
	mu      sync.Mutex
	down    bool
	created map[string]*run.Record
	patches map[string][]map[string]any
	srv     *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{
		created: map[string]*run.Record{},
		patches: map[string][]map[string]any{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/runs":
		var rec run.Record
		_ = json.NewDecoder(r.Body).Decode(&rec)
		if _, ok := f.created[rec.EventID]; ok {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"duplicate"}`))
			return
		}
		f.created[rec.EventID] = &rec
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"created"}`))
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/api/v1/runs/"):
		eventID := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
		if _, ok := f.created[eventID]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"run not found"}`))
			return
		}
		var fields map[string]any
		_ = json.NewDecoder(r.Body).Decode(&fields)
		f.patches[eventID] = append(f.patches[eventID], fields)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"updated":true}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeAPI) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeAPI) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeAPI) patchCount(eventID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.patches[eventID])
}

func newTestClient(t *testing.T, api *fakeAPI) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	c, err := New(config.ClientConfig{
		APIBaseURL:  api.srv.URL,
		PostTimeout: 2 * time.Second,
	}, Options{BaseDir: base})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, base
}

func TestStartEndDeliversToAPI(t *testing.T) {
	api := newFakeAPI(t)
	c, base := newTestClient(t, api)
	ctx := context.Background()

	runID := c.StartRun(ctx, StartOptions{AgentName: "agent-a", JobType: "crawl"})
	require.NotEmpty(t, runID)
	assert.Equal(t, 1, api.createdCount())
	assert.Equal(t, 1, c.registry.openCount())

	c.EndRun(ctx, runID, EndOptions{Status: "completed", OutputSummary: "done"})
	assert.Equal(t, 0, c.registry.openCount())
	assert.Equal(t, 0, c.PendingBufferEvents())

	// the event log holds both lifecycle lines
	entries, err := os.ReadDir(filepath.Join(base, "raw"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(base, "raw", entries[0].Name()))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "run_start")
	assert.Contains(t, lines[1], "run_end")
}

func TestFailoverBuffersAndReplays(t *testing.T) {
	api := newFakeAPI(t)
	c, base := newTestClient(t, api)
	ctx := context.Background()

	api.setDown(true)
	runID := c.StartRun(ctx, StartOptions{AgentName: "agent-a", JobType: "crawl"})
	c.EndRun(ctx, runID, EndOptions{Status: "success"})

	assert.Equal(t, 0, api.createdCount())
	assert.Equal(t, 2, c.PendingBufferEvents())

	// buffer files survive an unavailable API cycle
	_, err := c.SyncNow(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, c.PendingBufferEvents())

	api.setDown(false)
	replayed, err := c.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, replayed)
	assert.Equal(t, 0, c.PendingBufferEvents())
	assert.Equal(t, 1, api.createdCount())

	// the finalize replay patched the final fields
	var eventID string
	for id := range api.created {
		eventID = id
	}
	assert.GreaterOrEqual(t, api.patchCount(eventID), 1)

	// no stray tmp files
	files, err := os.ReadDir(filepath.Join(base, "buffer"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestEventIDStableAcrossRetries(t *testing.T) {
	api := newFakeAPI(t)
	c, _ := newTestClient(t, api)
	ctx := context.Background()

	api.setDown(true)
	runID := c.StartRun(ctx, StartOptions{AgentName: "a", JobType: "j"})
	rec := c.registry.get(runID)
	require.NotNil(t, rec)
	eventID := rec.EventID
	c.EndRun(ctx, runID, EndOptions{Status: "success"})

	api.setDown(false)
	_, err := c.SyncNow(ctx)
	require.NoError(t, err)

	api.mu.Lock()
	defer api.mu.Unlock()
	_, ok := api.created[eventID]
	assert.True(t, ok, "replay must reuse the original event_id")
	assert.Len(t, api.created, 1)
}

func TestEndRunUnknownIsSwallowed(t *testing.T) {
	api := newFakeAPI(t)
	c, _ := newTestClient(t, api)

	c.EndRun(context.Background(), "never-started", EndOptions{Status: "success"})
	assert.Equal(t, 0, api.createdCount())
}

func TestLogEventWritesOnlyEventLog(t *testing.T) {
	api := newFakeAPI(t)
	c, base := newTestClient(t, api)
	ctx := context.Background()

	runID := c.StartRun(ctx, StartOptions{AgentName: "a", JobType: "j"})
	before := api.createdCount()

	c.LogEvent(runID, "progress", "halfway", map[string]any{"pct": 50})
	assert.Equal(t, before, api.createdCount())

	entries, err := os.ReadDir(filepath.Join(base, "raw"))
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(base, "raw", entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "halfway")
}

func TestTrackRunSuccess(t *testing.T) {
	api := newFakeAPI(t)
	c, _ := newTestClient(t, api)

	var got string
	err := c.TrackRun(context.Background(), StartOptions{AgentName: "a", JobType: "j"}, func(s *RunScope) error {
		got = s.RunID()
		s.SetMetrics(map[string]any{"pages": 3})
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	assert.Equal(t, 0, c.registry.openCount())
}

func TestTrackRunFailureReRaises(t *testing.T) {
	api := newFakeAPI(t)
	c, _ := newTestClient(t, api)

	boom := errors.New("boom")
	err := c.TrackRun(context.Background(), StartOptions{AgentName: "a", JobType: "j"}, func(s *RunScope) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.registry.openCount())
}

func TestTrackRunPanicPropagates(t *testing.T) {
	api := newFakeAPI(t)
	c, _ := newTestClient(t, api)

	assert.Panics(t, func() {
		_ = c.TrackRun(context.Background(), StartOptions{AgentName: "a", JobType: "j"}, func(s *RunScope) error {
			panic("kaboom")
		})
	})
	assert.Equal(t, 0, c.registry.openCount())
}

func TestRunIDValidationAndMetrics(t *testing.T) {
	api := newFakeAPI(t)
	c, _ := newTestClient(t, api)
	ctx := context.Background()

	ok := c.StartRun(ctx, StartOptions{AgentName: "a", JobType: "j", RunID: "custom-1"})
	assert.Equal(t, "custom-1", ok)

	// generated ids carry a sortable UTC timestamp prefix
	generatedFormat := regexp.MustCompile(`^\d{8}T\d{6}Z-a-[0-9a-f]{8}$`)

	bad := c.StartRun(ctx, StartOptions{AgentName: "a", JobType: "j", RunID: "has/slash"})
	assert.NotEqual(t, "has/slash", bad)
	assert.Equal(t, run.RunIDOK, run.ValidateRunID(bad))
	assert.Regexp(t, generatedFormat, bad)

	empty := c.StartRun(ctx, StartOptions{AgentName: "a", JobType: "j", RunID: "   "})
	assert.Equal(t, run.RunIDOK, run.ValidateRunID(empty))
	assert.Regexp(t, generatedFormat, empty)

	long := c.StartRun(ctx, StartOptions{AgentName: "a", JobType: "j", RunID: strings.Repeat("x", 300)})
	assert.Equal(t, run.RunIDOK, run.ValidateRunID(long))
	assert.Regexp(t, generatedFormat, long)

	// collision with an active custom id gets a -duplicate- suffix
	dup := c.StartRun(ctx, StartOptions{AgentName: "a", JobType: "j", RunID: "custom-1"})
	assert.NotEqual(t, "custom-1", dup)
	assert.Contains(t, dup, "custom-1-duplicate-")

	m := c.RunIDMetricsSnapshot()
	assert.Equal(t, int64(2), m.CustomAccepted)
	assert.Equal(t, int64(3), m.Generated)
	assert.Equal(t, int64(1), m.Rejected.Empty)
	assert.Equal(t, int64(1), m.Rejected.TooLong)
	assert.Equal(t, int64(1), m.Rejected.InvalidChars)
	assert.Equal(t, int64(3), m.Rejected.Total)
	assert.Equal(t, int64(1), m.DuplicatesDetected)
	assert.Equal(t, int64(5), m.TotalRuns)
	assert.InDelta(t, 40.0, m.CustomPercentage, 0.01)
}

func TestSyncWorkerReplaysInBackground(t *testing.T) {
	api := newFakeAPI(t)
	base := t.TempDir()

	api.setDown(true)
	c, err := New(config.ClientConfig{
		APIBaseURL:   api.srv.URL,
		SyncInterval: 50 * time.Millisecond,
		PostTimeout:  time.Second,
	}, Options{BaseDir: base, StartSyncWorker: true})
	require.NoError(t, err)
	defer c.Close()

	runID := c.StartRun(context.Background(), StartOptions{AgentName: "a", JobType: "j"})
	c.EndRun(context.Background(), runID, EndOptions{Status: "success"})
	require.Equal(t, 2, c.PendingBufferEvents())

	api.setDown(false)
	assert.Eventually(t, func() bool {
		return c.PendingBufferEvents() == 0
	}, 10*time.Second, 25*time.Millisecond)
	assert.Equal(t, 1, api.createdCount())
}
