package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/runledger/internal/config"
	"git.home.luguber.info/inful/runledger/internal/storage"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	cfg.DB.Path = filepath.Join(cfg.BaseDir, "db", "telemetry.sqlite")

	if mutate != nil {
		mutate(cfg)
	}

	store, err := storage.Open(cfg.DB)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return New(cfg, store, Options{})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func runPayload(eventID string) map[string]any {
	return map[string]any{
		"event_id":   eventID,
		"run_id":     "r-" + eventID,
		"agent_name": "agent-a",
		"job_type":   "crawl",
		"start_time": "2026-01-01T00:00:00Z",
		"status":     "running",
	}
}

func TestRunLifecycle(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/runs", runPayload("e1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "created", body["status"])
	assert.Equal(t, "e1", body["event_id"])

	// json.RawMessage keeps the key order that fields_updated is expected to
	// mirror; a map[string]any would serialize alphabetically.
	rec = doJSON(t, h, http.MethodPatch, "/api/v1/runs/e1", json.RawMessage(`{
		"status":          "completed",
		"end_time":        "2026-01-01T00:00:05Z",
		"duration_ms":     5000,
		"items_succeeded": 3
	}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var patch struct {
		EventID       string   `json:"event_id"`
		Updated       bool     `json:"updated"`
		FieldsUpdated []string `json:"fields_updated"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &patch))
	assert.True(t, patch.Updated)
	assert.Equal(t, []string{"status", "end_time", "duration_ms", "items_succeeded"}, patch.FieldsUpdated)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/runs/e1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	row := decodeBody(t, rec)
	assert.Equal(t, "success", row["status"])
	assert.Equal(t, float64(5000), row["duration_ms"])
}

func TestDuplicatePostIsIdempotent(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/runs", runPayload("e1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/runs", runPayload("e1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", decodeBody(t, rec)["status"])

	rec = doJSON(t, h, http.MethodGet, "/api/v1/runs", nil)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 1)
}

func TestQueryStatusAlias(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	failed := runPayload("bad")
	failed["status"] = "failed"
	doJSON(t, h, http.MethodPost, "/api/v1/runs", failed)
	doJSON(t, h, http.MethodPost, "/api/v1/runs", runPayload("ok"))

	rec := doJSON(t, h, http.MethodGet, "/api/v1/runs?status=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "failure", rows[0]["status"])
}

func TestBatchPartialFailure(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	bogus := runPayload("b3")
	bogus["status"] = "bogus"
	rec := doJSON(t, h, http.MethodPost, "/api/v1/runs/batch", []map[string]any{
		runPayload("b1"), runPayload("b1"), bogus,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Inserted   int `json:"inserted"`
		Duplicates int `json:"duplicates"`
		Errors     []struct {
			Index   int    `json:"index"`
			EventID string `json:"event_id"`
		} `json:"errors"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Inserted)
	assert.Equal(t, 1, resp.Duplicates)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 2, resp.Errors[0].Index)
	assert.Equal(t, "b3", resp.Errors[0].EventID)
	assert.Equal(t, 3, resp.Total)
}

func TestBatchNullEntryRejectedNotFatal(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/runs/batch", []any{
		runPayload("n1"), nil,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Inserted int `json:"inserted"`
		Errors   []struct {
			Index int    `json:"index"`
			Error string `json:"error"`
		} `json:"errors"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Inserted)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Errors[0].Index)
	assert.Equal(t, "record is null", resp.Errors[0].Error)
	assert.Equal(t, 2, resp.Total)
}

func TestValidationFailureReturns422(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	payload := runPayload("e1")
	payload["items_failed"] = -1
	rec := doJSON(t, h, http.MethodPost, "/api/v1/runs", payload)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "items_failed")
}

func TestPatchErrors(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	doJSON(t, h, http.MethodPost, "/api/v1/runs", runPayload("e1"))

	rec := doJSON(t, h, http.MethodPatch, "/api/v1/runs/missing", map[string]any{"status": "success"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// immutable keys are filtered, leaving an empty patch
	rec = doJSON(t, h, http.MethodPatch, "/api/v1/runs/e1", map[string]any{"event_id": "e2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPatch, "/api/v1/runs/e1", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommitAndRepoURLs(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	payload := runPayload("e1")
	payload["git_repo"] = "git@github.com:o/r.git"
	payload["git_commit_hash"] = "abc1234"
	doJSON(t, h, http.MethodPost, "/api/v1/runs", payload)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/runs/e1/commit-url", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://github.com/o/r/commit/abc1234", decodeBody(t, rec)["commit_url"])

	rec = doJSON(t, h, http.MethodGet, "/api/v1/runs/e1/repo-url", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://github.com/o/r", decodeBody(t, rec)["repo_url"])

	ftp := runPayload("e2")
	ftp["git_repo"] = "ftp://x"
	ftp["git_commit_hash"] = "abc1234"
	doJSON(t, h, http.MethodPost, "/api/v1/runs", ftp)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/runs/e2/commit-url", nil)
	assert.Nil(t, decodeBody(t, rec)["commit_url"])
	rec = doJSON(t, h, http.MethodGet, "/api/v1/runs/e2/repo-url", nil)
	assert.Nil(t, decodeBody(t, rec)["repo_url"])

	rec = doJSON(t, h, http.MethodGet, "/api/v1/runs/missing/commit-url", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssociateCommit(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	doJSON(t, h, http.MethodPost, "/api/v1/runs", runPayload("e1"))

	rec := doJSON(t, h, http.MethodPost, "/api/v1/runs/e1/associate-commit", map[string]any{
		"git_commit_hash":   "abc1234def",
		"git_commit_source": "ci",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decodeBody(t, rec)["status"])

	rec = doJSON(t, h, http.MethodGet, "/api/v1/runs/e1", nil)
	row := decodeBody(t, rec)
	assert.Equal(t, "abc1234def", row["git_commit_hash"])
	assert.Equal(t, "ci", row["git_commit_source"])

	rec = doJSON(t, h, http.MethodPost, "/api/v1/runs/e1/associate-commit", map[string]any{
		"git_commit_hash": "short",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/runs/missing/associate-commit", map[string]any{
		"git_commit_hash": "abc1234def",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetadata(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	a := runPayload("e1")
	a["agent_name"] = "zeta"
	b := runPayload("e2")
	b["agent_name"] = "alpha"
	doJSON(t, h, http.MethodPost, "/api/v1/runs", a)
	doJSON(t, h, http.MethodPost, "/api/v1/runs", b)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/metadata", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		AgentNames []string `json:"agent_names"`
		JobTypes   []string `json:"job_types"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"alpha", "zeta"}, resp.AgentNames)
	assert.Equal(t, []string{"crawl"}, resp.JobTypes)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	doJSON(t, h, http.MethodPost, "/api/v1/runs", runPayload("e1"))

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decodeBody(t, rec)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "delete", health["journal_mode"])

	rec = doJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decodeBody(t, rec)
	assert.Equal(t, float64(1), m["total_runs"])
}

func TestBearerAuth(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) {
		cfg.API.AuthEnabled = true
		cfg.API.AuthToken = "secret"
	}).Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/runs", runPayload("e1"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader(mustJSON(t, runPayload("e1"))))
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader(mustJSON(t, runPayload("e1"))))
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	// exempt routes work without a token
	rec = doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/v1/metadata", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiting(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) {
		cfg.API.RateLimitEnabled = true
		cfg.API.RateLimitRPM = 2
	}).Handler()

	for i := 0; i < 2; i++ {
		rec := doJSON(t, h, http.MethodGet, "/api/v1/runs", nil)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// health is exempt
	for i := 0; i < 5; i++ {
		rec := doJSON(t, h, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestQueryPaginationPartitions(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	for i := 0; i < 6; i++ {
		p := runPayload(fmt.Sprintf("e%d", i))
		p["created_at"] = fmt.Sprintf("2026-01-01T00:00:0%dZ", i)
		doJSON(t, h, http.MethodPost, "/api/v1/runs", p)
	}

	seen := map[string]bool{}
	for offset := 0; offset < 6; offset += 2 {
		rec := doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/v1/runs?limit=2&offset=%d", offset), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var rows []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
		assert.LessOrEqual(t, len(rows), 2)
		for _, row := range rows {
			id := row["event_id"].(string)
			assert.False(t, seen[id])
			seen[id] = true
		}
	}
	assert.Len(t, seen, 6)
}

func TestQueryRejectsBadParams(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/v1/runs?created_after=notadate", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/runs?limit=5000", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartStop(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.API.Host = "127.0.0.1"
		cfg.API.Port = 0
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx))
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop(ctx))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
