package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	derrors "git.home.luguber.info/inful/runledger/internal/foundation/errors"
	"git.home.luguber.info/inful/runledger/internal/giturl"
	"git.home.luguber.info/inful/runledger/internal/logfields"
	"git.home.luguber.info/inful/runledger/internal/metrics"
	"git.home.luguber.info/inful/runledger/internal/observability"
	"git.home.luguber.info/inful/runledger/internal/run"
	"git.home.luguber.info/inful/runledger/internal/server/responses"
	"git.home.luguber.info/inful/runledger/internal/storage"
)

// RunHandlers contains the ingest and query handlers for run records.
type RunHandlers struct {
	store        *storage.Engine
	recorder     metrics.Recorder
	errorAdapter *derrors.HTTPErrorAdapter
	logger       *slog.Logger
}

// NewRunHandlers creates the run handler set.
func NewRunHandlers(store *storage.Engine, recorder metrics.Recorder, logger *slog.Logger) *RunHandlers {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RunHandlers{
		store:        store,
		recorder:     recorder,
		errorAdapter: derrors.NewHTTPErrorAdapter(logger),
		logger:       logger,
	}
}

// HandleCreate ingests a single run. Replays of an already-seen event_id are
// absorbed and reported as duplicate with 200.
func (h *RunHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var rec run.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		h.recorder.IncIngestOutcome(metrics.OutcomeRejected)
		h.errorAdapter.WriteErrorResponse(w, r, derrors.ValidationError("request body is not valid JSON").WithCause(err).Build())
		return
	}

	rec.Status = run.NormalizeStatus(rec.Status)
	if result := run.ValidateRecord(&rec); !result.Valid {
		h.recorder.IncIngestOutcome(metrics.OutcomeRejected)
		h.errorAdapter.WriteErrorResponse(w, r, derrors.SchemaError("run record failed validation").
			WithFields(result.Errors...).Build())
		return
	}

	ctx := observability.WithEventID(r.Context(), rec.EventID)
	ctx = observability.WithRunID(ctx, rec.RunID)
	ctx = observability.WithAgent(ctx, rec.AgentName)

	result, err := h.store.InsertRun(ctx, &rec)
	if err != nil {
		h.recorder.IncIngestOutcome(metrics.OutcomeError)
		h.errorAdapter.WriteErrorResponse(w, r, derrors.StorageError("failed to store run").WithCause(err).
			WithContext("event_id", rec.EventID).Build())
		return
	}

	status := http.StatusCreated
	outcome := metrics.OutcomeCreated
	if result == storage.InsertDuplicate {
		status = http.StatusOK
		outcome = metrics.OutcomeDuplicate
	}
	h.recorder.IncIngestOutcome(outcome)
	observability.InfoContext(ctx, "run ingested", logfields.Status(string(result)))

	_ = writeJSONPretty(w, r, status, responses.CreateRunResponse{
		Status:  string(result),
		EventID: rec.EventID,
		RunID:   rec.RunID,
	})
}

// HandleBatch ingests a JSON array of runs. Per-record failures are collected
// in the response; the HTTP status is 200 even when some records fail.
func (h *RunHandlers) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var recs []*run.Record
	if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, derrors.ValidationError("request body must be a JSON array of runs").WithCause(err).Build())
		return
	}

	resp := responses.BatchResponse{Total: len(recs), Errors: []storage.BatchError{}}

	// Boundary validation first; invalid records never reach the engine.
	valid := make([]*run.Record, 0, len(recs))
	validIdx := make([]int, 0, len(recs))
	for i, rec := range recs {
		if rec == nil {
			resp.Errors = append(resp.Errors, storage.BatchError{
				Index: i,
				Error: "record is null",
			})
			h.recorder.IncIngestOutcome(metrics.OutcomeRejected)
			continue
		}
		rec.Status = run.NormalizeStatus(rec.Status)
		if result := run.ValidateRecord(rec); !result.Valid {
			resp.Errors = append(resp.Errors, storage.BatchError{
				Index:   i,
				EventID: rec.EventID,
				Error:   result.Errors[0].Message,
			})
			h.recorder.IncIngestOutcome(metrics.OutcomeRejected)
			continue
		}
		valid = append(valid, rec)
		validIdx = append(validIdx, i)
	}

	if len(valid) > 0 {
		result, err := h.store.BatchInsert(r.Context(), valid)
		if err != nil {
			h.errorAdapter.WriteErrorResponse(w, r, derrors.StorageError("batch insert failed").WithCause(err).Build())
			return
		}
		resp.Inserted = result.Inserted
		resp.Duplicates = result.Duplicates
		for _, be := range result.Errors {
			be.Index = validIdx[be.Index]
			resp.Errors = append(resp.Errors, be)
			h.recorder.IncIngestOutcome(metrics.OutcomeError)
		}
		for i := 0; i < result.Inserted; i++ {
			h.recorder.IncIngestOutcome(metrics.OutcomeCreated)
		}
		for i := 0; i < result.Duplicates; i++ {
			h.recorder.IncIngestOutcome(metrics.OutcomeDuplicate)
		}
	}

	h.logger.Info("batch ingested",
		logfields.Count(resp.Total),
		slog.Int("inserted", resp.Inserted),
		slog.Int("duplicates", resp.Duplicates),
		slog.Int("errors", len(resp.Errors)))

	_ = writeJSONPretty(w, r, http.StatusOK, resp)
}

// HandlePatch applies a partial update. Only fields present in the body are
// written; null clears a column; the reported field list preserves body order.
func (h *RunHandlers) HandlePatch(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")

	fields, err := decodeOrderedPatch(r.Body)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, derrors.ValidationError(err.Error()).Build())
		return
	}
	fields = filterSettable(fields)
	if len(fields) == 0 {
		h.errorAdapter.WriteErrorResponse(w, r, derrors.ValidationError("patch contains no settable fields").Build())
		return
	}

	ctx := observability.WithEventID(r.Context(), eventID)
	updated, err := h.store.UpdateFields(ctx, eventID, fields)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			h.errorAdapter.WriteErrorResponse(w, r, derrors.NotFound("run", eventID).Build())
		case errors.Is(err, storage.ErrEmptyPatch):
			h.errorAdapter.WriteErrorResponse(w, r, derrors.ValidationError("patch contains no settable fields").Build())
		default:
			h.errorAdapter.WriteErrorResponse(w, r, derrors.StorageError("failed to update run").WithCause(err).
				WithContext("event_id", eventID).Build())
		}
		return
	}

	observability.InfoContext(ctx, "run updated", logfields.Count(len(updated)))

	_ = writeJSONPretty(w, r, http.StatusOK, responses.PatchResponse{
		EventID:       eventID,
		Updated:       true,
		FieldsUpdated: updated,
	})
}

// HandleFetch returns one run by event_id.
func (h *RunHandlers) HandleFetch(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")

	row, err := h.store.FetchByEventID(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.errorAdapter.WriteErrorResponse(w, r, derrors.NotFound("run", eventID).Build())
			return
		}
		h.errorAdapter.WriteErrorResponse(w, r, derrors.StorageError("failed to fetch run").WithCause(err).
			WithContext("event_id", eventID).Build())
		return
	}

	enrichURLs(row)
	_ = writeJSONPretty(w, r, http.StatusOK, row)
}

// HandleQuery lists runs with filters and pagination, newest first.
func (h *RunHandlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	rows, qerr := h.store.Query(r.Context(), filters)
	if qerr != nil {
		h.errorAdapter.WriteErrorResponse(w, r, derrors.StorageError("failed to query runs").WithCause(qerr).Build())
		return
	}
	for _, row := range rows {
		enrichURLs(row)
	}

	h.logger.Info("runs queried",
		logfields.Count(len(rows)),
		logfields.Agent(filters.AgentName),
		logfields.Status(filters.Status))

	_ = writeJSONPretty(w, r, http.StatusOK, rows)
}

// HandleCommitURL returns the derived commit browse URL for a run, or null
// when the git data is missing or the platform is unsupported.
func (h *RunHandlers) HandleCommitURL(w http.ResponseWriter, r *http.Request) {
	row, ok := h.fetchOr404(w, r)
	if !ok {
		return
	}
	repo, _ := row["git_repo"].(string)
	hash, _ := row["git_commit_hash"].(string)

	var resp responses.CommitURLResponse
	if url := giturl.CommitURL(repo, hash); url != "" {
		resp.CommitURL = &url
	}
	_ = writeJSONPretty(w, r, http.StatusOK, resp)
}

// HandleRepoURL returns the normalized repository URL for a run, or null.
func (h *RunHandlers) HandleRepoURL(w http.ResponseWriter, r *http.Request) {
	row, ok := h.fetchOr404(w, r)
	if !ok {
		return
	}
	repo, _ := row["git_repo"].(string)

	var resp responses.RepoURLResponse
	if url := giturl.NormalizeRepo(repo); url != "" {
		resp.RepoURL = &url
	}
	_ = writeJSONPretty(w, r, http.StatusOK, resp)
}

// associateCommitRequest is the body for commit association.
type associateCommitRequest struct {
	GitCommitHash      string `json:"git_commit_hash"`
	GitCommitSource    string `json:"git_commit_source"`
	GitCommitAuthor    string `json:"git_commit_author"`
	GitCommitTimestamp string `json:"git_commit_timestamp"`
	RepoURL            string `json:"repo_url"`
}

// HandleAssociateCommit overwrites the git_commit_* fields of an existing run.
func (h *RunHandlers) HandleAssociateCommit(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")

	var req associateCommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, derrors.ValidationError("request body is not valid JSON").WithCause(err).Build())
		return
	}

	if fe := run.ValidateCommitHash(req.GitCommitHash); fe != nil {
		h.errorAdapter.WriteErrorResponse(w, r, derrors.SchemaError("commit association failed validation").WithFields(*fe).Build())
		return
	}
	if req.GitCommitSource != "" && !run.IsCommitSource(req.GitCommitSource) {
		h.errorAdapter.WriteErrorResponse(w, r, derrors.SchemaError("git_commit_source must be one of manual, llm, ci").Build())
		return
	}

	err := h.store.AssociateCommit(r.Context(), eventID, storage.CommitAssociation{
		Hash:      req.GitCommitHash,
		Source:    req.GitCommitSource,
		Author:    req.GitCommitAuthor,
		Timestamp: req.GitCommitTimestamp,
		RepoURL:   req.RepoURL,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.errorAdapter.WriteErrorResponse(w, r, derrors.NotFound("run", eventID).Build())
			return
		}
		h.errorAdapter.WriteErrorResponse(w, r, derrors.StorageError("failed to associate commit").WithCause(err).
			WithContext("event_id", eventID).Build())
		return
	}

	h.logger.Info("commit associated",
		logfields.EventID(eventID),
		slog.String("git_commit_hash", req.GitCommitHash))

	_ = writeJSONPretty(w, r, http.StatusOK, responses.AssociateCommitResponse{
		Status:        "success",
		EventID:       eventID,
		GitCommitHash: req.GitCommitHash,
	})
}

func (h *RunHandlers) fetchOr404(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	eventID := r.PathValue("event_id")
	row, err := h.store.FetchByEventID(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.errorAdapter.WriteErrorResponse(w, r, derrors.NotFound("run", eventID).Build())
		} else {
			h.errorAdapter.WriteErrorResponse(w, r, derrors.StorageError("failed to fetch run").WithCause(err).
				WithContext("event_id", eventID).Build())
		}
		return nil, false
	}
	return row, true
}

// enrichURLs attaches the derived commit_url and repo_url keys to a row.
func enrichURLs(row map[string]any) {
	repo, _ := row["git_repo"].(string)
	hash, _ := row["git_commit_hash"].(string)

	if url := giturl.NormalizeRepo(repo); url != "" {
		row["repo_url"] = url
	} else {
		row["repo_url"] = nil
	}
	if url := giturl.CommitURL(repo, hash); url != "" {
		row["commit_url"] = url
	} else {
		row["commit_url"] = nil
	}
}

// parseFilters builds storage filters from the query string, validating
// timestamp bounds as ISO-8601.
func parseFilters(r *http.Request) (storage.Filters, error) {
	q := r.URL.Query()
	f := storage.Filters{
		AgentName: q.Get("agent_name"),
		Status:    q.Get("status"),
		JobType:   q.Get("job_type"),
		Limit:     storage.DefaultQueryLimit,
	}

	for _, ts := range []struct {
		param string
		dest  *string
	}{
		{"created_after", &f.CreatedAfter},
		{"created_before", &f.CreatedBefore},
		{"start_after", &f.StartAfter},
		{"start_before", &f.StartBefore},
	} {
		v := q.Get(ts.param)
		if v == "" {
			continue
		}
		if _, err := run.ParseTimestamp(v); err != nil {
			return f, derrors.ValidationError(ts.param + " must be an ISO-8601 timestamp").Build()
		}
		*ts.dest = v
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > storage.MaxQueryLimit {
			return f, derrors.ValidationError("limit must be an integer in [1, 1000]").Build()
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, derrors.ValidationError("offset must be a non-negative integer").Build()
		}
		f.Offset = n
	}
	return f, nil
}
