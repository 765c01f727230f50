package handlers

import (
	"log/slog"
	"net/http"

	derrors "git.home.luguber.info/inful/runledger/internal/foundation/errors"
	"git.home.luguber.info/inful/runledger/internal/logfields"
	"git.home.luguber.info/inful/runledger/internal/metrics"
	"git.home.luguber.info/inful/runledger/internal/server/responses"
	"git.home.luguber.info/inful/runledger/internal/storage"
	"git.home.luguber.info/inful/runledger/internal/version"
)

// MonitoringHandlers serves the health, metadata, and metrics endpoints.
type MonitoringHandlers struct {
	store        *storage.Engine
	recorder     metrics.Recorder
	errorAdapter *derrors.HTTPErrorAdapter
}

// NewMonitoringHandlers creates the monitoring handler set.
func NewMonitoringHandlers(store *storage.Engine, recorder metrics.Recorder, logger *slog.Logger) *MonitoringHandlers {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &MonitoringHandlers{
		store:        store,
		recorder:     recorder,
		errorAdapter: derrors.NewHTTPErrorAdapter(logger),
	}
}

// HandleHealth reports liveness. It performs no I/O: the PRAGMA values were
// cached when the engine opened, so a wedged database never fails this probe.
func (h *MonitoringHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = writeJSONPretty(w, r, http.StatusOK, responses.HealthResponse{
		Status:      "ok",
		Version:     version.Version,
		DBPath:      h.store.Path(),
		JournalMode: h.store.JournalMode(),
		Synchronous: h.store.Synchronous(),
	})
}

// HandleMetadata enumerates the distinct agent names and job types.
func (h *MonitoringHandlers) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	agents, err := h.store.DistinctValues(r.Context(), "agent_name")
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, derrors.StorageError("failed to enumerate agent names").WithCause(err).Build())
		return
	}
	jobTypes, err := h.store.DistinctValues(r.Context(), "job_type")
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, derrors.StorageError("failed to enumerate job types").WithCause(err).Build())
		return
	}
	if agents == nil {
		agents = []string{}
	}
	if jobTypes == nil {
		jobTypes = []string{}
	}

	_ = writeJSONPretty(w, r, http.StatusOK, responses.MetadataResponse{
		AgentNames: agents,
		JobTypes:   jobTypes,
		Counts: responses.MetadataCounts{
			AgentNames: len(agents),
			JobTypes:   len(jobTypes),
		},
	})
}

// HandleMetrics serves the JSON aggregate metrics.
func (h *MonitoringHandlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	total, agentCounts, recent24h, err := h.store.MetricsSnapshot(r.Context())
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, derrors.StorageError("failed to aggregate metrics").WithCause(err).Build())
		return
	}
	h.recorder.SetRunsTotal(total)

	agents := make(map[string]int64, len(agentCounts))
	desc := make([]responses.AgentCountEntry, 0, len(agentCounts))
	for _, ac := range agentCounts {
		agents[ac.Name] = ac.Count
		desc = append(desc, responses.AgentCountEntry{Name: ac.Name, Count: ac.Count})
	}

	slog.Debug("metrics served", logfields.Count(int(total)))

	_ = writeJSONPretty(w, r, http.StatusOK, responses.MetricsResponse{
		TotalRuns:  total,
		Agents:     agents,
		AgentsDesc: desc,
		Recent24h:  recent24h,
		Performance: responses.PerformanceSummary{
			DBPath:      h.store.Path(),
			JournalMode: h.store.JournalMode(),
		},
	})
}
