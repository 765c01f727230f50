package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveRequestDuration("/api/v1/runs", "POST", 201, time.Millisecond)
	r.IncIngestOutcome(OutcomeCreated)
	r.IncRateLimited("/api/v1/runs")
	r.IncAuthFailure()
	r.SetRunsTotal(10)
	r.ObserveRetentionDeleted(5)
	r.ObserveBackupDuration(time.Second, true)
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var p *PrometheusRecorder
	p.ObserveRequestDuration("/api/v1/runs", "POST", 201, time.Millisecond)
	p.IncIngestOutcome(OutcomeDuplicate)
	p.SetRunsTotal(1)
}

func TestPrometheusRecorderRegisters(t *testing.T) {
	reg := prom.NewRegistry()
	p := NewPrometheusRecorder(reg)

	p.ObserveRequestDuration("/api/v1/runs", "POST", 201, 5*time.Millisecond)
	p.IncIngestOutcome(OutcomeCreated)
	p.IncIngestOutcome(OutcomeCreated)
	p.IncRateLimited("/api/v1/runs")
	p.SetRunsTotal(42)
	p.ObserveBackupDuration(time.Second, false)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["runledger_request_duration_seconds"])
	assert.True(t, names["runledger_ingest_outcomes_total"])
	assert.True(t, names["runledger_runs_total"])
	assert.True(t, names["runledger_backup_duration_seconds"])
}
