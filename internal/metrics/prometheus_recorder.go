package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	requestDuration  *prom.HistogramVec
	ingestOutcomes   *prom.CounterVec
	rateLimited      *prom.CounterVec
	authFailures     prom.Counter
	runsTotal        prom.Gauge
	retentionDeleted prom.Counter
	backupDuration   *prom.HistogramVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.requestDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "runledger",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by route, method and status",
			Buckets:   prom.DefBuckets,
		}, []string{"route", "method", "status"})
		pr.ingestOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "runledger",
			Name:      "ingest_outcomes_total",
			Help:      "Run ingest outcomes by result",
		}, []string{"outcome"})
		pr.rateLimited = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "runledger",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}, []string{"route"})
		pr.authFailures = prom.NewCounter(prom.CounterOpts{
			Namespace: "runledger",
			Name:      "auth_failures_total",
			Help:      "Requests rejected for missing or invalid bearer token",
		})
		pr.runsTotal = prom.NewGauge(prom.GaugeOpts{
			Namespace: "runledger",
			Name:      "runs_total",
			Help:      "Total run rows in the database",
		})
		pr.retentionDeleted = prom.NewCounter(prom.CounterOpts{
			Namespace: "runledger",
			Name:      "retention_deleted_total",
			Help:      "Rows deleted by retention passes",
		})
		pr.backupDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "runledger",
			Name:      "backup_duration_seconds",
			Help:      "Duration of backup snapshots by result",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		reg.MustRegister(pr.requestDuration, pr.ingestOutcomes, pr.rateLimited,
			pr.authFailures, pr.runsTotal, pr.retentionDeleted, pr.backupDuration)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveRequestDuration(route, method string, status int, d time.Duration) {
	if p == nil || p.requestDuration == nil {
		return
	}
	p.requestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncIngestOutcome(outcome Outcome) {
	if p == nil || p.ingestOutcomes == nil {
		return
	}
	p.ingestOutcomes.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncRateLimited(route string) {
	if p == nil || p.rateLimited == nil {
		return
	}
	p.rateLimited.WithLabelValues(route).Inc()
}

func (p *PrometheusRecorder) IncAuthFailure() {
	if p == nil || p.authFailures == nil {
		return
	}
	p.authFailures.Inc()
}

func (p *PrometheusRecorder) SetRunsTotal(n int64) {
	if p == nil || p.runsTotal == nil {
		return
	}
	p.runsTotal.Set(float64(n))
}

func (p *PrometheusRecorder) ObserveRetentionDeleted(n int64) {
	if p == nil || p.retentionDeleted == nil {
		return
	}
	p.retentionDeleted.Add(float64(n))
}

func (p *PrometheusRecorder) ObserveBackupDuration(d time.Duration, success bool) {
	if p == nil || p.backupDuration == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.backupDuration.WithLabelValues(res).Observe(d.Seconds())
}

// HTTPHandler returns an http.Handler serving the Prometheus exposition
// format for the provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		reg = prom.DefaultRegisterer.(*prom.Registry)
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
