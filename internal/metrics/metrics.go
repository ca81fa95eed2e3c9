// Package metrics registers the Prometheus collectors shared across the
// Tenant Orchestrator and Tenant Worker processes. Values are process-local:
// only the orchestrator serves /metrics (via its Router); collectors updated
// inside a tenant worker process stay in that process, which serves no HTTP
// endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TenantsSupervised reports how many tenant workers the Orchestrator
	// currently tracks, broken down by supervision state.
	TenantsSupervised = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stockclerk_tenants_supervised",
			Help: "Number of tenant workers tracked by the orchestrator, by state",
		},
		[]string{"state"},
	)

	// WorkerRestartsTotal counts every restart the orchestrator performs
	// after a tenant worker crashes or fails its health check.
	WorkerRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stockclerk_worker_restarts_total",
			Help: "Total number of tenant worker restarts performed by the orchestrator",
		},
	)

	// WebhooksIngestedTotal counts webhooks the orchestrator's shared
	// listener accepted or rejected, by channel kind and outcome.
	WebhooksIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockclerk_webhooks_ingested_total",
			Help: "Total number of webhooks received on the orchestrator's shared ingress, by channel kind and outcome",
		},
		[]string{"channel_kind", "outcome"},
	)

	// SyncPushesTotal counts channel stock writes the Sync Agent performs,
	// by channel kind and outcome (spec.md §4.3).
	SyncPushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockclerk_sync_pushes_total",
			Help: "Total number of channel stock pushes attempted by the sync agent, by channel kind and outcome",
		},
		[]string{"channel_kind", "outcome"},
	)

	// SyncPushDuration times a single channel write, including rate-limit
	// wait and retry backoff.
	SyncPushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockclerk_sync_push_duration_seconds",
			Help:    "Time taken to push a stock update to one channel, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel_kind"},
	)

	// ReconciliationDriftTotal counts drift findings the Guardian raises,
	// by channel kind and severity (spec.md §4.4).
	ReconciliationDriftTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockclerk_reconciliation_drift_total",
			Help: "Total number of drift findings raised by the guardian, by channel kind and severity",
		},
		[]string{"channel_kind", "severity"},
	)
)

func init() {
	prometheus.MustRegister(TenantsSupervised)
	prometheus.MustRegister(WorkerRestartsTotal)
	prometheus.MustRegister(WebhooksIngestedTotal)
	prometheus.MustRegister(SyncPushesTotal)
	prometheus.MustRegister(SyncPushDuration)
	prometheus.MustRegister(ReconciliationDriftTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time against histogram with labels.
func (t *Timer) ObserveDuration(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
