// Package metrics defines the Prometheus collectors shared by shards, the
// coordinator and the HTTP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shardsearch"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// TasksTotal counts cooperative tasks by execution mode and final state.
	TasksTotal *prometheus.CounterVec

	// ShardRequestsTotal counts shard requests by partial marker.
	ShardRequestsTotal *prometheus.CounterVec

	// ShardRequestSeconds measures shard request latency by execution mode.
	ShardRequestSeconds *prometheus.HistogramVec

	// BudgetExceededTotal counts shard requests that ran out of budget.
	BudgetExceededTotal *prometheus.CounterVec

	// QueriesTotal counts client queries by outcome.
	QueriesTotal *prometheus.CounterVec

	// QuerySeconds measures client query latency.
	QuerySeconds prometheus.Histogram

	// ShardFailuresTotal counts failed shard calls by shard.
	ShardFailuresTotal *prometheus.CounterVec

	// DocumentsIndexedTotal counts documents accepted into write buffers.
	DocumentsIndexedTotal prometheus.Counter

	// CommitsTotal counts segments cut by commits.
	CommitsTotal prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests use.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TasksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "shard",
				Name:      "tasks_total",
				Help:      "Cooperative tasks run, by execution mode and final state",
			},
			[]string{"mode", "state"},
		),

		ShardRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "shard",
				Name:      "requests_total",
				Help:      "Shard requests served, by partial-results marker",
			},
			[]string{"partial"},
		),

		ShardRequestSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "shard",
				Name:      "request_duration_seconds",
				Help:      "Shard request latency by execution mode",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"mode"},
		),

		BudgetExceededTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "shard",
				Name:      "budget_exceeded_total",
				Help:      "Shard requests that ran out of budget, by budget kind",
			},
			[]string{"kind"},
		),

		QueriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "coordinator",
				Name:      "queries_total",
				Help:      "Client queries by outcome",
			},
			[]string{"outcome"},
		),

		QuerySeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "coordinator",
				Name:      "query_duration_seconds",
				Help:      "Client query latency",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),

		ShardFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "coordinator",
				Name:      "shard_failures_total",
				Help:      "Failed shard calls by shard",
			},
			[]string{"shard"},
		),

		DocumentsIndexedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "indexing",
				Name:      "documents_total",
				Help:      "Documents accepted into write buffers",
			},
		),

		CommitsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "indexing",
				Name:      "commits_total",
				Help:      "Segments cut by commits",
			},
		),
	}
}

// ObserveTask records one finished task.
func (m *Metrics) ObserveTask(mode, state string) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(mode, state).Inc()
}

// ObserveShardRequest records one finished shard request.
func (m *Metrics) ObserveShardRequest(mode, partial string, d time.Duration) {
	if m == nil {
		return
	}
	m.ShardRequestsTotal.WithLabelValues(partial).Inc()
	m.ShardRequestSeconds.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveBudgetExceeded records a shard request that ran out of budget.
func (m *Metrics) ObserveBudgetExceeded(kind string) {
	if m == nil {
		return
	}
	m.BudgetExceededTotal.WithLabelValues(kind).Inc()
}

// ObserveQuery records one finished client query.
func (m *Metrics) ObserveQuery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(outcome).Inc()
	m.QuerySeconds.Observe(d.Seconds())
}

// ObserveShardFailure records a failed shard call.
func (m *Metrics) ObserveShardFailure(shard string) {
	if m == nil {
		return
	}
	m.ShardFailuresTotal.WithLabelValues(shard).Inc()
}

// ObserveIndexed records documents accepted for indexing.
func (m *Metrics) ObserveIndexed(n int) {
	if m == nil {
		return
	}
	m.DocumentsIndexedTotal.Add(float64(n))
}

// ObserveCommit records a commit that cut a segment.
func (m *Metrics) ObserveCommit() {
	if m == nil {
		return
	}
	m.CommitsTotal.Inc()
}
