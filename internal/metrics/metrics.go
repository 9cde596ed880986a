// Package metrics exposes per-database Prometheus collectors. Each open
// database owns its own registry, so several databases in one process do
// not collide.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	TypeLabel    = "type"
	KindLabel    = "kind"
	ResultLabel  = "result"
	OutcomeLabel = "outcome"
	Succeeded    = "succeeded"
	Failed       = "failed"
	Hit          = "hit"
	Miss         = "miss"
	Commit       = "commit"
	Rollback     = "rollback"
)

const (
	namespace = "rowmodel"
	allTypes  = "*"
)

// Metrics holds the collectors of one database.
type Metrics struct {
	registry *prometheus.Registry

	queueOps      *prometheus.CounterVec
	queueWait     prometheus.Histogram
	queueRun      prometheus.Histogram
	transactions  *prometheus.CounterVec
	cacheRequests *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	events        *prometheus.CounterVec
}

// New creates and registers the collectors. loaded, when non-nil, backs
// a gauge of live identity-map entries.
func New(loaded func() float64) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queueOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_operations_total",
				Help:      "Operations executed by the access queue",
			},
			[]string{OutcomeLabel},
		),
		queueWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_wait_seconds",
				Help:      "Time operations spent waiting for the access queue",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
		queueRun: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_run_seconds",
				Help:      "Time operations spent running on the access queue",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Finished transactions by outcome",
			},
			[]string{OutcomeLabel},
		),
		cacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Query cache lookups by model type and result",
			},
			[]string{TypeLabel, ResultLabel},
		),
		invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidated_entries_total",
				Help:      "Query cache entries dropped by writes or low-memory clears",
			},
			[]string{TypeLabel},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_delivered_total",
				Help:      "Change events delivered by model type and kind",
			},
			[]string{TypeLabel, KindLabel},
		),
	}

	m.registry.MustRegister(
		m.queueOps,
		m.queueWait,
		m.queueRun,
		m.transactions,
		m.cacheRequests,
		m.invalidations,
		m.events,
	)
	if loaded != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "identity_map_entries",
				Help:      "Live instances held in the identity map",
			},
			loaded,
		))
	}
	return m
}

// Registry returns the registry holding this database's collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// OpFinished implements the access queue observer.
func (m *Metrics) OpFinished(wait, run time.Duration, err error) {
	outcome := Succeeded
	if err != nil {
		outcome = Failed
	}
	m.queueOps.WithLabelValues(outcome).Inc()
	m.queueWait.Observe(wait.Seconds())
	m.queueRun.Observe(run.Seconds())
}

// TxBegan implements the access queue observer.
func (m *Metrics) TxBegan(context.Context) {}

// TxCommitted implements the access queue observer.
func (m *Metrics) TxCommitted(context.Context) {
	m.transactions.WithLabelValues(Commit).Inc()
}

// TxRolledBack implements the access queue observer.
func (m *Metrics) TxRolledBack(context.Context) {
	m.transactions.WithLabelValues(Rollback).Inc()
}

// CacheHit implements the query cache observer.
func (m *Metrics) CacheHit(typ string) {
	m.cacheRequests.WithLabelValues(typ, Hit).Inc()
}

// CacheMiss implements the query cache observer.
func (m *Metrics) CacheMiss(typ string) {
	m.cacheRequests.WithLabelValues(typ, Miss).Inc()
}

// CacheInvalidated implements the query cache observer. An empty type
// means every type (a full clear).
func (m *Metrics) CacheInvalidated(typ string, entries int) {
	if typ == "" {
		typ = allTypes
	}
	m.invalidations.WithLabelValues(typ).Add(float64(entries))
}

// EventDelivered implements the notification observer.
func (m *Metrics) EventDelivered(typ, kind string, _ int) {
	m.events.WithLabelValues(typ, kind).Inc()
}
