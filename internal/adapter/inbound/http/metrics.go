// Package http provides the HTTP transport adapter for the governed
// action pipeline.
package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	DecisionsTotal  *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	FeedDropsTotal  prometheus.Counter
	RateLimitKeys   prometheus.Gauge
	TokensTracked   prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "covenantgate",
				Name:      "requests_total",
				Help:      "Total number of pipeline requests processed",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "covenantgate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "covenantgate",
				Name:      "decisions_total",
				Help:      "Pipeline decisions by action, decision, and reason",
			},
			[]string{"action", "decision", "reason"},
		),
		StageDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "covenantgate",
				Name:      "stage_duration_seconds",
				Help:      "Per-stage pipeline duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		FeedDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "covenantgate",
				Name:      "receipt_feed_drops_total",
				Help:      "Receipt notifications dropped due to backpressure",
			},
		),
		RateLimitKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "covenantgate",
				Name:      "rate_limit_keys",
				Help:      "Number of active rate limit keys",
			},
		),
		TokensTracked: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "covenantgate",
				Name:      "capability_tokens_tracked",
				Help:      "Capability tokens currently held by the ledger",
			},
		),
	}
}

// RecordDecision implements the pipeline metrics sink.
func (m *Metrics) RecordDecision(actionID, decisionValue, reasonCode string) {
	m.DecisionsTotal.WithLabelValues(actionID, decisionValue, reasonCode).Inc()
}

// RecordStageDuration implements the pipeline metrics sink.
func (m *Metrics) RecordStageDuration(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
