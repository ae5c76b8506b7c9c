// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/stratahq/strata/types"
)

// Collector exposes the memory subsystem's Prometheus metrics. It
// satisfies store.Recorder and session.Recorder so tier activity and
// session decisions can be wired straight in.
type Collector struct {
	tierHits   *prometheus.CounterVec
	tierMisses prometheus.Counter
	tierMoves  *prometheus.CounterVec

	warmItems   prometheus.Histogram
	warmTokens  prometheus.Histogram
	warmSeconds prometheus.Histogram

	driftScore     prometheus.Gauge
	driftSeverity  *prometheus.CounterVec
	forecastRecs   *prometheus.CounterVec
	contextClears  prometheus.Counter
	itemsPreserved prometheus.Counter

	logger *zap.Logger
}

// NewCollector registers the metric set under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.tierHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_hits_total",
			Help:      "Retrievals served, by tier",
		},
		[]string{"tier"},
	)

	c.tierMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_misses_total",
			Help:      "Retrievals that found no entry in any tier",
		},
	)

	c.tierMoves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_moves_total",
			Help:      "Entry migrations between tiers",
		},
		[]string{"from", "to"},
	)

	c.warmItems = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "warm_items",
			Help:      "Items admitted per warming pass",
			Buckets:   prometheus.LinearBuckets(0, 2, 8),
		},
	)

	c.warmTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "warm_tokens",
			Help:      "Tokens admitted per warming pass",
			Buckets:   prometheus.ExponentialBuckets(100, 2, 8),
		},
	)

	c.warmSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "warm_duration_seconds",
			Help:      "Warming pass duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.driftScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drift_score",
			Help:      "Most recent aggregate drift score (0-100)",
		},
	)

	c.driftSeverity = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_detections_total",
			Help:      "Drift detections, by overall severity",
		},
		[]string{"severity"},
	)

	c.forecastRecs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_recommendations_total",
			Help:      "Forecast outcomes, by recommendation",
		},
		[]string{"recommendation"},
	)

	c.contextClears = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_clears_total",
			Help:      "Context clears performed",
		},
	)

	c.itemsPreserved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_preserved_total",
			Help:      "Items preserved by the pre-clear extraction hook",
		},
	)

	return c
}

// TierHit records a retrieval served from tier.
func (c *Collector) TierHit(tier types.Tier) {
	c.tierHits.WithLabelValues(string(tier)).Inc()
}

// TierMiss records a retrieval that found nothing.
func (c *Collector) TierMiss() {
	c.tierMisses.Inc()
}

// TierMove records an entry migrating between tiers.
func (c *Collector) TierMove(from, to types.Tier) {
	c.tierMoves.WithLabelValues(string(from), string(to)).Inc()
}

// RecordWarmPass records the outcome of one warming pass.
func (c *Collector) RecordWarmPass(items, tokens int, elapsed time.Duration) {
	c.warmItems.Observe(float64(items))
	c.warmTokens.Observe(float64(tokens))
	c.warmSeconds.Observe(elapsed.Seconds())
}

// RecordDrift records a drift detection result.
func (c *Collector) RecordDrift(score int, severity types.DriftSeverity) {
	c.driftScore.Set(float64(score))
	c.driftSeverity.WithLabelValues(string(severity)).Inc()
}

// RecordForecast records a forecast recommendation.
func (c *Collector) RecordForecast(recommendation string) {
	c.forecastRecs.WithLabelValues(recommendation).Inc()
}

// RecordClear records a context clear and how much it preserved.
func (c *Collector) RecordClear(itemsPreserved int) {
	c.contextClears.Inc()
	c.itemsPreserved.Add(float64(itemsPreserved))
}
