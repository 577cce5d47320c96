// Package metrics holds the prometheus collectors for gateway statements,
// multi-shard fan-outs and connection health.
//
// A nil *Collector is valid and records nothing, so components take one
// optionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "strata"

	// Outcome labels.
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Collector groups every metric the engine exports.
type Collector struct {
	statements *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	cacheHits  *prometheus.CounterVec
	fanOuts    *prometheus.CounterVec
	fanOutRows *prometheus.CounterVec
	healthy    *prometheus.GaugeVec
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests; prometheus.DefaultRegisterer in binaries.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		statements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "statements_total",
				Help:      "Total number of statements executed by connection, operation and outcome",
			},
			[]string{"connection", "op", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "statement_duration_seconds",
				Help:      "Statement execution time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"connection", "op"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "statement_cache_hits_total",
				Help:      "Rendered statements served from the statement cache",
			},
			[]string{"connection"},
		),
		fanOuts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fanout",
				Name:      "operations_total",
				Help:      "Total number of multi-shard operations by entity type and outcome",
			},
			[]string{"entity", "outcome"},
		),
		fanOutRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fanout",
				Name:      "affected_rows_total",
				Help:      "Rows changed by multi-shard operations",
			},
			[]string{"entity"},
		),
		healthy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "healthy",
				Help:      "1 if the connection answered its last health check, 0 otherwise",
			},
			[]string{"connection"},
		),
	}
}

// ObserveStatement records one gateway statement started at start.
func (c *Collector) ObserveStatement(connection, op string, start time.Time, err error) {
	if c == nil {
		return
	}
	c.statements.WithLabelValues(connection, op, outcome(err)).Inc()
	c.duration.WithLabelValues(connection, op).Observe(time.Since(start).Seconds())
}

// StatementCacheHit counts a rendered statement reused from the cache.
func (c *Collector) StatementCacheHit(connection string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(connection).Inc()
}

// ObserveFanOut records a multi-shard operation and the rows it changed.
func (c *Collector) ObserveFanOut(entity string, affected int64, err error) {
	if c == nil {
		return
	}
	c.fanOuts.WithLabelValues(entity, outcome(err)).Inc()
	if affected > 0 {
		c.fanOutRows.WithLabelValues(entity).Add(float64(affected))
	}
}

// SetHealthy records the result of a connection health check.
func (c *Collector) SetHealthy(connection string, up bool) {
	if c == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	c.healthy.WithLabelValues(connection).Set(v)
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
