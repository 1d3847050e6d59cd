// Package metrics exports engine counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"costengine/internal/core/entity"
	"costengine/internal/domain/run"
)

const namespace = "costengine"

// Collector implements run.Metrics on a dedicated registry.
type Collector struct {
	registry  *prometheus.Registry
	units     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	skipped   prometheus.Counter
	backfills prometheus.Counter
	conflicts prometheus.Counter
	flags     *prometheus.CounterVec
}

var _ run.Metrics = (*Collector)(nil)

// New registers the engine metrics plus the Go and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Units of work finished, by final status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_duration_seconds",
			Help:      "Wall time of one unit of work including conflict retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"status"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_skipped_total",
			Help:      "Units already recorded with the same idempotency key.",
		}),
		backfills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfills_total",
			Help:      "Synthetic backfill receipts created.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_conflicts_total",
			Help:      "Allocation commits retried after a concurrent modification.",
		}),
		flags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flags_total",
			Help:      "Data-quality flags raised, by code.",
		}, []string{"code", "severity"}),
	}
	c.registry.MustRegister(
		c.units, c.duration, c.skipped, c.backfills, c.conflicts, c.flags,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) UnitFinished(status entity.UnitStatus, d time.Duration) {
	c.units.WithLabelValues(string(status)).Inc()
	c.duration.WithLabelValues(string(status)).Observe(d.Seconds())
}

func (c *Collector) UnitSkipped()     { c.skipped.Inc() }
func (c *Collector) BackfillCreated() { c.backfills.Inc() }
func (c *Collector) ConflictRetried() { c.conflicts.Inc() }

func (c *Collector) FlagRaised(code entity.FlagCode) {
	c.flags.WithLabelValues(string(code), code.Severity()).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

