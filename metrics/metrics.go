// Package metrics exposes Prometheus collectors for reconciliation passes.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/vacation-engine/vacation"
)

// Metrics implements vacation.Observer.
type Metrics struct {
	passes    *prometheus.CounterVec
	writes    *prometheus.CounterVec
	overflows prometheus.Counter
	duration  *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

var _ vacation.Observer = (*Metrics)(nil)

// New registers the collectors against registerer. A nil registerer uses
// the default Prometheus registry (registered once per process).
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = build(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return build(registerer)
}

func build(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vacation",
			Subsystem: "reconcile",
			Name:      "passes_total",
			Help:      "Employee reconciliation passes by outcome.",
		}, []string{"outcome"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vacation",
			Subsystem: "reconcile",
			Name:      "cycle_writes_total",
			Help:      "Cycles created or updated by reconciliation.",
		}, []string{"kind"}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vacation",
			Subsystem: "reconcile",
			Name:      "allocation_overflows_total",
			Help:      "Passes where approved days exceeded active entitlement.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vacation",
			Subsystem: "reconcile",
			Name:      "pass_duration_seconds",
			Help:      "Duration of employee reconciliation passes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	registerer.MustRegister(m.passes, m.writes, m.overflows, m.duration)
	return m
}

// ObservePass records one pass. Dry runs count as passes but not writes.
func (m *Metrics) ObservePass(outcome string, d time.Duration, res *vacation.Result) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())
	if res == nil {
		return
	}
	if res.Overflow() != nil {
		m.overflows.Inc()
	}
	if res.DryRun {
		return
	}
	m.writes.WithLabelValues("created").Add(float64(len(res.Created)))
	m.writes.WithLabelValues("updated").Add(float64(len(res.Updated)))
}
