package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Update outcomes recorded by SchedulerCollector.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomePanic   = "panic"
	OutcomeSkipped = "skipped"
)

// SchedulerCollector exposes activity scheduler metrics.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	InFlight       prometheus.Gauge
	MaxConcurrency prometheus.Gauge
	Updates        *prometheus.CounterVec
	BatchDuration  *prometheus.HistogramVec
}

// NewSchedulerCollector registers scheduler metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	inFlight, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hivesim_scheduler_inflight_updates",
		Help: "Actor updates currently holding a scheduler slot.",
	}), "hivesim_scheduler_inflight_updates")
	if err != nil {
		return nil, err
	}

	maxConc, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hivesim_scheduler_max_concurrency",
		Help: "Configured maximum number of concurrent actor updates.",
	}), "hivesim_scheduler_max_concurrency")
	if err != nil {
		return nil, err
	}

	updates, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hivesim_scheduler_updates_total",
		Help: "Actor updates processed, labeled by actor kind and outcome.",
	}, []string{"kind", "outcome"}), "hivesim_scheduler_updates_total")
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hivesim_scheduler_batch_duration_seconds",
		Help:    "Wall time from dispatch to join for one scheduler batch.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"op"}), "hivesim_scheduler_batch_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SchedulerCollector{
		gatherer:       gathererFor(reg),
		InFlight:       inFlight,
		MaxConcurrency: maxConc,
		Updates:        updates,
		BatchDuration:  durations,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// SetMaxConcurrency records the configured slot count.
func (c *SchedulerCollector) SetMaxConcurrency(n int) {
	if c == nil {
		return
	}
	c.MaxConcurrency.Set(float64(n))
}

// SlotAcquired increments the in-flight gauge.
func (c *SchedulerCollector) SlotAcquired() {
	if c == nil {
		return
	}
	c.InFlight.Inc()
}

// SlotReleased decrements the in-flight gauge.
func (c *SchedulerCollector) SlotReleased() {
	if c == nil {
		return
	}
	c.InFlight.Dec()
}

// ObserveUpdate counts one actor update.
func (c *SchedulerCollector) ObserveUpdate(kind, outcome string) {
	if c == nil {
		return
	}
	c.Updates.WithLabelValues(kind, outcome).Inc()
}

// ObserveBatch records how long a batch took from dispatch to join.
func (c *SchedulerCollector) ObserveBatch(op string, d time.Duration) {
	if c == nil {
		return
	}
	c.BatchDuration.WithLabelValues(op).Observe(d.Seconds())
}
