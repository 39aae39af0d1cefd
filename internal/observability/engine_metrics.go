package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineCollector exposes tick loop metrics.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	Ticks           prometheus.Counter
	TickDuration    prometheus.Histogram
	Status          prometheus.Gauge
	Colonies        prometheus.Gauge
	ViableColonies  prometheus.Gauge
	LivingActors    prometheus.Gauge
	EventsPublished *prometheus.CounterVec
}

// NewEngineCollector registers engine metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	ticks, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hivesim_engine_ticks_total",
		Help: "Completed simulation ticks.",
	}), "hivesim_engine_ticks_total")
	if err != nil {
		return nil, err
	}

	tickDur, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hivesim_engine_tick_duration_seconds",
		Help:    "Wall time spent inside one tick body.",
		Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}), "hivesim_engine_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	status, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hivesim_engine_status",
		Help: "Engine lifecycle status (0=stopped 1=running 2=paused 3=completed 4=error).",
	}), "hivesim_engine_status")
	if err != nil {
		return nil, err
	}

	colonies, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hivesim_colonies",
		Help: "Colonies currently tracked by the simulation state.",
	}), "hivesim_colonies")
	if err != nil {
		return nil, err
	}

	viable, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hivesim_colonies_viable",
		Help: "Colonies that currently meet their viability condition.",
	}), "hivesim_colonies_viable")
	if err != nil {
		return nil, err
	}

	living, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hivesim_actors_living",
		Help: "Living actors across all colonies.",
	}), "hivesim_actors_living")
	if err != nil {
		return nil, err
	}

	published, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hivesim_engine_events_published_total",
		Help: "Events published by the engine, labeled by kind.",
	}, []string{"kind"}), "hivesim_engine_events_published_total")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:        gathererFor(reg),
		Ticks:           ticks,
		TickDuration:    tickDur,
		Status:          status,
		Colonies:        colonies,
		ViableColonies:  viable,
		LivingActors:    living,
		EventsPublished: published,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EngineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick counts a completed tick and its duration.
func (c *EngineCollector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.TickDuration.Observe(d.Seconds())
}

// SetStatus records the engine status code.
func (c *EngineCollector) SetStatus(code int) {
	if c == nil {
		return
	}
	c.Status.Set(float64(code))
}

// SetPopulation records colony and actor counts.
func (c *EngineCollector) SetPopulation(colonies, viable, living int) {
	if c == nil {
		return
	}
	c.Colonies.Set(float64(colonies))
	c.ViableColonies.Set(float64(viable))
	c.LivingActors.Set(float64(living))
}

// AddEvents counts n published events of the given kind.
func (c *EngineCollector) AddEvents(kind string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.EventsPublished.WithLabelValues(kind).Add(float64(n))
}
