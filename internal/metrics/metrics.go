// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for the risk engine.
// A nil *Registry is valid and records nothing.
type Registry struct {
	registry *prometheus.Registry

	CycleDuration    prometheus.Histogram
	Cycles           *prometheus.CounterVec
	Decisions        *prometheus.CounterVec
	SkippedSymbols   *prometheus.CounterVec
	ProviderFailures *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	MonitorTicks     *prometheus.CounterVec
	Triggers         *prometheus.CounterVec
	ActiveOrders     prometheus.Gauge
	OpenPositions    prometheus.Gauge
}

// NewRegistry creates and registers every collector on a private registry
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "riskengine_cycle_duration_seconds",
				Help:    "Duration of each analysis cycle in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskengine_cycles_total",
				Help: "Total number of analysis cycles by outcome",
			},
			[]string{"outcome"},
		),

		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskengine_decisions_total",
				Help: "Total number of investment decisions by action",
			},
			[]string{"action"},
		),

		SkippedSymbols: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskengine_skipped_symbols_total",
				Help: "Symbols skipped during a cycle by reason",
			},
			[]string{"reason"},
		),

		ProviderFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskengine_provider_failures_total",
				Help: "Market data provider failures by provider and operation",
			},
			[]string{"provider", "operation"},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskengine_quote_cache_lookups_total",
				Help: "Quote cache lookups by result",
			},
			[]string{"result"},
		),

		MonitorTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskengine_monitor_ticks_total",
				Help: "Position monitor ticks by outcome",
			},
			[]string{"outcome"},
		),

		Triggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskengine_triggers_total",
				Help: "Stop-loss order triggers by type",
			},
			[]string{"trigger_type"},
		),

		ActiveOrders: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "riskengine_active_orders",
				Help: "Number of active monitored orders",
			},
		),

		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "riskengine_open_positions",
				Help: "Number of open positions in the registry",
			},
		),
	}

	r.registry.MustRegister(
		r.CycleDuration,
		r.Cycles,
		r.Decisions,
		r.SkippedSymbols,
		r.ProviderFailures,
		r.CacheLookups,
		r.MonitorTicks,
		r.Triggers,
		r.ActiveOrders,
		r.OpenPositions,
		collectors.NewGoCollector(),
	)
	return r
}

// Handler serves the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records one finished analysis cycle
func (r *Registry) ObserveCycle(duration time.Duration, outcome string) {
	if r == nil {
		return
	}
	r.CycleDuration.Observe(duration.Seconds())
	r.Cycles.WithLabelValues(outcome).Inc()
}

// RecordDecision counts one emitted decision
func (r *Registry) RecordDecision(action string) {
	if r == nil {
		return
	}
	r.Decisions.WithLabelValues(action).Inc()
}

// RecordSkip counts a symbol dropped from a cycle
func (r *Registry) RecordSkip(reason string) {
	if r == nil {
		return
	}
	r.SkippedSymbols.WithLabelValues(reason).Inc()
}

// RecordProviderFailure counts a failed provider call
func (r *Registry) RecordProviderFailure(provider, operation string) {
	if r == nil {
		return
	}
	r.ProviderFailures.WithLabelValues(provider, operation).Inc()
}

// RecordCacheLookup counts a quote cache hit or miss
func (r *Registry) RecordCacheLookup(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheLookups.WithLabelValues(result).Inc()
}

// RecordTick counts one monitor tick
func (r *Registry) RecordTick(outcome string) {
	if r == nil {
		return
	}
	r.MonitorTicks.WithLabelValues(outcome).Inc()
}

// RecordTrigger counts one fired order
func (r *Registry) RecordTrigger(triggerType string) {
	if r == nil {
		return
	}
	r.Triggers.WithLabelValues(triggerType).Inc()
}

// SetActiveOrders sets the active order gauge
func (r *Registry) SetActiveOrders(n int) {
	if r == nil {
		return
	}
	r.ActiveOrders.Set(float64(n))
}

// SetOpenPositions sets the open position gauge
func (r *Registry) SetOpenPositions(n int) {
	if r == nil {
		return
	}
	r.OpenPositions.Set(float64(n))
}
