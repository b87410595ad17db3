// Package metrics exposes refresh counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"VNPriceCache/internal/model"
)

const namespace = "vnpricecache"

// Metrics holds the refresh collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	symbols       *prometheus.CounterVec
	rowsUpserted  prometheus.Counter
	rowsDropped   prometheus.Counter
	sourceFetches *prometheus.CounterVec
	runs          *prometheus.CounterVec
	lastRun       prometheus.Gauge
	lastFailed    prometheus.Gauge
}

// New creates and registers all collectors, plus Go runtime and process metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		symbols: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "symbols_refreshed_total",
			Help:      "Per-symbol refresh outcomes.",
		}, []string{"status"}),
		rowsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_upserted_total",
			Help:      "Bars written to the cache.",
		}),
		rowsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_dropped_total",
			Help:      "Provider rows discarded during normalization.",
		}),
		sourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Provider fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed refresh runs by result.",
		}, []string{"result"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Finish time of the last completed run.",
		}),
		lastFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_failed_symbols",
			Help:      "Symbols still failed after the last run.",
		}),
	}
	m.registry.MustRegister(
		m.symbols, m.rowsUpserted, m.rowsDropped, m.sourceFetches, m.runs, m.lastRun, m.lastFailed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveFetch counts one provider call.
func (m *Metrics) ObserveFetch(source, outcome string) {
	if m == nil {
		return
	}
	m.sourceFetches.WithLabelValues(source, outcome).Inc()
}

// ObserveResult counts one symbol refresh.
func (m *Metrics) ObserveResult(r model.RefreshResult) {
	if m == nil {
		return
	}
	m.symbols.WithLabelValues(string(r.Status)).Inc()
	m.rowsUpserted.Add(float64(r.UpdatedRows))
	m.rowsDropped.Add(float64(r.Dropped))
}

// ObserveRun records a finished run. An aborted run has a nil summary.
func (m *Metrics) ObserveRun(s *model.RunSummary, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil || s == nil:
		m.runs.WithLabelValues("aborted").Inc()
		return
	case len(s.Failed) > 0:
		m.runs.WithLabelValues("partial").Inc()
	default:
		m.runs.WithLabelValues("complete").Inc()
	}
	m.lastRun.Set(float64(s.FinishedAt.Unix()))
	m.lastFailed.Set(float64(len(s.Failed)))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
