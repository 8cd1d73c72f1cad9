// Package metrics provides Prometheus metrics collection for planwise.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for planwise.
type Collector struct {
	// Calibration metrics
	FitsTotal      *prometheus.CounterVec
	FitDuration    prometheus.Histogram
	FitIterations  prometheus.Histogram
	ResamplePaths  prometheus.Counter
	ResampleErrors prometheus.Counter

	// Recommendation metrics
	RankingsTotal   prometheus.Counter
	SimulationPaths prometheus.Counter
	PlansRanked     prometheus.Histogram

	// Catalog metrics
	CatalogReloads      prometheus.Counter
	CatalogReloadErrors prometheus.Counter
	CatalogPlans        prometheus.Gauge

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a new metrics collector with all metrics registered on the
// default registry.
func New() *Collector {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates a collector registered on a specific registerer.
// Tests pass a fresh registry to avoid duplicate-registration panics.
func NewWith(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		FitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "planwise",
				Name:      "fits_total",
				Help:      "Total number of parameter fits by outcome",
			},
			[]string{"outcome"}, // "converged", "unconverged", "error"
		),
		FitDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "planwise",
				Name:      "fit_duration_seconds",
				Help:      "Duration of a single parameter fit",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
		FitIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "planwise",
				Name:      "fit_iterations",
				Help:      "Optimizer iterations per fit",
				Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		ResamplePaths: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "planwise",
				Name:      "resample_paths_total",
				Help:      "Total resampling paths run by the uncertainty estimator",
			},
		),
		ResampleErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "planwise",
				Name:      "resample_path_errors_total",
				Help:      "Resampling paths whose refit failed and was skipped",
			},
		),
		RankingsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "planwise",
				Name:      "rankings_total",
				Help:      "Total plan-ranking requests served",
			},
		),
		SimulationPaths: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "planwise",
				Name:      "simulation_paths_total",
				Help:      "Total Monte-Carlo paths run by the plan ranker",
			},
		),
		PlansRanked: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "planwise",
				Name:      "plans_ranked",
				Help:      "Candidate plans per ranking request",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),
		CatalogReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "planwise",
				Name:      "catalog_reloads_total",
				Help:      "Successful plan catalog reloads",
			},
		),
		CatalogReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "planwise",
				Name:      "catalog_reload_errors_total",
				Help:      "Plan catalog reloads that failed and kept the previous catalog",
			},
		),
		CatalogPlans: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "planwise",
				Name:      "catalog_plans",
				Help:      "Plans in the current catalog snapshot",
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "planwise",
				Name:      "requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "planwise",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
	}
}
