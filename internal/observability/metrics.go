// Package observability provides Prometheus metrics for the safety scoring engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SafetyMetrics contains Prometheus metrics for safety index computations
type SafetyMetrics struct {
	registry *prometheus.Registry

	indexComputationsTotal *prometheus.CounterVec
	computationDuration    *prometheus.HistogramVec
	newsDegradationsTotal  prometheus.Counter
	heatmapCellCount       prometheus.Histogram
}

// NewSafetyMetrics creates and registers new safety metrics
func NewSafetyMetrics(registry *prometheus.Registry) (*SafetyMetrics, error) {
	m := &SafetyMetrics{registry: registry}
	m.initMetrics()

	collectors := []prometheus.Collector{
		m.indexComputationsTotal,
		m.computationDuration,
		m.newsDegradationsTotal,
		m.heatmapCellCount,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *SafetyMetrics) initMetrics() {
	m.indexComputationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safety_index_computations_total",
			Help: "Total number of safety index computations",
		},
		[]string{"scope", "status"}, // scope: city, area, heatmap; status: success, error
	)

	m.computationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safety_index_computation_duration_seconds",
			Help:    "Time taken to compute a safety index",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"scope"},
	)

	m.newsDegradationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "safety_news_factor_degradations_total",
			Help: "Total number of computations where the news factor fell back to neutral",
		},
	)

	m.heatmapCellCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "safety_heatmap_cells",
			Help:    "Number of cells produced per heatmap computation",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 to ~16k cells
		},
	)
}

// RecordComputation records a completed safety index computation.
func (m *SafetyMetrics) RecordComputation(scope, status string, seconds float64) {
	if m == nil {
		return
	}
	m.indexComputationsTotal.WithLabelValues(scope, status).Inc()
	m.computationDuration.WithLabelValues(scope).Observe(seconds)
}

// RecordNewsDegradation records a news factor fallback to neutral.
func (m *SafetyMetrics) RecordNewsDegradation() {
	if m == nil {
		return
	}
	m.newsDegradationsTotal.Inc()
}

// RecordHeatmapCells records the cell count of a heatmap computation.
func (m *SafetyMetrics) RecordHeatmapCells(cells int) {
	if m == nil {
		return
	}
	m.heatmapCellCount.Observe(float64(cells))
}
