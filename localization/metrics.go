package localization

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the localizer's prometheus collectors.
type Metrics struct {
	EventsTotal      *prometheus.CounterVec
	DroppedTotal     *prometheus.CounterVec
	EdgesTotal       *prometheus.CounterVec
	Vertices         prometheus.Gauge
	OptimizeDuration prometheus.Histogram
	Chi2             prometheus.Gauge
	PublishedTotal   prometheus.Counter
}

// NewMetrics registers the localizer collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		EventsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "coloc_events_total",
				Help: "Total number of measurements handled",
			},
			[]string{"measurement"}, // pose, twist, range, inertial
		),
		DroppedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "coloc_events_dropped_total",
				Help: "Measurements that produced no edge",
			},
			[]string{"measurement", "reason"},
		),
		EdgesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "coloc_edges_total",
				Help: "Edges inserted into the pose graph",
			},
			[]string{"kind"}, // pose, twist, inertial, range, prior
		),
		Vertices: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "coloc_vertices",
				Help: "Number of vertices in the pose graph",
			},
		),
		OptimizeDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coloc_optimize_duration_seconds",
				Help:    "Duration of a full graph optimization",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
		),
		Chi2: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "coloc_chi2",
				Help: "Robustified total error after the last optimization",
			},
		),
		PublishedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "coloc_published_total",
				Help: "Optimized poses published",
			},
		),
	}
}

func (m *Metrics) edge(kind string) {
	if m == nil {
		return
	}
	m.EdgesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) event(measurement string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(measurement).Inc()
}

func (m *Metrics) dropped(measurement, reason string) {
	if m == nil {
		return
	}
	m.DroppedTotal.WithLabelValues(measurement, reason).Inc()
}
