package paygate

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// maxLabelLen is the maximum length for a metric label value
const maxLabelLen = 64

func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

// PrometheusMetrics implements Metrics with client_golang collectors.
type PrometheusMetrics struct {
	started    *prometheus.CounterVec
	outcomes   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	duplicates *prometheus.CounterVec
	pending    prometheus.Gauge

	mu      sync.Mutex
	unknown map[string]struct{}
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPurchaseStarted,
				Help: "Purchase attempts submitted to the store by product",
			},
			[]string{"product"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPurchaseOutcomes,
				Help: "Terminal purchase outcomes by product and outcome",
			},
			[]string{"product", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPurchaseDuration,
				Help:    "Time from purchase trigger to terminal outcome",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"product", "outcome"},
		),
		duplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricDuplicateFinalization,
				Help: "Terminal transaction updates ignored because the handle was already finalized",
			},
			[]string{"product"},
		),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPendingAttempts,
			Help: "Purchase attempts waiting for a terminal store update",
		}),
		unknown: make(map[string]struct{}),
	}

	for _, c := range []prometheus.Collector{m.started, m.outcomes, m.duration, m.duplicates, m.pending} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) IncrementCounter(name string, labels map[string]string) {
	switch name {
	case metricPurchaseStarted:
		m.started.WithLabelValues(sanitizeLabel(labels["product"])).Inc()
	case metricPurchaseOutcomes:
		m.outcomes.WithLabelValues(sanitizeLabel(labels["product"]), sanitizeLabel(labels["outcome"])).Inc()
	case metricDuplicateFinalization:
		m.duplicates.WithLabelValues(sanitizeLabel(labels["product"])).Inc()
	default:
		m.markUnknown(name)
	}
}

func (m *PrometheusMetrics) RecordHistogram(name string, value float64, labels map[string]string) {
	if name != metricPurchaseDuration {
		m.markUnknown(name)
		return
	}
	m.duration.WithLabelValues(sanitizeLabel(labels["product"]), sanitizeLabel(labels["outcome"])).Observe(value)
}

func (m *PrometheusMetrics) SetGauge(name string, value float64, labels map[string]string) {
	if name != metricPendingAttempts {
		m.markUnknown(name)
		return
	}
	m.pending.Set(value)
}

// UnknownMetrics lists metric names that were reported but have no collector.
func (m *PrometheusMetrics) UnknownMetrics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.unknown))
	for name := range m.unknown {
		out = append(out, name)
	}
	return out
}

func (m *PrometheusMetrics) markUnknown(name string) {
	m.mu.Lock()
	m.unknown[name] = struct{}{}
	m.mu.Unlock()
}
