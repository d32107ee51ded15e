package paygate

import (
	"time"
)

// Metrics defines the interface for collecting paygate metrics.
// Implement this interface to integrate with your monitoring system,
// or use PrometheusMetrics.
type Metrics interface {
	// IncrementCounter increments a counter metric
	IncrementCounter(name string, labels map[string]string)
	// RecordHistogram records a histogram/timing metric
	RecordHistogram(name string, value float64, labels map[string]string)
	// SetGauge sets a gauge metric value
	SetGauge(name string, value float64, labels map[string]string)
}

const (
	metricPurchaseStarted       = "paygate_purchase_started_total"
	metricPurchaseOutcomes      = "paygate_purchase_outcomes_total"
	metricPurchaseDuration      = "paygate_purchase_duration_seconds"
	metricDuplicateFinalization = "paygate_duplicate_finalizations_total"
	metricPendingAttempts       = "paygate_pending_attempts"
)

// NoOpMetrics is a no-op implementation of Metrics for when monitoring is disabled.
type NoOpMetrics struct{}

func (m *NoOpMetrics) IncrementCounter(name string, labels map[string]string)               {}
func (m *NoOpMetrics) RecordHistogram(name string, value float64, labels map[string]string) {}
func (m *NoOpMetrics) SetGauge(name string, value float64, labels map[string]string)        {}

func (c *Controller) recordPurchaseStarted(productID string) {
	c.metrics.IncrementCounter(metricPurchaseStarted, map[string]string{
		"product": productID,
	})
}

// recordOutcome records how an attempt ended. outcome is one of the
// AttemptStatus values, "resolution_failed", "submit_failed" or "throttled".
func (c *Controller) recordOutcome(productID, outcome string, duration time.Duration) {
	labels := map[string]string{
		"product": productID,
		"outcome": outcome,
	}

	c.metrics.IncrementCounter(metricPurchaseOutcomes, labels)
	if duration > 0 {
		c.metrics.RecordHistogram(metricPurchaseDuration, duration.Seconds(), labels)
	}
}

func (c *Controller) recordDuplicate(productID string) {
	c.metrics.IncrementCounter(metricDuplicateFinalization, map[string]string{
		"product": productID,
	})
}

func (c *Controller) recordPending(count int) {
	c.metrics.SetGauge(metricPendingAttempts, float64(count), nil)
}
