// Package metrics exposes retraining, rollback and backend metrics in the
// Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "petmood"

// breaker states as gauge values
var breakerStates = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

// Collector owns a private registry so several instances can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	finalLoss     prometheus.Gauge
	finalAccuracy prometheus.Gauge
	dailyRetrains prometheus.Gauge
	imagesSkipped prometheus.Counter

	rollbacks *prometheus.CounterVec

	backendRequests *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec

	diskFreeBytes prometheus.Gauge
	memoryUsedPct prometheus.Gauge
}

// NewCollector creates a Collector with Go runtime and process collectors
// registered alongside the service metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrain_cycles_total",
			Help:      "Retraining checks by result (success, failure, skipped, busy).",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrain_cycle_duration_seconds",
			Help:      "Duration of retraining cycles that ran training.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		finalLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_training_loss",
			Help:      "Final training loss of the last successful cycle.",
		}),
		finalAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_training_accuracy",
			Help:      "Final training accuracy of the last successful cycle.",
		}),
		dailyRetrains: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_retrains",
			Help:      "Completed retraining cycles today.",
		}),
		imagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_images_skipped_total",
			Help:      "Feedback samples skipped because the image or label was unusable.",
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rollback attempts by result.",
		}, []string{"result"}),
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Requests to the feedback and version backend.",
		}, []string{"endpoint", "result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),
		diskFreeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifact_disk_free_bytes",
			Help:      "Free bytes on the artifact volume at the last preflight.",
		}),
		memoryUsedPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_used_percent",
			Help:      "Host memory usage at the last preflight.",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.cycles,
		c.cycleDuration,
		c.finalLoss,
		c.finalAccuracy,
		c.dailyRetrains,
		c.imagesSkipped,
		c.rollbacks,
		c.backendRequests,
		c.breakerState,
		c.diskFreeBytes,
		c.memoryUsedPct,
	)
	return c
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveCycle records the outcome of a retraining check. Loss and accuracy
// are only recorded for successful cycles.
func (c *Collector) ObserveCycle(result string, d time.Duration, loss, accuracy float64, skippedImages int) {
	c.cycles.WithLabelValues(result).Inc()
	if result != "success" && result != "failure" {
		return
	}
	c.cycleDuration.Observe(d.Seconds())
	if skippedImages > 0 {
		c.imagesSkipped.Add(float64(skippedImages))
	}
	if result == "success" {
		c.finalLoss.Set(loss)
		c.finalAccuracy.Set(accuracy)
	}
}

func (c *Collector) SetDailyRetrains(n int) {
	c.dailyRetrains.Set(float64(n))
}

func (c *Collector) ObserveRollback(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.rollbacks.WithLabelValues(result).Inc()
}

// ObserveBackendRequest matches the backend client's request observer.
func (c *Collector) ObserveBackendRequest(endpoint, result string) {
	c.backendRequests.WithLabelValues(endpoint, result).Inc()
}

// BreakerStateChanged matches the backend client's breaker observer.
func (c *Collector) BreakerStateChanged(name, from, to string) {
	if v, ok := breakerStates[to]; ok {
		c.breakerState.WithLabelValues(name).Set(v)
	}
}

// ObserveResources records the last preflight snapshot.
func (c *Collector) ObserveResources(diskFreeBytes uint64, memoryUsedPercent float64) {
	c.diskFreeBytes.Set(float64(diskFreeBytes))
	c.memoryUsedPct.Set(memoryUsedPercent)
}
