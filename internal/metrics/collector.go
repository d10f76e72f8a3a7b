// Package metrics exposes prometheus instrumentation for the filesystem
// facade: per-operation counters and latencies plus storage gauges.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector registers and updates the Tarbox metric set on its own registry.
type Collector struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	retries    prometheus.Counter

	inodes     prometheus.Gauge
	textBlocks prometheus.Gauge
	dataBlocks prometheus.Gauge
	layers     prometheus.Gauge
}

// NewCollector builds and registers the metric set.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tarbox",
			Name:      "operations_total",
			Help:      "Filesystem operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tarbox",
			Name:      "operation_duration_seconds",
			Help:      "Filesystem operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tarbox",
			Name:      "retries_total",
			Help:      "Retries performed for transient store failures.",
		}),
		inodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tarbox", Name: "inodes", Help: "Inode rows stored.",
		}),
		textBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tarbox", Name: "text_blocks", Help: "Text block rows stored.",
		}),
		dataBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tarbox", Name: "data_blocks", Help: "Binary data block rows stored.",
		}),
		layers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tarbox", Name: "layers", Help: "Layer rows stored.",
		}),
	}
	c.registry.MustRegister(c.operations, c.latency, c.retries,
		c.inodes, c.textBlocks, c.dataBlocks, c.layers)
	return c
}

// Registry returns the prometheus registry for the metrics endpoint.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe records one completed operation.
func (c *Collector) Observe(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.operations.WithLabelValues(operation, outcome).Inc()
	c.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveRetry counts one retry attempt.
func (c *Collector) ObserveRetry() {
	c.retries.Inc()
}

// SetStorageCounts updates the storage gauges from a usage sweep.
func (c *Collector) SetStorageCounts(inodes, textBlocks, dataBlocks, layers int64) {
	c.inodes.Set(float64(inodes))
	c.textBlocks.Set(float64(textBlocks))
	c.dataBlocks.Set(float64(dataBlocks))
	c.layers.Set(float64(layers))
}
