package batcher

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorbridge/metric"
)

// bufferMetrics holds Prometheus metrics for the batch buffer.
type bufferMetrics struct {
	flushes  prometheus.Counter
	uploaded prometheus.Counter
	requeued prometheus.Counter
	deferred prometheus.Counter

	pendingSamples prometheus.Gauge
	pendingDevices prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry) (*bufferMetrics, error) {
	m := &bufferMetrics{
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "batch",
			Name:      "flushes_total",
			Help:      "Total number of non-empty batches handed to the uploader",
		}),
		uploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "batch",
			Name:      "uploaded_samples_total",
			Help:      "Total number of samples confirmed uploaded",
		}),
		requeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "batch",
			Name:      "requeued_samples_total",
			Help:      "Total number of samples put back after a failed upload",
		}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "batch",
			Name:      "deferred_flushes_total",
			Help:      "Flushes postponed because the device had an upload in flight",
		}),
		pendingSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "batch",
			Name:      "pending_samples",
			Help:      "Samples waiting for the next flush across all devices",
		}),
		pendingDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "batch",
			Name:      "pending_devices",
			Help:      "Devices with a non-empty pending batch",
		}),
	}

	if err := registry.Register("batch_buffer", metric.Collectors{
		"flushes_total":          m.flushes,
		"uploaded_samples_total": m.uploaded,
		"requeued_samples_total": m.requeued,
		"deferred_flushes_total": m.deferred,
		"pending_samples":        m.pendingSamples,
		"pending_devices":        m.pendingDevices,
	}); err != nil {
		return nil, err
	}
	return m, nil
}
