package router

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorbridge/message"
	"github.com/c360/sensorbridge/metric"
)

// Drop reasons
const (
	reasonUnregistered = "unregistered"
	reasonMalformed    = "malformed"
	reasonBadDeviceID  = "bad_device_id"
)

// routerMetrics holds Prometheus metrics for the sample router.
type routerMetrics struct {
	readings *prometheus.CounterVec // By signal and outcome (emitted/suppressed)
	samples  *prometheus.CounterVec // By signal
	dropped  *prometheus.CounterVec // By reason
	filters  prometheus.Gauge
	devices  prometheus.Gauge
}

// newRouterMetrics creates and registers router metrics with the provided registry.
func newRouterMetrics(registry *metric.MetricsRegistry) (*routerMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &routerMetrics{
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "router",
			Name:      "readings_total",
			Help:      "Readings passed to a filter, by signal and outcome",
		}, []string{"signal", "outcome"}),

		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "router",
			Name:      "samples_emitted_total",
			Help:      "Samples emitted by filters",
		}, []string{"signal"}),

		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "router",
			Name:      "dropped_total",
			Help:      "Readings dropped before filtering",
		}, []string{"reason"}),

		filters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "router",
			Name:      "filters",
			Help:      "Registered (device, signal) filters",
		}),

		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "router",
			Name:      "configured_devices",
			Help:      "Devices with a friendly name mapping",
		}),
	}

	if err := registry.Register("router", metric.Collectors{
		"readings_total":        m.readings,
		"samples_emitted_total": m.samples,
		"dropped_total":         m.dropped,
		"filters":               m.filters,
		"configured_devices":    m.devices,
	}); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *routerMetrics) recordReading(signal message.SignalType, emitted int) {
	if m == nil {
		return
	}
	outcome := "suppressed"
	if emitted > 0 {
		outcome = "emitted"
		m.samples.WithLabelValues(string(signal)).Add(float64(emitted))
	}
	m.readings.WithLabelValues(string(signal), outcome).Inc()
}

func (m *routerMetrics) recordDrop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *routerMetrics) setSizes(filters, devices int) {
	if m == nil {
		return
	}
	m.filters.Set(float64(filters))
	m.devices.Set(float64(devices))
}
