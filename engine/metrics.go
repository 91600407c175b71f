package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorbridge/metric"
)

// engineMetrics holds Prometheus metrics for the event loop.
type engineMetrics struct {
	events        *prometheus.CounterVec   // By event type
	eventDuration *prometheus.HistogramVec // By event type
	decodeErrors  *prometheus.CounterVec   // By subject kind
	uploads       *prometheus.CounterVec   // By result: success, failure, rejected
	queueDepth    prometheus.Gauge
	armedTimers   prometheus.Gauge
}

// newEngineMetrics creates and registers engine metrics with the provided registry.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Total number of events handled by the engine loop",
		}, []string{"type"}),

		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "event_duration_seconds",
			Help:      "Time spent handling one event",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		}, []string{"type"}),

		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "decode_errors_total",
			Help:      "Total number of bus payloads that could not be decoded",
		}, []string{"type"}),

		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "uploads_total",
			Help:      "Total number of completed upload attempts",
		}, []string{"result"}), // result: success, failure, rejected

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "event_queue_depth",
			Help:      "Events waiting for the engine loop",
		}),

		armedTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "armed_timers",
			Help:      "Flush timers currently armed",
		}),
	}

	if err := registry.Register("engine", metric.Collectors{
		"events":            m.events,
		"event_duration":    m.eventDuration,
		"decode_errors":     m.decodeErrors,
		"uploads":           m.uploads,
		"event_queue_depth": m.queueDepth,
		"armed_timers":      m.armedTimers,
	}); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *engineMetrics) recordEvent(eventType string, seconds float64, queued int) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
	m.eventDuration.WithLabelValues(eventType).Observe(seconds)
	m.queueDepth.Set(float64(queued))
}

func (m *engineMetrics) recordDecodeError(kind string) {
	if m != nil {
		m.decodeErrors.WithLabelValues(kind).Inc()
	}
}

func (m *engineMetrics) recordUpload(result string) {
	if m != nil {
		m.uploads.WithLabelValues(result).Inc()
	}
}

func (m *engineMetrics) setTimers(n int) {
	if m != nil {
		m.armedTimers.Set(float64(n))
	}
}
