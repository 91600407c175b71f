package httppost

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorbridge/metric"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics holds Prometheus metrics for the upload client
type Metrics struct {
	uploads  *prometheus.CounterVec
	samples  prometheus.Counter
	duration *prometheus.HistogramVec
}

func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "upload",
			Name:      "requests_total",
			Help:      "Upload requests by result",
		}, []string{"result"}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "upload",
			Name:      "samples_total",
			Help:      "Samples accepted by the time-series store",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "upload",
			Name:      "duration_seconds",
			Help:      "Upload request latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"result"}),
	}

	if err := registry.Register("upload", metric.Collectors{
		"requests_total":   m.uploads,
		"samples_total":    m.samples,
		"duration_seconds": m.duration,
	}); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observe(result string, elapsed time.Duration, samples int) {
	m.uploads.WithLabelValues(result).Inc()
	m.duration.WithLabelValues(result).Observe(elapsed.Seconds())
	if samples > 0 {
		m.samples.Add(float64(samples))
	}
}
