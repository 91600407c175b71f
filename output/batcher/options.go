package batcher

import (
	"log/slog"

	"github.com/c360/sensorbridge/metric"
)

// Option configures buffer behavior using the functional options pattern.
type Option func(*bufferOptions)

type bufferOptions struct {
	logger     *slog.Logger
	metricsReg *metric.MetricsRegistry
}

// WithLogger sets the buffer's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *bufferOptions) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithMetrics exports buffer statistics as Prometheus metrics.
// If registry is nil, this option is ignored.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(opts *bufferOptions) {
		opts.metricsReg = registry
	}
}

func applyOptions(options ...Option) *bufferOptions {
	opts := &bufferOptions{
		logger: slog.Default(),
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
