package engine

import (
	"log/slog"

	"github.com/c360/sensorbridge/metric"
	"github.com/c360/sensorbridge/processor/threshold"
)

// DefaultEventBuffer is the capacity of the loop's event channel
const DefaultEventBuffer = 1024

// Option configures an Engine
type Option func(*engineOptions)

type engineOptions struct {
	logger      *slog.Logger
	registry    *metric.MetricsRegistry
	clock       threshold.Clock
	eventBuffer int
}

// WithLogger sets the logger handed to the engine and its stages
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics registers engine, router, buffer and upload pool metrics.
// If registry is nil, this option is ignored.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *engineOptions) {
		o.registry = registry
	}
}

// WithClock sets the wall clock used by regular-mode filters
func WithClock(clock threshold.Clock) Option {
	return func(o *engineOptions) {
		o.clock = clock
	}
}

// WithEventBuffer sets the event channel capacity
func WithEventBuffer(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

func applyOptions(options ...Option) *engineOptions {
	opts := &engineOptions{
		logger:      slog.Default(),
		eventBuffer: DefaultEventBuffer,
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
