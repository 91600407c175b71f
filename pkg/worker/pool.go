package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorbridge/errors"
	"github.com/c360/sensorbridge/metric"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

type poolState int

const (
	poolCreated poolState = iota
	poolRunning
	poolStopped
)

// Pool runs a fixed number of workers over a bounded queue of T. Submit never
// blocks: a full queue is reported as ErrQueueFull and the item stays with the
// caller.
type Pool[T any] struct {
	workers   int
	queueSize int
	process   func(context.Context, T) error
	queue     chan T

	mu    sync.Mutex
	state poolState
	wg    sync.WaitGroup

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	busy      atomic.Int64

	registry *metric.MetricsRegistry
	prefix   string
	metrics  *poolMetrics
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	busy       prometheus.Gauge
	submitted  prometheus.Counter
	rejected   prometheus.Counter
	duration   *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers pool metrics named sensorbridge_<prefix>_*.
// If registration fails the pool runs without metrics.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		p.prefix = prefix
	}
}

// NewPool returns a pool that is not yet running. Non-positive sizes fall back
// to 4 workers and 256 queue slots. It panics with ErrNilProcessor when
// process is nil.
func NewPool[T any](workers, queueSize int, process func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if process == nil {
		panic(ErrNilProcessor)
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		process:   process,
		queue:     make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry != nil && p.prefix != "" {
		p.metrics = p.registerMetrics()
	}
	return p
}

func (p *Pool[T]) registerMetrics() *poolMetrics {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: metric.Namespace, Subsystem: p.prefix, Name: name, Help: help}
	}
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts(opts("queue_depth", "Items waiting for a worker"))),
		busy:       prometheus.NewGauge(prometheus.GaugeOpts(opts("busy_workers", "Workers currently processing an item"))),
		submitted:  prometheus.NewCounter(prometheus.CounterOpts(opts("submitted_total", "Items accepted into the queue"))),
		rejected:   prometheus.NewCounter(prometheus.CounterOpts(opts("rejected_total", "Items refused because the queue was full"))),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: p.prefix,
			Name:      "processing_duration_seconds",
			Help:      "Time spent on one item by outcome: ok, transient, invalid or fatal",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
	}

	if err := p.registry.Register("worker_pool_"+p.prefix, metric.Collectors{
		"queue_depth":                 m.queueDepth,
		"busy_workers":                m.busy,
		"submitted_total":             m.submitted,
		"rejected_total":              m.rejected,
		"processing_duration_seconds": m.duration,
	}); err != nil {
		return nil
	}
	return m
}

// Submit queues work for the next free worker.
func (p *Pool[T]) Submit(work T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case poolCreated:
		return ErrPoolNotStarted
	case poolStopped:
		return ErrPoolStopped
	}

	select {
	case p.queue <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.queue)))
		}
		return nil
	default:
		p.rejected.Add(1)
		if p.metrics != nil {
			p.metrics.rejected.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. They stop when ctx ends or after Stop has
// drained the queue.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != poolCreated {
		return ErrPoolAlreadyStarted
	}
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.run(ctx)
	}
	p.state = poolRunning
	return nil
}

// Stop closes the queue and waits up to timeout for the workers to finish.
// Queued items are still processed unless the Start context is done.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.state != poolRunning {
		p.mu.Unlock()
		return nil
	}
	p.state = poolStopped
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// PoolStats is a snapshot of the pool counters.
type PoolStats struct {
	Workers    int   `json:"workers"`
	Busy       int64 `json:"busy"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Rejected   int64 `json:"rejected"`
}

func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		Busy:       p.busy.Load(),
		QueueSize:  p.queueSize,
		QueueDepth: len(p.queue),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Rejected:   p.rejected.Load(),
	}
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.queue:
			if !ok {
				return
			}
			p.handle(ctx, work)
		}
	}
}

func (p *Pool[T]) handle(ctx context.Context, work T) {
	p.setBusy(p.busy.Add(1))
	defer func() { p.setBusy(p.busy.Add(-1)) }()

	start := time.Now()
	err := p.process(ctx, work)
	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
	}

	if p.metrics != nil {
		p.metrics.queueDepth.Set(float64(len(p.queue)))
		p.metrics.duration.WithLabelValues(outcome(err)).Observe(time.Since(start).Seconds())
	}
}

func (p *Pool[T]) setBusy(n int64) {
	if p.metrics != nil {
		p.metrics.busy.Set(float64(n))
	}
}

// outcome labels a processing result by its error class.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return errors.Classify(err).String()
}
