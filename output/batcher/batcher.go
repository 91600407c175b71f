package batcher

import (
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/c360/sensorbridge/message"
)

// Scheduler arms a one-shot flush for a device after delay.
type Scheduler interface {
	Schedule(device string, delay time.Duration)
}

// SchedulerFunc adapts a function to Scheduler
type SchedulerFunc func(device string, delay time.Duration)

// Schedule calls f(device, delay)
func (f SchedulerFunc) Schedule(device string, delay time.Duration) { f(device, delay) }

// Dispatcher starts an upload of a detached batch. It must not block on the
// upload itself; the outcome comes back through Buffer.Complete.
type Dispatcher interface {
	Dispatch(device string, samples []message.Sample)
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(device string, samples []message.Sample)

// Dispatch calls f(device, samples)
func (f DispatcherFunc) Dispatch(device string, samples []message.Sample) { f(device, samples) }

// Buffer holds the pending batch of every device between flushes.
//
// Invariants: a device has at most one armed flush and at most one upload in
// flight. A batch is removed from the buffer before it is dispatched. A flush
// that fires while the device's upload is still running leaves the samples
// pending; Complete re-arms it. Buffer is not safe for concurrent use; the
// engine loop owns it.
type Buffer struct {
	delay      time.Duration
	scheduler  Scheduler
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *bufferMetrics
	stats      *Statistics

	pending   map[string][]message.Sample
	scheduled map[string]bool
	inFlight  map[string]bool
}

// New creates a buffer that flushes each device delay after its first
// pending sample arrived.
func New(delay time.Duration, scheduler Scheduler, dispatcher Dispatcher, opts ...Option) *Buffer {
	o := applyOptions(opts...)

	b := &Buffer{
		delay:      delay,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		logger:     o.logger.With("component", "batch-buffer"),
		stats:      NewStatistics(),
		pending:    make(map[string][]message.Sample),
		scheduled:  make(map[string]bool),
		inFlight:   make(map[string]bool),
	}

	if o.metricsReg != nil {
		m, err := newBufferMetrics(o.metricsReg)
		if err != nil {
			b.logger.Warn("Batch buffer metrics disabled", "error", err)
		} else {
			b.metrics = m
		}
	}

	return b
}

// Append adds samples to the device's pending batch and arms a flush if none
// is armed.
func (b *Buffer) Append(device string, samples []message.Sample) {
	if len(samples) == 0 {
		return
	}
	b.pending[device] = append(b.pending[device], samples...)
	b.stats.appended.Add(int64(len(samples)))
	b.armFlush(device)
	b.updateGauges()
}

// Flush detaches the device's pending batch and hands it to the dispatcher.
// While an earlier batch of the device is in flight the samples stay pending.
func (b *Buffer) Flush(device string) {
	delete(b.scheduled, device)

	if b.inFlight[device] {
		b.stats.deferred.Add(1)
		if b.metrics != nil {
			b.metrics.deferred.Inc()
		}
		b.logger.Debug("Upload in flight, deferring flush",
			"device", device,
			"samples", len(b.pending[device]))
		return
	}

	batch := b.pending[device]
	delete(b.pending, device)
	b.updateGauges()

	if len(batch) == 0 {
		return
	}

	b.inFlight[device] = true

	b.stats.flushes.Add(1)
	if b.metrics != nil {
		b.metrics.flushes.Inc()
	}
	b.logger.Debug("Flushing batch", "device", device, "samples", len(batch))
	b.dispatcher.Dispatch(device, batch)
}

// Complete records the outcome of an upload started by Flush and releases the
// device. On failure the samples go back in front of anything that arrived
// meanwhile. A flush is armed whenever samples remain pending.
func (b *Buffer) Complete(device string, samples []message.Sample, err error) {
	delete(b.inFlight, device)

	if err == nil {
		b.stats.uploaded.Add(int64(len(samples)))
		if b.metrics != nil {
			b.metrics.uploaded.Add(float64(len(samples)))
		}
		if len(b.pending[device]) > 0 {
			b.armFlush(device)
		}
		return
	}

	b.stats.requeued.Add(int64(len(samples)))
	if b.metrics != nil {
		b.metrics.requeued.Add(float64(len(samples)))
	}
	b.logger.Info("Requeueing failed batch",
		"device", device,
		"samples", len(samples),
		"error", err)

	if len(samples) == 0 {
		if len(b.pending[device]) > 0 {
			b.armFlush(device)
		}
		return
	}

	newer := b.pending[device]
	merged := make([]message.Sample, 0, len(samples)+len(newer))
	merged = append(merged, samples...)
	merged = append(merged, newer...)
	b.pending[device] = merged
	b.armFlush(device)
	b.updateGauges()
}

func (b *Buffer) armFlush(device string) {
	if b.scheduled[device] {
		return
	}
	b.scheduled[device] = true
	b.stats.scheduled.Add(1)
	b.scheduler.Schedule(device, b.delay)
}

func (b *Buffer) updateGauges() {
	total := 0
	for _, batch := range b.pending {
		total += len(batch)
	}
	b.stats.pendingSamples.Store(int64(total))
	if b.metrics != nil {
		b.metrics.pendingSamples.Set(float64(total))
		b.metrics.pendingDevices.Set(float64(len(b.pending)))
	}
}

// Pending returns a copy of the device's pending batch.
func (b *Buffer) Pending(device string) []message.Sample {
	batch := b.pending[device]
	if len(batch) == 0 {
		return nil
	}
	out := make([]message.Sample, len(batch))
	copy(out, batch)
	return out
}

// Scheduled reports whether a flush is armed for the device.
func (b *Buffer) Scheduled(device string) bool {
	return b.scheduled[device]
}

// InFlight reports whether an upload for the device has not completed yet.
func (b *Buffer) InFlight(device string) bool {
	return b.inFlight[device]
}

// Devices returns the devices with pending samples, sorted.
func (b *Buffer) Devices() []string {
	devices := make([]string, 0, len(b.pending))
	for d := range b.pending {
		devices = append(devices, d)
	}
	sort.Strings(devices)
	return devices
}

// Stats returns the buffer's statistics. Safe to read from any goroutine.
func (b *Buffer) Stats() *Statistics {
	return b.stats
}

// Statistics tracks buffer activity.
type Statistics struct {
	appended       atomic.Int64
	flushes        atomic.Int64
	scheduled      atomic.Int64
	uploaded       atomic.Int64
	requeued       atomic.Int64
	deferred       atomic.Int64
	pendingSamples atomic.Int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Appended returns the number of samples appended by filters.
func (s *Statistics) Appended() int64 { return s.appended.Load() }

// Flushes returns the number of non-empty batches dispatched.
func (s *Statistics) Flushes() int64 { return s.flushes.Load() }

// ScheduledFlushes returns the number of flush timers armed.
func (s *Statistics) ScheduledFlushes() int64 { return s.scheduled.Load() }

// Uploaded returns the number of samples confirmed by the store.
func (s *Statistics) Uploaded() int64 { return s.uploaded.Load() }

// Requeued returns the number of samples put back after a failed upload.
func (s *Statistics) Requeued() int64 { return s.requeued.Load() }

// DeferredFlushes returns the number of flushes postponed by an upload in
// flight.
func (s *Statistics) DeferredFlushes() int64 { return s.deferred.Load() }

// PendingSamples returns the number of samples waiting across all devices.
func (s *Statistics) PendingSamples() int64 { return s.pendingSamples.Load() }
