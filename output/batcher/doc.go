// Package batcher implements the per-device batch buffer that sits between
// the filters and the upload client.
//
// Samples for a device accumulate until the send delay expires, then the
// whole batch is detached and dispatched. A failed upload puts its samples
// back ahead of any samples that arrived during the send, so retried batches
// keep creation order. Retries are unbounded and use the same delay.
//
// A device never has more than one upload running. A flush that fires while
// the previous batch is still being sent is deferred: the samples stay
// pending and Complete arms a new flush once the outcome is known.
//
// Timing and dispatch are injected through Scheduler and Dispatcher:
//
//	buf := batcher.New(3*time.Second,
//	    batcher.SchedulerFunc(func(device string, d time.Duration) {
//	        time.AfterFunc(d, func() { events <- flushEvent{device} })
//	    }),
//	    batcher.DispatcherFunc(func(device string, samples []message.Sample) {
//	        pool.Submit(upload{device, samples})
//	    }),
//	)
//
// Buffer is single-threaded: call every method from the goroutine that owns
// it. Stats may be read from anywhere.
package batcher
