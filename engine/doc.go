// Package engine runs the bridge: it subscribes to the bus, feeds the sample
// router, buffers emitted samples per device and uploads them through a
// bounded worker pool.
//
// # Architecture
//
//	 bus handlers ──decode──┐
//	 flush timers ──────────┼──> events ──> loop ──> router ──> buffer
//	 upload workers ────────┘                 │                   │
//	        ▲                                 │ publish           │ dispatch
//	        │                                 ▼                   ▼
//	        └──────────── complete ───────── bus            worker.Pool
//
// Everything that mutates router, filter or buffer state runs on the loop
// goroutine. The other goroutines only construct events:
//
//   - Bus handlers decode announcements, configure messages, readings and
//     concentrator responses. Payloads that fail to decode are logged at warn,
//     counted and dropped.
//   - The buffer asks the engine to schedule a flush; the engine arms a
//     time.AfterFunc timer that posts a flush event.
//   - Flushed batches are submitted to the upload pool. A worker calls the
//     Uploader and posts a completion event with the result.
//
// A batch the pool cannot accept (queue full or pool stopped) is handled as a
// failed upload: the samples go back to the buffer and are retried after the
// send delay.
//
// # Lifecycle
//
//	e, err := engine.New(cfg, natsClient, uploadClient,
//	    engine.WithLogger(logger),
//	    engine.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	return e.Run(ctx) // blocks until ctx is cancelled
//
// Stop abandons pending batches and in-flight uploads. Nothing is persisted.
//
// # Status
//
// Snapshot returns the application state, filter count, known friendly names,
// pending sample counts and the Meta/Health/DataFlow of each stage. It is
// answered by the loop, so the view is consistent.
//
// # Metrics
//
// sensorbridge_engine_events_total{type}, _event_duration_seconds{type},
// _decode_errors_total{type}, _uploads_total{result}, _event_queue_depth and
// _armed_timers, plus the router, buffer and upload_pool subsystems.
package engine
