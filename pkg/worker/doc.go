// Package worker provides a generic bounded worker pool.
//
// A Pool runs a fixed number of goroutines that take items from a bounded
// queue and hand them to a processor function. Submit never blocks; when the
// queue is full it returns ErrQueueFull and the item stays with the caller.
//
// sensorbridge uses one pool for uploads so that slow HTTP requests never stall
// the event loop:
//
//	pool := worker.NewPool(cfg.Upload.Workers, cfg.Upload.QueueSize,
//		func(ctx context.Context, job UploadJob) error {
//			err := client.Send(ctx, job.Device, job.Samples)
//			job.Done(err)
//			return err
//		},
//		worker.WithMetricsRegistry[UploadJob](registry, "upload_pool"),
//	)
//	if err := pool.Start(ctx); err != nil {
//		return err
//	}
//	defer pool.Stop(5 * time.Second)
//
// Stats is always available. With WithMetricsRegistry the pool also exports
// queue depth, busy workers and a processing-time histogram labelled by the
// error class of each result (ok, transient, invalid, fatal), so failed
// uploads can be told apart from rejected ones.
package worker
