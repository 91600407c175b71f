// Package retry provides exponential backoff for operations that may fail
// transiently, such as connecting to the bus at startup.
//
// Errors are classified with the errors package: anything marked invalid or
// fatal, or wrapped with NonRetryable, ends the loop at once. Everything else
// is retried until MaxAttempts or the context ends.
//
//	cfg := retry.Startup()
//	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
//	    logger.Warn("NATS not reachable, retrying", "attempt", attempt, "delay", delay, "error", err)
//	}
//	err := retry.Do(ctx, cfg, func() error {
//	    return client.Connect(ctx)
//	})
//
// Presets:
//
//   - DefaultConfig: 3 attempts, 100ms to 5s
//   - Startup: 10 attempts, 250ms to 5s
package retry
