// Package health aggregates bridge health for operators.
//
// Three states are reported: healthy, degraded (running with a high error
// rate) and unhealthy (not running or disconnected). Aggregation takes the
// worst state of the sub-statuses.
//
// A Monitor combines two sources:
//
//   - pushed statuses, for example the NATS connection state delivered by the
//     client's health-change callback
//   - reporters polled on every check, for example the engine snapshot
//
//	monitor := health.NewMonitor("sensorbridge")
//	natsClient.OnHealthChange(func(ok bool) {
//	    if ok {
//	        monitor.UpdateHealthy("nats", "connected")
//	    } else {
//	        monitor.UpdateUnhealthy("nats", "disconnected")
//	    }
//	})
//	monitor.AddReporter("engine", eng.HealthStatuses)
//	metricsServer.Handle("/health", monitor.Handler())
//
// The handler answers 503 when the aggregate is unhealthy, which includes the
// period before the first device announcement. Error messages are
// sanitized before they are exposed: URLs, IP addresses and credential-looking
// pairs are replaced with placeholders.
package health
