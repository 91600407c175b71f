// Package metric provides the Prometheus metrics registry and HTTP endpoint.
//
// MetricsRegistry owns a private prometheus.Registry holding the process-wide
// metrics (Metrics: app state, bus traffic, errors, NATS health) plus the Go
// runtime and process collectors. Each stage registers its collectors in one
// Register call keyed by component and metric name. A duplicate is reported
// as an error instead of panicking, and a failed call leaves nothing behind.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	go func() {
//		if err := server.Start(); err != nil {
//			logger.Error("Metrics server stopped", "error", err)
//		}
//	}()
//	defer server.Stop()
//
// Components treat a nil *MetricsRegistry as "metrics disabled".
package metric
