// Package httppost provides the upload client that posts sample batches to the
// remote time-series store.
//
// # Overview
//
// A batch for one device is sent as a single HTTP POST to
// <base-url>/<deviceID> with a SenML-like JSON body:
//
//	{"e":[{"n":"temperature","v":21.5,"t":1700000000.0}, ...]}
//
// The API key is sent as the basic-auth user name with an empty password.
//
// # Quick Start
//
//	client, err := httppost.NewClient(
//	    "http://geras.1248.io/series/BID0",
//	    apiKey,
//	    10*time.Second,
//	    httppost.WithLogger(logger),
//	    httppost.WithMetricsRegistry(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	err = client.Send(ctx, "kitchen_tag", samples)
//
// # Failure Semantics
//
// Only HTTP 200 counts as success. Transport errors, timeouts and every other
// status code return an error classified transient (errors.IsTransient). The
// client never retries; the batch buffer re-queues failed samples and the
// next scheduled flush sends them again.
//
// The response body is always drained and closed so connections are reused.
//
// # Metrics
//
// With WithMetricsRegistry the client exports:
//   - sensorbridge_upload_requests_total{result}
//   - sensorbridge_upload_samples_total
//   - sensorbridge_upload_duration_seconds{result}
//
// # Thread Safety
//
// Send is safe for concurrent use; the engine calls it from the upload
// worker pool.
package httppost
