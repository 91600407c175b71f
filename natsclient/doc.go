// Package natsclient is the bridge's connection to the core NATS bus. It
// carries service announcements, configure messages, readings, subscription
// requests, state reports and concentrator exchanges.
//
// # Connecting
//
// Connect is guarded by a circuit breaker: after a number of consecutive
// failures (WithCircuitBreaker, default 5) it refuses attempts with
// ErrCircuitOpen for a backoff that doubles on every opening, up to the
// configured maximum. Once connected, reconnection is left to nats.go and the
// client only tracks the resulting status.
//
//	client, err := natsclient.NewClient(url,
//	    natsclient.WithName("sensorbridge-"+bridgeID),
//	    natsclient.WithReconnect(-1, 2*time.Second),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err // bad option values are rejected here
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// # Subjects
//
// Subjects are checked with ValidateSubject before they reach the server.
// Publish rejects wildcards; a request subject built from a device id with a
// space in it fails with errors.ErrInvalidSubject rather than being sent.
//
// Each subject may be subscribed once. The handler gets a context bounded by
// WithHandlerTimeout and returns an error for a message it could not use:
//
//	err = client.Subscribe(ctx, "sensorbridge.data", func(ctx context.Context, data []byte) error {
//	    return decodeReading(data)
//	})
//
// Handler errors are not redelivered. They are counted per subject and
// reported by SubjectStats and Info, which the health endpoint uses to flag a
// subject that mostly carries undecodable payloads.
//
// # Testing
//
// Under the integration build tag NewTestClient starts a NATS server with
// testcontainers and returns a client connected to it.
package natsclient
