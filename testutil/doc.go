// Package testutil provides test doubles and fixtures for sensorbridge tests.
//
// # Overview
//
// MockNATSClient is an in-memory stand-in for natsclient.Client:
//   - Thread-safe for concurrent use
//   - Stores all published messages for verification
//   - Calls subscription handlers synchronously on Publish
//   - FailPublish injects publish errors
//   - HandlerErrors returns what handlers rejected, per subject
//   - No external NATS server required
//
// Fixtures build the bus payloads a bridge sees (Announcement, Configure,
// ReadingEvent) and typed readings for filter and router tests.
// SampleRecorder captures what the router hands to the batch buffer.
//
// # Usage
//
//	bus := testutil.NewMockNATSClient()
//	bus.Deliver(t, cfg.Subjects.Announce, testutil.Announcement("D1", "temperature"))
//	testutil.WaitForMessageCount(t, bus, cfg.Subjects.RequestSubject("D1"), 1, time.Second)
//	reqs := testutil.DecodeMessages[message.SubscriptionRequest](t, bus, cfg.Subjects.RequestSubject("D1"))
//
// Tests that need a real server use natsclient.NewTestClient under the
// integration build tag.
package testutil
