// Package router implements the sample router: the stage between the bus and
// the batch buffer.
//
// # Overview
//
// The router reacts to three kinds of bus input:
//
//   - Configure messages name the adaptors. Friendly names have spaces
//     replaced by underscores and, once recorded, never change.
//   - Service announcements create one threshold filter per enabled signal a
//     device offers and send the device a subscription request listing those
//     characteristics with their polling intervals. A pair that already has a
//     filter keeps it, so re-announcing does not reset filter state.
//   - Readings are passed to the filter registered for (device, signal). The
//     samples it emits are appended to the sink under the device's display
//     name (friendly name, or raw id when the device was never configured).
//     The name is fixed at the device's first emitted sample: a configure
//     message that arrives later is recorded for concentrator replies but
//     does not move the device to a second batch.
//
// Readings for pairs that were never announced are dropped with a debug
// record. Malformed readings are dropped with a warning. Both are counted in
// sensorbridge_router_dropped_total{reason}.
//
// The router also tracks the application state (stopped, starting, running)
// and publishes a state report on every change, and answers concentrator
// "config" requests with the known names and announced services.
//
// # Thread Safety
//
// Router is owned by the engine loop and must not be shared between
// goroutines.
package router
