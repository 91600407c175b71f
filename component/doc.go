// Package component provides the shared status types reported by the
// pipeline stages of sensorbridge.
//
// # Overview
//
// Every stage (router, upload client, engine) is self-describing: it exposes
// Metadata, a HealthStatus and FlowMetrics through the Discoverable interface.
// The engine tracks its own start/stop cycle with State.
//
// FlowTracker is the common bookkeeping behind Health and DataFlow:
//
//	flow := component.NewFlowTracker()
//	flow.Message(len(payload))
//	flow.Error(err)
//	status := flow.Health(running)
//	rates := flow.DataFlow()
//
// # Thread Safety
//
// FlowTracker is safe for concurrent use. The value types are plain data.
package component
