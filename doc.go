// Package sensorbridge forwards significant sensor readings to a remote
// time-series store.
//
// Sensor adaptors announce devices and stream raw readings over NATS. The
// bridge keeps one threshold filter per device and signal, turns the readings
// that pass into named samples, batches them per device for a short send
// delay and POSTs each batch to the upload service. Failed batches are merged
// back in front of newer samples and retried.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│         cmd/sensorbridge            │  Flags, logging, signals
//	└─────────────────────────────────────┘
//	           ↓ wires
//	┌─────────────────────────────────────┐
//	│              engine                 │  Single event loop
//	│  (events, timers, upload results)   │  owning all state
//	└─────────────────────────────────────┘
//	     ↓ drives              ↓ submits
//	┌──────────────────┐  ┌──────────────────┐
//	│ processor/router │  │   pkg/worker     │  Bounded upload pool
//	│ processor/       │  │ output/httppost  │
//	│   threshold      │  └──────────────────┘
//	│ output/batcher   │
//	└──────────────────┘
//	           ↓ communicate via
//	┌─────────────────────────────────────┐
//	│            natsclient               │  Announce, data, configure,
//	│                                     │  request and state subjects
//	└─────────────────────────────────────┘
//
// Supporting packages: message (readings, samples and bus payloads), config
// (JSON/YAML loading with schema validation and env overrides), errors
// (transient/invalid/fatal classification), metric (Prometheus registry and
// /metrics server) and component (health and flow reporting).
//
// # Quick Start
//
//	sensorbridge --config=/etc/sensorbridge/bridge.yaml --log-format=tint
//
// Only in-memory buffering is performed. Samples waiting for upload are lost
// when the process stops.
package sensorbridge
