// Package threshold implements the per-device, per-signal filters that decide
// whether a reading is significant enough to upload.
//
// Every filter owns its own state and implements Filter. A filter is created
// for one (device, signal) pair when the device announces the service and is
// only ever called from a single goroutine, so filters do no locking.
//
// Variants:
//
//   - ScalarDelta: temperature, IR temperature, humidity, luminance, battery.
//     Emits when |v - previous| >= threshold. In regular mode it instead emits
//     once per wall-clock minute, stamped with the previous minute.
//   - VectorDelta: acceleration, gyro, magnetometer. Emits all three axes when
//     any axis moved strictly more than the threshold.
//   - Edge: binary contact and connectivity. On a state change emits the old
//     state at t-1 followed by the new state at t.
//   - PowerEdge: power. Like ScalarDelta, plus the old value at t-1 when more
//     than two seconds passed since the previous emission.
//   - PassThrough: buttons. Always emits both button states.
package threshold
