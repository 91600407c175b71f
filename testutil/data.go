package testutil

import (
	"encoding/json"

	"github.com/c360/sensorbridge/message"
)

// Announcement builds a service announcement offering the given characteristics.
func Announcement(deviceID string, characteristics ...string) message.ServiceAnnouncement {
	entries := make([]message.ServiceEntry, len(characteristics))
	for i, c := range characteristics {
		entries[i] = message.ServiceEntry{Characteristic: c}
	}
	return message.ServiceAnnouncement{ID: deviceID, Service: entries}
}

// Configure builds a configure message from id/friendly-name pairs.
func Configure(pairs ...string) message.ConfigureMessage {
	var msg message.ConfigureMessage
	for i := 0; i+1 < len(pairs); i += 2 {
		msg.Adaptors = append(msg.Adaptors, message.Adaptor{
			ID:           pairs[i],
			Name:         "adaptor-" + pairs[i],
			FriendlyName: pairs[i+1],
		})
	}
	return msg
}

// ReadingEvent builds the wire form of a reading. data is marshalled as JSON.
func ReadingEvent(deviceID, characteristic string, data any, ts float64) message.ReadingEvent {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	return message.ReadingEvent{
		ID:             deviceID,
		Characteristic: characteristic,
		Data:           raw,
		TimeStamp:      &ts,
	}
}

// ScalarReading builds a typed scalar reading.
func ScalarReading(deviceID string, signal message.SignalType, v, ts float64) message.Reading {
	return message.Reading{DeviceID: deviceID, Signal: signal, Value: message.Scalar(v), Timestamp: ts}
}

// StateReading builds a typed binary/connectivity reading.
func StateReading(deviceID string, signal message.SignalType, raw any, ts float64) message.Reading {
	return message.Reading{DeviceID: deviceID, Signal: signal, Value: message.State{Raw: raw}, Timestamp: ts}
}

// VectorReading builds a typed three-axis reading.
func VectorReading(deviceID string, signal message.SignalType, x, y, z, ts float64) message.Reading {
	return message.Reading{DeviceID: deviceID, Signal: signal, Value: message.Vector{X: x, Y: y, Z: z}, Timestamp: ts}
}

// SampleRecorder collects appended samples per device. It satisfies the
// router's sink interface. Not safe for concurrent use.
type SampleRecorder struct {
	Batches map[string][][]message.Sample
}

// NewSampleRecorder creates an empty recorder.
func NewSampleRecorder() *SampleRecorder {
	return &SampleRecorder{Batches: make(map[string][][]message.Sample)}
}

// Append records one call.
func (r *SampleRecorder) Append(device string, samples []message.Sample) {
	r.Batches[device] = append(r.Batches[device], samples)
}

// All returns every sample recorded for device in arrival order.
func (r *SampleRecorder) All(device string) []message.Sample {
	var out []message.Sample
	for _, b := range r.Batches[device] {
		out = append(out, b...)
	}
	return out
}
