package message

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/c360/sensorbridge/errors"
)

// Value is the typed payload of a Reading. The set of implementations is closed:
// Scalar, Vector, Buttons and State.
type Value interface {
	kind() Kind
}

// Scalar is a single numeric reading
type Scalar float64

func (Scalar) kind() Kind { return KindScalar }

// Vector is a 3-axis reading
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (Vector) kind() Kind { return KindVector }

// Axes returns the components in x, y, z order
func (v Vector) Axes() [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// Buttons carries the two button states exactly as the adaptor reported them
type Buttons struct {
	Left  any `json:"leftButton"`
	Right any `json:"rightButton"`
}

func (Buttons) kind() Kind { return KindButtons }

// State is a raw two-state value ("on"/"off" for contact sensors, a boolean for connectivity).
// Filters normalize it to 0/1.
type State struct {
	Raw any
}

func (State) kind() Kind { return KindState }

// Reading is one raw sensor observation
type Reading struct {
	DeviceID  string
	Signal    SignalType
	Value     Value
	Timestamp float64
}

// KindOf returns the kind of v. ok is false for a nil value.
func KindOf(v Value) (kind Kind, ok bool) {
	if v == nil {
		return 0, false
	}
	return v.kind(), true
}

// Validate checks that the reading carries a value of the shape its signal expects
func (r Reading) Validate() error {
	if !r.Signal.Valid() {
		return errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnknownSignal, r.Signal),
			"Reading", "Validate", "check signal")
	}
	kind, ok := KindOf(r.Value)
	if !ok || kind != r.Signal.Kind() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s reading carries %T", errors.ErrValueMismatch, r.Signal, r.Value),
			"Reading", "Validate", "check value")
	}
	if math.IsNaN(r.Timestamp) || math.IsInf(r.Timestamp, 0) {
		return errors.WrapInvalid(fmt.Errorf("%w: timestamp is not finite", errors.ErrMalformedReading),
			"Reading", "Validate", "check timestamp")
	}
	return nil
}

// ReadingEvent is the inbound wire form of a reading
type ReadingEvent struct {
	ID             string          `json:"id"`
	Characteristic string          `json:"characteristic"`
	Data           json.RawMessage `json:"data"`
	TimeStamp      *float64        `json:"timeStamp"`
}

// ParseReadingEvent unmarshals a bus payload into a ReadingEvent
func ParseReadingEvent(data []byte) (ReadingEvent, error) {
	var ev ReadingEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ReadingEvent{}, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrMalformedReading, err),
			"message", "ParseReadingEvent", "unmarshal event")
	}
	return ev, nil
}

// DecodeReading converts a wire event into a typed Reading.
// Unknown characteristics return an error wrapping errors.ErrUnknownSignal;
// missing fields or data of the wrong shape wrap errors.ErrMalformedReading.
func DecodeReading(ev ReadingEvent) (Reading, error) {
	signal, err := ParseSignal(ev.Characteristic)
	if err != nil {
		return Reading{}, err
	}
	if ev.ID == "" {
		return Reading{}, malformed("missing device id")
	}
	if ev.TimeStamp == nil {
		return Reading{}, malformed("missing timeStamp")
	}
	if len(ev.Data) == 0 {
		return Reading{}, malformed("missing data")
	}

	value, err := decodeValue(signal.Kind(), ev.Data)
	if err != nil {
		return Reading{}, err
	}

	return Reading{
		DeviceID:  ev.ID,
		Signal:    signal,
		Value:     value,
		Timestamp: *ev.TimeStamp,
	}, nil
}

func decodeValue(kind Kind, data json.RawMessage) (Value, error) {
	switch kind {
	case KindScalar:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, malformed(fmt.Sprintf("scalar data: %v", err))
		}
		return Scalar(f), nil

	case KindVector:
		var raw struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
			Z *float64 `json:"z"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, malformed(fmt.Sprintf("vector data: %v", err))
		}
		if raw.X == nil || raw.Y == nil || raw.Z == nil {
			return nil, malformed("vector data requires x, y and z")
		}
		return Vector{X: *raw.X, Y: *raw.Y, Z: *raw.Z}, nil

	case KindButtons:
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, malformed(fmt.Sprintf("buttons data: %v", err))
		}
		left, okLeft := raw["leftButton"]
		right, okRight := raw["rightButton"]
		if !okLeft || !okRight {
			return nil, malformed("buttons data requires leftButton and rightButton")
		}
		return Buttons{Left: left, Right: right}, nil

	case KindState:
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, malformed(fmt.Sprintf("state data: %v", err))
		}
		return State{Raw: raw}, nil
	}

	return nil, malformed("unsupported value kind")
}

func malformed(detail string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrMalformedReading, detail),
		"message", "DecodeReading", "decode data")
}
