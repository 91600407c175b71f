package message

import (
	"fmt"

	"github.com/c360/sensorbridge/errors"
)

// SignalType identifies one kind of sensor signal
type SignalType string

// Supported signal types. Values match the adaptor characteristic names.
const (
	SignalTemperature   SignalType = "temperature"
	SignalIRTemperature SignalType = "ir_temperature"
	SignalHumidity      SignalType = "humidity"
	SignalLuminance     SignalType = "luminance"
	SignalBattery       SignalType = "battery"
	SignalPower         SignalType = "power"
	SignalAcceleration  SignalType = "acceleration"
	SignalGyro          SignalType = "gyro"
	SignalMagnetometer  SignalType = "magnetometer"
	SignalButtons       SignalType = "buttons"
	SignalBinary        SignalType = "binary_sensor"
	SignalConnected     SignalType = "connected"
)

// Kind describes the value shape a signal carries
type Kind int

const (
	// KindScalar is a single numeric value
	KindScalar Kind = iota
	// KindVector is a 3-axis value
	KindVector
	// KindButtons is a pair of button states
	KindButtons
	// KindState is a two-state value (on/off, connected/disconnected)
	KindState
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindVector:
		return "vector"
	case KindButtons:
		return "buttons"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

type signalInfo struct {
	kind  Kind
	names []string
}

var signals = map[SignalType]signalInfo{
	SignalTemperature:   {KindScalar, []string{"temperature"}},
	SignalIRTemperature: {KindScalar, []string{"ir_temperature"}},
	SignalHumidity:      {KindScalar, []string{"humidity"}},
	SignalLuminance:     {KindScalar, []string{"luminance"}},
	SignalBattery:       {KindScalar, []string{"battery"}},
	SignalPower:         {KindScalar, []string{"power"}},
	SignalAcceleration:  {KindVector, []string{"accel_x", "accel_y", "accel_z"}},
	SignalGyro:          {KindVector, []string{"gyro_x", "gyro_y", "gyro_z"}},
	SignalMagnetometer:  {KindVector, []string{"magnet_x", "magnet_y", "magnet_z"}},
	SignalButtons:       {KindButtons, []string{"left_button", "right_button"}},
	SignalBinary:        {KindState, []string{"binary"}},
	SignalConnected:     {KindState, []string{"connected"}},
}

// AllSignals returns every supported signal type in a stable order
func AllSignals() []SignalType {
	return []SignalType{
		SignalTemperature,
		SignalIRTemperature,
		SignalHumidity,
		SignalLuminance,
		SignalBattery,
		SignalPower,
		SignalAcceleration,
		SignalGyro,
		SignalMagnetometer,
		SignalButtons,
		SignalBinary,
		SignalConnected,
	}
}

// ParseSignal maps an adaptor characteristic name to its SignalType
func ParseSignal(characteristic string) (SignalType, error) {
	s := SignalType(characteristic)
	if _, ok := signals[s]; !ok {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownSignal, characteristic),
			"message", "ParseSignal", "lookup characteristic")
	}
	return s, nil
}

// Valid reports whether s is one of the supported signal types
func (s SignalType) Valid() bool {
	_, ok := signals[s]
	return ok
}

// Characteristic returns the adaptor characteristic name for s
func (s SignalType) Characteristic() string {
	return string(s)
}

// Kind returns the value shape carried by s
func (s SignalType) Kind() Kind {
	return signals[s].kind
}

// SampleNames returns the sample names produced for s, in emission order.
// The returned slice is a copy.
func (s SignalType) SampleNames() []string {
	names := signals[s].names
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// SampleName returns the first (for scalar and state signals, the only) sample name
func (s SignalType) SampleName() string {
	names := signals[s].names
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
