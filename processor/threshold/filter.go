package threshold

import (
	"fmt"
	"math"
	"time"

	"github.com/c360/sensorbridge/config"
	"github.com/c360/sensorbridge/errors"
	"github.com/c360/sensorbridge/message"
)

// Filter decides which samples, if any, a reading produces
type Filter interface {
	Process(r message.Reading) []message.Sample
}

// Clock returns the current wall-clock time
type Clock func() time.Time

// SystemClock is the real wall clock
func SystemClock() time.Time {
	return time.Now()
}

// epochSeconds converts t to float seconds since the epoch, matching reading timestamps
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// floorMinute truncates an epoch timestamp to the start of its minute
func floorMinute(ts float64) float64 {
	return math.Floor(ts/60) * 60
}

// New creates the filter variant for signal
func New(signal message.SignalType, settings config.SignalSettings, clock Clock) (Filter, error) {
	if clock == nil {
		clock = SystemClock
	}

	switch signal {
	case message.SignalTemperature,
		message.SignalIRTemperature,
		message.SignalHumidity,
		message.SignalLuminance,
		message.SignalBattery:
		return NewScalarDelta(signal.SampleName(), settings.MinChange, settings.Mode, clock), nil

	case message.SignalAcceleration, message.SignalGyro, message.SignalMagnetometer:
		return NewVectorDelta(signal.SampleNames(), settings.MinChange), nil

	case message.SignalBinary:
		return NewEdge(signal.SampleName(), NormalizeOn), nil

	case message.SignalConnected:
		return NewEdge(signal.SampleName(), NormalizeTruthy), nil

	case message.SignalPower:
		return NewPowerEdge(signal.SampleName(), settings.MinChange, clock), nil

	case message.SignalButtons:
		names := signal.SampleNames()
		return NewPassThrough(names[0], names[1]), nil
	}

	return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnknownSignal, signal),
		"threshold", "New", "select filter")
}
