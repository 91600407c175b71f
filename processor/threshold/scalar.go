package threshold

import (
	"math"

	"github.com/c360/sensorbridge/config"
	"github.com/c360/sensorbridge/message"
)

// ScalarDelta emits a scalar reading when it differs from the last emitted
// value by at least minChange. The stored value starts at 0 and only moves on
// emission.
//
// In regular mode the threshold is ignored: the first reading whose timestamp
// falls in a new minute is emitted, stamped with the start of the previous
// minute. The initial minute is taken from the clock at construction.
type ScalarDelta struct {
	name      string
	minChange float64
	mode      config.Mode

	previous   float64
	prevMinute float64
}

// NewScalarDelta creates a scalar filter
func NewScalarDelta(name string, minChange float64, mode config.Mode, clock Clock) *ScalarDelta {
	if mode == "" {
		mode = config.ModeOnChange
	}
	return &ScalarDelta{
		name:       name,
		minChange:  minChange,
		mode:       mode,
		prevMinute: floorMinute(epochSeconds(clock())),
	}
}

// Process implements Filter
func (f *ScalarDelta) Process(r message.Reading) []message.Sample {
	v, ok := r.Value.(message.Scalar)
	if !ok {
		return nil
	}
	value := float64(v)

	if f.mode == config.ModeRegular {
		minute := floorMinute(r.Timestamp)
		if minute == f.prevMinute {
			return nil
		}
		s := message.NewSample(f.name, value, f.prevMinute)
		f.prevMinute = minute
		return []message.Sample{s}
	}

	if math.Abs(value-f.previous) < f.minChange {
		return nil
	}
	f.previous = value
	return []message.Sample{message.NewSample(f.name, value, r.Timestamp)}
}

// Previous returns the last emitted value
func (f *ScalarDelta) Previous() float64 {
	return f.previous
}
