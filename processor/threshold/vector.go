package threshold

import (
	"math"

	"github.com/c360/sensorbridge/message"
)

// VectorDelta emits all three axes when any axis differs from its stored
// value by strictly more than minChange. All axes are stored together on emission.
type VectorDelta struct {
	names     [3]string
	minChange float64
	previous  [3]float64
}

// NewVectorDelta creates a vector filter. names are the x, y and z sample names.
func NewVectorDelta(names []string, minChange float64) *VectorDelta {
	f := &VectorDelta{minChange: minChange}
	copy(f.names[:], names)
	return f
}

// Process implements Filter
func (f *VectorDelta) Process(r message.Reading) []message.Sample {
	v, ok := r.Value.(message.Vector)
	if !ok {
		return nil
	}
	axes := v.Axes()

	triggered := false
	for i := range axes {
		if math.Abs(axes[i]-f.previous[i]) > f.minChange {
			triggered = true
			break
		}
	}
	if !triggered {
		return nil
	}

	f.previous = axes
	out := make([]message.Sample, 0, len(axes))
	for i, a := range axes {
		out = append(out, message.NewSample(f.names[i], a, r.Timestamp))
	}
	return out
}

// Previous returns the stored axes
func (f *VectorDelta) Previous() [3]float64 {
	return f.previous
}
