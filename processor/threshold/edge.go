package threshold

import (
	"math"

	"github.com/c360/sensorbridge/message"
)

// backfillOffset is how far before a transition the previous state is stamped
const backfillOffset = 1.0

// powerBackfillGap is the minimum time since the last emission before a power
// change gets a backfill sample
const powerBackfillGap = 2.0

// Normalizer maps a raw state payload to 0 or 1
type Normalizer func(raw any) int

// NormalizeOn maps "on" to 1 and anything else to 0
func NormalizeOn(raw any) int {
	if s, ok := raw.(string); ok && s == "on" {
		return 1
	}
	return 0
}

// NormalizeTruthy maps true, non-zero numbers and non-empty strings, lists and objects to 1
func NormalizeTruthy(raw any) int {
	switch v := raw.(type) {
	case nil:
		return 0
	case bool:
		if v {
			return 1
		}
	case float64:
		if v != 0 {
			return 1
		}
	case int:
		if v != 0 {
			return 1
		}
	case string:
		if v != "" {
			return 1
		}
	case []any:
		if len(v) > 0 {
			return 1
		}
	case map[string]any:
		if len(v) > 0 {
			return 1
		}
	default:
		return 1
	}
	return 0
}

// Edge emits on every state change: the previous state at t-1, then the new
// state at t. The stored state starts at 0.
type Edge struct {
	name      string
	normalize Normalizer
	previous  int
}

// NewEdge creates an edge filter
func NewEdge(name string, normalize Normalizer) *Edge {
	return &Edge{name: name, normalize: normalize}
}

// Process implements Filter
func (f *Edge) Process(r message.Reading) []message.Sample {
	v, ok := r.Value.(message.State)
	if !ok {
		return nil
	}

	state := f.normalize(v.Raw)
	if state == f.previous {
		return nil
	}

	out := []message.Sample{
		message.NewSample(f.name, f.previous, r.Timestamp-backfillOffset),
		message.NewSample(f.name, state, r.Timestamp),
	}
	f.previous = state
	return out
}

// State returns the stored state
func (f *Edge) State() int {
	return f.previous
}

// PowerEdge emits a power reading when it differs from the stored value by at
// least minChange. If more than two seconds passed since the previous emission
// the stored value is first emitted at t-1 so the step shows in the series.
// The stored time starts at the clock time of construction.
type PowerEdge struct {
	name      string
	minChange float64
	previous  float64
	prevTime  float64
}

// NewPowerEdge creates a power filter
func NewPowerEdge(name string, minChange float64, clock Clock) *PowerEdge {
	return &PowerEdge{
		name:      name,
		minChange: minChange,
		prevTime:  epochSeconds(clock()),
	}
}

// Process implements Filter
func (f *PowerEdge) Process(r message.Reading) []message.Sample {
	v, ok := r.Value.(message.Scalar)
	if !ok {
		return nil
	}
	value := float64(v)

	if math.Abs(value-f.previous) < f.minChange {
		return nil
	}

	out := make([]message.Sample, 0, 2)
	if r.Timestamp-f.prevTime > powerBackfillGap {
		out = append(out, message.NewSample(f.name, f.previous, r.Timestamp-backfillOffset))
	}
	out = append(out, message.NewSample(f.name, value, r.Timestamp))

	f.previous = value
	f.prevTime = r.Timestamp
	return out
}
