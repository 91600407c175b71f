package threshold

import "github.com/c360/sensorbridge/message"

// PassThrough emits both button states for every reading
type PassThrough struct {
	left  string
	right string
}

// NewPassThrough creates a buttons filter
func NewPassThrough(left, right string) *PassThrough {
	return &PassThrough{left: left, right: right}
}

// Process implements Filter
func (f *PassThrough) Process(r message.Reading) []message.Sample {
	b, ok := r.Value.(message.Buttons)
	if !ok {
		return nil
	}
	return []message.Sample{
		message.NewSample(f.left, b.Left, r.Timestamp),
		message.NewSample(f.right, b.Right, r.Timestamp),
	}
}
