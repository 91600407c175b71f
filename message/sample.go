package message

// Sample is a named, timestamped value ready for upload.
// Samples are never modified after a filter creates them.
type Sample struct {
	Name      string  `json:"n"`
	Value     any     `json:"v"`
	Timestamp float64 `json:"t"`
}

// NewSample creates a sample
func NewSample(name string, value any, timestamp float64) Sample {
	return Sample{Name: name, Value: value, Timestamp: timestamp}
}

// Envelope is the upload body: {"e": [...samples]}
type Envelope struct {
	Entries []Sample `json:"e"`
}
