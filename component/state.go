package component

// State is where a stage is in its start/stop cycle. The engine keeps it in
// an atomic int32, so the values are stable.
type State int32

const (
	StateCreated State = iota
	StateStarted
	StateStopped
	// StateFailed is set when Start or Stop did not complete. A failed stage
	// is not started again.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}
