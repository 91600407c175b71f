package component

import (
	"sync"
	"sync/atomic"
	"time"
)

// FlowTracker accumulates message, byte and error counts for a component and
// derives HealthStatus and FlowMetrics from them. It is safe for concurrent use.
type FlowTracker struct {
	started  time.Time
	now      func() time.Time
	messages atomic.Int64
	bytes    atomic.Int64
	errors   atomic.Int64

	mu           sync.RWMutex
	lastActivity time.Time
	lastError    string
}

// NewFlowTracker creates a tracker whose uptime starts now.
func NewFlowTracker() *FlowTracker {
	return newFlowTracker(time.Now)
}

func newFlowTracker(now func() time.Time) *FlowTracker {
	return &FlowTracker{started: now(), now: now}
}

// Message records one successfully handled message of n bytes.
func (f *FlowTracker) Message(n int) {
	f.messages.Add(1)
	f.bytes.Add(int64(n))
	f.touch("")
}

// Error records a failure.
func (f *FlowTracker) Error(err error) {
	f.errors.Add(1)
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	f.touch(msg)
}

func (f *FlowTracker) touch(lastError string) {
	f.mu.Lock()
	f.lastActivity = f.now()
	if lastError != "" {
		f.lastError = lastError
	}
	f.mu.Unlock()
}

// Messages returns the number of recorded messages.
func (f *FlowTracker) Messages() int64 { return f.messages.Load() }

// Errors returns the number of recorded errors.
func (f *FlowTracker) Errors() int64 { return f.errors.Load() }

// Health reports the tracker state; healthy is supplied by the owner.
func (f *FlowTracker) Health(healthy bool) HealthStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()

	now := f.now()
	return HealthStatus{
		Healthy:    healthy,
		LastCheck:  now,
		ErrorCount: int(f.errors.Load()),
		LastError:  f.lastError,
		Uptime:     now.Sub(f.started),
	}
}

// DataFlow returns average rates since the tracker was created.
func (f *FlowTracker) DataFlow() FlowMetrics {
	f.mu.RLock()
	last := f.lastActivity
	f.mu.RUnlock()

	messages := f.messages.Load()
	errorCount := f.errors.Load()

	var errorRate float64
	if total := messages + errorCount; total > 0 {
		errorRate = float64(errorCount) / float64(total)
	}

	var msgRate, byteRate float64
	if elapsed := f.now().Sub(f.started).Seconds(); elapsed > 0 {
		msgRate = float64(messages) / elapsed
		byteRate = float64(f.bytes.Load()) / elapsed
	}

	return FlowMetrics{
		MessagesPerSecond: msgRate,
		BytesPerSecond:    byteRate,
		ErrorRate:         errorRate,
		LastActivity:      last,
	}
}
