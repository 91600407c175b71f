package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds a single health request
const DefaultCheckTimeout = 2 * time.Second

// Reporter returns the current status of one or more components. An error
// becomes an unhealthy status named after the reporter.
type Reporter func(ctx context.Context) ([]Status, error)

// Monitor tracks pushed component statuses and polls reporters on demand.
// It is safe for concurrent use.
type Monitor struct {
	name string

	mu        sync.RWMutex
	statuses  map[string]Status
	reporters map[string]Reporter
}

// NewMonitor creates a monitor whose aggregate status is named name
func NewMonitor(name string) *Monitor {
	return &Monitor{
		name:      name,
		statuses:  make(map[string]Status),
		reporters: make(map[string]Reporter),
	}
}

// Update records the status for a named component
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()
}

// UpdateHealthy marks a component healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy marks a component unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Get retrieves the pushed status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// AddReporter registers a reporter polled by Check
func (m *Monitor) AddReporter(name string, reporter Reporter) {
	m.mu.Lock()
	m.reporters[name] = reporter
	m.mu.Unlock()
}

// Check polls every reporter and aggregates the result with the pushed statuses.
// Sub-statuses are ordered by component name.
func (m *Monitor) Check(ctx context.Context) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses)+len(m.reporters))
	for _, s := range m.statuses {
		subs = append(subs, s)
	}
	reporters := make(map[string]Reporter, len(m.reporters))
	for name, fn := range m.reporters {
		reporters[name] = fn
	}
	m.mu.RUnlock()

	for name, reporter := range reporters {
		statuses, err := reporter(ctx)
		if err != nil {
			subs = append(subs, NewUnhealthy(name, sanitizeErrorMessage(err.Error())))
			continue
		}
		subs = append(subs, statuses...)
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })
	return Aggregate(m.name, subs)
}

// Handler serves the aggregate status as JSON. Unhealthy answers 503,
// healthy and degraded answer 200.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), DefaultCheckTimeout)
		defer cancel()

		status := m.Check(ctx)
		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
