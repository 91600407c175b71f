// Package health aggregates the health of the bridge's stages and connections
package health

import (
	"regexp"
	"time"

	"github.com/c360/sensorbridge/component"
)

// Health states
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// DegradedErrorRate is the error share above which a running stage is degraded
const DegradedErrorRate = 0.5

var (
	urlRegex        = regexp.MustCompile(`(?i)(https?|nats|tls)://[^\s]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(:\d{2,5})?\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|authorization)[^a-zA-Z]*[:=]\s*[^,\s}]+`)
)

// Status represents the health state of a component or of the whole bridge
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related counters
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int           `json:"error_count"`
	ErrorRate         float64       `json:"error_rate"`
	MessagesPerSecond float64       `json:"messages_per_second"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

// sanitizeErrorMessage strips endpoints and credentials from error text that
// ends up on the unauthenticated health endpoint. Upload URLs carry the
// bridge ID and NATS URLs may embed user:password.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}
	sanitized := urlRegex.ReplaceAllString(err, "[URL]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	return credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
}

// FromComponent converts a stage's reported health and flow into a Status.
// A stage reporting healthy with an error rate of DegradedErrorRate or more
// is degraded.
func FromComponent(name string, h component.HealthStatus, flow component.FlowMetrics) Status {
	var s Status
	switch {
	case !h.Healthy:
		s = NewUnhealthy(name, "Component not running")
	case flow.ErrorRate >= DegradedErrorRate:
		s = NewDegraded(name, "Error rate above threshold")
	default:
		s = NewHealthy(name, "Component healthy")
	}
	if h.LastError != "" && !s.IsHealthy() {
		s.Message = sanitizeErrorMessage(h.LastError)
	}

	s.Metrics = &Metrics{
		Uptime:            h.Uptime,
		ErrorCount:        h.ErrorCount,
		ErrorRate:         flow.ErrorRate,
		MessagesPerSecond: flow.MessagesPerSecond,
		LastActivity:      flow.LastActivity,
	}
	return s
}
