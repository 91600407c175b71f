package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/sensorbridge/errors"
	"github.com/c360/sensorbridge/message"
	"github.com/c360/sensorbridge/pkg/security"
)

// Mode selects how a scalar filter decides to emit
type Mode string

// Filter modes
const (
	ModeOnChange Mode = "on_change" // emit when the value moved by at least the threshold
	ModeRegular  Mode = "regular"   // emit once per wall-clock minute
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	return m == ModeOnChange || m == ModeRegular
}

// SignalSettings holds the per-signal configuration
type SignalSettings struct {
	Enabled         bool    `json:"enabled"`
	MinChange       float64 `json:"min_change"`
	PollingInterval float64 `json:"polling_interval"` // seconds requested from the adaptor, 0 = on event
	Mode            Mode    `json:"mode"`
}

// Config is the complete application configuration.
// A Config is not modified after Load returns it.
type Config struct {
	AppID               string                                `json:"app_id"`
	BridgeID            string                                `json:"bridge_id"`
	Signals             map[message.SignalType]SignalSettings `json:"signals"`
	SlowPollingInterval float64                               `json:"slow_polling_interval"`
	SendDelay           time.Duration                         `json:"send_delay"`
	Upload              UploadConfig                          `json:"upload"`
	NATS                NATSConfig                            `json:"nats"`
	Subjects            SubjectsConfig                        `json:"subjects"`
	Metrics             MetricsConfig                         `json:"metrics"`
}

// UploadConfig defines the time-series store endpoint and upload pool sizing
type UploadConfig struct {
	BaseURL   string        `json:"base_url"` // device id is appended as the last path segment
	APIKey    string        `json:"api_key,omitempty"`
	Timeout   time.Duration `json:"timeout"`
	Workers   int           `json:"workers"`
	QueueSize int           `json:"queue_size"`

	TLS security.ClientTLSConfig `json:"tls,omitempty"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	ClientName    string        `json:"client_name,omitempty"`

	TLS security.ClientTLSConfig `json:"tls,omitempty"`
}

// SubjectsConfig names the bus subjects used by the bridge
type SubjectsConfig struct {
	Announce          string `json:"announce"`
	Data              string `json:"data"`
	Configure         string `json:"configure"`
	RequestPrefix     string `json:"request_prefix"`
	State             string `json:"state"`
	Concentrator      string `json:"concentrator"`
	ConcentratorReply string `json:"concentrator_reply"`
}

// RequestSubject returns the subject subscription requests for deviceID are published on
func (s SubjectsConfig) RequestSubject(deviceID string) string {
	return s.RequestPrefix + "." + deviceID
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// Signal returns the settings for s. Unknown signals are reported disabled.
func (c *Config) Signal(s message.SignalType) SignalSettings {
	return c.Signals[s]
}

// EnabledSignals returns the enabled signal types in a stable order
func (c *Config) EnabledSignals() []message.SignalType {
	var out []message.SignalType
	for _, s := range message.AllSignals() {
		if c.Signals[s].Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.BridgeID == "" {
		return invalid("bridge_id is required")
	}
	if c.SendDelay <= 0 {
		return invalid(fmt.Sprintf("send_delay must be positive, got %s", c.SendDelay))
	}
	if c.SlowPollingInterval < 0 {
		return invalid("slow_polling_interval must not be negative")
	}

	for _, s := range message.AllSignals() {
		settings, ok := c.Signals[s]
		if !ok {
			return invalid(fmt.Sprintf("settings for %s are missing", s))
		}
		if settings.MinChange < 0 {
			return invalid(fmt.Sprintf("%s min change must not be negative", s))
		}
		if settings.PollingInterval < 0 {
			return invalid(fmt.Sprintf("%s polling interval must not be negative", s))
		}
		if !settings.Mode.Valid() {
			return invalid(fmt.Sprintf("%s mode %q is not one of on_change, regular", s, settings.Mode))
		}
	}

	if c.Upload.BaseURL == "" {
		return invalid("upload.base_url is required")
	}
	if c.Upload.Timeout <= 0 {
		return invalid("upload.timeout must be positive")
	}
	if c.Upload.Workers <= 0 || c.Upload.QueueSize <= 0 {
		return invalid("upload.workers and upload.queue_size must be positive")
	}

	if len(c.NATS.URLs) == 0 {
		return invalid("nats.urls must contain at least one server")
	}
	if c.Subjects.Announce == "" || c.Subjects.Data == "" || c.Subjects.RequestPrefix == "" {
		return invalid("subjects.announce, subjects.data and subjects.request_prefix are required")
	}

	for name, t := range map[string]security.ClientTLSConfig{"upload": c.Upload.TLS, "nats": c.NATS.TLS} {
		if t.MTLS.Enabled && (t.MTLS.CertFile == "" || t.MTLS.KeyFile == "") {
			return invalid(name + ".tls.mtls requires cert_file and key_file")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return invalid(fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
	}

	return nil
}

func invalid(detail string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, detail),
		"Config", "Validate", "check configuration")
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Upload.APIKey != "" {
		masked.Upload.APIKey = "***"
	}
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}
