package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/sensorbridge/errors"
	"github.com/c360/sensorbridge/message"
	"github.com/c360/sensorbridge/pkg/security"
)

// DefaultEnvPrefix is the prefix of environment overrides
const DefaultEnvPrefix = "SENSORBRIDGE"

// Loader handles configuration loading with layers and overrides.
//
// A layer that is missing, unreadable or fails schema validation does not stop
// loading: it is logged at warn level, recorded in Issues, and skipped, so the
// values it would have set keep their defaults. Individual keys with
// unrecognised flag values are handled the same way.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	logger     *slog.Logger
	issues     []error
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  DefaultEnvPrefix,
		logger:     slog.Default(),
	}
}

// SetLogger sets the logger used for load warnings
func (l *Loader) SetLogger(logger *slog.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// SetEnvPrefix changes the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Issues returns the non-fatal problems found by the last Load
func (l *Loader) Issues() []error {
	return append([]error(nil), l.issues...)
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers.
// Only a failed Validate is returned as an error.
func (l *Loader) Load() (*Config, error) {
	l.issues = nil
	cfg := l.getDefaults()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			l.warn(errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path)),
				"Config file does not exist or is corrupt, using defaults", "path", path)
			continue
		}
		l.logger.Info("Read config file", "path", path)
		l.applyRaw(cfg, raw)
	}

	l.applyEnvOverrides(cfg)
	l.resolve(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading files or the
// environment.
func Default() *Config {
	l := NewLoader()
	cfg := l.getDefaults()
	l.resolve(cfg)
	return cfg
}

// getDefaults returns default configuration
func (l *Loader) getDefaults() *Config {
	return &Config{
		AppID:               "sensorbridge-" + uuid.NewString(),
		BridgeID:            DefaultBridgeID,
		Signals:             defaultSignals(),
		SlowPollingInterval: DefaultSlowPollingInterval,
		SendDelay:           seconds(DefaultSendDelaySeconds),
		Upload: UploadConfig{
			Timeout:   mustDuration(DefaultUploadTimeout),
			Workers:   DefaultUploadWorkers,
			QueueSize: DefaultUploadQueueSize,
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			ClientName:    "sensorbridge",
		},
		Subjects: SubjectsConfig{
			Announce:          "sensorbridge.announce",
			Data:              "sensorbridge.data",
			Configure:         "sensorbridge.configure",
			RequestPrefix:     "sensorbridge.request",
			State:             "sensorbridge.state",
			Concentrator:      "sensorbridge.concentrator.resp",
			ConcentratorReply: "sensorbridge.concentrator.req",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    DefaultMetricsPort,
			Path:    DefaultMetricsPath,
		},
	}
}

// loadRaw reads a JSON or YAML file into a map and checks it against the schema
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, format, err := readSource(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", errors.ErrConfigNotFound, err)
		}
		return nil, err
	}

	raw, err := decodeSource(data, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrParsingFailed, format, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if err := validateRaw(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}

	return raw, nil
}

// applyRaw copies the keys present in raw onto cfg
func (l *Loader) applyRaw(cfg *Config, raw map[string]any) {
	cfg.AppID = GetString(raw, "app_id", cfg.AppID)
	cfg.BridgeID = GetString(raw, "bridge_id", cfg.BridgeID)
	cfg.Upload.APIKey = GetString(raw, "geras_key", cfg.Upload.APIKey)
	cfg.SlowPollingInterval = GetFloat64(raw, slowPollingKey, cfg.SlowPollingInterval)
	if HasKey(raw, "send_delay") {
		cfg.SendDelay = seconds(GetFloat64(raw, "send_delay", DefaultSendDelaySeconds))
	}

	for _, s := range message.AllSignals() {
		keys := legacyKeys[s]
		settings := cfg.Signals[s]

		enabled, ok := GetBool(raw, keys.enable, settings.Enabled)
		if !ok {
			l.warn(errors.WrapInvalid(
				fmt.Errorf("%w: %s=%v is not a boolean", errors.ErrInvalidConfig, keys.enable, raw[keys.enable]),
				"Loader", "applyRaw", "normalize flag"),
				"Ignoring unrecognised flag value", "key", keys.enable)
		}
		settings.Enabled = enabled

		if keys.threshold != "" {
			settings.MinChange = GetFloat64(raw, keys.threshold, settings.MinChange)
		}
		if keys.polling != "" && keys.polling != slowPollingKey {
			settings.PollingInterval = GetFloat64(raw, keys.polling, settings.PollingInterval)
		}
		if mk := modeKey(s); mk != "" {
			settings.Mode = Mode(GetString(raw, mk, string(settings.Mode)))
		}

		cfg.Signals[s] = settings
	}

	if up := GetSection(raw, "upload"); up != nil {
		cfg.Upload.BaseURL = GetString(up, "base_url", cfg.Upload.BaseURL)
		cfg.Upload.APIKey = GetString(up, "api_key", cfg.Upload.APIKey)
		cfg.Upload.Timeout = GetDuration(up, "timeout", cfg.Upload.Timeout)
		cfg.Upload.Workers = GetInt(up, "workers", cfg.Upload.Workers)
		cfg.Upload.QueueSize = GetInt(up, "queue_size", cfg.Upload.QueueSize)
		applyTLS(&cfg.Upload.TLS, GetSection(up, "tls"))
	}

	if n := GetSection(raw, "nats"); n != nil {
		cfg.NATS.URLs = GetStringSlice(n, "urls", cfg.NATS.URLs)
		cfg.NATS.MaxReconnects = GetInt(n, "max_reconnects", cfg.NATS.MaxReconnects)
		cfg.NATS.ReconnectWait = GetDuration(n, "reconnect_wait", cfg.NATS.ReconnectWait)
		cfg.NATS.Username = GetString(n, "username", cfg.NATS.Username)
		cfg.NATS.Password = GetString(n, "password", cfg.NATS.Password)
		cfg.NATS.Token = GetString(n, "token", cfg.NATS.Token)
		cfg.NATS.ClientName = GetString(n, "client_name", cfg.NATS.ClientName)
		applyTLS(&cfg.NATS.TLS, GetSection(n, "tls"))
	}

	if sub := GetSection(raw, "subjects"); sub != nil {
		cfg.Subjects.Announce = GetString(sub, "announce", cfg.Subjects.Announce)
		cfg.Subjects.Data = GetString(sub, "data", cfg.Subjects.Data)
		cfg.Subjects.Configure = GetString(sub, "configure", cfg.Subjects.Configure)
		cfg.Subjects.RequestPrefix = GetString(sub, "request_prefix", cfg.Subjects.RequestPrefix)
		cfg.Subjects.State = GetString(sub, "state", cfg.Subjects.State)
		cfg.Subjects.Concentrator = GetString(sub, "concentrator", cfg.Subjects.Concentrator)
		cfg.Subjects.ConcentratorReply = GetString(sub, "concentrator_reply", cfg.Subjects.ConcentratorReply)
	}

	if m := GetSection(raw, "metrics"); m != nil {
		enabled, ok := GetBool(m, "enabled", cfg.Metrics.Enabled)
		if !ok {
			l.warn(errors.WrapInvalid(
				fmt.Errorf("%w: metrics.enabled=%v is not a boolean", errors.ErrInvalidConfig, m["enabled"]),
				"Loader", "applyRaw", "normalize flag"),
				"Ignoring unrecognised flag value", "key", "metrics.enabled")
		}
		cfg.Metrics.Enabled = enabled
		cfg.Metrics.Port = GetInt(m, "port", cfg.Metrics.Port)
		cfg.Metrics.Path = GetString(m, "path", cfg.Metrics.Path)
	}
}

// applyTLS copies a tls section onto dst. Booleans were checked by the schema.
func applyTLS(dst *security.ClientTLSConfig, raw map[string]any) {
	if raw == nil {
		return
	}
	dst.CAFiles = GetStringSlice(raw, "ca_files", dst.CAFiles)
	dst.InsecureSkipVerify, _ = GetBool(raw, "insecure_skip_verify", dst.InsecureSkipVerify)
	dst.MinVersion = GetString(raw, "min_version", dst.MinVersion)
	if m := GetSection(raw, "mtls"); m != nil {
		dst.MTLS.Enabled, _ = GetBool(m, "enabled", dst.MTLS.Enabled)
		dst.MTLS.CertFile = GetString(m, "cert_file", dst.MTLS.CertFile)
		dst.MTLS.KeyFile = GetString(m, "key_file", dst.MTLS.KeyFile)
	}
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) {
	get := func(suffix string) string {
		key := l.envPrefix + "_" + suffix
		val, err := envValue(key)
		if err != nil {
			l.warn(errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+key),
				"Ignoring environment override", "key", key)
			return ""
		}
		return val
	}

	if val := get("APP_ID"); val != "" {
		cfg.AppID = val
	}
	if val := get("BRIDGE_ID"); val != "" {
		cfg.BridgeID = val
	}
	if val := get("API_KEY"); val != "" {
		cfg.Upload.APIKey = val
	}
	if val := get("UPLOAD_URL"); val != "" {
		cfg.Upload.BaseURL = val
	}
	if val := get("NATS_URLS"); val != "" {
		cfg.NATS.URLs = splitList(val)
	}
	if val := get("NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := get("NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := get("NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
}

// resolve fills values derived from other settings
func (l *Loader) resolve(cfg *Config) {
	for _, s := range message.AllSignals() {
		if legacyKeys[s].polling == slowPollingKey {
			settings := cfg.Signals[s]
			settings.PollingInterval = cfg.SlowPollingInterval
			cfg.Signals[s] = settings
		}
	}

	if cfg.Upload.BaseURL == "" {
		cfg.Upload.BaseURL = fmt.Sprintf(DefaultUploadURLFormat, cfg.BridgeID)
	}
	cfg.Upload.BaseURL = strings.TrimSuffix(cfg.Upload.BaseURL, "/")
}

func (l *Loader) warn(err error, msg string, args ...any) {
	l.issues = append(l.issues, err)
	l.logger.Warn(msg, append(args, "error", err)...)
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}
