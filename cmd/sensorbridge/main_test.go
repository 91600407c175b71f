package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorbridge/health"
	"github.com/c360/sensorbridge/natsclient"
)

func TestParseFlags_Defaults(t *testing.T) {
	cfg, err := parseFlags(nil)
	require.NoError(t, err)

	assert.Equal(t, "sensorbridge.json", cfg.ConfigPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, -1, cfg.MetricsPort)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.Validate)
}

func TestParseFlags_Overrides(t *testing.T) {
	cfg, err := parseFlags([]string{
		"-c", "/etc/bridge.yaml",
		"--log-format=tint",
		"--metrics-port=0",
		"--shutdown-timeout=3s",
		"--debug",
	})
	require.NoError(t, err)

	assert.Equal(t, "/etc/bridge.yaml", cfg.ConfigPath)
	assert.Equal(t, "tint", cfg.LogFormat)
	assert.Equal(t, 0, cfg.MetricsPort)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.LogLevel, "--debug forces debug level")
}

func TestParseFlags_EnvFallback(t *testing.T) {
	t.Setenv("SENSORBRIDGE_LOG_LEVEL", "warn")
	t.Setenv("SENSORBRIDGE_METRICS_PORT", "9191")
	t.Setenv("SENSORBRIDGE_SHUTDOWN_TIMEOUT", "not-a-duration")

	cfg, err := parseFlags(nil)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 9191, cfg.MetricsPort)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout, "unparseable env keeps the default")
}

func TestParseFlags_UnknownFlag(t *testing.T) {
	_, err := parseFlags([]string{"--no-such-flag"})
	assert.Error(t, err)
}

func TestValidateFlags(t *testing.T) {
	valid := func() *CLIConfig {
		return &CLIConfig{LogLevel: "info", LogFormat: "json", MetricsPort: -1, ShutdownTimeout: time.Second}
	}

	tests := []struct {
		name    string
		mutate  func(*CLIConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*CLIConfig) {}},
		{name: "bad level", mutate: func(c *CLIConfig) { c.LogLevel = "trace" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *CLIConfig) { c.LogFormat = "xml" }, wantErr: "invalid log format"},
		{name: "bad port", mutate: func(c *CLIConfig) { c.MetricsPort = 70000 }, wantErr: "invalid metrics port"},
		{name: "bad timeout", mutate: func(c *CLIConfig) { c.ShutdownTimeout = 0 }, wantErr: "invalid shutdown timeout"},
		{name: "version skips checks", mutate: func(c *CLIConfig) { c.LogLevel = "nope"; c.ShowVersion = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validateFlags(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "device", "Kitchen")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, appName, entry["service"])
	assert.Equal(t, Version, entry["version"])
	assert.Equal(t, "Kitchen", entry["device"])
}

func TestSetupLogger_Tint(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "debug", "tint")
	logger.Debug("hello")
	assert.Contains(t, buf.String(), "hello")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("anything"))
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"--version"}, &out))
	assert.Contains(t, out.String(), appName+" version "+Version)
}

func TestRun_ValidateGoodConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bridge_id: BID0\nupload:\n  base_url: http://localhost:8080\n"), 0o600))

	var out bytes.Buffer
	require.NoError(t, run([]string{"--config", path, "--validate"}, &out))
	assert.Contains(t, out.String(), "Configuration is valid")
}

func TestRun_ValidateMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	var out bytes.Buffer
	require.NoError(t, run([]string{"--config", path, "--validate"}, &out))
	assert.Contains(t, out.String(), "Config file does not exist or is corrupt")
	assert.Contains(t, out.String(), "Configuration is valid")
}

func TestRun_ValidateRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nats:\n  tls:\n    mtls:\n      enabled: true\n"), 0o600))

	var out bytes.Buffer
	err := run([]string{"--config", path, "--validate"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestBusStatuses(t *testing.T) {
	info := natsclient.Info{
		Status: natsclient.StatusConnected,
		RTT:    2 * time.Millisecond,
		Subjects: map[string]natsclient.SubjectStats{
			"sensorbridge.data":      {Received: 10, Failed: 1, LastError: "parsing failed"},
			"sensorbridge.announce":  {Received: 4, Failed: 2, LastError: "malformed announcement"},
			"sensorbridge.configure": {},
		},
	}

	statuses := busStatuses(info)
	require.Len(t, statuses, 4)

	byName := make(map[string]health.Status)
	for _, s := range statuses {
		byName[s.Component] = s
	}
	assert.True(t, byName["nats"].IsHealthy())
	assert.True(t, byName["nats:sensorbridge.data"].IsHealthy())
	assert.True(t, byName["nats:sensorbridge.configure"].IsHealthy())
	assert.True(t, byName["nats:sensorbridge.announce"].IsDegraded())
	assert.Contains(t, byName["nats:sensorbridge.announce"].Message, "malformed announcement")
	assert.Equal(t, "nats:sensorbridge.announce", statuses[1].Component, "subjects are sorted")
}

func TestBusStatusesDisconnected(t *testing.T) {
	client, err := natsclient.NewClient("nats://127.0.0.1:1")
	require.NoError(t, err)

	statuses := busStatuses(client.Info())
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].IsUnhealthy())
	assert.Equal(t, "disconnected", statuses[0].Message)

	statuses = busStatuses(natsclient.Info{Status: natsclient.StatusCircuitOpen, Failures: 5})
	assert.Contains(t, statuses[0].Message, "circuit open after 5 failures")
}
