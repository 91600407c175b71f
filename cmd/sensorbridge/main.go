// Package main implements the sensorbridge entry point. sensorbridge listens
// to sensor adaptors on NATS, keeps only significant readings and uploads them
// per device to a time-series HTTP service.
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/c360/sensorbridge/config"
	"github.com/c360/sensorbridge/engine"
	"github.com/c360/sensorbridge/health"
	"github.com/c360/sensorbridge/metric"
	"github.com/c360/sensorbridge/natsclient"
	"github.com/c360/sensorbridge/output/httppost"
	"github.com/c360/sensorbridge/pkg/retry"
	"github.com/c360/sensorbridge/pkg/tlsutil"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "sensorbridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		return nil
	}

	logger := setupLogger(stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("Starting sensorbridge",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := loadConfig(cliCfg, logger)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return serve(ctx, cfg, cliCfg.ShutdownTimeout, logger)
}

// loadConfig reads the config file. A missing or corrupt file is reported by
// the loader and defaults are used; only an invalid result is an error.
func loadConfig(cliCfg *CLIConfig, logger *slog.Logger) (*config.Config, error) {
	loader := config.NewLoader()
	loader.SetLogger(logger)

	cfg, err := loader.LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	for _, issue := range loader.Issues() {
		logger.Debug("Configuration issue", "issue", issue)
	}

	switch {
	case cliCfg.MetricsPort == 0:
		cfg.Metrics.Enabled = false
	case cliCfg.MetricsPort > 0:
		cfg.Metrics.Enabled = true
		cfg.Metrics.Port = cliCfg.MetricsPort
	}

	return cfg, nil
}

// serve wires the bridge and blocks until ctx is cancelled or the metrics
// server fails.
func serve(ctx context.Context, cfg *config.Config, shutdownTimeout time.Duration, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor(appName)

	natsClient, err := connectToNATS(ctx, cfg, registry, monitor, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer closeCancel()
		_ = natsClient.Close(closeCtx)
	}()

	uploadTLS, err := tlsutil.LoadClientTLSConfig(cfg.Upload.TLS)
	if err != nil {
		return fmt.Errorf("upload TLS: %w", err)
	}
	uploader, err := httppost.NewClient(cfg.Upload.BaseURL, cfg.Upload.APIKey, cfg.Upload.Timeout,
		httppost.WithTLSConfig(uploadTLS),
		httppost.WithLogger(logger),
		httppost.WithMetricsRegistry(registry),
	)
	if err != nil {
		return fmt.Errorf("create upload client: %w", err)
	}

	eng, err := engine.New(cfg, natsClient, uploader,
		engine.WithLogger(logger),
		engine.WithMetrics(registry),
	)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	monitor.AddReporter("engine", eng.HealthStatuses)

	serverErr := make(chan error, 1)
	if cfg.Metrics.Enabled {
		metricsServer := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		metricsServer.Handle("/health", monitor.Handler())
		metricsServer.Handle("/status", statusHandler(eng))
		go func() {
			if err := metricsServer.Start(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
		logger.Info("Metrics server listening", "address", metricsServer.Address())
		defer func() { _ = metricsServer.Stop() }()
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	logger.Info("sensorbridge started",
		"app_id", cfg.AppID,
		"bridge_id", cfg.BridgeID,
		"upload_url", cfg.Upload.BaseURL)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-serverErr:
		logger.Error("Metrics server failed", "error", runErr)
	}

	if err := eng.Stop(shutdownTimeout); err != nil {
		logger.Error("Engine stop failed", "error", err)
		runErr = stderrors.Join(runErr, err)
	}

	logger.Info("sensorbridge shutdown complete")
	return runErr
}

// statusHandler serves the engine snapshot as JSON
func statusHandler(eng *engine.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), health.DefaultCheckTimeout)
		defer cancel()

		snap, err := eng.Snapshot(ctx)
		if err != nil {
			http.Error(w, "engine not running", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
}

// connectToNATS establishes the bus connection, retrying with backoff while
// the server is unreachable, and registers its health with monitor.
func connectToNATS(ctx context.Context, cfg *config.Config, registry *metric.MetricsRegistry,
	monitor *health.Monitor, logger *slog.Logger) (*natsclient.Client, error) {
	url := strings.Join(cfg.NATS.URLs, ",")

	natsTLS, err := tlsutil.LoadClientTLSConfig(cfg.NATS.TLS)
	if err != nil {
		return nil, fmt.Errorf("NATS TLS: %w", err)
	}

	client, err := natsclient.NewClient(url,
		natsclient.WithTLS(natsTLS),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry.CoreMetrics()),
		natsclient.WithName(cfg.NATS.ClientName),
		natsclient.WithReconnect(cfg.NATS.MaxReconnects, cfg.NATS.ReconnectWait),
		natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password),
		natsclient.WithToken(cfg.NATS.Token),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	monitor.AddReporter("nats", func(context.Context) ([]health.Status, error) {
		return busStatuses(client.Info()), nil
	})

	policy := retry.Startup()
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("NATS not reachable, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	if err := retry.Do(ctx, policy, func() error { return client.Connect(ctx) }); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	return client, nil
}

// busStatuses reports the connection and, per subscribed subject, whether
// most of its messages were rejected by the engine.
func busStatuses(info natsclient.Info) []health.Status {
	var conn health.Status
	switch info.Status {
	case natsclient.StatusConnected:
		conn = health.NewHealthy("nats", fmt.Sprintf("connected, rtt %v", info.RTT))
	case natsclient.StatusCircuitOpen:
		conn = health.NewUnhealthy("nats", fmt.Sprintf("circuit open after %d failures", info.Failures))
	default:
		conn = health.NewUnhealthy("nats", info.Status.String())
	}
	statuses := []health.Status{conn}

	subjects := make([]string, 0, len(info.Subjects))
	for subject := range info.Subjects {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	for _, subject := range subjects {
		st := info.Subjects[subject]
		name := "nats:" + subject
		msg := fmt.Sprintf("%d received, %d rejected", st.Received, st.Failed)
		if st.Received > 0 && float64(st.Failed)/float64(st.Received) >= health.DegradedErrorRate {
			statuses = append(statuses, health.NewDegraded(name, msg+": "+st.LastError))
			continue
		}
		statuses = append(statuses, health.NewHealthy(name, msg))
	}
	return statuses
}
