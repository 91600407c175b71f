package httppost

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/sensorbridge/component"
	"github.com/c360/sensorbridge/errors"
	"github.com/c360/sensorbridge/message"
	"github.com/c360/sensorbridge/metric"
)

// DefaultTimeout bounds a single upload when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is kept as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTLSConfig sets the TLS settings of the default transport. It has no
// effect when combined with WithHTTPClient or when cfg is nil.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.tlsConfig = cfg
	}
}

// WithLogger sets the logger used for per-upload debug and warn records.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetricsRegistry registers upload metrics in the given registry.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(c *Client) {
		c.metricsRegistry = registry
	}
}

// Client posts sample batches to the time-series store. One call to Send is
// one HTTP request; retrying is left to the caller.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	tlsConfig  *tls.Config
	logger     *slog.Logger

	metricsRegistry *metric.MetricsRegistry
	metrics         *Metrics
	flow            *component.FlowTracker
}

// NewClient creates an upload client for baseURL. Batches for a device go to
// baseURL + "/" + deviceID.
func NewClient(baseURL, apiKey string, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "base URL is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, errors.WrapInvalid(err, "Client", "NewClient", "invalid base URL")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		name:       "upload-client",
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
		flow:       component.NewFlowTracker(),
	}

	defaultClient := c.httpClient
	for _, opt := range opts {
		opt(c)
	}
	if c.tlsConfig != nil && c.httpClient == defaultClient {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = c.tlsConfig
		c.httpClient.Transport = transport
	}
	c.logger = c.logger.With("component", c.name)

	if c.metricsRegistry != nil {
		m, err := newMetrics(c.metricsRegistry)
		if err != nil {
			c.logger.Warn("Upload metrics disabled", "error", err)
		} else {
			c.metrics = m
		}
	}

	return c, nil
}

// URL returns the upload endpoint for a device.
func (c *Client) URL(deviceID string) string {
	return c.baseURL + "/" + url.PathEscape(deviceID)
}

// Send uploads samples for deviceID in one POST. It succeeds only on HTTP 200.
// Every failure is classified transient.
func (c *Client) Send(ctx context.Context, deviceID string, samples []message.Sample) error {
	attempt := uuid.NewString()
	start := time.Now()

	body, err := json.Marshal(message.Envelope{Entries: samples})
	if err != nil {
		return c.fail(attempt, deviceID, start, errors.WrapInvalid(err, "Client", "Send", "encode samples"))
	}

	target := c.URL(deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return c.fail(attempt, deviceID, start, errors.WrapTransient(err, "Client", "Send", "build request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.apiKey, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(attempt, deviceID, start,
			errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrUploadFailed, err), "Client", "Send", "post batch"))
	}
	defer resp.Body.Close()

	// Read and discard body to reuse connection
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return c.fail(attempt, deviceID, start,
			errors.WrapTransient(fmt.Errorf("%w: HTTP %d", errors.ErrUnexpectedStatus, resp.StatusCode),
				"Client", "Send", "check status"))
	}

	c.flow.Message(len(body))
	if c.metrics != nil {
		c.metrics.observe(resultSuccess, time.Since(start), len(samples))
	}
	c.logger.Debug("Uploaded batch",
		"attempt", attempt,
		"device", deviceID,
		"samples", len(samples),
		"bytes", len(body))

	return nil
}

func (c *Client) fail(attempt, deviceID string, start time.Time, err error) error {
	c.flow.Error(err)
	if c.metrics != nil {
		c.metrics.observe(resultFailure, time.Since(start), 0)
	}
	c.logger.Warn("Upload failed",
		"attempt", attempt,
		"device", deviceID,
		"error", err)
	return err
}

// Meta returns component metadata
func (c *Client) Meta() component.Metadata {
	return component.Metadata{
		Name:        c.name,
		Type:        "output",
		Description: "HTTP POST of sample batches to the time-series store",
		Version:     "0.1.0",
	}
}

// Health reports unhealthy once failures outnumber successful uploads.
func (c *Client) Health() component.HealthStatus {
	return c.flow.Health(c.flow.Errors() <= c.flow.Messages())
}

// DataFlow returns current data flow metrics
func (c *Client) DataFlow() component.FlowMetrics {
	return c.flow.DataFlow()
}
