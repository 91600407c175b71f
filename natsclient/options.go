package natsclient

import (
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/sensorbridge/metric"
)

const (
	defaultDrainTimeout   = 10 * time.Second
	defaultHandlerTimeout = 5 * time.Second
)

// clientConfig is what the options build; NewClient validates it once.
type clientConfig struct {
	name           string
	maxReconnects  int
	reconnectWait  time.Duration
	pingInterval   time.Duration
	connectTimeout time.Duration
	handlerTimeout time.Duration
	healthInterval time.Duration

	breakerThreshold  int
	breakerMaxBackoff time.Duration

	username  string
	password  string
	token     string
	tlsConfig *tls.Config

	logger  *slog.Logger
	metrics *metric.Metrics
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		maxReconnects:     -1,
		reconnectWait:     2 * time.Second,
		pingInterval:      30 * time.Second,
		connectTimeout:    5 * time.Second,
		handlerTimeout:    defaultHandlerTimeout,
		healthInterval:    10 * time.Second,
		breakerThreshold:  5,
		breakerMaxBackoff: time.Minute,
		logger:            slog.Default(),
	}
}

func (c *clientConfig) validate() error {
	if c.username != "" && c.password == "" {
		return stderrors.New("username set without password")
	}
	if c.token != "" && c.username != "" {
		return stderrors.New("token and username/password are mutually exclusive")
	}
	return nil
}

// ClientOption configures a Client. Options reject out-of-range values
// instead of silently replacing them.
type ClientOption func(*clientConfig) error

// WithName sets the connection name shown in the server's monitoring.
func WithName(name string) ClientOption {
	return func(c *clientConfig) error {
		c.name = name
		return nil
	}
}

// WithReconnect sets how often nats.go reconnects (-1 forever) and the wait
// between attempts.
func WithReconnect(maxReconnects int, wait time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if maxReconnects < -1 {
			return fmt.Errorf("max reconnects %d: must be -1 or more", maxReconnects)
		}
		if wait < 0 {
			return fmt.Errorf("reconnect wait %v: must not be negative", wait)
		}
		c.maxReconnects = maxReconnects
		c.reconnectWait = wait
		return nil
	}
}

// WithConnectTimeout bounds a single dial.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if d <= 0 {
			return fmt.Errorf("connect timeout %v: must be positive", d)
		}
		c.connectTimeout = d
		return nil
	}
}

// WithHandlerTimeout bounds the context handed to each message handler.
func WithHandlerTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if d <= 0 {
			return fmt.Errorf("handler timeout %v: must be positive", d)
		}
		c.handlerTimeout = d
		return nil
	}
}

// WithHealthInterval sets how often the connection RTT is measured. Zero
// disables probing.
func WithHealthInterval(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if d < 0 {
			return fmt.Errorf("health interval %v: must not be negative", d)
		}
		c.healthInterval = d
		return nil
	}
}

// WithCircuitBreaker sets how many consecutive Connect failures open the
// breaker and the longest it stays open.
func WithCircuitBreaker(threshold int, maxBackoff time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if threshold < 1 {
			return fmt.Errorf("breaker threshold %d: must be at least 1", threshold)
		}
		if maxBackoff < time.Second {
			return fmt.Errorf("breaker max backoff %v: must be at least 1s", maxBackoff)
		}
		c.breakerThreshold = threshold
		c.breakerMaxBackoff = maxBackoff
		return nil
	}
}

// WithCredentials sets user/password authentication. Empty values leave it off.
func WithCredentials(username, password string) ClientOption {
	return func(c *clientConfig) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken sets token authentication.
func WithToken(token string) ClientOption {
	return func(c *clientConfig) error {
		c.token = token
		return nil
	}
}

// WithTLS secures the connection with cfg. A nil cfg leaves TLS to the URL scheme.
func WithTLS(cfg *tls.Config) ClientOption {
	return func(c *clientConfig) error {
		c.tlsConfig = cfg
		return nil
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMetrics records connection status, RTT and reconnects on the core
// metrics.
func WithMetrics(metrics *metric.Metrics) ClientOption {
	return func(c *clientConfig) error {
		c.metrics = metrics
		return nil
	}
}
