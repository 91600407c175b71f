package natsclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorbridge/errors"
	"github.com/c360/sensorbridge/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222,nats://localhost:4223")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222,nats://localhost:4223", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Nil(t, client.GetConnection())
	assert.Empty(t, client.Subjects())
}

func TestNewClientRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name    string
		opt     ClientOption
		wantErr string
	}{
		{name: "reconnects below -1", opt: WithReconnect(-2, time.Second), wantErr: "max reconnects"},
		{name: "negative reconnect wait", opt: WithReconnect(3, -time.Second), wantErr: "reconnect wait"},
		{name: "zero connect timeout", opt: WithConnectTimeout(0), wantErr: "connect timeout"},
		{name: "zero handler timeout", opt: WithHandlerTimeout(0), wantErr: "handler timeout"},
		{name: "negative health interval", opt: WithHealthInterval(-time.Second), wantErr: "health interval"},
		{name: "zero breaker threshold", opt: WithCircuitBreaker(0, time.Minute), wantErr: "breaker threshold"},
		{name: "sub-second breaker backoff", opt: WithCircuitBreaker(3, time.Millisecond), wantErr: "max backoff"},
		{name: "user without password", opt: WithCredentials("bridge", ""), wantErr: "without password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient("nats://localhost:4222", tt.opt)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	_, err := NewClient("nats://localhost:4222", WithCredentials("bridge", "pw"), WithToken("t"))
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestConnectionOptions(t *testing.T) {
	plain, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	base := len(plain.connectOptions(make(chan struct{})))

	tests := []struct {
		name  string
		opts  []ClientOption
		extra int
	}{
		{name: "tls", opts: []ClientOption{WithTLS(&tls.Config{MinVersion: tls.VersionTLS12})}, extra: 1},
		{name: "nil tls", opts: []ClientOption{WithTLS(nil)}},
		{name: "name", opts: []ClientOption{WithName("sensorbridge-BID0")}, extra: 1},
		{name: "credentials", opts: []ClientOption{WithCredentials("bridge", "pw")}, extra: 1},
		{name: "token", opts: []ClientOption{WithToken("secret")}, extra: 1},
		{name: "empty credentials", opts: []ClientOption{WithCredentials("", "")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient("nats://localhost:4222", tt.opts...)
			require.NoError(t, err)
			assert.Len(t, client.connectOptions(make(chan struct{})), base+tt.extra)
		})
	}
}

func TestConnectFailureCountsTowardsBreaker(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1",
		WithConnectTimeout(200*time.Millisecond),
		WithCircuitBreaker(2, 10*time.Second),
	)
	require.NoError(t, err)
	ctx := context.Background()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, 1, client.Info().Failures)

	require.Error(t, client.Connect(ctx))
	assert.Equal(t, StatusCircuitOpen, client.Status())

	err = client.Connect(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, 2, client.Info().Failures, "refused attempts are not counted")
}

func TestConnectCancelled(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1", WithConnectTimeout(time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = client.Connect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name           string
		initialStatus  ConnectionStatus
		action         func(*Client)
		expectedStatus ConnectionStatus
	}{
		{
			name:           "connected to reconnecting on disconnect",
			initialStatus:  StatusConnected,
			action:         func(c *Client) { c.handleDisconnect(nil, nil) },
			expectedStatus: StatusReconnecting,
		},
		{
			name:           "reconnecting to connected on reconnect",
			initialStatus:  StatusReconnecting,
			action:         func(c *Client) { c.handleReconnect(nil) },
			expectedStatus: StatusConnected,
		},
		{
			name:           "closed",
			initialStatus:  StatusConnected,
			action:         func(c *Client) { c.handleClosed(nil) },
			expectedStatus: StatusDisconnected,
		},
		{
			name:          "disconnected with open breaker",
			initialStatus: StatusDisconnected,
			action: func(c *Client) {
				for i := 0; i < 5; i++ {
					c.breaker.failure()
				}
			},
			expectedStatus: StatusCircuitOpen,
		},
		{
			name:          "reconnect closes breaker",
			initialStatus: StatusDisconnected,
			action: func(c *Client) {
				for i := 0; i < 5; i++ {
					c.breaker.failure()
				}
				c.handleReconnect(nil)
			},
			expectedStatus: StatusConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient("nats://localhost:4222")
			require.NoError(t, err)
			client.setStatus(tt.initialStatus)

			tt.action(client)

			assert.Equal(t, tt.expectedStatus, client.Status())
		})
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}

func TestWaitForConnection(t *testing.T) {
	t.Run("times out when not connected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err = client.WaitForConnection(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrConnectionTimeout)
		assert.True(t, errors.IsTransient(err))
	})

	t.Run("returns when becomes connected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		go func() {
			time.Sleep(20 * time.Millisecond)
			client.setStatus(StatusConnected)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, client.WaitForConnection(ctx))
	})
}

func TestNotConnectedOperations(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1")
	require.NoError(t, err)
	ctx := context.Background()

	err = client.Publish(ctx, "sensorbridge.data", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, errors.IsTransient(err))

	err = client.Subscribe(ctx, "sensorbridge.data", func(context.Context, []byte) error { return nil })
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NoError(t, client.Close(ctx))
	assert.NoError(t, client.Close(ctx), "close is idempotent")
	assert.ErrorIs(t, client.Connect(ctx), ErrClientClosed)
}

func TestInvalidSubjectsRejectedBeforeConnectionCheck(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1")
	require.NoError(t, err)
	ctx := context.Background()

	err = client.Publish(ctx, "sensorbridge.request.BID0.front door", []byte("{}"))
	assert.ErrorIs(t, err, errors.ErrInvalidSubject)
	assert.True(t, errors.IsInvalid(err))

	err = client.Publish(ctx, "sensorbridge.request.BID0.*", nil)
	assert.ErrorIs(t, err, errors.ErrInvalidSubject)

	err = client.Subscribe(ctx, "sensorbridge..data", func(context.Context, []byte) error { return nil })
	assert.ErrorIs(t, err, errors.ErrInvalidSubject)
}

func TestDeliverCountsHandlerErrors(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithHandlerTimeout(time.Second))
	require.NoError(t, err)

	var deadlines []bool
	s := &subscription{
		subject: "sensorbridge.data",
		handler: func(ctx context.Context, data []byte) error {
			_, ok := ctx.Deadline()
			deadlines = append(deadlines, ok)
			if string(data) == "bad" {
				return fmt.Errorf("%w: not json", errors.ErrParsingFailed)
			}
			return nil
		},
	}
	client.subs[s.subject] = s

	ctx := context.Background()
	client.deliver(ctx, s, []byte("{}"))
	client.deliver(ctx, s, []byte("bad"))
	client.deliver(ctx, s, []byte("{}"))

	stats := client.SubjectStats()["sensorbridge.data"]
	assert.Equal(t, int64(3), stats.Received)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Contains(t, stats.LastError, "not json")
	assert.Equal(t, []bool{true, true, true}, deadlines)

	info := client.Info()
	assert.Equal(t, stats, info.Subjects["sensorbridge.data"])
	assert.Equal(t, []string{"sensorbridge.data"}, client.Subjects())
}

func TestCloseClearsCredentials(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCredentials("user", "pass"))
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	assert.Empty(t, client.cfg.username)
	assert.Empty(t, client.cfg.password)
	assert.Empty(t, client.cfg.token)
}

func TestInfoReportsBreaker(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		client.breaker.failure()
	}

	info := client.Info()
	assert.Equal(t, 3, info.Failures)
	assert.Equal(t, StatusDisconnected, info.Status)
	assert.NotZero(t, info.LastFailure)
	assert.Zero(t, info.RTT)
	assert.Empty(t, info.Subjects)

	client.handleReconnect(nil)
	assert.Zero(t, client.Info().Failures)
}

func TestMetricsRecording(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	core := registry.CoreMetrics()

	client, err := NewClient("nats://localhost:4222", WithMetrics(core))
	require.NoError(t, err)

	client.setStatus(StatusConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSConnected))

	client.handleDisconnect(nil, nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(core.NATSConnected))

	client.handleReconnect(nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSReconnects))
}

func TestHealthCallbackOnlyOnChange(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []bool
	client.OnHealthChange(func(healthy bool) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, healthy)
	})

	client.handleDisconnect(nil, assert.AnError)
	client.handleClosed(nil)
	client.handleReconnect(nil)
	client.notifyHealth(true)
	client.handleDisconnect(nil, nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true, false}, seen)
}

func TestConcurrentSafety(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var wg sync.WaitGroup
	iterations := 100

	wg.Add(4)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.setStatus(StatusConnected)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			_ = client.Info()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.breaker.failure()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.handleReconnect(nil)
		}
	}()
	wg.Wait()

	assert.Contains(t, []ConnectionStatus{
		StatusDisconnected,
		StatusConnecting,
		StatusConnected,
		StatusReconnecting,
		StatusCircuitOpen,
	}, client.Status())
}
