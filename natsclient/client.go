package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/sensorbridge/errors"
)

// ConnectionStatus is the state of the bus connection.
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	// StatusCircuitOpen is reported while disconnected and the breaker refuses
	// new Connect attempts.
	StatusCircuitOpen
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected      = stderrors.New("not connected to NATS")
	ErrCircuitOpen       = stderrors.New("circuit breaker is open")
	ErrAlreadySubscribed = stderrors.New("subject already subscribed")
	ErrClientClosed      = stderrors.New("client closed")
)

// Handler processes one message. A returned error is counted against the
// subject it arrived on; the message is not redelivered.
type Handler = func(ctx context.Context, data []byte) error

// SubjectStats counts deliveries on one subscribed subject.
type SubjectStats struct {
	Received  int64
	Failed    int64
	LastError string
}

type subscription struct {
	subject  string
	handler  Handler
	sub      *nats.Subscription
	received atomic.Int64
	failed   atomic.Int64
	lastErr  atomic.Value // string
}

func (s *subscription) stats() SubjectStats {
	st := SubjectStats{Received: s.received.Load(), Failed: s.failed.Load()}
	if v, ok := s.lastErr.Load().(string); ok {
		st.LastError = v
	}
	return st
}

// Info is a snapshot of the client for health reporting.
type Info struct {
	Status      ConnectionStatus
	Failures    int
	Backoff     time.Duration
	LastFailure time.Time
	RTT         time.Duration
	Subjects    map[string]SubjectStats
}

// Client is the bridge's connection to the core NATS bus. Connect is guarded
// by a circuit breaker; once connected, nats.go handles reconnects.
type Client struct {
	url     string
	cfg     clientConfig
	logger  *slog.Logger
	breaker *breaker
	state   atomic.Int32
	closed  atomic.Bool

	mu             sync.RWMutex
	conn           *nats.Conn
	connClosed     chan struct{}
	subs           map[string]*subscription
	onHealthChange func(bool)
	healthStop     chan struct{}
	reported       int // -1 unknown, 0 unhealthy, 1 healthy
}

// NewClient validates opts and returns a disconnected client. url may list
// several servers separated by commas.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Client", "NewClient", "validate options")
	}

	c := &Client{
		url:      url,
		cfg:      cfg,
		logger:   cfg.logger.With("component", "natsclient"),
		breaker:  newBreaker(cfg.breakerThreshold, time.Second, cfg.breakerMaxBackoff),
		subs:     make(map[string]*subscription),
		reported: -1,
	}
	c.state.Store(int32(StatusDisconnected))
	return c, nil
}

func (c *Client) URL() string { return c.url }

// Status returns the connection state.
func (c *Client) Status() ConnectionStatus {
	s := ConnectionStatus(c.state.Load())
	if s == StatusDisconnected && c.breaker.state().open {
		return StatusCircuitOpen
	}
	return s
}

func (c *Client) IsHealthy() bool { return c.Status() == StatusConnected }

// GetConnection returns the underlying connection, nil when not connected.
func (c *Client) GetConnection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.state.Store(int32(s))
	if c.cfg.metrics != nil {
		c.cfg.metrics.RecordNATSStatus(s == StatusConnected)
	}
}

// Info returns the connection state, breaker counters and per-subject
// delivery counts.
func (c *Client) Info() Info {
	bs := c.breaker.state()
	info := Info{
		Status:      c.Status(),
		Failures:    bs.failures,
		Backoff:     bs.backoff,
		LastFailure: bs.lastFailure,
		Subjects:    c.SubjectStats(),
	}
	if rtt, err := c.RTT(); err == nil {
		info.RTT = rtt
	}
	return info
}

// SubjectStats returns delivery counts keyed by subscribed subject.
func (c *Client) SubjectStats() map[string]SubjectStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]SubjectStats, len(c.subs))
	for subject, s := range c.subs {
		out[subject] = s.stats()
	}
	return out
}

// Subjects returns the subscribed subjects in order.
func (c *Client) Subjects() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for subject := range c.subs {
		out = append(out, subject)
	}
	sort.Strings(out)
	return out
}

// WaitForConnection blocks until the client is connected or ctx ends.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionTimeout, ctx.Err()),
				"Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
		}
	}
}

// connectOptions builds the nats.go options for one connection. closed is
// closed when that connection is finally closed.
func (c *Client) connectOptions(closed chan struct{}) []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.cfg.maxReconnects),
		nats.ReconnectWait(c.cfg.reconnectWait),
		nats.PingInterval(c.cfg.pingInterval),
		nats.Timeout(c.cfg.connectTimeout),
		nats.DrainTimeout(defaultDrainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.handleClosed(nc)
			close(closed)
		}),
		nats.ErrorHandler(c.handleAsyncError),
	}

	switch {
	case c.cfg.token != "":
		opts = append(opts, nats.Token(c.cfg.token))
	case c.cfg.username != "":
		opts = append(opts, nats.UserInfo(c.cfg.username, c.cfg.password))
	}
	if c.cfg.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.cfg.tlsConfig))
	}
	if c.cfg.name != "" {
		opts = append(opts, nats.Name(c.cfg.name))
	}
	return opts
}

// Connect dials the servers. It fails fast with ErrCircuitOpen while the
// breaker is open. A dial that completes after ctx ended is closed.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapInvalid(ErrClientClosed, "Client", "Connect", "check state")
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "Client", "Connect", "check context")
	}
	if !c.breaker.allow() {
		return errors.WrapTransient(ErrCircuitOpen, "Client", "Connect", "check circuit")
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	type result struct {
		conn *nats.Conn
		err  error
	}
	closed := make(chan struct{})
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.connectOptions(closed)...)
		done <- result{conn, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.conn != nil {
				late.conn.Close()
			}
		}()
		res.err = ctx.Err()
	}

	if res.err != nil {
		c.setStatus(StatusDisconnected)
		if opened, wait := c.breaker.failure(); opened {
			c.logger.Warn("Circuit breaker opened", "url", c.url, "retry_after", wait)
		}
		return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
	}

	c.mu.Lock()
	c.conn = res.conn
	c.connClosed = closed
	c.mu.Unlock()

	c.breaker.success()
	c.setStatus(StatusConnected)
	c.logger.Info("Connected to NATS", "server", res.conn.ConnectedUrlRedacted())

	if c.cfg.healthInterval > 0 {
		c.startHealthMonitor()
	}
	c.notifyHealth(true)
	return nil
}

// Close drains the connection: subscriptions stop, buffered publishes are
// flushed, then the connection closes. It waits for that at most until ctx
// ends or the drain timeout passes, whichever is first.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.stopHealthMonitor()

	c.mu.Lock()
	conn, closed := c.conn, c.connClosed
	c.conn = nil
	c.subs = make(map[string]*subscription)
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = c.drain(ctx, conn, closed)
	}

	c.cfg.username, c.cfg.password, c.cfg.token = "", "", ""
	c.setStatus(StatusDisconnected)

	if err != nil {
		c.logger.Error("NATS close finished with errors", "error", err)
	}
	return err
}

func (c *Client) drain(ctx context.Context, conn *nats.Conn, closed <-chan struct{}) error {
	if err := conn.Drain(); err != nil {
		conn.Close()
		return errors.Wrap(err, "Client", "Close", "drain connection")
	}

	timer := time.NewTimer(defaultDrainTimeout)
	defer timer.Stop()

	select {
	case <-closed:
		return nil
	case <-ctx.Done():
		conn.Close()
		return errors.WrapTransient(ctx.Err(), "Client", "Close", "wait for drain")
	case <-timer.C:
		conn.Close()
		return errors.WrapTransient(fmt.Errorf("drain timeout after %v", defaultDrainTimeout),
			"Client", "Close", "wait for drain")
	}
}

// RTT returns the round-trip time to the server.
func (c *Client) RTT() (time.Duration, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// Subscribe delivers every message on subject to handler. Wildcards are
// allowed. Each subject may be subscribed once.
func (c *Client) Subscribe(ctx context.Context, subject string, handler Handler) error {
	if err := ValidateSubject(subject, true); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return errors.WrapTransient(ErrNotConnected, "Client", "Subscribe", "subscribe to "+subject)
	}
	if _, dup := c.subs[subject]; dup {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", ErrAlreadySubscribed, subject),
			"Client", "Subscribe", "subscribe to "+subject)
	}

	s := &subscription{subject: subject, handler: handler}
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		c.deliver(ctx, s, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrSubscriptionFailed, err),
			"Client", "Subscribe", "subscribe to "+subject)
	}
	s.sub = sub
	c.subs[subject] = s

	c.logger.Debug("Subscribed", "subject", subject)
	return nil
}

// deliver runs the handler under the handler timeout and records the outcome.
func (c *Client) deliver(ctx context.Context, s *subscription, data []byte) {
	msgCtx, cancel := context.WithTimeout(ctx, c.cfg.handlerTimeout)
	defer cancel()

	s.received.Add(1)
	if err := s.handler(msgCtx, data); err != nil {
		s.failed.Add(1)
		s.lastErr.Store(err.Error())
		c.logger.Debug("Message rejected", "subject", s.subject, "bytes", len(data), "error", err)
	}
}

// Publish sends data on subject, which must not contain wildcards. While
// nats.go is reconnecting the message is buffered by the library.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	if err := ValidateSubject(subject, false); err != nil {
		return err
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return errors.WrapTransient(ErrNotConnected, "Client", "Publish", "publish to "+subject)
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish to "+subject)
	}
	return nil
}

// OnHealthChange sets a callback run when the connection turns healthy or
// unhealthy. It is not called again for the same state.
func (c *Client) OnHealthChange(fn func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHealthChange = fn
}

func (c *Client) notifyHealth(healthy bool) {
	v := 0
	if healthy {
		v = 1
	}

	c.mu.Lock()
	if c.reported == v {
		c.mu.Unlock()
		return
	}
	c.reported = v
	fn := c.onHealthChange
	c.mu.Unlock()

	if fn != nil {
		fn(healthy)
	}
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.setStatus(StatusReconnecting)
	c.logger.Warn("Disconnected from NATS", "error", err)
	c.notifyHealth(false)
}

func (c *Client) handleReconnect(nc *nats.Conn) {
	c.setStatus(StatusConnected)
	c.breaker.success()
	if nc != nil {
		c.logger.Info("Reconnected to NATS", "server", nc.ConnectedUrlRedacted())
	}
	if c.cfg.metrics != nil {
		c.cfg.metrics.RecordNATSReconnect()
	}
	c.notifyHealth(true)
}

// handleClosed ignores connections other than the current one, such as a
// dial abandoned by Connect.
func (c *Client) handleClosed(nc *nats.Conn) {
	c.mu.RLock()
	current := c.conn
	c.mu.RUnlock()
	if nc != nil && current != nil && nc != current {
		return
	}
	c.setStatus(StatusDisconnected)
	c.notifyHealth(false)
}

// handleAsyncError logs errors nats.go reports outside a call, such as slow
// consumers and permission violations. They do not count as connect failures.
func (c *Client) handleAsyncError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Error("NATS subscription error", "subject", sub.Subject, "error", err)
		return
	}
	c.logger.Error("NATS error", "error", err)
}

func (c *Client) startHealthMonitor() {
	c.stopHealthMonitor()

	stop := make(chan struct{})
	c.mu.Lock()
	c.healthStop = stop
	c.mu.Unlock()

	go c.monitorHealth(stop, c.cfg.healthInterval)
}

func (c *Client) stopHealthMonitor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthStop != nil {
		close(c.healthStop)
		c.healthStop = nil
	}
}

// monitorHealth measures RTT every interval. A failed measurement marks the
// client reconnecting until one succeeds.
func (c *Client) monitorHealth(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		rtt, err := c.RTT()
		healthy := err == nil
		if healthy && c.cfg.metrics != nil {
			c.cfg.metrics.RecordNATSRTT(rtt)
		}

		switch status := c.Status(); {
		case healthy && status != StatusConnected:
			c.setStatus(StatusConnected)
		case !healthy && status == StatusConnected:
			c.setStatus(StatusReconnecting)
		}
		c.notifyHealth(healthy)
	}
}
