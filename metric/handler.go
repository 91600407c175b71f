package metric

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/sensorbridge/errors"
)

const (
	defaultPort     = 9090
	defaultPath     = "/metrics"
	scrapeTimeout   = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server serves the metrics path plus the bridge's operational endpoints
// (/health, /status) on one port.
type Server struct {
	port     int
	path     string
	registry *MetricsRegistry

	mu     sync.Mutex
	routes map[string]http.Handler
	srv    *http.Server
}

// NewServer returns a stopped server. Port 0 means 9090 and an empty path
// means /metrics.
func NewServer(port int, path string, registry *MetricsRegistry) *Server {
	if port == 0 {
		port = defaultPort
	}
	if path == "" {
		path = defaultPath
	}
	return &Server{port: port, path: path, registry: registry, routes: make(map[string]http.Handler)}
}

// Handle adds an endpoint. A /health handler replaces the plain liveness
// answer. Call before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[pattern] = handler
}

// Handler returns the mux. Scrapes are limited to one at a time and counted
// in promhttp_metric_handler_requests_total.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	reg := s.registry.PrometheusRegistry()
	mux.Handle(s.path, promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics:   true,
		MaxRequestsInFlight: 1,
		Timeout:             scrapeTimeout,
	})))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routes["/health"]; !ok {
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("OK"))
		})
	}
	for pattern, h := range s.routes {
		mux.Handle(pattern, h)
	}
	return mux
}

// Start listens on the port and serves until Stop. After Stop it returns an
// error wrapping http.ErrServerClosed.
func (s *Server) Start() error {
	if s.registry == nil {
		return errors.WrapFatal(stderrors.New("nil registry"), "Server", "Start", "check registry")
	}

	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(stderrors.New("server already running"), "Server", "Start", "check state")
	}
	srv := &http.Server{ReadHeaderTimeout: 5 * time.Second}
	s.srv = srv
	s.mu.Unlock()

	// Handler takes s.mu, so it is built outside the lock.
	srv.Handler = s.Handler()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		s.mu.Lock()
		s.srv = nil
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on port %d", s.port))
	}
	if err := srv.Serve(ln); err != nil {
		return errors.WrapFatal(err, "Server", "Start", "serve")
	}
	return nil
}

// Stop lets in-flight requests finish for up to five seconds, then closes.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		return errors.WrapTransient(err, "Server", "Stop", "shut down")
	}
	return nil
}

// Address is the metrics URL on this host.
func (s *Server) Address() string {
	return fmt.Sprintf("http://localhost:%d%s", s.port, s.path)
}
