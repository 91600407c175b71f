//go:build integration

package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testServerImage = "nats:2.11.7-alpine"

// TestServer is a NATS server running in a container.
type TestServer struct {
	container testcontainers.Container
	URL       string
}

// StartTestServer starts a server and waits until it accepts clients.
func StartTestServer(ctx context.Context) (*TestServer, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        testServerImage,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          []string{"--port", "4222", "--http_port", "8222"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(30*time.Second),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start NATS container: %w", err)
	}

	endpoint, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("resolve NATS endpoint: %w", err)
	}
	return &TestServer{container: container, URL: endpoint}, nil
}

// Stop halts the server without removing it, for disconnect tests.
func (s *TestServer) Stop(ctx context.Context) error {
	return s.container.Stop(ctx, nil)
}

func (s *TestServer) Terminate(ctx context.Context) error {
	return s.container.Terminate(ctx)
}

// NewTestClient starts a server and returns a client connected to it with
// reconnects and health ticks off unless opts say otherwise. Both are
// released when the test ends.
func NewTestClient(t testing.TB, opts ...ClientOption) (*Client, *TestServer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	srv, err := StartTestServer(ctx)
	if err != nil {
		t.Fatalf("NATS test server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Terminate(context.Background()) })

	opts = append([]ClientOption{
		WithReconnect(0, time.Second),
		WithHealthInterval(0),
		WithName("sensorbridge-test"),
	}, opts...)
	client, err := NewClient(srv.URL, opts...)
	if err != nil {
		t.Fatalf("NATS test client: %v", err)
	}
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect to NATS test server: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	return client, srv
}
