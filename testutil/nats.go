package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/c360/sensorbridge/natsclient"
)

// Handler matches natsclient.Handler.
type Handler = natsclient.Handler

// MockNATSClient is an in-memory bus for tests. Subscribe and Publish match
// natsclient.Client, including its subject checks, and handler errors are
// kept per subject the way the real client counts them. Subjects match
// exactly; wildcards are accepted on Subscribe but never match. Safe for
// concurrent use.
type MockNATSClient struct {
	mu          sync.RWMutex
	messages    map[string][][]byte
	handlers    map[string][]Handler
	handlerErrs map[string][]error
	publishErr  error
}

func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		messages:    make(map[string][][]byte),
		handlers:    make(map[string][]Handler),
		handlerErrs: make(map[string][]error),
	}
}

// Publish records data and runs the subject's handlers synchronously.
func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if err := natsclient.ValidateSubject(subject, false); err != nil {
		return err
	}

	c.mu.Lock()
	if c.publishErr != nil {
		err := c.publishErr
		c.mu.Unlock()
		return err
	}
	c.messages[subject] = append(c.messages[subject], data)
	handlers := append([]Handler(nil), c.handlers[subject]...)
	c.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, data); err != nil {
			c.mu.Lock()
			c.handlerErrs[subject] = append(c.handlerErrs[subject], err)
			c.mu.Unlock()
		}
	}
	return nil
}

func (c *MockNATSClient) Subscribe(ctx context.Context, subject string, handler Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := natsclient.ValidateSubject(subject, true); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[subject] = append(c.handlers[subject], handler)
	return nil
}

// Deliver publishes v as JSON on subject, failing the test on error.
func (c *MockNATSClient) Deliver(t *testing.T, subject string, v any) {
	t.Helper()

	data, ok := v.([]byte)
	if !ok {
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %T: %v", v, err)
		}
	}
	if err := c.Publish(context.Background(), subject, data); err != nil {
		t.Fatalf("deliver on %s: %v", subject, err)
	}
}

// FailPublish makes every following Publish return err. Pass nil to recover.
func (c *MockNATSClient) FailPublish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

// HandlerErrors returns the errors handlers returned for messages on subject.
func (c *MockNATSClient) HandlerErrors(subject string) []error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]error(nil), c.handlerErrs[subject]...)
}

// SubscriptionCount returns the number of handlers on a subject.
func (c *MockNATSClient) SubscriptionCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handlers[subject])
}

// GetMessages returns all messages for a subject as [][]byte.
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Return a copy to prevent races on the returned slice
	msgs := c.messages[subject]
	if msgs == nil {
		return nil
	}
	result := make([][]byte, len(msgs))
	copy(result, msgs)
	return result
}

// GetMessageCount returns the number of messages on a subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

// DecodeMessages unmarshals every message on subject into T.
func DecodeMessages[T any](t *testing.T, client *MockNATSClient, subject string) []T {
	t.Helper()

	raw := client.GetMessages(subject)
	out := make([]T, 0, len(raw))
	for _, data := range raw {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			t.Fatalf("decode message on %s: %v", subject, err)
		}
		out = append(out, v)
	}
	return out
}

// WaitForMessageCount waits for a specific number of messages (with timeout).
func WaitForMessageCount(t *testing.T, client *MockNATSClient, subject string, count int, timeout time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if client.GetMessageCount(subject) >= count {
			return
		}
		select {
		case <-ctx.Done():
			got := client.GetMessageCount(subject)
			t.Fatalf("timeout waiting for %d messages on subject %s (got %d)", count, subject, got)
			return
		case <-ticker.C:
		}
	}
}
