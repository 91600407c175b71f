package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorbridge/config"
	"github.com/c360/sensorbridge/errors"
	"github.com/c360/sensorbridge/message"
	"github.com/c360/sensorbridge/metric"
	"github.com/c360/sensorbridge/output/httppost"
	tu "github.com/c360/sensorbridge/testutil"
)

type uploadCall struct {
	device  string
	samples []message.Sample
}

// fakeUploader records calls. results are consumed in order; once exhausted
// every call succeeds. A non-nil gate blocks each call until it receives.
type fakeUploader struct {
	mu      sync.Mutex
	calls   []uploadCall
	results []error
	started chan struct{}
	gate    chan struct{}
}

func newFakeUploader(results ...error) *fakeUploader {
	return &fakeUploader{results: results, started: make(chan struct{}, 16)}
}

func (u *fakeUploader) Send(ctx context.Context, device string, samples []message.Sample) error {
	u.mu.Lock()
	u.calls = append(u.calls, uploadCall{device: device, samples: append([]message.Sample(nil), samples...)})
	var err error
	if len(u.results) > 0 {
		err = u.results[0]
		u.results = u.results[1:]
	}
	gate := u.gate
	u.mu.Unlock()

	u.started <- struct{}{}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (u *fakeUploader) Calls() []uploadCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]uploadCall(nil), u.calls...)
}

type fixture struct {
	cfg      *config.Config
	bus      *tu.MockNATSClient
	uploader *fakeUploader
	registry *metric.MetricsRegistry
	engine   *Engine
}

func newFixture(t *testing.T, uploader *fakeUploader, tweak func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.AppID = "AID7"
	cfg.BridgeID = "BID0"
	cfg.SendDelay = 100 * time.Millisecond
	if tweak != nil {
		tweak(cfg)
	}

	bus := tu.NewMockNATSClient()
	registry := metric.NewMetricsRegistry()
	e, err := New(cfg, bus, uploader, WithMetrics(registry), WithClock(func() time.Time { return time.Unix(0, 0) }))
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(time.Second) })

	return &fixture{cfg: cfg, bus: bus, uploader: uploader, registry: registry, engine: e}
}

func (f *fixture) reading(t *testing.T, device string, value, ts float64) {
	t.Helper()
	f.bus.Deliver(t, f.cfg.Subjects.Data, tu.ReadingEvent(device, "temperature", value, ts))
}

func (f *fixture) announce(t *testing.T, device string, characteristics ...string) {
	t.Helper()
	f.bus.Deliver(t, f.cfg.Subjects.Announce, tu.Announcement(device, characteristics...))
	tu.WaitForMessageCount(t, f.bus, f.cfg.Subjects.RequestSubject(device), 1, time.Second)
}

func (f *fixture) waitCalls(t *testing.T, n int) []uploadCall {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.uploader.Calls()) >= n }, 2*time.Second, 5*time.Millisecond)
	return f.uploader.Calls()
}

func (f *fixture) snapshot(t *testing.T) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := f.engine.Snapshot(ctx)
	require.NoError(t, err)
	return s
}

func temps(pairs ...float64) []message.Sample {
	var out []message.Sample
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, message.Sample{Name: "temperature", Value: pairs[i], Timestamp: pairs[i+1]})
	}
	return out
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, tu.NewMockNATSClient(), newFakeUploader())
	assert.True(t, errors.IsInvalid(err))

	_, err = New(config.Default(), nil, newFakeUploader())
	assert.True(t, errors.IsInvalid(err))

	_, err = New(config.Default(), tu.NewMockNATSClient(), nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestStartSubscribesInboundSubjects(t *testing.T) {
	f := newFixture(t, newFakeUploader(), nil)
	s := f.cfg.Subjects
	for _, subject := range []string{s.Announce, s.Configure, s.Data, s.Concentrator} {
		assert.Equal(t, 1, f.bus.SubscriptionCount(subject), subject)
	}
}

// Readings 20.0, 20.1, 20.5 for a configured device: the two significant
// samples are uploaded in one batch under the friendly name.
func TestReadingsAreBatchedAndUploaded(t *testing.T) {
	f := newFixture(t, newFakeUploader(), nil)

	f.bus.Deliver(t, f.cfg.Subjects.Configure, tu.Configure("D1", "Living Room"))
	f.announce(t, "D1", "temperature")

	f.reading(t, "D1", 20.0, 0)
	f.reading(t, "D1", 20.1, 1)
	f.reading(t, "D1", 20.5, 2)

	calls := f.waitCalls(t, 1)
	assert.Equal(t, "Living_Room", calls[0].device)
	assert.Equal(t, temps(20.0, 0, 20.5, 2), calls[0].samples)

	reqs := tu.DecodeMessages[message.SubscriptionRequest](t, f.bus, f.cfg.Subjects.RequestSubject("D1"))
	require.Len(t, reqs, 1)
	assert.Equal(t, "AID7", reqs[0].ID)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(f.engine.metrics.uploads.WithLabelValues(uploadSuccess)) == 1
	}, time.Second, 5*time.Millisecond)
}

// [S1,S2] fails while S3 arrives: the retry carries [S1,S2,S3].
func TestFailedUploadIsRetriedInOrder(t *testing.T) {
	uploader := newFakeUploader(assert.AnError)
	uploader.gate = make(chan struct{})
	// Long enough that S3's own flush cannot fire before the failure is reported.
	f := newFixture(t, uploader, func(cfg *config.Config) { cfg.SendDelay = 300 * time.Millisecond })
	f.announce(t, "D2", "temperature")

	f.reading(t, "D2", 20, 1)
	f.reading(t, "D2", 25, 2)
	<-uploader.started

	f.reading(t, "D2", 30, 3)
	require.Eventually(t, func() bool {
		return f.snapshot(t).Pending["D2"] == 1
	}, time.Second, 5*time.Millisecond)

	close(uploader.gate)

	calls := f.waitCalls(t, 2)
	assert.Equal(t, temps(20, 1, 25, 2), calls[0].samples)
	assert.Equal(t, temps(20, 1, 25, 2, 30, 3), calls[1].samples)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.engine.metrics.uploads.WithLabelValues(uploadFailure)))
}

// The send delay is far shorter than the upload: later flushes for the same
// device wait for the running upload instead of starting a second one.
func TestOneUploadInFlightPerDevice(t *testing.T) {
	uploader := newFakeUploader(assert.AnError)
	uploader.gate = make(chan struct{})
	f := newFixture(t, uploader, func(cfg *config.Config) { cfg.SendDelay = 10 * time.Millisecond })
	f.announce(t, "D1", "temperature")

	f.reading(t, "D1", 20, 1)
	<-uploader.started
	f.reading(t, "D1", 30, 2)

	assert.Never(t, func() bool { return len(uploader.Calls()) > 1 }, 150*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 1, f.snapshot(t).Pending["D1"])

	close(uploader.gate)

	calls := f.waitCalls(t, 2)
	assert.Equal(t, temps(20, 1), calls[0].samples)
	assert.Equal(t, temps(20, 1, 30, 2), calls[1].samples)
}

func TestRejectedDispatchRequeues(t *testing.T) {
	cfg := config.Default()
	cfg.SendDelay = time.Hour
	registry := metric.NewMetricsRegistry()
	e, err := New(cfg, tu.NewMockNATSClient(), newFakeUploader(), WithMetrics(registry))
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, timer := range e.timers {
			timer.Stop()
		}
	})

	// The pool is not started, so Submit fails and the batch is treated as a
	// failed upload.
	batch := temps(21, 1, 22, 2)
	e.buffer.Append("D1", batch)
	e.buffer.Flush("D1")

	assert.Equal(t, batch, e.buffer.Pending("D1"))
	assert.True(t, e.buffer.Scheduled("D1"))
	assert.Contains(t, e.timers, "D1")
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.uploads.WithLabelValues(uploadRejected)))
}

func TestUndecodablePayloadsAreDropped(t *testing.T) {
	f := newFixture(t, newFakeUploader(), nil)

	f.bus.Deliver(t, f.cfg.Subjects.Announce, []byte("not json"))
	f.bus.Deliver(t, f.cfg.Subjects.Data, []byte(`{"id":"D1"`))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.engine.metrics.decodeErrors.WithLabelValues("announce")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.engine.metrics.decodeErrors.WithLabelValues("reading")))
	assert.Equal(t, 2, f.engine.Health().ErrorCount)
	assert.Equal(t, 0, f.bus.GetMessageCount(f.cfg.Subjects.State))

	assert.Len(t, f.bus.HandlerErrors(f.cfg.Subjects.Announce), 1)
	assert.Len(t, f.bus.HandlerErrors(f.cfg.Subjects.Data), 1)

	f.announce(t, "D1", "temperature")
	assert.Len(t, f.bus.HandlerErrors(f.cfg.Subjects.Announce), 1, "decoded messages are not rejected")
}

func TestConcentratorConfigRequest(t *testing.T) {
	f := newFixture(t, newFakeUploader(), nil)
	f.bus.Deliver(t, f.cfg.Subjects.Configure, tu.Configure("D1", "Hall Sensor"))
	f.announce(t, "D1", "temperature")

	f.bus.Deliver(t, f.cfg.Subjects.Concentrator, message.ConcentratorResponse{Resp: "config"})
	tu.WaitForMessageCount(t, f.bus, f.cfg.Subjects.ConcentratorReply, 1, time.Second)

	var post message.ServicesPost
	require.NoError(t, json.Unmarshal(f.bus.GetMessages(f.cfg.Subjects.ConcentratorReply)[0], &post))
	assert.Equal(t, map[string]string{"D1": "Hall_Sensor"}, post.Body.IDToName)
	require.Len(t, post.Body.Services, 1)
}

func TestStateTransitionsAndSnapshot(t *testing.T) {
	f := newFixture(t, newFakeUploader(), nil)
	ctx := context.Background()

	assert.Equal(t, message.StateStopped, f.snapshot(t).State)

	f.bus.Deliver(t, f.cfg.Subjects.Configure, tu.Configure("D1", "Porch"))
	f.announce(t, "D1", "temperature", "humidity")

	s := f.snapshot(t)
	assert.Equal(t, message.StateRunning, s.State)
	assert.Equal(t, 2, s.Filters)
	assert.Equal(t, map[string]string{"D1": "Porch"}, s.IDToName)
	require.Len(t, s.Components, 2)
	assert.Equal(t, "engine", s.Components[0].Meta.Type)
	assert.Equal(t, "processor", s.Components[1].Meta.Type)

	require.NoError(t, f.engine.SetState(ctx, "error"))
	require.NoError(t, f.engine.SetState(ctx, message.ActionClearError))
	tu.WaitForMessageCount(t, f.bus, f.cfg.Subjects.State, 4, time.Second)

	reports := tu.DecodeMessages[message.StateReport](t, f.bus, f.cfg.Subjects.State)
	states := make([]message.AppState, len(reports))
	for i, r := range reports {
		states[i] = r.State
	}
	assert.Equal(t, []message.AppState{
		message.StateStarting, message.StateRunning, "error", message.StateRunning,
	}, states)

	core := f.registry.CoreMetrics()
	assert.Equal(t, 2.0, testutil.ToFloat64(core.AppState))
	assert.Equal(t, 4.0, testutil.ToFloat64(core.MessagesPublished.WithLabelValues("state")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.MessagesPublished.WithLabelValues("request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.MessagesReceived.WithLabelValues("announce")))
}

func TestHealthStatuses(t *testing.T) {
	f := newFixture(t, newFakeUploader(), nil)

	statuses, err := f.engine.HealthStatuses(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "engine", statuses[0].Component)
	assert.True(t, statuses[0].IsHealthy())
	assert.Equal(t, "sample-router", statuses[1].Component)
	assert.True(t, statuses[1].IsUnhealthy(), "router is stopped until a device is announced")

	f.announce(t, "D1", "temperature")
	statuses, err = f.engine.HealthStatuses(context.Background())
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.IsHealthy(), s.Component)
	}

	require.NoError(t, f.engine.Stop(time.Second))
	_, err = f.engine.HealthStatuses(context.Background())
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}

func TestPublishFailureIsReported(t *testing.T) {
	f := newFixture(t, newFakeUploader(), nil)
	f.bus.FailPublish(assert.AnError)

	// The bus refuses every publish, so hand the announcement straight to the loop.
	require.True(t, f.engine.post(context.Background(), announceEvent{msg: tu.Announcement("D1", "temperature")}))

	require.Eventually(t, func() bool { return f.engine.Health().ErrorCount == 1 }, time.Second, 5*time.Millisecond)
	core := f.registry.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(core.ErrorsTotal.WithLabelValues("engine", "transient")))
	assert.Equal(t, 1, f.snapshot(t).Filters)
}

func TestLifecycle(t *testing.T) {
	e, err := New(config.Default(), tu.NewMockNATSClient(), newFakeUploader())
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, e.Health().Healthy)
	_, err = e.Snapshot(ctx)
	assert.ErrorIs(t, err, errors.ErrNotStarted)

	require.NoError(t, e.Start(ctx))
	assert.True(t, e.Health().Healthy)
	assert.ErrorIs(t, e.Start(ctx), errors.ErrAlreadyStarted)

	require.NoError(t, e.Stop(time.Second))
	assert.False(t, e.Health().Healthy)
	assert.NoError(t, e.Stop(time.Second))
	assert.ErrorIs(t, e.Start(ctx), errors.ErrShuttingDown)
	assert.ErrorIs(t, e.SetState(ctx, message.ActionClearError), errors.ErrNotStarted)
}

func TestRunReturnsOnCancel(t *testing.T) {
	e, err := New(config.Default(), tu.NewMockNATSClient(), newFakeUploader())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.Health().Healthy }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestUploadOverHTTP(t *testing.T) {
	type request struct {
		path string
		body message.Envelope
	}
	requests := make(chan request, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var env message.Envelope
		_ = json.Unmarshal(data, &env)
		requests <- request{path: r.URL.Path, body: env}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.SendDelay = 10 * time.Millisecond
	bus := tu.NewMockNATSClient()
	client, err := httppost.NewClient(srv.URL+"/series/BID0", "key", time.Second)
	require.NoError(t, err)

	e, err := New(cfg, bus, client)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(time.Second)

	bus.Deliver(t, cfg.Subjects.Configure, tu.Configure("D1", "Kitchen Tag"))
	bus.Deliver(t, cfg.Subjects.Announce, tu.Announcement("D1", "temperature"))
	bus.Deliver(t, cfg.Subjects.Data, tu.ReadingEvent("D1", "temperature", 19.5, 100))

	select {
	case req := <-requests:
		assert.Equal(t, "/series/BID0/Kitchen_Tag", req.path)
		assert.Equal(t, temps(19.5, 100), req.body.Entries)
	case <-time.After(2 * time.Second):
		t.Fatal("no upload received")
	}

	s, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, s.Components, 3)
	assert.Equal(t, "output", s.Components[2].Meta.Type)
}
