package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/sensorbridge/component"
	"github.com/c360/sensorbridge/config"
	"github.com/c360/sensorbridge/errors"
	"github.com/c360/sensorbridge/health"
	"github.com/c360/sensorbridge/message"
	"github.com/c360/sensorbridge/metric"
	"github.com/c360/sensorbridge/output/batcher"
	"github.com/c360/sensorbridge/pkg/worker"
	"github.com/c360/sensorbridge/processor/router"
)

// DefaultStopTimeout bounds Run's shutdown of the upload pool
const DefaultStopTimeout = 5 * time.Second

const (
	uploadSuccess  = "success"
	uploadFailure  = "failure"
	uploadRejected = "rejected"
)

// Bus is the message bus the engine subscribes to and publishes on.
// *natsclient.Client satisfies it.
type Bus interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte) error) error
	Publish(ctx context.Context, subject string, data []byte) error
}

// Uploader sends one device batch. *httppost.Client satisfies it.
type Uploader interface {
	Send(ctx context.Context, deviceID string, samples []message.Sample) error
}

// Engine wires the bus, the sample router, the batch buffer and the upload
// pool around a single event loop. Router, filter and buffer state is only
// touched by the loop goroutine.
type Engine struct {
	name     string
	cfg      *config.Config
	bus      Bus
	uploader Uploader
	logger   *slog.Logger
	core     *metric.Metrics
	metrics  *engineMetrics
	flow     *component.FlowTracker

	router *router.Router
	buffer *batcher.Buffer
	pool   *worker.Pool[uploadJob]

	events  chan event
	stopped chan struct{}
	timers  map[string]*time.Timer // loop-owned

	lifecycleMu sync.Mutex
	state       atomic.Int32
	cancel      context.CancelFunc
	loopDone    chan struct{}
	startNanos  atomic.Int64
}

// New builds an engine for cfg. Nothing runs until Start.
func New(cfg *config.Config, bus Bus, uploader Uploader, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "New", "config is required")
	}
	if bus == nil || uploader == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "New", "bus and uploader are required")
	}

	o := applyOptions(opts...)

	e := &Engine{
		name:     "engine",
		cfg:      cfg,
		bus:      bus,
		uploader: uploader,
		flow:     component.NewFlowTracker(),
		events:   make(chan event, o.eventBuffer),
		stopped:  make(chan struct{}),
		timers:   make(map[string]*time.Timer),
	}
	e.logger = o.logger.With("component", e.name)
	e.state.Store(int32(component.StateCreated))

	bufferOpts := []batcher.Option{batcher.WithLogger(o.logger)}
	routerOpts := []router.Option{router.WithLogger(o.logger), router.WithClock(o.clock)}
	var poolOpts []worker.Option[uploadJob]

	if o.registry != nil {
		e.core = o.registry.CoreMetrics()
		metrics, err := newEngineMetrics(o.registry)
		if err != nil {
			e.logger.Error("Failed to initialize engine metrics", "error", err)
			metrics = nil // Continue without metrics
		}
		e.metrics = metrics

		bufferOpts = append(bufferOpts, batcher.WithMetrics(o.registry))
		routerOpts = append(routerOpts, router.WithMetrics(o.registry))
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[uploadJob](o.registry, "upload_pool"))
	}

	e.buffer = batcher.New(cfg.SendDelay,
		batcher.SchedulerFunc(e.schedule),
		batcher.DispatcherFunc(e.dispatch),
		bufferOpts...)

	r, err := router.New(cfg, &countingPublisher{bus: bus, subjects: cfg.Subjects, core: e.core}, e.buffer, routerOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Engine", "New", "create router")
	}
	e.router = r

	e.pool = worker.NewPool(cfg.Upload.Workers, cfg.Upload.QueueSize, e.upload, poolOpts...)

	return e, nil
}

// Run starts the engine and blocks until ctx is cancelled, then stops it.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return e.Stop(DefaultStopTimeout)
}

// Start starts the upload pool, subscribes to the inbound subjects and
// launches the event loop.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	switch component.State(e.state.Load()) {
	case component.StateStarted:
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "Start", "check state")
	case component.StateStopped, component.StateFailed:
		return errors.WrapInvalid(errors.ErrShuttingDown, "Engine", "Start", "check state")
	}

	runCtx, cancel := context.WithCancel(ctx)

	if err := e.pool.Start(runCtx); err != nil {
		cancel()
		e.state.Store(int32(component.StateFailed))
		return errors.WrapFatal(err, "Engine", "Start", "start upload pool")
	}

	for _, sub := range e.subscriptions() {
		if err := e.bus.Subscribe(runCtx, sub.subject, sub.handler); err != nil {
			cancel()
			_ = e.pool.Stop(DefaultStopTimeout)
			e.state.Store(int32(component.StateFailed))
			return errors.WrapTransient(err, "Engine", "Start", fmt.Sprintf("subscribe to %s", sub.subject))
		}
		e.logger.Debug("Subscribed", "subject", sub.subject, "type", sub.kind)
	}

	e.cancel = cancel
	e.loopDone = make(chan struct{})
	e.startNanos.Store(time.Now().UnixNano())
	go e.loop(runCtx, e.loopDone)

	e.state.Store(int32(component.StateStarted))
	e.logger.Info("Engine started",
		"app_id", e.cfg.AppID,
		"bridge_id", e.cfg.BridgeID,
		"send_delay", e.cfg.SendDelay)
	return nil
}

// Stop halts the loop and the upload pool. Pending batches and in-flight
// uploads are abandoned.
func (e *Engine) Stop(timeout time.Duration) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if component.State(e.state.Load()) != component.StateStarted {
		return nil
	}

	e.cancel()
	close(e.stopped)

	select {
	case <-e.loopDone:
	case <-time.After(timeout):
		e.state.Store(int32(component.StateFailed))
		return errors.WrapTransient(fmt.Errorf("event loop did not exit within %v", timeout), "Engine", "Stop", "wait for loop")
	}

	for device, t := range e.timers {
		t.Stop()
		delete(e.timers, device)
	}

	err := e.pool.Stop(timeout)
	e.state.Store(int32(component.StateStopped))
	if err != nil {
		return errors.WrapTransient(err, "Engine", "Stop", "stop upload pool")
	}

	e.logger.Info("Engine stopped", "pending_devices", len(e.buffer.Devices()))
	return nil
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.handle(ctx, ev)
		}
	}
}

// post hands ev to the loop. It gives up when ctx is done or the engine has
// stopped.
func (e *Engine) post(ctx context.Context, ev event) bool {
	select {
	case e.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-e.stopped:
		return false
	}
}

func (e *Engine) handle(ctx context.Context, ev event) {
	start := time.Now()

	switch ev := ev.(type) {
	case readingEvent:
		e.flow.Message(ev.size)
		e.router.HandleEvent(ev.ev)
	case announceEvent:
		e.report("announce", e.router.Announce(ctx, ev.msg))
	case configureEvent:
		e.report("configure", e.router.Configure(ctx, ev.msg))
	case concentratorEvent:
		e.report("concentrator", e.router.Concentrator(ctx, ev.msg))
	case stateEvent:
		e.report("state", e.router.SetState(ctx, ev.action))
	case flushEvent:
		delete(e.timers, ev.device)
		e.buffer.Flush(ev.device)
	case completeEvent:
		result := uploadSuccess
		if ev.err != nil {
			result = uploadFailure
		}
		e.metrics.recordUpload(result)
		e.buffer.Complete(ev.device, ev.samples, ev.err)
	case snapshotEvent:
		ev.reply <- e.snapshot()
	}

	if e.core != nil {
		e.core.RecordAppState(appStateValue(e.router.State()))
	}
	e.metrics.setTimers(len(e.timers))
	e.metrics.recordEvent(ev.eventType(), time.Since(start).Seconds(), len(e.events))
}

// report logs and counts a failed bus publish. Router state has already
// advanced; the publish is not retried.
func (e *Engine) report(op string, err error) {
	if err == nil {
		return
	}
	e.flow.Error(err)
	if e.core != nil {
		e.core.RecordError(e.name, errors.Classify(err).String())
	}
	e.logger.Warn("Bus message not handled", "operation", op, "class", errors.Classify(err).String(), "error", err)
}

// schedule arms the flush timer for device. Called from the loop via the buffer.
func (e *Engine) schedule(device string, delay time.Duration) {
	if t, ok := e.timers[device]; ok {
		t.Stop()
	}
	e.timers[device] = time.AfterFunc(delay, func() {
		e.post(context.Background(), flushEvent{device: device})
	})
}

// dispatch submits a detached batch to the upload pool. A full or stopped
// pool counts as a failed upload so the samples are requeued.
func (e *Engine) dispatch(device string, samples []message.Sample) {
	if err := e.pool.Submit(uploadJob{device: device, samples: samples}); err != nil {
		e.metrics.recordUpload(uploadRejected)
		e.buffer.Complete(device, samples, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrUploadRejected, err), "Engine", "dispatch", "submit upload"))
	}
}

// upload runs on a pool worker.
func (e *Engine) upload(ctx context.Context, job uploadJob) error {
	err := e.uploader.Send(ctx, job.device, job.samples)
	e.post(ctx, completeEvent{device: job.device, samples: job.samples, err: err})
	return err
}

type subscription struct {
	subject string
	kind    string
	handler func(context.Context, []byte) error
}

func (e *Engine) subscriptions() []subscription {
	s := e.cfg.Subjects
	return []subscription{
		{s.Announce, "announce", decodeInto(e, "announce", message.Decode[message.ServiceAnnouncement],
			func(m message.ServiceAnnouncement, _ int) event { return announceEvent{msg: m} })},
		{s.Configure, "configure", decodeInto(e, "configure", message.Decode[message.ConfigureMessage],
			func(m message.ConfigureMessage, _ int) event { return configureEvent{msg: m} })},
		{s.Data, "reading", decodeInto(e, "reading", message.ParseReadingEvent,
			func(m message.ReadingEvent, size int) event { return readingEvent{ev: m, size: size} })},
		{s.Concentrator, "concentrator", decodeInto(e, "concentrator", message.Decode[message.ConcentratorResponse],
			func(m message.ConcentratorResponse, _ int) event { return concentratorEvent{msg: m} })},
	}
}

// decodeInto builds a bus handler that decodes a payload and posts the
// resulting event. Handlers run on bus goroutines and never touch loop state.
// The returned error is counted by the bus against the subject.
func decodeInto[T any](e *Engine, kind string, decode func([]byte) (T, error), wrap func(T, int) event) func(context.Context, []byte) error {
	return func(ctx context.Context, data []byte) error {
		msg, err := decode(data)
		if err != nil {
			e.flow.Error(err)
			e.metrics.recordDecodeError(kind)
			if e.core != nil {
				e.core.RecordError(e.name, errors.Classify(err).String())
			}
			e.logger.Warn("Dropping undecodable bus message", "type", kind, "error", err)
			return err
		}
		if e.core != nil {
			e.core.RecordMessageReceived(kind)
		}
		if !e.post(ctx, wrap(msg, len(data))) {
			e.logger.Debug("Engine not accepting events", "type", kind)
			return errors.WrapTransient(errors.ErrShuttingDown, "Engine", "decodeInto", "post "+kind)
		}
		return nil
	}
}

// SetState applies an application state action such as clear_error.
func (e *Engine) SetState(ctx context.Context, action string) error {
	if component.State(e.state.Load()) != component.StateStarted {
		return errors.WrapInvalid(errors.ErrNotStarted, "Engine", "SetState", "check state")
	}
	if !e.post(ctx, stateEvent{action: action}) {
		return errors.WrapTransient(errors.ErrShuttingDown, "Engine", "SetState", "post event")
	}
	return nil
}

// ComponentStatus is the discoverable view of one pipeline stage
type ComponentStatus struct {
	Meta     component.Metadata     `json:"meta"`
	Health   component.HealthStatus `json:"health"`
	DataFlow component.FlowMetrics  `json:"data_flow"`
}

// Snapshot is a consistent view of the loop-owned state
type Snapshot struct {
	State      message.AppState  `json:"state"`
	Filters    int               `json:"filters"`
	IDToName   map[string]string `json:"id_to_name"`
	Pending    map[string]int    `json:"pending"` // samples waiting per device
	Components []ComponentStatus `json:"components"`
}

// Snapshot asks the loop for its current state.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	if component.State(e.state.Load()) != component.StateStarted {
		return Snapshot{}, errors.WrapInvalid(errors.ErrNotStarted, "Engine", "Snapshot", "check state")
	}
	reply := make(chan Snapshot, 1)
	if !e.post(ctx, snapshotEvent{reply: reply}) {
		return Snapshot{}, errors.WrapTransient(errors.ErrShuttingDown, "Engine", "Snapshot", "post event")
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, errors.WrapTransient(ctx.Err(), "Engine", "Snapshot", "wait for reply")
	case <-e.stopped:
		return Snapshot{}, errors.WrapTransient(errors.ErrShuttingDown, "Engine", "Snapshot", "wait for reply")
	}
}

// HealthStatuses reports the health of each stage from a fresh snapshot.
// It has the shape of a health.Reporter.
func (e *Engine) HealthStatuses(ctx context.Context) ([]health.Status, error) {
	snap, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]health.Status, 0, len(snap.Components))
	for _, c := range snap.Components {
		statuses = append(statuses, health.FromComponent(c.Meta.Name, c.Health, c.DataFlow))
	}
	return statuses, nil
}

func (e *Engine) snapshot() Snapshot {
	s := Snapshot{
		State:    e.router.State(),
		Filters:  e.router.FilterCount(),
		IDToName: e.router.IDToName(),
		Pending:  make(map[string]int),
	}
	for _, device := range e.buffer.Devices() {
		s.Pending[device] = len(e.buffer.Pending(device))
	}

	stages := []component.Discoverable{e, e.router}
	if d, ok := e.uploader.(component.Discoverable); ok {
		stages = append(stages, d)
	}
	for _, d := range stages {
		s.Components = append(s.Components, ComponentStatus{Meta: d.Meta(), Health: d.Health(), DataFlow: d.DataFlow()})
	}
	return s
}

// Meta returns the engine's metadata
func (e *Engine) Meta() component.Metadata {
	return component.Metadata{
		Name:        e.name,
		Type:        "engine",
		Description: "Event loop driving the sample router, batch buffer and upload pool",
		Version:     "1.0.0",
	}
}

// Health reports healthy while the loop runs
func (e *Engine) Health() component.HealthStatus {
	h := e.flow.Health(component.State(e.state.Load()) == component.StateStarted)
	if started := e.startNanos.Load(); started != 0 {
		h.Uptime = time.Since(time.Unix(0, started))
	}
	return h
}

// DataFlow returns inbound reading throughput
func (e *Engine) DataFlow() component.FlowMetrics {
	return e.flow.DataFlow()
}

func appStateValue(s message.AppState) int {
	switch s {
	case message.StateStopped:
		return 0
	case message.StateStarting:
		return 1
	case message.StateRunning:
		return 2
	default:
		return -1
	}
}

// countingPublisher records published bus messages by kind.
type countingPublisher struct {
	bus      Bus
	subjects config.SubjectsConfig
	core     *metric.Metrics
}

func (p *countingPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := p.bus.Publish(ctx, subject, data); err != nil {
		return err
	}
	if p.core != nil {
		p.core.RecordMessagePublished(p.kind(subject))
	}
	return nil
}

func (p *countingPublisher) kind(subject string) string {
	switch {
	case subject == p.subjects.State:
		return "state"
	case subject == p.subjects.ConcentratorReply:
		return "concentrator"
	case strings.HasPrefix(subject, p.subjects.RequestPrefix+"."):
		return "request"
	default:
		return "other"
	}
}
