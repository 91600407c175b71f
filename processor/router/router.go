package router

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360/sensorbridge/component"
	"github.com/c360/sensorbridge/config"
	"github.com/c360/sensorbridge/errors"
	"github.com/c360/sensorbridge/message"
	"github.com/c360/sensorbridge/metric"
	"github.com/c360/sensorbridge/natsclient"
	"github.com/c360/sensorbridge/processor/threshold"
)

// Publisher sends a payload on a bus subject
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Sink receives the samples a filter emitted, keyed by device display name
type Sink interface {
	Append(device string, samples []message.Sample)
}

type filterKey struct {
	device string
	signal message.SignalType
}

// Option configures a Router
type Option func(*Router)

// WithLogger sets the router's logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock sets the clock handed to new filters
func WithClock(clock threshold.Clock) Option {
	return func(r *Router) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithMetrics registers router metrics
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(r *Router) {
		r.metricsReg = registry
	}
}

// Router owns the filter bank. It turns announcements into filters and
// subscription requests, and readings into samples for the batch buffer.
//
// Router is not safe for concurrent use; the engine loop owns it.
type Router struct {
	name      string
	cfg       *config.Config
	publisher Publisher
	sink      Sink
	logger    *slog.Logger
	clock     threshold.Clock

	metricsReg *metric.MetricsRegistry
	metrics    *routerMetrics
	flow       *component.FlowTracker

	filters  map[filterKey]threshold.Filter
	idToName map[string]string
	sinkName map[string]string
	services []message.ServiceAnnouncement
	state    message.AppState
}

// New creates a router for cfg. Emitted samples go to sink; subscription
// requests and state reports go to publisher.
func New(cfg *config.Config, publisher Publisher, sink Sink, opts ...Option) (*Router, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Router", "New", "config is required")
	}
	if publisher == nil || sink == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Router", "New", "publisher and sink are required")
	}

	r := &Router{
		name:      "sample-router",
		cfg:       cfg,
		publisher: publisher,
		sink:      sink,
		logger:    slog.Default(),
		clock:     threshold.SystemClock,
		flow:      component.NewFlowTracker(),
		filters:   make(map[filterKey]threshold.Filter),
		idToName:  make(map[string]string),
		sinkName:  make(map[string]string),
		state:     message.StateStopped,
	}

	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", r.name)

	metrics, err := newRouterMetrics(r.metricsReg)
	if err != nil {
		r.logger.Error("Failed to initialize router metrics", "error", err)
		metrics = nil // Continue without metrics
	}
	r.metrics = metrics

	return r, nil
}

// Configure records friendly names for adaptors not seen before and reports
// the starting state. Names already recorded are never changed.
func (r *Router) Configure(ctx context.Context, msg message.ConfigureMessage) error {
	for _, a := range msg.Adaptors {
		if a.ID == "" {
			continue
		}
		if _, known := r.idToName[a.ID]; known {
			continue
		}
		name := strings.ReplaceAll(a.FriendlyName, " ", "_")
		if name == "" {
			name = a.ID
		}
		r.idToName[a.ID] = name
		r.logger.Debug("Configured adaptor", "id", a.ID, "name", a.Name, "display_name", name)
		if pinned, ok := r.sinkName[a.ID]; ok && pinned != name {
			r.logger.Warn("Device already uploading under its id, friendly name not applied",
				"id", a.ID, "upload_name", pinned, "display_name", name)
		}
	}
	r.metrics.setSizes(len(r.filters), len(r.idToName))

	return r.SetState(ctx, string(message.StateStarting))
}

// Announce builds a filter for every enabled signal the device offers,
// requests those services from the device and reports the running state.
// A (device, signal) pair that already has a filter keeps it.
func (r *Router) Announce(ctx context.Context, msg message.ServiceAnnouncement) error {
	if msg.ID == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: announcement without id", errors.ErrParsingFailed),
			"Router", "Announce", "check announcement")
	}
	// The id becomes a subject token; refuse it before any filter exists.
	if err := natsclient.ValidateSubject(r.cfg.Subjects.RequestSubject(msg.ID), false); err != nil {
		r.flow.Error(err)
		r.metrics.recordDrop(reasonBadDeviceID)
		r.logger.Warn("Ignoring announcement with unusable device id", "device", msg.ID, "error", err)
		return err
	}
	r.rememberServices(msg)

	requests := make([]message.ServiceRequest, 0, len(msg.Service))
	requested := make(map[message.SignalType]bool, len(msg.Service))

	for _, entry := range msg.Service {
		signal, err := message.ParseSignal(entry.Characteristic)
		if err != nil {
			r.logger.Debug("Skipping unknown characteristic",
				"device", msg.ID, "characteristic", entry.Characteristic)
			continue
		}
		settings := r.cfg.Signal(signal)
		if !settings.Enabled || requested[signal] {
			continue
		}

		key := filterKey{device: msg.ID, signal: signal}
		if _, exists := r.filters[key]; !exists {
			f, err := threshold.New(signal, settings, r.clock)
			if err != nil {
				r.logger.Warn("Cannot build filter", "device", msg.ID, "signal", signal, "error", err)
				continue
			}
			r.filters[key] = f
			r.logger.Debug("Registered filter", "device", msg.ID, "signal", signal)
		}

		requested[signal] = true
		requests = append(requests, message.ServiceRequest{
			Characteristic: signal.Characteristic(),
			Interval:       settings.PollingInterval,
		})
	}
	r.metrics.setSizes(len(r.filters), len(r.idToName))

	req := message.SubscriptionRequest{
		ID:      r.cfg.AppID,
		Request: message.RequestService,
		Service: requests,
	}
	pubErr := r.publish(ctx, r.cfg.Subjects.RequestSubject(msg.ID), req, "Announce")
	stateErr := r.SetState(ctx, string(message.StateRunning))

	return stderrors.Join(pubErr, stateErr)
}

// rememberServices keeps the latest announcement per device for the
// concentrator services post.
func (r *Router) rememberServices(msg message.ServiceAnnouncement) {
	for i := range r.services {
		if r.services[i].ID == msg.ID {
			r.services[i] = msg
			return
		}
	}
	r.services = append(r.services, msg)
}

// HandleEvent decodes a wire reading and routes it. Unknown characteristics
// are dropped silently; malformed payloads are logged and dropped.
func (r *Router) HandleEvent(ev message.ReadingEvent) []message.Sample {
	reading, err := message.DecodeReading(ev)
	if err != nil {
		if stderrors.Is(err, errors.ErrUnknownSignal) {
			r.dropUnregistered(ev.ID, ev.Characteristic)
			return nil
		}
		r.dropMalformed(ev.ID, err)
		return nil
	}
	return r.Route(reading)
}

// Route passes the reading to its filter and appends any emitted samples to
// the sink under the device's upload name. Readings for pairs that were
// never announced are dropped.
func (r *Router) Route(reading message.Reading) []message.Sample {
	if err := reading.Validate(); err != nil {
		if stderrors.Is(err, errors.ErrUnknownSignal) {
			r.dropUnregistered(reading.DeviceID, string(reading.Signal))
			return nil
		}
		r.dropMalformed(reading.DeviceID, err)
		return nil
	}

	f, ok := r.filters[filterKey{device: reading.DeviceID, signal: reading.Signal}]
	if !ok {
		r.dropUnregistered(reading.DeviceID, string(reading.Signal))
		return nil
	}

	samples := f.Process(reading)
	r.metrics.recordReading(reading.Signal, len(samples))
	r.flow.Message(0)

	if len(samples) > 0 {
		r.sink.Append(r.UploadName(reading.DeviceID), samples)
	}
	return samples
}

func (r *Router) dropUnregistered(device, characteristic string) {
	r.metrics.recordDrop(reasonUnregistered)
	r.logger.Debug("Dropping reading for unregistered filter",
		"device", device, "characteristic", characteristic)
}

func (r *Router) dropMalformed(device string, err error) {
	r.metrics.recordDrop(reasonMalformed)
	r.flow.Error(err)
	r.logger.Warn("Dropping malformed reading", "device", device, "error", err)
}

// SetState moves the application state and publishes a state report.
// The clear_error action returns to running.
func (r *Router) SetState(ctx context.Context, action string) error {
	if action == message.ActionClearError {
		r.state = message.StateRunning
	} else {
		r.state = message.AppState(action)
	}
	r.logger.Debug("State changed", "state", r.state)

	if r.cfg.Subjects.State == "" {
		return nil
	}
	return r.publish(ctx, r.cfg.Subjects.State, message.NewStateReport(r.cfg.AppID, r.state), "SetState")
}

// Concentrator answers a concentrator response. "config" is answered with
// the known names and announced services, anything else with an error.
func (r *Router) Concentrator(ctx context.Context, resp message.ConcentratorResponse) error {
	subject := r.cfg.Subjects.ConcentratorReply
	if subject == "" {
		return nil
	}
	if resp.Resp == "config" {
		return r.publish(ctx, subject,
			message.NewServicesPost(r.cfg.AppID, r.IDToName(), r.Services()), "Concentrator")
	}

	r.logger.Info("Unrecognised concentrator response", "resp", resp.Resp)
	return r.publish(ctx, subject, message.ConcentratorError{
		AppID:   r.cfg.AppID,
		Msg:     "error",
		Message: "unrecognised response from concentrator",
	}, "Concentrator")
}

func (r *Router) publish(ctx context.Context, subject string, payload any, method string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.WrapInvalid(err, "Router", method, "marshal payload")
	}
	if err := r.publisher.Publish(ctx, subject, data); err != nil {
		r.flow.Error(err)
		r.logger.Error("Failed to publish", "subject", subject, "error", err)
		wrap := errors.WrapTransient
		if errors.IsInvalid(err) {
			wrap = errors.WrapInvalid
		}
		return wrap(err, "Router", method, fmt.Sprintf("publish to %s", subject))
	}
	return nil
}

// State returns the current application state
func (r *Router) State() message.AppState {
	return r.state
}

// DisplayName returns the friendly name for a device, or its id when the
// device was never configured.
func (r *Router) DisplayName(deviceID string) string {
	if name, ok := r.idToName[deviceID]; ok {
		return name
	}
	return deviceID
}

// UploadName returns the name a device's samples are batched under. It is
// the display name at the device's first emitted sample and never changes
// afterwards, so a late configure message cannot split one device across two
// batches.
func (r *Router) UploadName(deviceID string) string {
	if name, ok := r.sinkName[deviceID]; ok {
		return name
	}
	name := r.DisplayName(deviceID)
	r.sinkName[deviceID] = name
	return name
}

// IDToName returns a copy of the device id to friendly name map
func (r *Router) IDToName() map[string]string {
	out := make(map[string]string, len(r.idToName))
	for k, v := range r.idToName {
		out[k] = v
	}
	return out
}

// Services returns the latest announcement of every device, in arrival order
func (r *Router) Services() []message.ServiceAnnouncement {
	out := make([]message.ServiceAnnouncement, len(r.services))
	copy(out, r.services)
	return out
}

// Filter returns the filter registered for a (device, signal) pair
func (r *Router) Filter(deviceID string, signal message.SignalType) (threshold.Filter, bool) {
	f, ok := r.filters[filterKey{device: deviceID, signal: signal}]
	return f, ok
}

// FilterCount returns the number of registered filters
func (r *Router) FilterCount() int {
	return len(r.filters)
}

// Meta returns component metadata
func (r *Router) Meta() component.Metadata {
	return component.Metadata{
		Name:        r.name,
		Type:        "processor",
		Description: "Routes sensor readings through per-device significance filters",
		Version:     "0.1.0",
	}
}

// Health returns the current health status
func (r *Router) Health() component.HealthStatus {
	return r.flow.Health(r.state != message.StateStopped)
}

// DataFlow returns current data flow metrics
func (r *Router) DataFlow() component.FlowMetrics {
	return r.flow.DataFlow()
}
