package router

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorbridge/config"
	"github.com/c360/sensorbridge/errors"
	"github.com/c360/sensorbridge/message"
	"github.com/c360/sensorbridge/metric"
	tu "github.com/c360/sensorbridge/testutil"
)

type fixture struct {
	cfg    *config.Config
	bus    *tu.MockNATSClient
	sink   *tu.SampleRecorder
	router *Router
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.AppID = "AID7"
	bus := tu.NewMockNATSClient()
	sink := tu.NewSampleRecorder()

	clock := func() time.Time { return time.Unix(0, 0) }
	r, err := New(cfg, bus, sink, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return &fixture{cfg: cfg, bus: bus, sink: sink, router: r}
}

func (f *fixture) states(t *testing.T) []message.AppState {
	reports := tu.DecodeMessages[message.StateReport](t, f.bus, f.cfg.Subjects.State)
	out := make([]message.AppState, len(reports))
	for i, r := range reports {
		assert.Equal(t, "AID7", r.ID)
		assert.Equal(t, "state", r.Status)
		out[i] = r.State
	}
	return out
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, tu.NewMockNATSClient(), tu.NewSampleRecorder())
	assert.True(t, errors.IsInvalid(err))

	_, err = New(config.Default(), nil, tu.NewSampleRecorder())
	assert.True(t, errors.IsInvalid(err))
}

func TestConfigureRecordsFriendlyNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.router.Configure(ctx, tu.Configure("ADT1", "Kitchen Tag", "ADT2", "Front Door Sensor")))
	assert.Equal(t, map[string]string{"ADT1": "Kitchen_Tag", "ADT2": "Front_Door_Sensor"}, f.router.IDToName())
	assert.Equal(t, message.StateStarting, f.router.State())

	// Re-configuring never renames a known adaptor.
	require.NoError(t, f.router.Configure(ctx, tu.Configure("ADT1", "Renamed", "ADT3", "Garage")))
	assert.Equal(t, "Kitchen_Tag", f.router.DisplayName("ADT1"))
	assert.Equal(t, "Garage", f.router.DisplayName("ADT3"))
	assert.Equal(t, "unknown", f.router.DisplayName("unknown"))

	assert.Equal(t, []message.AppState{message.StateStarting, message.StateStarting}, f.states(t))
}

func TestAnnounceBuildsFiltersAndRequestsServices(t *testing.T) {
	f := newFixture(t)

	ann := tu.Announcement("D1", "temperature", "acceleration", "binary_sensor", "power", "sound_level")
	require.NoError(t, f.router.Announce(context.Background(), ann))

	// acceleration is disabled by default, sound_level is unknown.
	assert.Equal(t, 3, f.router.FilterCount())
	_, ok := f.router.Filter("D1", message.SignalTemperature)
	assert.True(t, ok)
	_, ok = f.router.Filter("D1", message.SignalAcceleration)
	assert.False(t, ok)

	reqs := tu.DecodeMessages[message.SubscriptionRequest](t, f.bus, "sensorbridge.request.D1")
	require.Len(t, reqs, 1)
	assert.Equal(t, "AID7", reqs[0].ID)
	assert.Equal(t, message.RequestService, reqs[0].Request)
	assert.Equal(t, []message.ServiceRequest{
		{Characteristic: "temperature", Interval: config.DefaultSlowPollingInterval},
		{Characteristic: "binary_sensor", Interval: 0},
		{Characteristic: "power", Interval: 0},
	}, reqs[0].Service)

	assert.Equal(t, message.StateRunning, f.router.State())
	assert.Equal(t, []message.AppState{message.StateRunning}, f.states(t))
}

func TestAnnounceKeepsExistingFilterState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.router.Announce(ctx, tu.Announcement("D1", "temperature")))
	f.router.Route(tu.ScalarReading("D1", message.SignalTemperature, 20.0, 0))

	require.NoError(t, f.router.Announce(ctx, tu.Announcement("D1", "temperature")))
	assert.Equal(t, 1, f.router.FilterCount())

	// 20.1 is within the threshold of the remembered 20.0.
	assert.Empty(t, f.router.Route(tu.ScalarReading("D1", message.SignalTemperature, 20.1, 1)))
	assert.Equal(t, 2, f.bus.GetMessageCount("sensorbridge.request.D1"))
	assert.Len(t, f.router.Services(), 1)
}

// D1 announces temperature (threshold 0.2); readings 20.0, 20.1, 20.5 at
// t=0,1,2: after the first value is established only t=2 is significant.
func TestRouteTemperatureScenario(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.router.Configure(context.Background(), tu.Configure("D1", "Living Room")))
	require.NoError(t, f.router.Announce(context.Background(), tu.Announcement("D1", "temperature")))

	f.router.Route(tu.ScalarReading("D1", message.SignalTemperature, 20.0, 0))
	assert.Empty(t, f.router.Route(tu.ScalarReading("D1", message.SignalTemperature, 20.1, 1)))
	out := f.router.Route(tu.ScalarReading("D1", message.SignalTemperature, 20.5, 2))

	assert.Equal(t, []message.Sample{{Name: "temperature", Value: 20.5, Timestamp: 2}}, out)
	assert.Equal(t, []message.Sample{
		{Name: "temperature", Value: 20.0, Timestamp: 0},
		{Name: "temperature", Value: 20.5, Timestamp: 2},
	}, f.sink.All("Living_Room"))
}

func TestUploadNameFixedAtFirstSample(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.router.Announce(ctx, tu.Announcement("D1", "temperature")))

	f.router.Route(tu.ScalarReading("D1", message.SignalTemperature, 20.0, 0))
	require.NoError(t, f.router.Configure(ctx, tu.Configure("D1", "Living Room")))
	f.router.Route(tu.ScalarReading("D1", message.SignalTemperature, 21.0, 1))

	assert.Equal(t, "Living_Room", f.router.DisplayName("D1"))
	assert.Equal(t, "D1", f.router.UploadName("D1"))
	assert.Len(t, f.sink.All("D1"), 2)
	assert.Empty(t, f.sink.All("Living_Room"))
}

func TestUploadNameUsesFriendlyNameWhenConfiguredFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.router.Announce(ctx, tu.Announcement("D1", "temperature")))
	require.NoError(t, f.router.Configure(ctx, tu.Configure("D1", "Porch")))

	f.router.Route(tu.ScalarReading("D1", message.SignalTemperature, 20.0, 0))
	assert.Equal(t, "Porch", f.router.UploadName("D1"))
	assert.Len(t, f.sink.All("Porch"), 1)
}

func TestRouteBinaryScenario(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.router.Announce(context.Background(), tu.Announcement("D1", "binary_sensor")))

	out := f.router.HandleEvent(tu.ReadingEvent("D1", "binary_sensor", "on", 10))
	assert.Equal(t, []message.Sample{
		{Name: "binary", Value: 0, Timestamp: 9.0},
		{Name: "binary", Value: 1, Timestamp: 10.0},
	}, out)
	assert.Len(t, f.sink.Batches["D1"], 1)
}

func TestRouteDropsUnregistered(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	f := newFixture(t, WithMetrics(registry))
	require.NoError(t, f.router.Announce(context.Background(), tu.Announcement("D1", "temperature")))

	assert.Nil(t, f.router.Route(tu.ScalarReading("D2", message.SignalTemperature, 30, 1)))
	assert.Nil(t, f.router.Route(tu.ScalarReading("D1", message.SignalHumidity, 30, 1)))
	assert.Nil(t, f.router.HandleEvent(tu.ReadingEvent("D1", "sound_level", 3, 1)))

	assert.Empty(t, f.sink.Batches)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.router.metrics.dropped.WithLabelValues(reasonUnregistered)))
	assert.Zero(t, f.router.Health().ErrorCount)
}

func TestRouteDropsMalformed(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	f := newFixture(t, WithMetrics(registry))
	require.NoError(t, f.router.Announce(context.Background(), tu.Announcement("D1", "temperature", "acceleration")))

	bad := tu.ReadingEvent("D1", "temperature", "warm", 1)
	assert.Nil(t, f.router.HandleEvent(bad))

	noTime := tu.ReadingEvent("D1", "temperature", 20.0, 1)
	noTime.TimeStamp = nil
	assert.Nil(t, f.router.HandleEvent(noTime))

	wrongShape := message.Reading{DeviceID: "D1", Signal: message.SignalTemperature, Value: message.State{Raw: "on"}, Timestamp: 1}
	assert.Nil(t, f.router.Route(wrongShape))

	assert.Empty(t, f.sink.Batches)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.router.metrics.dropped.WithLabelValues(reasonMalformed)))
	assert.Equal(t, 3, f.router.Health().ErrorCount)
}

func TestRouteMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	f := newFixture(t, WithMetrics(registry))
	require.NoError(t, f.router.Announce(context.Background(), tu.Announcement("D1", "humidity")))

	f.router.Route(tu.ScalarReading("D1", message.SignalHumidity, 50, 1))
	f.router.Route(tu.ScalarReading("D1", message.SignalHumidity, 50.1, 2))

	m := f.router.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.readings.WithLabelValues("humidity", "emitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.readings.WithLabelValues("humidity", "suppressed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.samples.WithLabelValues("humidity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.filters))
}

func TestSetState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.router.SetState(ctx, "error"))
	assert.Equal(t, message.AppState("error"), f.router.State())

	require.NoError(t, f.router.SetState(ctx, message.ActionClearError))
	assert.Equal(t, message.StateRunning, f.router.State())
	assert.Equal(t, []message.AppState{"error", message.StateRunning}, f.states(t))
}

func TestPublishFailureIsTransient(t *testing.T) {
	f := newFixture(t)
	f.bus.FailPublish(fmt.Errorf("connection lost"))

	err := f.router.Announce(context.Background(), tu.Announcement("D1", "temperature"))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	// The filter is registered even though the request could not be sent.
	assert.Equal(t, 1, f.router.FilterCount())
}

func TestAnnounceRejectsDeviceIDUnusableAsSubject(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	f := newFixture(t, WithMetrics(registry))

	err := f.router.Announce(context.Background(), tu.Announcement("front door", "temperature"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrInvalidSubject)

	assert.Zero(t, f.router.FilterCount())
	assert.Empty(t, f.router.Services())
	assert.Zero(t, f.bus.GetMessageCount("sensorbridge.request.front door"))
	assert.Empty(t, f.states(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.router.metrics.dropped.WithLabelValues(reasonBadDeviceID)))
}

func TestPublishKeepsInvalidClass(t *testing.T) {
	f := newFixture(t)
	f.bus.FailPublish(errors.WrapInvalid(errors.ErrInvalidSubject, "Bus", "Publish", "check subject"))

	err := f.router.Announce(context.Background(), tu.Announcement("D1", "temperature"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.False(t, errors.IsTransient(err))
}

func TestConcentrator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.router.Configure(ctx, tu.Configure("D1", "Hall Sensor")))
	require.NoError(t, f.router.Announce(ctx, tu.Announcement("D1", "temperature")))

	subject := f.cfg.Subjects.ConcentratorReply
	require.NoError(t, f.router.Concentrator(ctx, message.ConcentratorResponse{Resp: "config"}))
	require.NoError(t, f.router.Concentrator(ctx, message.ConcentratorResponse{Resp: "bogus"}))

	msgs := f.bus.GetMessages(subject)
	require.Len(t, msgs, 2)

	var post message.ServicesPost
	require.NoError(t, json.Unmarshal(msgs[0], &post))
	assert.Equal(t, "req", post.Msg)
	assert.Equal(t, "post", post.Verb)
	assert.Equal(t, 7, post.Channel)
	assert.Equal(t, "services", post.Body.Msg)
	assert.Equal(t, map[string]string{"D1": "Hall_Sensor"}, post.Body.IDToName)
	require.Len(t, post.Body.Services, 1)
	assert.Equal(t, "D1", post.Body.Services[0].ID)

	var reply message.ConcentratorError
	require.NoError(t, json.Unmarshal(msgs[1], &reply))
	assert.Equal(t, message.ConcentratorError{
		AppID:   "AID7",
		Msg:     "error",
		Message: "unrecognised response from concentrator",
	}, reply)
}

func TestMetaAndHealth(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "processor", f.router.Meta().Type)
	assert.False(t, f.router.Health().Healthy, "stopped until configured")

	require.NoError(t, f.router.Configure(context.Background(), tu.Configure()))
	assert.True(t, f.router.Health().Healthy)
}
