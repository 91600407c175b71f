package message

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/c360/sensorbridge/errors"
)

// ServiceEntry is one service offered by an adaptor. Only Characteristic is
// interpreted; everything else the adaptor sends is kept for the concentrator.
type ServiceEntry struct {
	Characteristic string         `json:"characteristic"`
	Extra          map[string]any `json:"-"`
}

// UnmarshalJSON keeps unknown fields in Extra
func (s *ServiceEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if c, ok := raw["characteristic"].(string); ok {
		s.Characteristic = c
	}
	delete(raw, "characteristic")
	if len(raw) > 0 {
		s.Extra = raw
	}
	return nil
}

// MarshalJSON writes Characteristic alongside the preserved extra fields
func (s ServiceEntry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+1)
	for k, v := range s.Extra {
		out[k] = v
	}
	out["characteristic"] = s.Characteristic
	return json.Marshal(out)
}

// ServiceAnnouncement lists the services a device offers
type ServiceAnnouncement struct {
	ID      string         `json:"id"`
	Service []ServiceEntry `json:"service"`
}

// Adaptor identifies one device in a configure message
type Adaptor struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	FriendlyName string `json:"friendly_name"`
}

// ConfigureMessage establishes the device id to friendly name mapping
type ConfigureMessage struct {
	Adaptors []Adaptor `json:"adaptors"`
}

// ServiceRequest asks an adaptor to report one characteristic at an interval (seconds, 0 = on event)
type ServiceRequest struct {
	Characteristic string  `json:"characteristic"`
	Interval       float64 `json:"interval"`
}

// FunctionRequest asks an adaptor to report one parameter at an interval
type FunctionRequest struct {
	Parameter string  `json:"parameter"`
	Interval  float64 `json:"interval"`
}

// Request kinds for SubscriptionRequest
const (
	RequestService   = "service"
	RequestFunctions = "functions"
)

// SubscriptionRequest is sent to a device after it announces its services
type SubscriptionRequest struct {
	ID        string            `json:"id"`
	Request   string            `json:"request"`
	Service   []ServiceRequest  `json:"service,omitempty"`
	Functions []FunctionRequest `json:"functions,omitempty"`
}

// AppState is the application lifecycle state reported to the bridge manager
type AppState string

// Application states
const (
	StateStopped  AppState = "stopped"
	StateStarting AppState = "starting"
	StateRunning  AppState = "running"
)

// ActionClearError is the state action that returns the app to running
const ActionClearError = "clear_error"

// StateReport is published whenever the application state changes
type StateReport struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	State  AppState `json:"state"`
}

// NewStateReport builds a state report for app id
func NewStateReport(id string, state AppState) StateReport {
	return StateReport{ID: id, Status: "state", State: state}
}

// ConcentratorResponse is the inbound message from the bridge concentrator
type ConcentratorResponse struct {
	Resp string `json:"resp"`
}

// ServicesBody is the payload of the concentrator services post
type ServicesBody struct {
	Msg      string                `json:"msg"`
	AppID    string                `json:"appID"`
	IDToName map[string]string     `json:"idToName"`
	Services []ServiceAnnouncement `json:"services"`
}

// ServicesPost answers a concentrator "config" response
type ServicesPost struct {
	Msg     string       `json:"msg"`
	Verb    string       `json:"verb"`
	Channel int          `json:"channel"`
	Body    ServicesBody `json:"body"`
}

// NewServicesPost builds the services post for app id.
// The channel number is the numeric suffix of the app id ("AID12" -> 12).
func NewServicesPost(appID string, idToName map[string]string, services []ServiceAnnouncement) ServicesPost {
	return ServicesPost{
		Msg:     "req",
		Verb:    "post",
		Channel: AppChannel(appID),
		Body: ServicesBody{
			Msg:      "services",
			AppID:    appID,
			IDToName: idToName,
			Services: services,
		},
	}
}

// AppChannel extracts the channel number from an app id, 0 when there is none
func AppChannel(appID string) int {
	if len(appID) <= 3 {
		return 0
	}
	n, err := strconv.Atoi(appID[3:])
	if err != nil {
		return 0
	}
	return n
}

// ConcentratorError reports an unrecognised concentrator response
type ConcentratorError struct {
	AppID   string `json:"appID"`
	Msg     string `json:"msg"`
	Message string `json:"message"`
}

// Decode unmarshals a control payload of type T, classifying failures as invalid
func Decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"message", "Decode", fmt.Sprintf("unmarshal %T", v))
	}
	return v, nil
}
