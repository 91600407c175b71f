package config

import "github.com/c360/sensorbridge/message"

// signalKeys maps a signal to its flat configuration keys.
// An empty threshold key means the signal has no threshold.
// An empty polling key means the adaptor reports on event.
type signalKeys struct {
	enable    string
	threshold string
	polling   string
}

const slowPollingKey = "slow_polling_interval"

var legacyKeys = map[message.SignalType]signalKeys{
	message.SignalTemperature:   {"temperature", "temp_min_change", slowPollingKey},
	message.SignalIRTemperature: {"irtemperature", "irtemp_min_change", slowPollingKey},
	message.SignalHumidity:      {"humidity", "humidity_min_change", slowPollingKey},
	message.SignalLuminance:     {"luminance", "luminance_min_change", ""},
	message.SignalBattery:       {"battery", "battery_min_change", ""},
	message.SignalPower:         {"power", "power_min_change", ""},
	message.SignalAcceleration:  {"accel", "accel_min_change", "accel_polling_interval"},
	message.SignalGyro:          {"gyro", "gyro_min_change", "gyro_polling_interval"},
	message.SignalMagnetometer:  {"magnet", "magnet_min_change", "magnet_polling_interval"},
	message.SignalButtons:       {"buttons", "", ""},
	message.SignalBinary:        {"binary", "", ""},
	message.SignalConnected:     {"connected", "", ""},
}

// modeKey returns the key selecting the filter mode of s, e.g. "temperature_mode".
// Only scalar signals have one.
func modeKey(s message.SignalType) string {
	if s.Kind() != message.KindScalar || s == message.SignalPower {
		return ""
	}
	return legacyKeys[s].enable + "_mode"
}

// Default values
const (
	DefaultSlowPollingInterval = 600.0
	DefaultFastPollingInterval = 3.0
	DefaultSendDelaySeconds    = 3.0
	DefaultUploadURLFormat     = "http://geras.1248.io/series/%s"
	DefaultUploadTimeout       = "10s"
	DefaultUploadWorkers       = 4
	DefaultUploadQueueSize     = 256
	DefaultMetricsPort         = 9090
	DefaultMetricsPath         = "/metrics"
	DefaultBridgeID            = "BID0"
)

func defaultSignals() map[message.SignalType]SignalSettings {
	on := func(threshold, polling float64) SignalSettings {
		return SignalSettings{Enabled: true, MinChange: threshold, PollingInterval: polling, Mode: ModeOnChange}
	}
	off := func(threshold, polling float64) SignalSettings {
		return SignalSettings{Enabled: false, MinChange: threshold, PollingInterval: polling, Mode: ModeOnChange}
	}

	return map[message.SignalType]SignalSettings{
		message.SignalTemperature:   on(0.2, DefaultSlowPollingInterval),
		message.SignalIRTemperature: off(0.5, DefaultSlowPollingInterval),
		message.SignalHumidity:      on(0.2, DefaultSlowPollingInterval),
		message.SignalLuminance:     on(1.0, 0),
		message.SignalBattery:       on(1.0, 0),
		message.SignalPower:         on(1.0, 0),
		message.SignalAcceleration:  off(0.02, DefaultFastPollingInterval),
		message.SignalGyro:          off(0.5, DefaultFastPollingInterval),
		message.SignalMagnetometer:  off(1.5, DefaultFastPollingInterval),
		message.SignalButtons:       off(0, 0),
		message.SignalBinary:        on(0, 0),
		message.SignalConnected:     on(0, 0),
	}
}
