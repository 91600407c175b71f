// Package config loads the sensorbridge configuration.
//
// Configuration comes from up to three places, applied in order:
//
//  1. Built-in defaults (see the Default* constants and the signal table below).
//  2. One or more JSON or YAML file layers, each checked against an embedded
//     JSON schema before it is applied.
//  3. Environment variables with the SENSORBRIDGE_ prefix.
//
// Files use the flat legacy keys for signal settings and nested sections for
// everything else:
//
//	{
//	  "bridge_id": "BID7",
//	  "geras_key": "secret",
//	  "temperature": "True",
//	  "temp_min_change": 0.2,
//	  "temperature_mode": "regular",
//	  "accel": false,
//	  "send_delay": 3,
//	  "upload": {"timeout": "10s", "workers": 4},
//	  "nats": {"urls": ["nats://localhost:4222"]},
//	  "subjects": {"data": "sensorbridge.data"},
//	  "metrics": {"enabled": true, "port": 9090}
//	}
//
// Flags accept booleans or the strings true/t/1/false/f/0 in any case.
//
// A missing or corrupt file is not an error: the loader logs a warning,
// records it in Loader.Issues and continues with the values it already has.
// Only Config.Validate failures are returned from Load.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.SetLogger(logger)
//	loader.AddLayer("/etc/sensorbridge/sensorbridge.yaml")
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//	temp := cfg.Signal(message.SignalTemperature)
//
// # Environment Overrides
//
//	SENSORBRIDGE_APP_ID, SENSORBRIDGE_BRIDGE_ID, SENSORBRIDGE_API_KEY,
//	SENSORBRIDGE_UPLOAD_URL, SENSORBRIDGE_NATS_URLS (comma separated),
//	SENSORBRIDGE_NATS_USERNAME, SENSORBRIDGE_NATS_PASSWORD, SENSORBRIDGE_NATS_TOKEN
package config
