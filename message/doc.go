// Package message defines the data that flows through sensorbridge: raw sensor
// Readings delivered by the bus, Samples produced by the threshold filters,
// and the control payloads exchanged with adaptors and the bridge manager.
//
// # Signal Types
//
// SignalType is a closed enumeration. Every supported characteristic maps to
// exactly one SignalType, and every SignalType fixes the shape of its reading
// value and the names of the samples it produces:
//
//	temperature     Scalar   -> temperature
//	ir_temperature  Scalar   -> ir_temperature
//	humidity        Scalar   -> humidity
//	luminance       Scalar   -> luminance
//	battery         Scalar   -> battery
//	power           Scalar   -> power
//	acceleration    Vector   -> accel_x, accel_y, accel_z
//	gyro            Vector   -> gyro_x, gyro_y, gyro_z
//	magnetometer    Vector   -> magnet_x, magnet_y, magnet_z
//	buttons         Buttons  -> left_button, right_button
//	binary_sensor   State    -> binary
//	connected       State    -> connected
//
// # Wire Formats
//
// Inbound reading events look like:
//
//	{"id": "dev1", "characteristic": "temperature", "data": 21.5, "timeStamp": 1418384940.2}
//
// DecodeReading turns an event into a typed Reading, returning an error
// wrapping errors.ErrMalformedReading when the data does not fit the
// characteristic's shape.
//
// Samples serialize to the upload format {"n": name, "v": value, "t": timestamp}.
package message
