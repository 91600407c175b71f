// Package errors provides standardized error handling patterns for sensorbridge components.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input, drop and log), and Fatal (unrecoverable, stop the process).
// The upload pipeline relies on the classification: any upload error is
// transient and its samples go back into the device batch, while malformed
// readings and broken configuration files are invalid and are dropped or
// replaced by defaults.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions set the classification:
//
//	errors.WrapTransient(err, "Uploader", "Send", "post batch")
//	errors.WrapInvalid(err, "Router", "Route", "decode reading")
//	errors.WrapFatal(err, "Engine", "Start", "subscribe")
//
// Wrap() keeps whatever classification the wrapped error already carries.
//
// # Classification Order
//
// Classify looks for an explicit ClassifiedError first, then for the
// sentinels below, then for known words in the message ("timeout",
// "refused", "fatal"). Anything else is transient, so an upload that fails
// for an unknown reason is still retried.
//
// ClassifiedError implements slog.LogValuer: logging it under "error" yields
// msg, class, component and op attributes.
//
// # Standard Error Variables
//
//   - Lifecycle: ErrAlreadyStarted, ErrNotStarted, ErrShuttingDown
//   - Bus: ErrConnectionTimeout, ErrSubscriptionFailed, ErrInvalidSubject
//   - Readings: ErrMalformedReading, ErrUnknownSignal, ErrValueMismatch
//   - Upload: ErrUploadFailed, ErrUnexpectedStatus, ErrUploadRejected
//   - Configuration: ErrInvalidConfig, ErrMissingConfig, ErrConfigNotFound
//
// Context errors (context.DeadlineExceeded, context.Canceled) classify as
// transient.
package errors
