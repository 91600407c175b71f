package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrorClass says how the bridge reacts to an error
type ErrorClass int

const (
	// ErrorTransient errors are retried: the batch goes back to its device,
	// the bus reconnects
	ErrorTransient ErrorClass = iota
	// ErrorInvalid errors are dropped and logged: bad readings, bad payloads,
	// bad config values
	ErrorInvalid
	// ErrorFatal errors stop the process
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrSubscriptionFailed = errors.New("subscription failed")
	ErrInvalidSubject     = errors.New("invalid subject")

	ErrMalformedReading = errors.New("malformed reading")
	ErrUnknownSignal    = errors.New("unknown signal type")
	ErrValueMismatch    = errors.New("reading value does not match signal type")
	ErrParsingFailed    = errors.New("parsing failed")

	ErrUploadFailed     = errors.New("upload failed")
	ErrUnexpectedStatus = errors.New("unexpected upload status")
	ErrUploadRejected   = errors.New("upload not accepted by worker pool")

	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
	ErrConfigNotFound = errors.New("configuration not found")
)

// sentinelClasses is consulted after explicit classification. Order matters
// only for errors that wrap more than one sentinel.
var sentinelClasses = []struct {
	err   error
	class ErrorClass
}{
	{ErrMissingConfig, ErrorFatal},

	{ErrMalformedReading, ErrorInvalid},
	{ErrUnknownSignal, ErrorInvalid},
	{ErrValueMismatch, ErrorInvalid},
	{ErrParsingFailed, ErrorInvalid},
	{ErrInvalidSubject, ErrorInvalid},
	{ErrInvalidConfig, ErrorInvalid},
	{ErrConfigNotFound, ErrorInvalid},

	{ErrUploadFailed, ErrorTransient},
	{ErrUnexpectedStatus, ErrorTransient},
	{ErrUploadRejected, ErrorTransient},
	{ErrConnectionTimeout, ErrorTransient},
	{ErrSubscriptionFailed, ErrorTransient},
	{context.DeadlineExceeded, ErrorTransient},
	{context.Canceled, ErrorTransient},
}

// messageClasses matches errors from libraries that carry no sentinel, such
// as dial and TLS failures from net/http or nats.go. Fatal patterns first.
var messageClasses = []struct {
	substr string
	class  ErrorClass
}{
	{"fatal", ErrorFatal},
	{"panic", ErrorFatal},
	{"out of memory", ErrorFatal},

	{"timeout", ErrorTransient},
	{"connection", ErrorTransient},
	{"network", ErrorTransient},
	{"temporary", ErrorTransient},
	{"unavailable", ErrorTransient},
	{"refused", ErrorTransient},
}

// lookup finds the class of err. The second result is false when nothing
// about err is recognised.
func lookup(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, sc := range sentinelClasses {
		if errors.Is(err, sc.err) {
			return sc.class, true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, mc := range messageClasses {
		if strings.Contains(msg, mc.substr) {
			return mc.class, true
		}
	}
	return ErrorTransient, false
}

func is(err error, class ErrorClass) bool {
	if err == nil {
		return false
	}
	c, ok := lookup(err)
	return ok && c == class
}

// IsTransient reports whether err is known to be retryable.
func IsTransient(err error) bool { return is(err, ErrorTransient) }

// IsInvalid reports whether err comes from bad input.
func IsInvalid(err error) bool { return is(err, ErrorInvalid) }

// IsFatal reports whether err should stop the process.
func IsFatal(err error) bool { return is(err, ErrorFatal) }

// Classify returns the class of err. Unrecognised errors are transient so an
// upload that failed for an unknown reason is still retried.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	c, _ := lookup(err)
	return c
}

// ClassifiedError is an error with an explicit class and the place it was
// raised.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string { return ce.Err.Error() }

func (ce *ClassifiedError) Unwrap() error { return ce.Err }

// LogValue lets slog print the class and origin as separate attributes.
func (ce *ClassifiedError) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("msg", ce.Err.Error()),
		slog.String("class", ce.Class.String()),
		slog.String("component", ce.Component),
		slog.String("op", ce.Operation),
	)
}

// Wrap adds "component.method: action failed:" in front of err and keeps any
// class err already carries.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Err:       Wrap(err, component, method, action),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps err as retryable.
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapInvalid wraps err as bad input.
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// WrapFatal wraps err as unrecoverable.
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}
