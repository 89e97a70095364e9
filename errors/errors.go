// Package errors provides standardized error handling for the realtime
// channel client. It combines a severity classification (transient, invalid,
// fatal) that drives recovery decisions with a kind taxonomy (connection,
// protocol, timeout, polling, subscription) that tells consumers what failed.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the severity classification of errors.
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or protocol violations
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that terminate the session
	ErrorFatal
)

// String returns the string representation of ErrorClass
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

// Kind identifies which part of the channel stack produced an error.
type Kind int

const (
	// KindUnknown is the zero value for unclassified errors
	KindUnknown Kind = iota
	// KindConnection covers transport-level open/send/close failures
	KindConnection
	// KindProtocol covers malformed or unexpected envelopes; non-fatal,
	// the connection stays open
	KindProtocol
	// KindTimeout covers connection and per-request timeouts
	KindTimeout
	// KindPolling covers single-channel poll failures; isolated per channel
	KindPolling
	// KindSubscription covers send/subscribe attempts while not connected
	KindSubscription
	// KindConfig covers invalid or missing configuration
	KindConfig
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindPolling:
		return "polling"
	case KindSubscription:
		return "subscription"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Connection lifecycle errors
	ErrConnectionFailed   = errors.New("connection failed")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrSessionDisposed    = errors.New("session disposed")

	// Protocol errors
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrMissingType       = errors.New("envelope missing type")

	// Polling errors
	ErrPollRequestFailed = errors.New("poll request failed")
	ErrNoEndpoint        = errors.New("no polling endpoint for channel")

	// Subscription errors
	ErrNotConnected    = errors.New("not connected")
	ErrSendWhileClosed = errors.New("send attempted while not open")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError wraps an error with its severity class and kind.
type ClassifiedError struct {
	Class     ErrorClass
	Kind      Kind
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// KindOf returns the kind of an error, or KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}

	switch {
	case errors.Is(err, ErrConnectionFailed),
		errors.Is(err, ErrConnectionClosed),
		errors.Is(err, ErrReconnectExhausted),
		errors.Is(err, ErrSessionDisposed):
		return KindConnection
	case errors.Is(err, ErrConnectionTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrMalformedEnvelope),
		errors.Is(err, ErrMissingType):
		return KindProtocol
	case errors.Is(err, ErrPollRequestFailed),
		errors.Is(err, ErrNoEndpoint):
		return KindPolling
	case errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrSendWhileClosed):
		return KindSubscription
	case errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrMissingConfig):
		return KindConfig
	}

	return KindUnknown
}

// IsConnectionError reports whether err is a transport-level failure.
func IsConnectionError(err error) bool {
	return KindOf(err) == KindConnection
}

// IsProtocolError reports whether err is a non-fatal envelope/protocol error.
func IsProtocolError(err error) bool {
	return KindOf(err) == KindProtocol
}

// IsTimeoutError reports whether err is a connection or per-request timeout.
func IsTimeoutError(err error) bool {
	return KindOf(err) == KindTimeout
}

// IsPollingError reports whether err is an isolated single-channel poll failure.
func IsPollingError(err error) bool {
	return KindOf(err) == KindPolling
}

// IsSubscriptionError reports whether err is a send attempted while not connected.
func IsSubscriptionError(err error) bool {
	return KindOf(err) == KindSubscription
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrPollRequestFailed) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Common transient patterns from transport libraries
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary",
		"unavailable",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is terminal for the session
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrReconnectExhausted) ||
		errors.Is(err, ErrSessionDisposed) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrMalformedEnvelope) ||
		errors.Is(err, ErrMissingType)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	// Default to transient for unknown errors to allow retry
	return ErrorTransient
}

// newClassified creates a new classified error. Internal helper; use the
// Wrap* functions instead.
func newClassified(class ErrorClass, kind Kind, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Kind:      kind,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClassified(class ErrorClass, kind Kind, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(class, kind, wrappedErr, component, method, wrappedErr.Error())
}

// WrapConnection wraps a transport-level failure as a recoverable
// connection error.
func WrapConnection(err error, component, method, action string) error {
	return wrapClassified(ErrorTransient, KindConnection, err, component, method, action)
}

// WrapProtocol wraps a malformed-envelope error. Protocol errors never tear
// down the session; they are surfaced through the error observer only.
func WrapProtocol(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, KindProtocol, err, component, method, action)
}

// WrapTimeout wraps a connection or per-request timeout as recoverable.
func WrapTimeout(err error, component, method, action string) error {
	return wrapClassified(ErrorTransient, KindTimeout, err, component, method, action)
}

// WrapPolling wraps a single-channel poll failure. Polling errors are
// isolated: they never stop other channels or subsequent ticks.
func WrapPolling(err error, component, method, action string) error {
	return wrapClassified(ErrorTransient, KindPolling, err, component, method, action)
}

// WrapSubscription wraps a send attempted while the session is not open.
func WrapSubscription(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, KindSubscription, err, component, method, action)
}

// WrapTerminal marks a connection or timeout error as terminal: retries are
// exhausted and fallback is unavailable, so the session stays closed.
func WrapTerminal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	if kind == KindUnknown {
		kind = KindConnection
	}
	return wrapClassified(ErrorFatal, kind, err, component, method, action)
}

// WrapInvalid wraps an error as invalid input with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, KindConfig, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(ErrorFatal, KindUnknown, err, component, method, action)
}
