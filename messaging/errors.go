package messaging

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigError is returned when a DSN or an option value is invalid. It is
// raised while building a transport and is never worth retrying.
type ConfigError struct {
	Message string
	Err     error
}

// ConfigErrorf builds a ConfigError from a format string.
func ConfigErrorf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// WrapConfigError annotates err as a configuration failure.
func WrapConfigError(err error, msg string) *ConfigError {
	return &ConfigError{Message: msg, Err: err}
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ConfigError) Unwrap() error { return e.Err }
func (e *ConfigError) Cause() error  { return e.Err }

// TransportError is returned when the broker client fails to poll, commit or
// publish. Code carries the native client error code when there is one.
type TransportError struct {
	Code    int
	Message string
	Err     error
}

// NewTransportError wraps err as a TransportError. A TransportError found in
// the chain is returned as is.
func NewTransportError(err error) *TransportError {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return &TransportError{Message: err.Error(), Err: err}
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport error (code %d): %s", e.Code, e.Message)
	}
	return "transport error: " + e.Message
}

func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Cause() error  { return e.Err }

// MessageDecodingFailedError is returned by serializers when the payload
// cannot be turned into an envelope. Retrying with the same bytes will fail
// again, so hosts usually route these to a dead letter destination.
type MessageDecodingFailedError struct {
	Message string
	Err     error
}

// DecodingFailed builds a MessageDecodingFailedError.
func DecodingFailed(err error, format string, args ...interface{}) *MessageDecodingFailedError {
	return &MessageDecodingFailedError{Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *MessageDecodingFailedError) Error() string {
	if e.Err != nil {
		return "failed decoding message: " + e.Message + ": " + e.Err.Error()
	}
	return "failed decoding message: " + e.Message
}

func (e *MessageDecodingFailedError) Unwrap() error { return e.Err }
func (e *MessageDecodingFailedError) Cause() error  { return e.Err }

// LogicError signals a misuse of the API by the caller, for instance
// acknowledging an envelope that was not received through the transport.
type LogicError struct {
	Message string
}

// LogicErrorf builds a LogicError from a format string.
func LogicErrorf(format string, args ...interface{}) *LogicError {
	return &LogicError{Message: fmt.Sprintf(format, args...)}
}

func (e *LogicError) Error() string { return e.Message }
