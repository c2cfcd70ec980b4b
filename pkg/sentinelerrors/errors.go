// Package sentinelerrors implements the boundary error taxonomy: a small
// set of sentinel codes that façade callers (the HTTP API, the CLI, the
// session service) can switch on, wrapped with enough context for logs
// without leaking internal types across the boundary.
package sentinelerrors

import (
	"fmt"
	"time"
)

// Code is one of the boundary error codes.
type Code string

const (
	CodeAlreadyActive    Code = "ALREADY_ACTIVE"
	CodeSensorUnavailable Code = "SENSOR_UNAVAILABLE"
	CodeStoreUnavailable  Code = "STORE_UNAVAILABLE"
	CodeInvalidTarget     Code = "INVALID_TARGET"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeConfigInvalid     Code = "CONFIG_INVALID"
)

// Severity distinguishes configuration errors (fail-fast) from lifecycle
// conflicts (surfaced to the caller) and sensor/store errors (may be
// transient).
type Severity string

const (
	SeverityFatal     Severity = "fatal"
	SeverityRecoverable Severity = "recoverable"
	SeverityInfo        Severity = "info"
)

// Error is the standardized error type crossing the session service façade.
type Error struct {
	Code      Code
	Component string
	Operation string
	Message   string
	Cause     error
	Severity  Severity
	Timestamp time.Time
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Operation, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(code Code, severity Severity, component, operation, message string) *Error {
	return &Error{
		Code:      code,
		Component: component,
		Operation: operation,
		Message:   message,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
	}
}

// AlreadyActive is returned when a second session is requested while one is
// already running.
func AlreadyActive(operation string) *Error {
	return newErr(CodeAlreadyActive, SeverityRecoverable, "service", operation, "a session is already active")
}

// SensorUnavailable is returned when the kernel sensor stream cannot be read
// (service not running, channel unreadable, insufficient privilege).
func SensorUnavailable(operation string, cause error) *Error {
	e := newErr(CodeSensorUnavailable, SeverityRecoverable, "source", operation, "sensor stream unavailable")
	e.Cause = cause
	return e
}

// StoreUnavailable wraps a persistence error that is not the transient "busy"
// case already retried once by the store.
func StoreUnavailable(operation string, cause error) *Error {
	e := newErr(CodeStoreUnavailable, SeverityRecoverable, "store", operation, "event store operation failed")
	e.Cause = cause
	return e
}

// InvalidTarget is returned when a target executable name cannot be resolved
// to a sensible process-create filter (an empty name).
func InvalidTarget(operation, message string) *Error {
	return newErr(CodeInvalidTarget, SeverityRecoverable, "service", operation, message)
}

// NotFound is returned for operations against a missing test/session id.
func NotFound(operation, message string) *Error {
	return newErr(CodeNotFound, SeverityInfo, "store", operation, message)
}

// Conflict is returned when sealing a session that is already sealed, or
// other state conflicts that are not lifecycle races.
func Conflict(operation, message string) *Error {
	return newErr(CodeConflict, SeverityRecoverable, "service", operation, message)
}

// ConfigInvalid is a fail-fast configuration error: unknown
// severity label, weights that do not sum to one, etc. Construction-time
// only — never returned once a component is running.
func ConfigInvalid(operation, message string) *Error {
	return newErr(CodeConfigInvalid, SeverityFatal, "config", operation, message)
}

// AsCode reports the Code of err when err is itself a *Error. A *Error
// wrapped inside another error is not unwrapped and reports false.
func AsCode(err error) (Code, bool) {
	if e, ok := err.(*Error); ok {
		return e.Code, true
	}
	return "", false
}
