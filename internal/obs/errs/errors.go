// Package errs defines the control plane's error taxonomy (spec §7) as
// typed, wrapped errors carrying a reason code, following the teacher's
// convention of package-level sentinels composed with fmt.Errorf(%w).
package errs

import (
	"errors"
	"fmt"
)

// Class is a coarse error taxonomy bucket (spec §7).
type Class string

const (
	ClassConfig           Class = "CONFIG"
	ClassAdapterConnect   Class = "ADAPTER_CONNECT"
	ClassAdapterAuth      Class = "ADAPTER_AUTH"
	ClassAdapterConfig    Class = "ADAPTER_CONFIG"
	ClassOperation        Class = "OPERATION"
	ClassBus              Class = "BUS"
	ClassTimeout          Class = "TIMEOUT"
	ClassInternalInvariant Class = "INTERNAL_INVARIANT"
)

// Error is a classified, reason-coded error. ReasonCode is short and
// machine-stable (e.g. "MIX_SUM_NOT_100"); Message is human-readable.
type Error struct {
	Class      Class
	ReasonCode string
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Class, e.ReasonCode, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Class, e.ReasonCode, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(class Class, reasonCode, message string, cause error) *Error {
	return &Error{Class: class, ReasonCode: reasonCode, Message: message, Cause: cause}
}

// ConfigError surfaces to the caller at admission; no run is created.
func ConfigError(reasonCode, message string) *Error {
	return newErr(ClassConfig, reasonCode, message, nil)
}

// AdapterConnectError wraps a transport failure opening a target connection.
func AdapterConnectError(message string, cause error) *Error {
	return newErr(ClassAdapterConnect, "ADAPTER_CONNECT", message, cause)
}

// AdapterAuthError wraps an authentication failure opening a target connection.
func AdapterAuthError(message string, cause error) *Error {
	return newErr(ClassAdapterAuth, "ADAPTER_AUTH", message, cause)
}

// AdapterConfigError wraps a misconfigured adapter (bad DSN, unknown adapter name).
func AdapterConfigError(message string, cause error) *Error {
	return newErr(ClassAdapterConfig, "ADAPTER_CONFIG", message, cause)
}

// OperationError wraps a transient, counted-but-not-fatal query failure.
func OperationError(message string, cause error) *Error {
	return newErr(ClassOperation, "OPERATION", message, cause)
}

// BusError wraps a transient control-bus store failure.
func BusError(message string, cause error) *Error {
	return newErr(ClassBus, "BUS_UNAVAILABLE", message, cause)
}

// TimeoutError wraps a lifecycle timeout (registration, stop-grace, abort-grace).
func TimeoutError(reasonCode, message string) *Error {
	return newErr(ClassTimeout, reasonCode, message, nil)
}

// InternalInvariantError indicates a bug. The coordinator logs and FAILS
// the run immediately without partial aggregates (spec §7).
func InternalInvariantError(message string) *Error {
	return newErr(ClassInternalInvariant, "INTERNAL_INVARIANT", message, nil)
}

// ClassOf extracts the Class of err, if it (or something it wraps) is an *Error.
func ClassOf(err error) (Class, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}
