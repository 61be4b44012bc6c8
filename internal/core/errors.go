package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Predefined errors
var (
	// Engine API errors
	ErrStrategyNotFound  = &Error{Code: "STRATEGY_NOT_FOUND", Message: "strategy not found"}
	ErrEngineUnavailable = &Error{Code: "ENGINE_UNAVAILABLE", Message: "engine unreachable"}
	ErrEngineRejected    = &Error{Code: "ENGINE_REJECTED", Message: "engine rejected the request"}
	ErrDecode            = &Error{Code: "DECODE_FAILED", Message: "malformed engine response"}

	// Command errors
	ErrBadField   = &Error{Code: "BAD_FIELD", Message: "field is not mutable"}
	ErrBadCommand = &Error{Code: "BAD_COMMAND", Message: "unknown lifecycle command"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}

	// Export errors
	ErrExportFailed = &Error{Code: "EXPORT_FAILED", Message: "snapshot export failed"}
)
