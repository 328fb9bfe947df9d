package errors

import "fmt"

// Code is a standardized identifier for the kind of failure an AppError
// represents.
type Code string

const (
	// CodeSetUp marks a wiring fault: an unknown algorithm id, a store with
	// no matching atomic action, or an invalid constructor argument.
	CodeSetUp Code = "SET_UP"

	// CodeData marks an invalid call-time argument: an empty key, a
	// non-positive timeout, an hset with no fields.
	CodeData Code = "DATA"

	// CodeUnavailable marks a remote backend that is reachable in principle
	// but currently faulted (connection lost, script error).
	CodeUnavailable Code = "STORE_UNAVAILABLE"

	// CodeInternal marks an unexpected low-level failure wrapped for
	// context; it does not correspond to a documented public error.
	CodeInternal Code = "INTERNAL"

	// CodeLimited marks a decision that came back limited in a context
	// that treats denial as an error (scoped-use, callable-wrap).
	CodeLimited Code = "LIMITED"
)

// AppError is the base type every error raised by this module derives from.
// It carries a Code for programmatic branching, a human-readable Message,
// and an optional Cause for chaining.
type AppError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes Cause to errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New builds an AppError with the given code, message, and optional cause.
func New(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Wrap annotates err with a message, tagging it CodeInternal. Use this for
// low-level I/O failures that don't map to one of the public codes.
func Wrap(err error, message string) *AppError {
	return New(CodeInternal, message, err)
}

// SetUp builds a CodeSetUp AppError.
func SetUp(message string, cause error) *AppError {
	return New(CodeSetUp, message, cause)
}

// Data builds a CodeData AppError.
func Data(message string, cause error) *AppError {
	return New(CodeData, message, cause)
}

// Unavailable builds a CodeUnavailable AppError.
func Unavailable(message string, cause error) *AppError {
	return New(CodeUnavailable, message, cause)
}

// IsSetUp reports whether err (or something it wraps) is a CodeSetUp AppError.
func IsSetUp(err error) bool { return hasCode(err, CodeSetUp) }

// IsData reports whether err (or something it wraps) is a CodeData AppError.
func IsData(err error) bool { return hasCode(err, CodeData) }

// IsUnavailable reports whether err (or something it wraps) is a
// CodeUnavailable AppError.
func IsUnavailable(err error) bool { return hasCode(err, CodeUnavailable) }

// IsLimited reports whether err (or something it wraps) is a CodeLimited
// AppError.
func IsLimited(err error) bool { return hasCode(err, CodeLimited) }

func hasCode(err error, code Code) bool {
	type coder interface{ AppErrorCode() Code }
	for err != nil {
		if ae, ok := err.(*AppError); ok {
			if ae.Code == code {
				return true
			}
		} else if c, ok := err.(coder); ok && c.AppErrorCode() == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
