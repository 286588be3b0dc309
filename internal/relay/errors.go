// Package relay defines the wire error taxonomy shared by the Link and
// Coupling APIs and the helpers that translate internal errors onto it.
package relay

import "fmt"

// Wire error codes. Both APIs report failures as an
// {errorcode, errorname, errordetails} document with one of these codes.
const (
	CodeWrongParam     = 101
	CodeMissingParam   = 102
	CodeUnknownKey     = 105
	CodeUnknownUser    = 106
	CodeTimedOut       = 208
	CodeUserCancel     = 401
	CodeCouplingError  = 405
	CodeInternalError  = 900
	CodeConfigError    = 901
	CodeRequestTimeout = 998
)

var errorNames = map[int]string{
	CodeWrongParam:     "wrong_param",
	CodeMissingParam:   "missing_param",
	CodeUnknownKey:     "unknown_key",
	CodeUnknownUser:    "unknown_user",
	CodeTimedOut:       "timed_out",
	CodeUserCancel:     "user_cancel",
	CodeCouplingError:  "coupling_error",
	CodeInternalError:  "internal_error",
	CodeConfigError:    "configuration_error",
	CodeRequestTimeout: "timed_out",
}

// ErrorName returns the wire name for a code, or internal_error for an
// unknown one.
func ErrorName(code int) string {
	if name, ok := errorNames[code]; ok {
		return name
	}
	return errorNames[CodeInternalError]
}

// RelayError is an error that already knows its wire code.
type RelayError struct {
	code    int
	message string
	wrapped error
}

func (e *RelayError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *RelayError) Code() int      { return e.code }
func (e *RelayError) Unwrap() error  { return e.wrapped }
func (e *RelayError) Name() string   { return ErrorName(e.code) }
func (e *RelayError) Detail() string { return e.message }

// NewError creates a relay error with the given wire code.
func NewError(code int, msg string) error {
	return &RelayError{code: code, message: msg}
}

// NewErrorf creates a relay error with a formatted message.
func NewErrorf(code int, format string, args ...any) error {
	return &RelayError{code: code, message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an existing error with a wire code.
func WrapError(code int, err error, msg string) error {
	return &RelayError{code: code, message: msg, wrapped: err}
}

// NewMissingParam reports a required request field that was absent.
func NewMissingParam(field string) error {
	return NewErrorf(CodeMissingParam, "missing required field %s", field)
}

// NewWrongParam reports a request field with an unusable value.
func NewWrongParam(field string) error {
	return NewErrorf(CodeWrongParam, "invalid value for field %s", field)
}
