package transport

import "fmt"

// Error represents a structured error from the transport package
type Error interface {
	error
	Code() ErrorCode
	Unwrap() error
}

type ErrorCode string

const (
	// ErrCodeUnknownAccount means the message's subject resolves to no
	// enrolled account.
	ErrCodeUnknownAccount ErrorCode = "unknown_account"

	// ErrCodeMissingKeys means the account enrolled without transport keys
	// but the operation requires them.
	ErrCodeMissingKeys ErrorCode = "missing_keys"

	// ErrCodeMACMismatch means the message MAC did not verify.
	ErrCodeMACMismatch ErrorCode = "mac_mismatch"

	// ErrCodeReplay means the message nonce was seen before or its
	// timestamp is older than the acceptance window.
	ErrCodeReplay ErrorCode = "replay"

	// ErrCodeEncryptionRequired means a plaintext message arrived while
	// the relay mandates transport encryption.
	ErrCodeEncryptionRequired ErrorCode = "encryption_required"
)

// TransportError represents a structured error from the transport package
type TransportError struct {
	code    ErrorCode
	message string
	wrapped error
}

func (e *TransportError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *TransportError) Code() ErrorCode { return e.code }
func (e *TransportError) Unwrap() error   { return e.wrapped }

// NewError creates a transport error with the given code.
func NewError(code ErrorCode, msg string) error {
	return &TransportError{code: code, message: msg}
}

// WrapError wraps an existing error with a transport error code.
func WrapError(code ErrorCode, err error, msg string) error {
	return &TransportError{code: code, message: msg, wrapped: err}
}
