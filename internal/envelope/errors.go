package envelope

import "fmt"

// Error represents a structured error from the envelope package
type Error interface {
	error
	Code() ErrorCode
	Unwrap() error
}

type ErrorCode string

const (
	// ErrCodeFormat covers structural problems: a missing subject id, both
	// transid and musapid set, a mobile-originated message without an IV,
	// or payload/iv content that is not valid base64.
	ErrCodeFormat ErrorCode = "format"

	// ErrCodeCrypto covers failures inside the cipher or MAC primitives:
	// a missing key, bad padding, or a ciphertext that is not a whole
	// number of blocks.
	ErrCodeCrypto ErrorCode = "crypto"
)

// EnvelopeError represents a structured error from the envelope package
type EnvelopeError struct {
	code    ErrorCode
	message string
	wrapped error
}

func (e *EnvelopeError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *EnvelopeError) Code() ErrorCode { return e.code }
func (e *EnvelopeError) Unwrap() error   { return e.wrapped }

// NewFormatError creates an error for structurally invalid messages.
//
// The returned error will have code ErrCodeFormat.
func NewFormatError(msg string) error {
	return &EnvelopeError{code: ErrCodeFormat, message: msg}
}

// WrapFormatError wraps an existing error as a format error.
//
// The returned error will have code ErrCodeFormat.
func WrapFormatError(err error, msg string) error {
	return &EnvelopeError{code: ErrCodeFormat, message: msg, wrapped: err}
}

// NewCryptoError creates an error for cipher or MAC failures.
//
// The returned error will have code ErrCodeCrypto.
func NewCryptoError(msg string) error {
	return &EnvelopeError{code: ErrCodeCrypto, message: msg}
}

// WrapCryptoError wraps an existing error as a crypto error.
//
// The returned error will have code ErrCodeCrypto.
func WrapCryptoError(err error, msg string) error {
	return &EnvelopeError{code: ErrCodeCrypto, message: msg, wrapped: err}
}
