package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/openmobilesign/linkrelay/internal/envelope"
	"github.com/openmobilesign/linkrelay/internal/storage"
	"github.com/openmobilesign/linkrelay/internal/transport"
)

// sanity check the wire error taxonomy

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		wantName string
		code     int
	}{
		{"wrong_param", CodeWrongParam},
		{"missing_param", CodeMissingParam},
		{"unknown_key", CodeUnknownKey},
		{"unknown_user", CodeUnknownUser},
		{"timed_out", CodeTimedOut},
		{"user_cancel", CodeUserCancel},
		{"coupling_error", CodeCouplingError},
		{"internal_error", CodeInternalError},
		{"configuration_error", CodeConfigError},
		{"timed_out", CodeRequestTimeout},
	}
	for _, tt := range tests {
		if got := ErrorName(tt.code); got != tt.wantName {
			t.Errorf("ErrorName(%d) = %q, want %q", tt.code, got, tt.wantName)
		}
	}
}

func TestMapErrorToResponse(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{
			name:     "relay error passes through",
			err:      NewError(CodeCouplingError, "unknown coupling code"),
			wantCode: CodeCouplingError,
		},
		{
			name:     "wrapped relay error",
			err:      WrapError(CodeUnknownKey, errors.New("boom"), "no such key"),
			wantCode: CodeUnknownKey,
		},
		{
			name:     "unknown account maps to unknown_user",
			err:      transport.NewError(transport.ErrCodeUnknownAccount, "nope"),
			wantCode: CodeUnknownUser,
		},
		{
			name:     "mac mismatch maps to wrong_param",
			err:      transport.NewError(transport.ErrCodeMACMismatch, "bad mac"),
			wantCode: CodeWrongParam,
		},
		{
			name:     "replay maps to wrong_param",
			err:      transport.NewError(transport.ErrCodeReplay, "seen nonce"),
			wantCode: CodeWrongParam,
		},
		{
			name:     "envelope format error maps to wrong_param",
			err:      envelope.NewFormatError("bad envelope"),
			wantCode: CodeWrongParam,
		},
		{
			name:     "envelope crypto error maps to internal_error",
			err:      envelope.NewCryptoError("bad padding"),
			wantCode: CodeInternalError,
		},
		{
			name:     "storage not found maps to unknown_user",
			err:      storage.ErrNotFound,
			wantCode: CodeUnknownUser,
		},
		{
			name:     "deadline maps to timed_out",
			err:      context.DeadlineExceeded,
			wantCode: CodeRequestTimeout,
		},
		{
			name:     "unknown error maps to internal_error",
			err:      errors.New("database on fire"),
			wantCode: CodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := MapErrorToResponse(tt.err)
			if resp.ErrorCode != tt.wantCode {
				t.Errorf("errorcode = %d, want %d", resp.ErrorCode, tt.wantCode)
			}
			if resp.ErrorName != ErrorName(tt.wantCode) {
				t.Errorf("errorname = %q, want %q", resp.ErrorName, ErrorName(tt.wantCode))
			}
		})
	}
}

func TestInternalErrorLeaksNoDetails(t *testing.T) {
	resp := MapErrorToResponse(errors.New("pgx: connection refused at 10.0.0.5"))
	if resp.ErrorDetails != "" {
		t.Errorf("internal error leaked details: %q", resp.ErrorDetails)
	}
}
