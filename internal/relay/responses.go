package relay

// responses.go translates internal errors onto the wire error taxonomy and
// writes JSON responses.

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openmobilesign/linkrelay/internal/envelope"
	"github.com/openmobilesign/linkrelay/internal/logger"
	"github.com/openmobilesign/linkrelay/internal/storage"
	"github.com/openmobilesign/linkrelay/internal/transport"
)

// ErrorResponse is the wire error document shared by both APIs.
type ErrorResponse struct {
	ErrorCode    int    `json:"errorcode"`
	ErrorName    string `json:"errorname"`
	ErrorDetails string `json:"errordetails,omitempty"`
}

// MapErrorToResponse translates an internal error to its wire error document.
// Errors that do not carry a wire code map to internal_error with no details
// leaked to the client.
func MapErrorToResponse(err error) ErrorResponse {
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return ErrorResponse{
			ErrorCode:    relayErr.Code(),
			ErrorName:    relayErr.Name(),
			ErrorDetails: relayErr.Detail(),
		}
	}

	var transportErr *transport.TransportError
	if errors.As(err, &transportErr) {
		code := CodeInternalError
		switch transportErr.Code() {
		case transport.ErrCodeUnknownAccount:
			code = CodeUnknownUser
		case transport.ErrCodeMACMismatch,
			transport.ErrCodeReplay,
			transport.ErrCodeEncryptionRequired:
			code = CodeWrongParam
		}
		return ErrorResponse{
			ErrorCode:    code,
			ErrorName:    ErrorName(code),
			ErrorDetails: transportErr.Error(),
		}
	}

	var envErr *envelope.EnvelopeError
	if errors.As(err, &envErr) {
		code := CodeInternalError
		if envErr.Code() == envelope.ErrCodeFormat {
			code = CodeWrongParam
		}
		return ErrorResponse{
			ErrorCode:    code,
			ErrorName:    ErrorName(code),
			ErrorDetails: envErr.Error(),
		}
	}

	if errors.Is(err, storage.ErrNotFound) {
		return ErrorResponse{
			ErrorCode: CodeUnknownUser,
			ErrorName: ErrorName(CodeUnknownUser),
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorResponse{
			ErrorCode: CodeRequestTimeout,
			ErrorName: ErrorName(CodeRequestTimeout),
		}
	}

	return ErrorResponse{
		ErrorCode: CodeInternalError,
		ErrorName: ErrorName(CodeInternalError),
	}
}

// RespondWithJSON writes a JSON response with the given status code.
func RespondWithJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// RespondWithError writes the wire error document for err. Both APIs report
// protocol-level failures with HTTP 200 and an error body; the taxonomy, not
// the status line, carries the outcome.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	reqLogger := logger.ContextRequestLogger(r.Context())
	resp := MapErrorToResponse(err)

	if resp.ErrorCode == CodeInternalError || resp.ErrorCode == CodeConfigError {
		reqLogger.Error("request failed",
			slog.Int("errorcode", resp.ErrorCode),
			slog.String("error", err.Error()))
	} else {
		reqLogger.Warn("request rejected",
			slog.Int("errorcode", resp.ErrorCode),
			slog.String("errorname", resp.ErrorName),
			slog.String("error", err.Error()))
	}

	RespondWithJSON(w, http.StatusOK, resp)
}
