// Package errors maps domain failures to HTTP responses and CLI exit codes.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/cache"
	"github.com/3leaps/jobwatch/pkg/history"
	"github.com/3leaps/jobwatch/pkg/match"
	"github.com/3leaps/jobwatch/pkg/reconcile"
)

// Error codes carried in HTTP error envelopes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeExternalService    = "EXTERNAL_SERVICE_UNAVAILABLE"
	CodePersistFailed      = "PERSIST_FAILED"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError is an error with a stable code and HTTP status.
type AppError struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns e with details attached.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

func NewNotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, Status: http.StatusNotFound}
}

func NewInvalidArgument(message string, err error) *AppError {
	return &AppError{Code: CodeInvalidArgument, Message: message, Status: http.StatusBadRequest, Err: err}
}

func NewExternalServiceError(message string) *AppError {
	return &AppError{Code: CodeExternalService, Message: message, Status: http.StatusBadGateway}
}

func NewServiceUnavailable(message string) *AppError {
	return &AppError{Code: CodeServiceUnavailable, Message: message, Status: http.StatusServiceUnavailable}
}

// WrapInternal wraps err as an internal error. A cancelled context is
// reported as such rather than as a server fault.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	if ctx != nil && ctx.Err() != nil {
		return &AppError{Code: CodeServiceUnavailable, Message: message, Status: http.StatusServiceUnavailable, Err: ctx.Err()}
	}
	return &AppError{Code: CodeInternal, Message: message, Status: http.StatusInternalServerError, Err: err}
}

// FromError classifies err. Already classified errors pass through.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	switch {
	case stderrors.Is(err, amlt.ErrNotFound), stderrors.Is(err, history.ErrRunNotFound):
		return &AppError{Code: CodeNotFound, Message: "not found", Status: http.StatusNotFound, Err: err}
	case stderrors.Is(err, amlt.ErrFetch):
		return &AppError{Code: CodeExternalService, Message: "amlt unavailable", Status: http.StatusBadGateway, Err: err}
	case stderrors.Is(err, cache.ErrPersist):
		return &AppError{Code: CodePersistFailed, Message: "cache write failed", Status: http.StatusInternalServerError, Err: err}
	case stderrors.Is(err, reconcile.ErrBusy):
		return &AppError{Code: CodeConflict, Message: "reconciliation in progress", Status: http.StatusConflict, Err: err}
	case stderrors.Is(err, match.ErrInvalidPattern), stderrors.Is(err, match.ErrInvalidAge),
		stderrors.Is(err, match.ErrInvalidRegex), stderrors.Is(err, match.ErrInvalidStatus),
		stderrors.Is(err, match.ErrNoIncludes):
		return &AppError{Code: CodeInvalidArgument, Message: "invalid filter", Status: http.StatusBadRequest, Err: err}
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: CodeServiceUnavailable, Message: "request cancelled", Status: http.StatusServiceUnavailable, Err: err}
	}
	return &AppError{Code: CodeInternal, Message: "internal error", Status: http.StatusInternalServerError, Err: err}
}

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch FromError(err).Code {
	case CodeInvalidArgument:
		return int(foundry.ExitInvalidArgument)
	case CodeExternalService, CodeServiceUnavailable, CodeConflict:
		return int(foundry.ExitExternalServiceUnavailable)
	case CodePersistFailed:
		return int(foundry.ExitFileWriteError)
	case CodeNotFound:
		return int(foundry.ExitFileNotFound)
	}
	return 1
}

// HTTPErrorResponse is the JSON body of every error response.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError is the error object inside HTTPErrorResponse.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// WriteHTTPError writes an error envelope with status.
func WriteHTTPError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	body := HTTPErrorResponse{Error: HTTPError{
		Code:    code,
		Message: message,
		Details: details,
	}}
	if r != nil {
		body.Error.RequestID = RequestIDFromContext(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// RespondWithError classifies err and writes it.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := FromError(err)
	msg := appErr.Message
	if appErr.Err != nil {
		msg = fmt.Sprintf("%s: %v", appErr.Message, appErr.Err)
	}
	WriteHTTPError(w, r, appErr.Status, appErr.Code, msg, appErr.Details)
}

type requestIDKey struct{}

// WithRequestID stores a request ID in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
