package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/cache"
	"github.com/3leaps/jobwatch/pkg/history"
	"github.com/3leaps/jobwatch/pkg/match"
	"github.com/3leaps/jobwatch/pkg/reconcile"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     string
		status   int
		exitCode int
	}{
		{"not found", &amlt.FetchError{Op: "status", ID: "x", Err: amlt.ErrNotFound}, CodeNotFound, http.StatusNotFound, int(foundry.ExitFileNotFound)},
		{"run not found", history.ErrRunNotFound, CodeNotFound, http.StatusNotFound, int(foundry.ExitFileNotFound)},
		{"fetch", fmt.Errorf("list: %w", amlt.ErrFetch), CodeExternalService, http.StatusBadGateway, int(foundry.ExitExternalServiceUnavailable)},
		{"persist", fmt.Errorf("%w: disk full", cache.ErrPersist), CodePersistFailed, http.StatusInternalServerError, int(foundry.ExitFileWriteError)},
		{"busy", reconcile.ErrBusy, CodeConflict, http.StatusConflict, int(foundry.ExitExternalServiceUnavailable)},
		{"bad age", match.ErrInvalidAge, CodeInvalidArgument, http.StatusBadRequest, int(foundry.ExitInvalidArgument)},
		{"bad pattern", &match.PatternError{Pattern: "[", Err: match.ErrInvalidPattern}, CodeInvalidArgument, http.StatusBadRequest, int(foundry.ExitInvalidArgument)},
		{"cancelled", context.Canceled, CodeServiceUnavailable, http.StatusServiceUnavailable, int(foundry.ExitExternalServiceUnavailable)},
		{"other", stderrors.New("boom"), CodeInternal, http.StatusInternalServerError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := FromError(tt.err)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.status, appErr.Status)
			assert.ErrorIs(t, appErr, tt.err)
			assert.Equal(t, tt.exitCode, ExitCode(tt.err))
		})
	}
	assert.Equal(t, 0, ExitCode(nil))
}

func TestFromErrorPassesAppErrorThrough(t *testing.T) {
	orig := NewInvalidArgument("bad flag", stderrors.New("x"))
	wrapped := fmt.Errorf("cmd: %w", orig)
	assert.Same(t, orig, FromError(wrapped))
	assert.Equal(t, "bad flag: x", orig.Error())
	assert.Equal(t, "gone", NewNotFound("gone").Error())
}

func TestWrapInternal(t *testing.T) {
	err := WrapInternal(context.Background(), stderrors.New("boom"), "listing failed")
	assert.Equal(t, CodeInternal, err.Code)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = WrapInternal(ctx, stderrors.New("boom"), "listing failed")
	assert.Equal(t, CodeServiceUnavailable, err.Code)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRespondWithError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/experiments/x", nil)
	req = req.WithContext(WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, NewNotFound("experiment x not found").WithDetails(map[string]any{"id": "x"}))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeNotFound, body.Error.Code)
	assert.Equal(t, "experiment x not found", body.Error.Message)
	assert.Equal(t, "x", body.Error.Details["id"])
	assert.Equal(t, "req-1", body.Error.RequestID)
}

func TestRequestIDFromContextEmpty(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
}
