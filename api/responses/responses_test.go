package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/loaderescrow-backend/pkg/errors"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
	"github.com/angelmondragon/loaderescrow-backend/pkg/types"
)

func captureLogger() (*logger.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return logger.New(logger.Options{ServiceName: "responses-test", Output: &buf}), &buf
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.APIError {
	t.Helper()
	var body types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestWriteSuccessIsNeverCached(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "pending", "withdrawal_id": "w-1"})

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "pending", body.Data["status"])
}

func TestWriteErrorSurfacesInsufficientBalanceDetails(t *testing.T) {
	logg, buf := captureLogger()
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeInsufficient, "insufficient balance for upfront payment").
		WithDetails(map[string]any{"step": "upfront_payment", "order_id": "o-1", "required": "250"})

	WriteError(context.Background(), logg, w, err)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, string(pkgerrors.CodeInsufficient), apiErr.Code)
	assert.Equal(t, "insufficient balance for upfront payment", apiErr.Message)
	assert.Equal(t, map[string]any{"step": "upfront_payment", "order_id": "o-1", "required": "250"}, apiErr.Details)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "request.rejected", entry["message"])
	assert.Equal(t, "o-1", entry["order_id"])
	assert.Equal(t, "upfront_payment", entry["step"])
}

func TestWriteErrorKeepsControlReason(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.Wrap(pkgerrors.CodeControl, errors.New("locked"), "master wallet is locked"))

	require.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, "master wallet is locked", decodeError(t, w).Message)
}

func TestWriteErrorHidesDependencyCause(t *testing.T) {
	logg, buf := captureLogger()
	w := httptest.NewRecorder()
	cause := fmt.Errorf("eth_sendRawTransaction: %w", errors.New("dial tcp 10.0.4.7:8545: connection refused"))

	WriteError(context.Background(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "broadcast withdrawal"))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, "dependency unavailable", apiErr.Message)
	assert.NotContains(t, w.Body.String(), "10.0.4.7")

	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), "request.error")
	assert.Contains(t, buf.String(), "connection refused")
}

func TestWriteErrorTreatsUntypedErrorsAsInternal(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, errors.New("ledger row missing wallet"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, string(pkgerrors.CodeInternal), apiErr.Code)
	assert.Equal(t, "internal server error", apiErr.Message)
	assert.Nil(t, apiErr.Details)
	assert.False(t, strings.Contains(w.Body.String(), "ledger row"))
}

func TestWriteErrorHandlesNil(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
