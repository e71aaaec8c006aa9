package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/loaderescrow-backend/pkg/errors"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
	"github.com/angelmondragon/loaderescrow-backend/pkg/metrics"
	"github.com/angelmondragon/loaderescrow-backend/pkg/types"
)

func TestRequestIDKeepsSafeCallerIDs(t *testing.T) {
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	cases := map[string]bool{
		"settle-7f3a:retry.2":                     true,
		"":                                        false,
		"order 1; drop":                           false,
		"\"},{\"level\":\"info\"":                 false,
		strings.Repeat("a", maxRequestIDLen+1):    false,
		strings.Repeat("b", maxRequestIDLen):      true,
	}
	for incoming, kept := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, incoming)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)

		got := resp.Header().Get(requestIDHeader)
		if kept {
			assert.Equal(t, incoming, got)
			continue
		}
		_, err := uuid.Parse(got)
		assert.NoError(t, err, "expected minted id for %q", incoming)
	}
}

func TestRecovererAnswersInternalError(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})
	handler := Recoverer(logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("ledger entry without wallet")
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/loaders/orders/x/complete", nil))

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	var body types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, string(pkgerrors.CodeInternal), body.Error.Code)
	assert.NotContains(t, resp.Body.String(), "ledger entry without wallet")
	assert.Contains(t, buf.String(), "panic.recovered")
	assert.Contains(t, buf.String(), "ledger entry without wallet")
}

func TestRecovererLeavesStartedResponseAlone(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"data":{}}`))
		panic("late failure")
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, `{"data":{}}`, resp.Body.String())
}

func TestRecovererRepanicsOnAbort(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithError(t, http.ErrAbortHandler.Error(), func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLoggingTagsEscrowIdentifiersAndRoute(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("debug"), Output: &buf})
	reg := prometheus.NewRegistry()

	r := chi.NewRouter()
	r.Use(Logging(logg, metrics.NewHTTPMetrics(reg)))
	r.Post("/orders/{orderId}/complete", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, "{}")
	})

	orderID := uuid.NewString()
	req := httptest.NewRequest(http.MethodPost, "/orders/"+orderID+"/complete", nil)
	req.Header.Set(idempotencyHeader, "complete-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var completion map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] == "request.complete" {
			completion = entry
		}
	}
	require.NotNil(t, completion, "missing completion line in %s", buf.String())
	assert.Equal(t, "/orders/{orderId}/complete", completion["route"])
	assert.Equal(t, orderID, completion["order_id"])
	assert.Equal(t, float64(http.StatusUnprocessableEntity), completion["status"])
	assert.Equal(t, float64(2), completion["bytes"])
	assert.Equal(t, true, completion["idempotent"])

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var counted bool
	for _, mf := range mfs {
		if mf.GetName() != "escrow_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "route" {
					assert.Equal(t, "/orders/{orderId}/complete", l.GetValue())
					counted = true
				}
			}
		}
	}
	assert.True(t, counted)
}
