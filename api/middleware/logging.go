package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
	"github.com/angelmondragon/loaderescrow-backend/pkg/metrics"
)

// escrowParams are the chi URL parameters copied onto the request log so a
// settlement can be traced from its HTTP calls.
var escrowParams = map[string]string{
	"orderId":      "order_id",
	"adId":         "ad_id",
	"withdrawalId": "withdrawal_id",
	"depositId":    "deposit_id",
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) written() bool { return r.status != 0 }

// Logging writes one start and one completion line per request and feeds
// the route-level request metrics. Server errors complete at warn level.
func Logging(logg *logger.Logger, m *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"method": r.Method,
					"path":   r.URL.Path,
				})
				logg.Debug(ctx, "request.start")
			}

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			elapsed := time.Since(start)
			route := routePattern(r)
			m.Observe(route, r.Method, rec.status, elapsed)

			if logg == nil {
				return
			}
			fields := map[string]any{
				"route":       route,
				"status":      rec.status,
				"bytes":       rec.bytes,
				"duration_ms": elapsed.Milliseconds(),
			}
			if r.Header.Get(idempotencyHeader) != "" {
				fields["idempotent"] = true
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				for param, field := range escrowParams {
					if v := rctx.URLParam(param); v != "" {
						fields[field] = v
					}
				}
			}
			ctx = logg.WithFields(ctx, fields)
			if rec.status >= http.StatusInternalServerError {
				logg.Warn(ctx, "request.complete")
				return
			}
			logg.Info(ctx, "request.complete")
		})
	}
}

// routePattern is empty for requests chi could not route.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}
