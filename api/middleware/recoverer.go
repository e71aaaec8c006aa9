package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/angelmondragon/loaderescrow-backend/api/responses"
	pkgerrors "github.com/angelmondragon/loaderescrow-backend/pkg/errors"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
)

// Recoverer turns a handler panic into an internal error response. Ledger
// writes run in transactions and roll back with the panic; the log line
// names the route to locate the order or withdrawal it touched.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}
				err := fmt.Errorf("panic: %v", v)
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithFields(ctx, map[string]any{
						"panic":         fmt.Sprint(v),
						"method":        r.Method,
						"route":         routePattern(r),
						"response_sent": rec.written(),
						"idempotent":    r.Header.Get(idempotencyHeader) != "",
					})
					logg.Error(ctx, "panic.recovered", err)
				}
				if rec.written() {
					return
				}
				responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "request aborted"))
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
