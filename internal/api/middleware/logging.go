package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/taskorch/engine/internal/logger"
	"github.com/taskorch/engine/internal/metrics"
)

// RequestLogger returns a middleware that logs one structured line per
// request through zerolog and records it into the orch_http_* metrics,
// the same per-request shape chi's own middleware.Logger produces, wired
// to this engine's logger/metrics packages instead of the standard
// library logger chi defaults to.
func RequestLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("elapsed", elapsed).
				Str("request_id", chimw.GetReqID(r.Context())).
				Msg("http request")

			metrics.RecordHTTPRequest(r.Method, r.URL.Path, statusClass(status), elapsed.Seconds())
		})
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
