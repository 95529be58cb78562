package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/example/availability-engine/internal/logging"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// RequestLogger tags each request with an ID, taken from X-Request-ID when
// the caller sent one, and logs its completion.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	base = defaultLogger(base)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx := logging.ContextWithRequestID(logging.ContextWithLogger(r.Context(), logger), id)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed", "status", rec.status, "duration", time.Since(start))
		})
	}
}

// Recoverer turns a handler panic into a 500 response.
func Recoverer(base *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(base)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					responder.loggerFor(r.Context()).ErrorContext(r.Context(), "handler panicked", "panic", v)
					responder.writeJSON(r.Context(), w, http.StatusInternalServerError, errorResponse{Message: http.StatusText(http.StatusInternalServerError)})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
