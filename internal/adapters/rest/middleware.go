package rest

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"airc-chat/go-backend/internal/platform/ratelimiter"
	"airc-chat/go-backend/pkg/models"
)

const correlationHeader = "X-Correlation-ID"

// correlationMiddleware echoes the caller's correlation ID or mints one.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" {
			id = r.Header.Get("X-Request-ID")
		}
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r)
	})
}

func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panicked",
						"method", r.Method, "path", r.URL.Path, "panic", rec)
					writeJSON(w, models.ErrorResponse{
						Error:  "internal server error",
						Reason: reasonInternal,
						Code:   http.StatusInternalServerError,
					}, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds())
		})
	}
}

// originLimitMiddleware throttles per remote address before any request
// body is read.
func originLimitMiddleware(limiter *ratelimiter.MapLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(requestOrigin(r), time.Now()) {
				w.Header().Set("Retry-After", "1")
				writeJSON(w, models.ErrorResponse{
					Error:      "too many requests",
					Reason:     reasonRateLimited,
					Code:       http.StatusTooManyRequests,
					RetryAfter: 1,
				}, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestOrigin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
