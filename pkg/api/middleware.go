package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/gate/pkg/observability"
	"github.com/Mindburn-Labs/gate/pkg/ratelimit"
)

// RequestIDHeader carries the per-request trace id.
const RequestIDHeader = "X-Request-ID"

// UnknownClient is the rate limit key when no forwarding header is present.
const UnknownClient = "unknown"

// RequestID echoes a caller-supplied X-Request-ID or assigns a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// ClientIP is the first X-Forwarded-For entry, or UnknownClient.
func ClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return UnknownClient
	}
	first, _, _ := strings.Cut(xff, ",")
	first = strings.TrimSpace(first)
	if first == "" {
		return UnknownClient
	}
	return first
}

// RateLimit enforces limiter per client IP. A limiter error rejects the
// request.
func RateLimit(limiter ratelimit.Limiter, policy ratelimit.Policy) func(http.Handler) http.Handler {
	logger := slog.Default().With("component", "api")
	retryAfter := strconv.Itoa(int(policy.RetryAfter().Seconds()))
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			ok, err := limiter.Allow(r.Context(), ip)
			if err != nil {
				logger.ErrorContext(r.Context(), "rate limiter unavailable", "client_ip", ip, "error", err)
			}
			if !ok || err != nil {
				w.Header().Set("Retry-After", retryAfter)
				WriteGateError(w, http.StatusTooManyRequests, CodeRateLimited,
					"Too many requests. Please wait before generating another receipt.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the status code for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Instrument wraps next in a span and RED metrics named op. 5xx responses
// count as errors.
func Instrument(obs *observability.Provider, op string, next http.Handler) http.Handler {
	if obs == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, done := obs.TrackOperation(r.Context(), op)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		var err error
		if rec.status >= http.StatusInternalServerError {
			err = httpError(rec.status)
		}
		done(err)
	})
}

type httpError int

func (e httpError) Error() string { return "http " + strconv.Itoa(int(e)) }
