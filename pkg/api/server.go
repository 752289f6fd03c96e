package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/gate/pkg/auth"
	"github.com/Mindburn-Labs/gate/pkg/gate"
	"github.com/Mindburn-Labs/gate/pkg/observability"
	"github.com/Mindburn-Labs/gate/pkg/ratelimit"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// Server exposes an Orchestrator over HTTP.
type Server struct {
	orch     *gate.Orchestrator
	limiter  ratelimit.Limiter
	policy   ratelimit.Policy
	tokens   *auth.ReviewerTokens
	obs      *observability.Provider
	started  time.Time
	logger   *slog.Logger
	readyFns []func() error
}

// NewServer serves orch. The receipt endpoint is limited per client IP with
// an in-memory limiter at ratelimit.DefaultPolicy unless WithLimiter is used.
func NewServer(orch *gate.Orchestrator) *Server {
	return &Server{
		orch:    orch,
		limiter: ratelimit.NewMemory(ratelimit.DefaultPolicy),
		policy:  ratelimit.DefaultPolicy,
		started: time.Now(),
		logger:  slog.Default().With("component", "api"),
	}
}

// WithLimiter replaces the receipt rate limiter.
func (s *Server) WithLimiter(l ratelimit.Limiter, p ratelimit.Policy) *Server {
	s.limiter = l
	s.policy = p
	return s
}

// WithReviewerTokens enables reviewer decisions. Without it every decision is
// rejected with 401.
func (s *Server) WithReviewerTokens(t *auth.ReviewerTokens) *Server {
	s.tokens = t
	return s
}

// WithObservability instruments every route.
func (s *Server) WithObservability(p *observability.Provider) *Server {
	s.obs = p
	return s
}

// WithReadinessCheck adds a dependency probe reported by /health.
func (s *Server) WithReadinessCheck(fn func() error) *Server {
	s.readyFns = append(s.readyFns, fn)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, op string, h http.Handler) {
		mux.Handle(pattern, Instrument(s.obs, op, h))
	}

	route("POST /api/v1/gate/evaluate", "api.evaluate", http.HandlerFunc(s.handleEvaluate))
	route("POST /api/v1/gate/receipt", "api.receipt",
		RateLimit(s.limiter, s.policy)(http.HandlerFunc(s.handleReceipt)))
	route("POST /api/v1/gate/verify", "api.verify", http.HandlerFunc(s.handleVerify))
	route("GET /api/v1/gate/rules", "api.rules", http.HandlerFunc(s.handleRules))
	route("GET /api/v1/gate/scenarios", "api.scenarios", http.HandlerFunc(s.handleScenarios))
	route("GET /api/v1/gate/approvals/{id}", "api.approval", http.HandlerFunc(s.handleApproval))
	route("POST /api/v1/gate/approvals/{id}/decision", "api.decision",
		auth.RequireReviewer(s.tokens, WriteUnauthorized)(http.HandlerFunc(s.handleDecision)))
	mux.HandleFunc("GET /health", s.handleHealth)

	return RequestID(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	for _, fn := range s.readyFns {
		if err := fn(); err != nil {
			s.logger.WarnContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}
