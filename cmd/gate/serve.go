package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/gate/pkg/api"
	"github.com/Mindburn-Labs/gate/pkg/artifacts"
	"github.com/Mindburn-Labs/gate/pkg/auth"
	"github.com/Mindburn-Labs/gate/pkg/config"
	"github.com/Mindburn-Labs/gate/pkg/escalation"
	"github.com/Mindburn-Labs/gate/pkg/gate"
	"github.com/Mindburn-Labs/gate/pkg/observability"
	"github.com/Mindburn-Labs/gate/pkg/ratelimit"
)

// timeoutSweepInterval is how often overdue approvals are expired and sealed.
const timeoutSweepInterval = time.Minute

func runServer(stdout, stderr io.Writer) int {
	_, _ = fmt.Fprintf(stdout, "%sGate starting...%s\n", ColorBold+ColorBlue, ColorReset)

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	slog.SetLogLoggerLevel(cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		log.Printf("[gate] fatal: %v", err)
		return 1
	}
	return 0
}

//nolint:gocyclo
func serve(ctx context.Context, cfg *config.Config) error {
	obs, err := observability.New(ctx, cfg.Observability())
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(sctx)
	}()

	st, err := setupStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ev, err := loadEvaluator(cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	log.Printf("[gate] policy: version %s hash %s", ev.Policy().Version, ev.PolicyHash())

	publisher, err := artifacts.New(ctx, cfg.Evidence())
	if err != nil {
		return fmt.Errorf("evidence store: %w", err)
	}
	log.Printf("[gate] evidence store: %s", cfg.EvidenceBackend)

	approvals := escalation.NewManager(st.approvals).WithTTL(cfg.ApprovalTTL)
	orch := gate.NewOrchestrator(ev, approvals).
		WithPublisher(publisher).
		WithLedger(st.ledger).
		WithObservability(obs).
		WithPublishTimeout(cfg.SealTimeout).
		WithMaxPending(cfg.MaxPending)

	srv := api.NewServer(orch).WithObservability(obs)
	srv.WithReadinessCheck(func() error {
		pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return st.db.PingContext(pctx)
	})

	policy := cfg.RateLimitPolicy()
	if cfg.RedisAddr != "" {
		rl := ratelimit.NewRedisFromAddr(cfg.RedisAddr, cfg.RedisPassword, 0, policy)
		defer func() { _ = rl.Close() }()
		if err := rl.Ping(ctx); err != nil {
			log.Printf("[gate] redis unreachable at %s, receipts will be refused until it recovers: %v", cfg.RedisAddr, err)
		} else {
			log.Printf("[gate] rate limit: redis at %s", cfg.RedisAddr)
		}
		srv.WithLimiter(rl, policy).WithReadinessCheck(func() error {
			pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rl.Ping(pctx)
		})
	} else {
		srv.WithLimiter(ratelimit.NewMemory(policy), policy)
	}
	log.Printf("[gate] rate limit: %d receipts/min per client", policy.Limit)

	if cfg.ApproverSecret != "" {
		tokens, err := auth.NewReviewerTokens(cfg.ApproverSecret)
		if err != nil {
			return fmt.Errorf("reviewer tokens: %w", err)
		}
		srv.WithReviewerTokens(tokens)
	} else {
		log.Println("[gate] GATE_APPROVER_SECRET not set: reviewer decisions disabled")
	}

	go sweepTimeouts(ctx, orch)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	log.Printf("[gate] ready: http://localhost:%s", cfg.Port)
	log.Println("[gate] press ctrl+c to stop")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("[gate] shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(sctx)
}

// sweepTimeouts expires overdue approvals so their runs are sealed EXPIRED
// even when nobody is waiting on them.
func sweepTimeouts(ctx context.Context, orch *gate.Orchestrator) {
	ticker := time.NewTicker(timeoutSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runs, err := orch.CheckTimeouts(ctx)
			if err != nil {
				slog.Warn("approval timeout sweep failed", "error", err)
				continue
			}
			for _, run := range runs {
				slog.Info("approval expired", "decision_id", run.Approval.DecisionID, "state", string(run.State))
			}
		}
	}
}
