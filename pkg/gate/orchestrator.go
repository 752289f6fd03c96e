// Package gate drives one transaction request from evaluation to a sealed
// evidence pack, pausing for a human reviewer when the policy escalates.
//
//	IDLE -> EVALUATING -> SEALING -> SEALED | SEAL_FAILED
//	              \-> NEEDS_APPROVAL -> SEALING
//
// The verdict is fixed once EVALUATING completes. A sealing or publishing
// failure never changes it; the run ends in SEAL_FAILED with the evaluation
// preserved and can be retried with Reseal.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/gate/pkg/artifacts"
	"github.com/Mindburn-Labs/gate/pkg/canonicalize"
	"github.com/Mindburn-Labs/gate/pkg/contracts"
	"github.com/Mindburn-Labs/gate/pkg/escalation"
	"github.com/Mindburn-Labs/gate/pkg/evidence"
	"github.com/Mindburn-Labs/gate/pkg/observability"
	"github.com/Mindburn-Labs/gate/pkg/pdp"
	"github.com/Mindburn-Labs/gate/pkg/store"
)

// DefaultPublishTimeout bounds the remote publish call.
const DefaultPublishTimeout = 5 * time.Second

// DefaultMaxPending caps the runs parked in NEEDS_APPROVAL.
const DefaultMaxPending = 10000

var (
	// ErrEvidenceUnavailable wraps every sealing, publishing and ledger failure.
	ErrEvidenceUnavailable = errors.New("gate: evidence unavailable")
	// ErrPublishTimeout is returned alongside ErrEvidenceUnavailable when the
	// publish call exceeds its deadline.
	ErrPublishTimeout     = errors.New("gate: evidence publish timed out")
	ErrEvaluationMismatch = errors.New("gate: supplied evaluation does not match policy")
	ErrRunNotFound        = errors.New("gate: no run awaiting this decision")
	ErrNotSealFailed      = errors.New("gate: only SEAL_FAILED runs can be resealed")
	// ErrPendingLimit is returned alongside ErrEvidenceUnavailable when an
	// escalated run cannot be parked because the registry is full.
	ErrPendingLimit = errors.New("gate: too many runs awaiting approval")
)

// Orchestrator sequences evaluation, approval and sealing. It is safe for
// concurrent use.
type Orchestrator struct {
	evaluator      *pdp.Evaluator
	sealer         *evidence.Sealer
	approvals      *escalation.Manager
	publisher      artifacts.Store
	ledger         store.PackLedger
	obs            *observability.Provider
	publishTimeout time.Duration
	maxPending     int
	logger         *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingRun
}

// pendingRun is a run parked in NEEDS_APPROVAL. once guarantees a single seal
// no matter how many callers resume it.
type pendingRun struct {
	run    *Run
	once   sync.Once
	result *Run
	err    error
}

// NewOrchestrator wires an evaluator and an approval manager. A nil manager
// selects an in-memory one.
func NewOrchestrator(evaluator *pdp.Evaluator, approvals *escalation.Manager) *Orchestrator {
	if approvals == nil {
		approvals = escalation.NewManager(nil)
	}
	return &Orchestrator{
		evaluator:      evaluator,
		sealer:         evidence.NewSealer(),
		approvals:      approvals,
		publishTimeout: DefaultPublishTimeout,
		maxPending:     DefaultMaxPending,
		logger:         slog.Default().With("component", "gate"),
		pending:        make(map[string]*pendingRun),
	}
}

// WithSealer overrides the sealer.
func (o *Orchestrator) WithSealer(s *evidence.Sealer) *Orchestrator {
	o.sealer = s
	return o
}

// WithPublisher publishes every sealed pack to s.
func (o *Orchestrator) WithPublisher(s artifacts.Store) *Orchestrator {
	o.publisher = s
	return o
}

// WithLedger records every sealed pack in l.
func (o *Orchestrator) WithLedger(l store.PackLedger) *Orchestrator {
	o.ledger = l
	return o
}

// WithObservability enables spans and metrics.
func (o *Orchestrator) WithObservability(p *observability.Provider) *Orchestrator {
	o.obs = p
	return o
}

// WithPublishTimeout overrides DefaultPublishTimeout.
func (o *Orchestrator) WithPublishTimeout(d time.Duration) *Orchestrator {
	if d > 0 {
		o.publishTimeout = d
	}
	return o
}

// WithMaxPending overrides DefaultMaxPending.
func (o *Orchestrator) WithMaxPending(n int) *Orchestrator {
	if n > 0 {
		o.maxPending = n
	}
	return o
}

// PendingCount reports how many runs are parked in NEEDS_APPROVAL.
func (o *Orchestrator) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Evaluator returns the policy evaluator.
func (o *Orchestrator) Evaluator() *pdp.Evaluator { return o.evaluator }

// Approvals returns the approval manager.
func (o *Orchestrator) Approvals() *escalation.Manager { return o.approvals }

// Evaluate runs the policy cascade without opening a run.
func (o *Orchestrator) Evaluate(ctx context.Context, req *contracts.Request) *contracts.Evaluation {
	ctx, done := o.obs.TrackOperation(ctx, "gate.evaluate")
	eval := o.evaluator.Evaluate(req)
	observability.SetSpanAttributes(ctx, append(
		observability.DecisionAttrs(string(eval.Verdict), eval.TriggeredRule.ID, string(eval.RiskLevel)),
		observability.AttrRequestID.String(eval.RequestID),
	)...)
	o.obs.RecordDecision(ctx, string(eval.Verdict), eval.TriggeredRule.ID)
	done(nil)
	return eval
}

// Open evaluates req. Non-escalated runs are sealed before returning.
// Escalated runs return in NEEDS_APPROVAL with a PENDING approval record and
// are finished by Resume or Decide.
//
// A run that reaches SEAL_FAILED is returned together with an error wrapping
// ErrEvidenceUnavailable.
func (o *Orchestrator) Open(ctx context.Context, req *contracts.Request) (*Run, error) {
	run := &Run{State: StateEvaluating, Request: req.Clone()}
	run.Evaluation = o.Evaluate(ctx, req)
	return o.advance(ctx, run)
}

// OpenEvaluated is Open for a caller that already holds an evaluation. The
// request is re-evaluated and the supplied evaluation is accepted only if it
// carries the same decision.
func (o *Orchestrator) OpenEvaluated(ctx context.Context, req *contracts.Request, supplied *contracts.Evaluation) (*Run, error) {
	eval := o.Evaluate(ctx, req)
	if supplied == nil || !eval.SameDecision(supplied) || supplied.RequestID != eval.RequestID {
		o.logger.WarnContext(ctx, "supplied evaluation rejected",
			"request_id", eval.RequestID,
			"computed_rule", eval.TriggeredRule.ID,
			"computed_verdict", string(eval.Verdict),
		)
		return &Run{State: StateIdle, Request: req.Clone(), Evaluation: eval}, ErrEvaluationMismatch
	}
	run := &Run{State: StateEvaluating, Request: req.Clone(), Evaluation: supplied.Clone()}
	return o.advance(ctx, run)
}

// Process runs req to completion, blocking in NEEDS_APPROVAL until a reviewer
// decides, the record expires, or ctx is done.
func (o *Orchestrator) Process(ctx context.Context, req *contracts.Request) (*Run, error) {
	run, err := o.Open(ctx, req)
	if err != nil || run.State != StateNeedsApproval {
		return run, err
	}
	return o.Resume(ctx, run.Approval.DecisionID)
}

func (o *Orchestrator) advance(ctx context.Context, run *Run) (_ *Run, err error) {
	if !run.Evaluation.Escalated() {
		return o.seal(ctx, run)
	}

	ctx, done := o.obs.TrackOperation(ctx, "gate.escalate",
		observability.AttrRequestID.String(run.requestID()),
	)
	defer func() { done(err) }()

	if o.PendingCount() >= o.maxPending {
		return o.escalationFailed(ctx, run, ErrPendingLimit)
	}
	rec, err := o.approvals.Create(ctx, run.Evaluation)
	if err != nil {
		// Without an approval record the request cannot proceed.
		return o.escalationFailed(ctx, run, err)
	}
	run.Approval = rec
	run.State = StateNeedsApproval

	o.mu.Lock()
	o.pending[rec.DecisionID] = &pendingRun{run: run.clone()}
	o.mu.Unlock()

	observability.SetSpanAttributes(ctx, observability.AttrDecisionID.String(rec.DecisionID))
	observability.AddSpanEvent(ctx, "state", observability.AttrState.String(string(StateNeedsApproval)))
	o.logger.InfoContext(ctx, "run awaiting approval",
		"request_id", run.requestID(),
		"decision_id", rec.DecisionID,
		"expires_at", rec.ExpiresAt,
	)
	return run, nil
}

func (o *Orchestrator) escalationFailed(ctx context.Context, run *Run, cause error) (*Run, error) {
	run.State = StateSealFailed
	run.Err = fmt.Errorf("%w: %w", ErrEvidenceUnavailable, cause)
	observability.AddSpanEvent(ctx, "state", observability.AttrState.String(string(StateSealFailed)))
	o.logger.ErrorContext(ctx, "escalation failed",
		"request_id", run.requestID(),
		"error", cause,
	)
	return run, run.Err
}

// Pending returns a copy of the run awaiting decisionID.
func (o *Orchestrator) Pending(decisionID string) (*Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pending[decisionID]
	if !ok {
		return nil, false
	}
	return p.run.clone(), true
}

// Provisional seals a snapshot of a NEEDS_APPROVAL run with its approval as it
// stands now, normally PENDING. The run stays open for a decision.
func (o *Orchestrator) Provisional(ctx context.Context, decisionID string) (*Run, error) {
	snap, ok := o.Pending(decisionID)
	if !ok {
		return nil, ErrRunNotFound
	}
	rec, err := o.approvals.Get(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	snap.Approval = rec
	return o.seal(ctx, snap)
}

// Resume waits for decisionID to reach a terminal status and seals the run
// with that approval snapshot. Concurrent callers share one seal. If ctx ends
// first the run stays open and ctx.Err() is returned.
func (o *Orchestrator) Resume(ctx context.Context, decisionID string) (*Run, error) {
	o.mu.Lock()
	p, ok := o.pending[decisionID]
	o.mu.Unlock()
	if !ok {
		return nil, ErrRunNotFound
	}

	rec, err := o.approvals.Wait(ctx, decisionID)
	if err != nil {
		run := p.run.clone()
		if rec != nil {
			run.Approval = rec
		}
		return run, err
	}

	p.once.Do(func() {
		run := p.run.clone()
		run.Approval = rec
		p.result, p.err = o.seal(ctx, run)

		o.mu.Lock()
		delete(o.pending, decisionID)
		o.mu.Unlock()
	})
	return p.result.clone(), p.err
}

// Decide records a reviewer decision and resumes the run. When the record had
// already expired the run is sealed with the EXPIRED snapshot and
// escalation.ErrExpired is returned alongside it.
func (o *Orchestrator) Decide(ctx context.Context, decisionID string, status contracts.ApprovalStatus, decidedBy, notes string) (*Run, error) {
	_, decideErr := o.approvals.Decide(ctx, decisionID, status, decidedBy, notes)
	if decideErr != nil && !errors.Is(decideErr, escalation.ErrExpired) {
		return nil, decideErr
	}
	run, err := o.Resume(ctx, decisionID)
	if decideErr != nil {
		return run, decideErr
	}
	return run, err
}

// Reseal retries sealing a SEAL_FAILED run. The evaluation is reused as is.
func (o *Orchestrator) Reseal(ctx context.Context, run *Run) (*Run, error) {
	if run == nil || run.State != StateSealFailed || run.Evaluation == nil {
		return run, ErrNotSealFailed
	}
	next := run.clone()
	next.Err = nil
	next.Pack = nil
	next.DownloadURL = ""
	return o.seal(ctx, next)
}

// CheckTimeouts expires overdue approvals and seals their runs.
func (o *Orchestrator) CheckTimeouts(ctx context.Context) ([]*Run, error) {
	expired, err := o.approvals.CheckTimeouts(ctx)
	if err != nil {
		return nil, err
	}
	var runs []*Run
	for _, rec := range expired {
		run, err := o.Resume(ctx, rec.DecisionID)
		if errors.Is(err, ErrRunNotFound) {
			continue
		}
		if run != nil {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

// seal hashes, publishes and records run. The verdict is never altered.
func (o *Orchestrator) seal(ctx context.Context, run *Run) (_ *Run, err error) {
	run.State = StateSealing
	ctx, done := o.obs.TrackOperation(ctx, "gate.seal",
		observability.AttrRequestID.String(run.requestID()),
		observability.AttrVerdict.String(string(run.Evaluation.Verdict)),
	)
	defer func() { done(err) }()
	if run.Approval != nil {
		observability.SetSpanAttributes(ctx, observability.AttrDecisionID.String(run.Approval.DecisionID))
	}

	pack, err := o.sealer.Seal(run.Request, run.Evaluation, run.Approval)
	if err != nil {
		return o.fail(ctx, run, err)
	}

	if o.publisher != nil {
		url, err := o.publish(ctx, pack)
		if err != nil {
			return o.fail(ctx, run, err)
		}
		run.DownloadURL = url
	}

	if o.ledger != nil {
		if err := o.ledger.Append(ctx, pack); err != nil {
			return o.fail(ctx, run, err)
		}
	}

	run.Pack = pack
	run.State = StateSealed
	observability.SetSpanAttributes(ctx, observability.AttrGateID.String(pack.GateID))
	observability.AddSpanEvent(ctx, "state", observability.AttrState.String(string(StateSealed)))
	o.logger.InfoContext(ctx, "evidence sealed",
		"request_id", run.requestID(),
		"gate_id", pack.GateID,
		"verdict", string(pack.Verdict()),
		"receipt_hash", pack.ReceiptHash,
	)
	return run, nil
}

func (o *Orchestrator) publish(ctx context.Context, pack *contracts.EvidencePack) (string, error) {
	body, err := canonicalize.JCS(pack)
	if err != nil {
		return "", err
	}
	pctx, cancel := context.WithTimeout(ctx, o.publishTimeout)
	defer cancel()

	hash, err := o.publisher.Store(pctx, body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(pctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s: %w", ErrPublishTimeout, o.publishTimeout, err)
		}
		return "", err
	}
	return o.publisher.Location(hash)
}

func (o *Orchestrator) fail(ctx context.Context, run *Run, cause error) (*Run, error) {
	run.State = StateSealFailed
	run.Pack = nil
	run.DownloadURL = ""
	run.Err = fmt.Errorf("%w: %w", ErrEvidenceUnavailable, cause)
	observability.AddSpanEvent(ctx, "state", observability.AttrState.String(string(StateSealFailed)))
	o.logger.ErrorContext(ctx, "sealing failed",
		"request_id", run.requestID(),
		"verdict", string(run.Evaluation.Verdict),
		"error", cause,
	)
	return run, run.Err
}
