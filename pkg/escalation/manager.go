// Package escalation runs the human approval workflow for evaluations that
// require a reviewer.
//
// A record starts PENDING and leaves it exactly once. APPROVED and REJECTED are
// set only by Decide, which requires a named reviewer. The only transition the
// system makes on its own is PENDING to EXPIRED once expires_at has passed.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/gate/pkg/contracts"
	"github.com/Mindburn-Labs/gate/pkg/store"
)

var (
	ErrNotEscalated    = errors.New("escalation: evaluation does not require human approval")
	ErrAlreadyDecided  = errors.New("escalation: approval already decided")
	ErrExpired         = errors.New("escalation: approval expired")
	ErrInvalidDecision = errors.New("escalation: decision must be APPROVED or REJECTED")
	ErrMissingActor    = errors.New("escalation: decided_by is required")
)

// Default notes recorded when a reviewer supplies none.
const (
	DefaultApprovedNotes = "Reviewed and approved — valid business need confirmed"
	DefaultRejectedNotes = "Rejected — alternative procurement path required"
)

// DefaultPollInterval bounds how stale Wait can be when another process
// decides a record in a shared store.
const DefaultPollInterval = time.Second

// Manager handles the lifecycle of approval records.
type Manager struct {
	store  store.ApprovalStore
	ttl    time.Duration
	poll   time.Duration
	clock  func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// NewManager creates a manager over s. A nil store selects an in-memory one.
func NewManager(s store.ApprovalStore) *Manager {
	if s == nil {
		s = store.NewMemoryApprovalStore()
	}
	return &Manager{
		store:   s,
		ttl:     contracts.DefaultApprovalTTL,
		poll:    DefaultPollInterval,
		clock:   time.Now,
		logger:  slog.Default().With("component", "escalation"),
		waiters: make(map[string][]chan struct{}),
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// WithTTL overrides how long a record stays PENDING.
func (m *Manager) WithTTL(ttl time.Duration) *Manager {
	if ttl > 0 {
		m.ttl = ttl
	}
	return m
}

// WithPollInterval overrides how often Wait re-reads the store.
func (m *Manager) WithPollInterval(d time.Duration) *Manager {
	if d > 0 {
		m.poll = d
	}
	return m
}

// TTL returns the approval window.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Create opens a PENDING record for an escalated evaluation.
func (m *Manager) Create(ctx context.Context, eval *contracts.Evaluation) (*contracts.ApprovalRecord, error) {
	if !eval.Escalated() {
		return nil, ErrNotEscalated
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("escalation: decision id: %w", err)
	}

	now := m.clock().UTC()
	rec := &contracts.ApprovalRecord{
		DecisionID:  "approval-" + id.String(),
		RequestID:   eval.RequestID,
		Status:      contracts.ApprovalPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(m.ttl),
		AutoAction:  contracts.AutoActionExpire,
	}
	if err := m.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("escalation: create: %w", err)
	}

	m.logger.InfoContext(ctx, "approval requested",
		"decision_id", rec.DecisionID,
		"request_id", rec.RequestID,
		"rule_id", eval.TriggeredRule.ID,
		"expires_at", rec.ExpiresAt,
	)
	return rec, nil
}

// Decide records a reviewer's decision. Deciding a terminal record returns
// ErrAlreadyDecided; deciding at or after expiry expires the record and
// returns ErrExpired. The current record is returned alongside those errors.
func (m *Manager) Decide(ctx context.Context, decisionID string, status contracts.ApprovalStatus, decidedBy, notes string) (*contracts.ApprovalRecord, error) {
	if !status.HumanDecision() {
		return nil, ErrInvalidDecision
	}
	decidedBy = strings.TrimSpace(decidedBy)
	if decidedBy == "" {
		return nil, ErrMissingActor
	}
	if notes == "" {
		notes = defaultNotes(status)
	}

	rec, err := m.store.Get(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return rec, fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, decisionID, rec.Status)
	}

	now := m.clock().UTC()
	if rec.ExpiredAt(now) {
		expired, err := m.expire(ctx, rec, now)
		if err != nil {
			return nil, err
		}
		if expired.Status != contracts.ApprovalExpired {
			return expired, fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, decisionID, expired.Status)
		}
		return expired, fmt.Errorf("%w: %s expired at %s", ErrExpired, decisionID, rec.ExpiresAt.Format(time.RFC3339))
	}

	next := rec.Clone()
	next.Status = status
	next.DecidedAt = &now
	next.DecidedBy = decidedBy
	next.Notes = notes

	ok, err := m.store.CompareAndSetStatus(ctx, decisionID, contracts.ApprovalPending, next)
	if err != nil {
		return nil, fmt.Errorf("escalation: decide: %w", err)
	}
	if !ok {
		current, err := m.store.Get(ctx, decisionID)
		if err != nil {
			return nil, err
		}
		if current.Status == contracts.ApprovalExpired {
			return current, fmt.Errorf("%w: %s", ErrExpired, decisionID)
		}
		return current, fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, decisionID, current.Status)
	}

	m.logger.InfoContext(ctx, "approval decided",
		"decision_id", decisionID,
		"request_id", next.RequestID,
		"status", string(status),
		"decided_by", decidedBy,
	)
	m.notify(decisionID)
	return next, nil
}

// Get returns the record, expiring it first if its window has passed.
func (m *Manager) Get(ctx context.Context, decisionID string) (*contracts.ApprovalRecord, error) {
	rec, err := m.store.Get(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if rec.Status == contracts.ApprovalPending {
		now := m.clock().UTC()
		if rec.ExpiredAt(now) {
			return m.expire(ctx, rec, now)
		}
	}
	return rec, nil
}

// CheckTimeouts expires every pending record whose window has passed and
// returns the records it expired.
func (m *Manager) CheckTimeouts(ctx context.Context) ([]*contracts.ApprovalRecord, error) {
	pending, err := m.store.ListPending(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("escalation: list pending: %w", err)
	}

	now := m.clock().UTC()
	var expired []*contracts.ApprovalRecord
	for _, rec := range pending {
		if !rec.ExpiredAt(now) {
			continue
		}
		out, err := m.expire(ctx, rec, now)
		if err != nil {
			return expired, err
		}
		if out.Status == contracts.ApprovalExpired {
			expired = append(expired, out)
		}
	}
	return expired, nil
}

// PendingCount returns the number of records awaiting a reviewer.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	pending, err := m.store.ListPending(ctx, 0)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// Wait blocks until the record reaches a terminal status, its window passes,
// or ctx is done. A record that expires while waiting is returned as EXPIRED
// with a nil error.
func (m *Manager) Wait(ctx context.Context, decisionID string) (*contracts.ApprovalRecord, error) {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		ch := m.subscribe(decisionID)

		rec, err := m.Get(ctx, decisionID)
		if err != nil {
			m.unsubscribe(decisionID, ch)
			return nil, err
		}
		if rec.Status.Terminal() {
			m.unsubscribe(decisionID, ch)
			return rec, nil
		}

		timer := time.NewTimer(rec.ExpiresAt.Sub(m.clock()))
		select {
		case <-ctx.Done():
			timer.Stop()
			m.unsubscribe(decisionID, ch)
			return rec, ctx.Err()
		case <-ch:
		case <-timer.C:
		case <-ticker.C:
		}
		timer.Stop()
		m.unsubscribe(decisionID, ch)
	}
}

// expire moves rec to EXPIRED. If another writer got there first the record as
// stored is returned instead.
func (m *Manager) expire(ctx context.Context, rec *contracts.ApprovalRecord, now time.Time) (*contracts.ApprovalRecord, error) {
	next := rec.Clone()
	next.Status = contracts.ApprovalExpired
	next.DecidedAt = nil
	next.DecidedBy = ""
	next.Notes = ""

	ok, err := m.store.CompareAndSetStatus(ctx, rec.DecisionID, contracts.ApprovalPending, next)
	if err != nil {
		return nil, fmt.Errorf("escalation: expire: %w", err)
	}
	if !ok {
		return m.store.Get(ctx, rec.DecisionID)
	}

	m.logger.WarnContext(ctx, "approval expired",
		"decision_id", rec.DecisionID,
		"request_id", rec.RequestID,
		"expires_at", rec.ExpiresAt,
		"checked_at", now,
	)
	m.notify(rec.DecisionID)
	return next, nil
}

func (m *Manager) subscribe(id string) chan struct{} {
	ch := make(chan struct{})
	m.mu.Lock()
	m.waiters[id] = append(m.waiters[id], ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) unsubscribe(id string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.waiters[id]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.waiters, id)
	} else {
		m.waiters[id] = list
	}
}

func (m *Manager) notify(id string) {
	m.mu.Lock()
	list := m.waiters[id]
	delete(m.waiters, id)
	m.mu.Unlock()
	for _, ch := range list {
		close(ch)
	}
}

func defaultNotes(status contracts.ApprovalStatus) string {
	if status == contracts.ApprovalApproved {
		return DefaultApprovedNotes
	}
	return DefaultRejectedNotes
}
