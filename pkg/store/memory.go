package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/gate/pkg/contracts"
)

// MemoryApprovalStore is an in-process ApprovalStore. Records are copied on the
// way in and out so callers never share state with the store.
type MemoryApprovalStore struct {
	mu      sync.Mutex
	records map[string]*contracts.ApprovalRecord
}

func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{records: make(map[string]*contracts.ApprovalRecord)}
}

func (s *MemoryApprovalStore) Create(_ context.Context, rec *contracts.ApprovalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.DecisionID]; ok {
		return fmt.Errorf("%w: %s", ErrApprovalExists, rec.DecisionID)
	}
	s.records[rec.DecisionID] = rec.Clone()
	return nil
}

func (s *MemoryApprovalStore) Get(_ context.Context, decisionID string) (*contracts.ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[decisionID]
	if !ok {
		return nil, fmt.Errorf("%w: approval %s", ErrNotFound, decisionID)
	}
	return rec.Clone(), nil
}

func (s *MemoryApprovalStore) CompareAndSetStatus(_ context.Context, decisionID string, from contracts.ApprovalStatus, next *contracts.ApprovalRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[decisionID]
	if !ok {
		return false, fmt.Errorf("%w: approval %s", ErrNotFound, decisionID)
	}
	if rec.Status != from {
		return false, nil
	}
	rec.Status = next.Status
	rec.DecidedBy = next.DecidedBy
	rec.Notes = next.Notes
	rec.DecidedAt = next.Clone().DecidedAt
	return true, nil
}

func (s *MemoryApprovalStore) ListPending(_ context.Context, limit int) ([]*contracts.ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*contracts.ApprovalRecord
	for _, rec := range s.records {
		if rec.Status == contracts.ApprovalPending {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].DecisionID < out[j].DecisionID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryPackLedger is an in-process PackLedger.
type MemoryPackLedger struct {
	mu    sync.Mutex
	packs []*contracts.EvidencePack
	index map[string]int
}

func NewMemoryPackLedger() *MemoryPackLedger {
	return &MemoryPackLedger{index: make(map[string]int)}
}

func (l *MemoryPackLedger) Append(_ context.Context, pack *contracts.EvidencePack) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[pack.GateID]; ok {
		return fmt.Errorf("%w: %s", ErrPackExists, pack.GateID)
	}
	l.index[pack.GateID] = len(l.packs)
	l.packs = append(l.packs, clonePack(pack))
	return nil
}

func (l *MemoryPackLedger) Get(_ context.Context, gateID string) (*contracts.EvidencePack, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[gateID]
	if !ok {
		return nil, fmt.Errorf("%w: pack %s", ErrNotFound, gateID)
	}
	return clonePack(l.packs[i]), nil
}

func (l *MemoryPackLedger) List(_ context.Context, limit int) ([]*contracts.EvidencePack, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*contracts.EvidencePack
	for i := len(l.packs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, clonePack(l.packs[i]))
	}
	return out, nil
}

func clonePack(p *contracts.EvidencePack) *contracts.EvidencePack {
	c := *p
	c.Request = p.Request.Clone()
	c.Evaluation = p.Evaluation.Clone()
	c.Approval = p.Approval.Clone()
	return &c
}
