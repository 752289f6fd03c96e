// Package store persists approval records and sealed evidence packs.
//
// Approval records change state exactly once, from PENDING to a terminal status,
// and every implementation enforces that with a compare-and-set on status.
// Evidence packs are append-only: they are never updated or deleted.
package store

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/gate/pkg/contracts"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrApprovalExists = errors.New("store: approval already exists")
	ErrPackExists     = errors.New("store: evidence pack already exists")
)

// ApprovalStore defines persistence for human approval records.
type ApprovalStore interface {
	Create(ctx context.Context, rec *contracts.ApprovalRecord) error
	Get(ctx context.Context, decisionID string) (*contracts.ApprovalRecord, error)
	// CompareAndSetStatus writes next only if the stored status is still from.
	// It reports whether the write happened.
	CompareAndSetStatus(ctx context.Context, decisionID string, from contracts.ApprovalStatus, next *contracts.ApprovalRecord) (bool, error)
	// ListPending returns PENDING records, oldest first.
	ListPending(ctx context.Context, limit int) ([]*contracts.ApprovalRecord, error)
}

// PackLedger is an insert-only record of sealed evidence packs.
type PackLedger interface {
	Append(ctx context.Context, pack *contracts.EvidencePack) error
	Get(ctx context.Context, gateID string) (*contracts.EvidencePack, error)
	// List returns the most recent packs first.
	List(ctx context.Context, limit int) ([]*contracts.EvidencePack, error)
}
