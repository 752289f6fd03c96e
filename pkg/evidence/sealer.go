// Package evidence seals gate decisions into tamper-evident evidence packs and
// verifies packs produced elsewhere.
//
// Sealing is hash computation only. Publishing a pack is the caller's concern.
package evidence

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/gate/pkg/canonicalize"
	"github.com/Mindburn-Labs/gate/pkg/contracts"
)

// GateIDPrefix prefixes every gate id.
const GateIDPrefix = "gate-"

// ErrSealFailed wraps every sealing failure. Callers must treat it as an
// unavailable decision: the evaluation stands but no evidence exists for it.
var ErrSealFailed = errors.New("evidence: seal failed")

// Sealer builds evidence packs. It holds no mutable state and is safe for concurrent use.
type Sealer struct {
	clock func() time.Time
	newID func() (uuid.UUID, error)
}

// NewSealer creates a sealer with time-ordered gate ids.
func NewSealer() *Sealer {
	return &Sealer{
		clock: time.Now,
		newID: uuid.NewV7,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Sealer) WithClock(clock func() time.Time) *Sealer {
	s.clock = clock
	return s
}

// Seal hashes req and eval and assembles a pack embedding copies of both.
// approval may be nil; when present the evaluation must have escalated.
func (s *Sealer) Seal(req *contracts.Request, eval *contracts.Evaluation, approval *contracts.ApprovalRecord) (*contracts.EvidencePack, error) {
	if req == nil || eval == nil {
		return nil, fmt.Errorf("%w: request and evaluation are required", ErrSealFailed)
	}
	if eval.RequestID != req.ID {
		return nil, fmt.Errorf("%w: evaluation %q does not belong to request %q", ErrSealFailed, eval.RequestID, req.ID)
	}
	if approval != nil {
		if !eval.Escalated() {
			return nil, fmt.Errorf("%w: approval supplied for %s evaluation", ErrSealFailed, eval.Verdict)
		}
		if approval.RequestID != "" && approval.RequestID != req.ID {
			return nil, fmt.Errorf("%w: approval %s belongs to request %q", ErrSealFailed, approval.DecisionID, approval.RequestID)
		}
	}

	requestHash, err := canonicalize.CanonicalHash(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request hash: %w", ErrSealFailed, err)
	}
	evaluationHash, err := canonicalize.CanonicalHash(eval)
	if err != nil {
		return nil, fmt.Errorf("%w: evaluation hash: %w", ErrSealFailed, err)
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("%w: gate id: %w", ErrSealFailed, err)
	}

	return &contracts.EvidencePack{
		Version:        contracts.EvidencePackVersion,
		GateID:         GateIDPrefix + id.String(),
		RequestHash:    requestHash,
		EvaluationHash: evaluationHash,
		ReceiptHash:    ReceiptHash(requestHash, evaluationHash),
		Request:        req.Clone(),
		Evaluation:     eval.Clone(),
		Approval:       approval.Clone(),
		GeneratedAt:    s.clock().UTC(),
	}, nil
}

// ReceiptHash binds a request hash to an evaluation hash. The two hex digests
// are concatenated and hashed again.
func ReceiptHash(requestHash, evaluationHash string) string {
	return canonicalize.HashString(requestHash + evaluationHash)
}
