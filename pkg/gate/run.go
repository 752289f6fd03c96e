package gate

import "github.com/Mindburn-Labs/gate/pkg/contracts"

// State is a position in the decision lifecycle.
type State string

const (
	StateIdle          State = "IDLE"
	StateEvaluating    State = "EVALUATING"
	StateNeedsApproval State = "NEEDS_APPROVAL"
	StateSealing       State = "SEALING"
	StateSealed        State = "SEALED"
	StateSealFailed    State = "SEAL_FAILED"
)

// Terminal reports whether no further transition happens without a caller.
func (s State) Terminal() bool {
	return s == StateSealed || s == StateSealFailed
}

// Run is the outcome of processing one request.
type Run struct {
	State       State                     `json:"state"`
	Request     *contracts.Request        `json:"request"`
	Evaluation  *contracts.Evaluation     `json:"evaluation"`
	Approval    *contracts.ApprovalRecord `json:"approval,omitempty"`
	Pack        *contracts.EvidencePack   `json:"evidence_pack,omitempty"`
	DownloadURL string                    `json:"download_url,omitempty"`
	Err         error                     `json:"-"`
}

// Verdict is the evaluation's verdict, or BLOCKED before one exists.
func (r *Run) Verdict() contracts.Verdict {
	if r == nil || r.Evaluation == nil {
		return contracts.VerdictBlocked
	}
	return r.Evaluation.Verdict
}

func (r *Run) requestID() string {
	if r.Request == nil {
		return ""
	}
	return r.Request.ID
}

func (r *Run) clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.Request = r.Request.Clone()
	c.Evaluation = r.Evaluation.Clone()
	c.Approval = r.Approval.Clone()
	if r.Pack != nil {
		p := *r.Pack
		p.Request = r.Pack.Request.Clone()
		p.Evaluation = r.Pack.Evaluation.Clone()
		p.Approval = r.Pack.Approval.Clone()
		c.Pack = &p
	}
	return &c
}
