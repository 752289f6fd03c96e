package contracts

import "time"

// EvidencePackVersion is the format version written into new packs.
const EvidencePackVersion = "1.0.0"

// EvidencePack is the sealed, tamper-evident record of one gate decision.
//
// RequestHash and EvaluationHash are canonical-JSON SHA-256 digests of the embedded
// payloads. ReceiptHash is the digest of their hex concatenation, so altering either
// payload changes the receipt.
type EvidencePack struct {
	Version        string          `json:"version"`
	GateID         string          `json:"gate_id"`
	RequestHash    string          `json:"request_hash"`
	EvaluationHash string          `json:"evaluation_hash"`
	ReceiptHash    string          `json:"receipt_hash"`
	Request        *Request        `json:"request"`
	Evaluation     *Evaluation     `json:"evaluation"`
	Approval       *ApprovalRecord `json:"approval,omitempty"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

// Verdict returns the verdict sealed in the pack, or BLOCKED if none is present.
func (p *EvidencePack) Verdict() Verdict {
	if p == nil || p.Evaluation == nil {
		return VerdictBlocked
	}
	return p.Evaluation.Verdict
}
