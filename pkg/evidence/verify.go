package evidence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/gate/pkg/canonicalize"
	"github.com/Mindburn-Labs/gate/pkg/contracts"
)

// SupportedVersions is the pack version range this package can verify.
const SupportedVersions = "^1.0.0"

var (
	ErrMalformedPack      = errors.New("evidence: malformed pack")
	ErrUnsupportedVersion = errors.New("evidence: unsupported pack version")
)

var supported = mustConstraint(SupportedVersions)

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

// Mismatch is one recorded hash that does not match its recomputed value.
type Mismatch struct {
	Field    string `json:"field"`
	Recorded string `json:"recorded"`
	Computed string `json:"computed"`
}

// Verification is the outcome of re-deriving a pack's hashes.
type Verification struct {
	Valid      bool       `json:"valid"`
	GateID     string     `json:"gate_id"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// Summary renders the verification in one line.
func (v *Verification) Summary() string {
	if v.Valid {
		return fmt.Sprintf("%s: valid", v.GateID)
	}
	fields := make([]string, len(v.Mismatches))
	for i, m := range v.Mismatches {
		fields[i] = m.Field
	}
	return fmt.Sprintf("%s: INVALID (%s)", v.GateID, strings.Join(fields, ", "))
}

// Verify recomputes request_hash, evaluation_hash and receipt_hash from the
// payloads embedded in pack. A tampered pack is reported through the returned
// Verification; an error means the pack could not be checked at all.
func Verify(pack *contracts.EvidencePack) (*Verification, error) {
	if pack == nil || pack.Request == nil || pack.Evaluation == nil {
		return nil, fmt.Errorf("%w: request and evaluation are required", ErrMalformedPack)
	}
	v, err := semver.NewVersion(pack.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrUnsupportedVersion, pack.Version, err)
	}
	if !supported.Check(v) {
		return nil, fmt.Errorf("%w: %s not in %s", ErrUnsupportedVersion, pack.Version, SupportedVersions)
	}

	requestHash, err := canonicalize.CanonicalHash(pack.Request)
	if err != nil {
		return nil, fmt.Errorf("%w: request: %w", ErrMalformedPack, err)
	}
	evaluationHash, err := canonicalize.CanonicalHash(pack.Evaluation)
	if err != nil {
		return nil, fmt.Errorf("%w: evaluation: %w", ErrMalformedPack, err)
	}

	out := &Verification{GateID: pack.GateID}
	check := func(field, recorded, computed string) {
		if recorded != computed {
			out.Mismatches = append(out.Mismatches, Mismatch{Field: field, Recorded: recorded, Computed: computed})
		}
	}
	check("request_hash", pack.RequestHash, requestHash)
	check("evaluation_hash", pack.EvaluationHash, evaluationHash)
	// receipt_hash binds the recorded hashes, not the recomputed ones.
	check("receipt_hash", pack.ReceiptHash, ReceiptHash(pack.RequestHash, pack.EvaluationHash))

	if pack.Evaluation.RequestID != pack.Request.ID {
		out.Mismatches = append(out.Mismatches, Mismatch{
			Field:    "evaluation.request_id",
			Recorded: pack.Evaluation.RequestID,
			Computed: pack.Request.ID,
		})
	}

	out.Valid = len(out.Mismatches) == 0
	return out, nil
}
