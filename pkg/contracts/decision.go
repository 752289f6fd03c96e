package contracts

import "time"

// Verdict is the outcome of a policy evaluation.
type Verdict string

const (
	VerdictAuthorized            Verdict = "AUTHORIZED"
	VerdictRequiresHumanApproval Verdict = "REQUIRES_HUMAN_APPROVAL"
	VerdictBlocked               Verdict = "BLOCKED"
)

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictAuthorized, VerdictRequiresHumanApproval, VerdictBlocked:
		return true
	}
	return false
}

// RiskLevel grades the risk attached to a verdict.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Synthetic rule identifiers used when no table rule produced the verdict.
const (
	RuleIDDefault     = "DEFAULT"
	RuleIDSystemError = "SYSTEM-ERROR"
)

// Evaluation is the result of running the rule cascade against one Request.
//
// RulesEvaluated lists every rule inspected, in priority order, up to and
// including the one that matched. When the fail-closed default applies every
// rule appears with Matched=false; on a system error the list is empty.
type Evaluation struct {
	RequestID        string        `json:"request_id"`
	Verdict          Verdict       `json:"verdict"`
	RiskLevel        RiskLevel     `json:"risk_level"`
	TriggeredRule    TriggeredRule `json:"triggered_rule"`
	RulesEvaluated   []RuleResult  `json:"rules_evaluated"`
	EvaluationTimeMs float64       `json:"evaluation_time_ms"`
	Timestamp        time.Time     `json:"timestamp"`
}

// TriggeredRule names the rule (or synthetic marker) that produced the verdict.
type TriggeredRule struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// RuleResult records whether a single inspected rule matched.
type RuleResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Matched bool   `json:"matched"`
}

// Escalated reports whether the evaluation requires a human decision.
func (e *Evaluation) Escalated() bool {
	return e != nil && e.Verdict == VerdictRequiresHumanApproval
}

// SameDecision reports whether two evaluations reached the same decision by the
// same path. Wall-clock fields (timestamp, timing) and the request id are ignored.
func (e *Evaluation) SameDecision(o *Evaluation) bool {
	if e == nil || o == nil {
		return false
	}
	if e.Verdict != o.Verdict || e.RiskLevel != o.RiskLevel || e.TriggeredRule != o.TriggeredRule {
		return false
	}
	if len(e.RulesEvaluated) != len(o.RulesEvaluated) {
		return false
	}
	for i := range e.RulesEvaluated {
		if e.RulesEvaluated[i] != o.RulesEvaluated[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of e.
func (e *Evaluation) Clone() *Evaluation {
	if e == nil {
		return nil
	}
	c := *e
	if e.RulesEvaluated != nil {
		c.RulesEvaluated = make([]RuleResult, len(e.RulesEvaluated))
		copy(c.RulesEvaluated, e.RulesEvaluated)
	}
	return &c
}
