// Package pdp is the gate's policy decision point: an ordered cascade of rules
// evaluated against a transaction request.
//
// Every evaluation is fail-closed:
//   - a rule whose condition errors or panics is treated as not matching
//   - a request that matches no rule is BLOCKED by the DEFAULT rule
//   - a fault outside the rules yields BLOCKED with the SYSTEM-ERROR marker
//
// Evaluate never returns an error and never panics.
package pdp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/Mindburn-Labs/gate/pkg/contracts"
)

var (
	defaultRule = contracts.TriggeredRule{
		ID:     contracts.RuleIDDefault,
		Name:   "Fail-Closed Default",
		Reason: "No policy rule matched — transaction blocked by fail-closed default",
	}
	systemErrorRule = contracts.TriggeredRule{
		ID:     contracts.RuleIDSystemError,
		Name:   "System Error",
		Reason: "Policy evaluation failed — transaction blocked by fail-closed doctrine",
	}
)

// Evaluator runs the rule cascade. It is safe for concurrent use; the rule
// table and policy are read-only after construction.
type Evaluator struct {
	rules      []Rule
	policy     *PolicyConfig
	policyVars map[string]any
	policyHash string
	clock      func() time.Time
	logger     *slog.Logger
}

// NewEvaluator builds an evaluator over the built-in rule table.
// A nil policy selects DefaultPolicy.
func NewEvaluator(policy *PolicyConfig) (*Evaluator, error) {
	rules, err := BuiltinRules()
	if err != nil {
		return nil, err
	}
	return NewEvaluatorWithRules(policy, rules)
}

// NewEvaluatorWithRules builds an evaluator over a caller-supplied rule table.
// Rules are ordered by ascending priority; ties keep their given order.
func NewEvaluatorWithRules(policy *PolicyConfig, rules []Rule) (*Evaluator, error) {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	hash, err := policy.Hash()
	if err != nil {
		return nil, err
	}

	table := make([]Rule, len(rules))
	copy(table, rules)
	sort.SliceStable(table, func(i, j int) bool { return table[i].Priority < table[j].Priority })

	seen := make(map[string]bool, len(table))
	for _, r := range table {
		switch {
		case r.ID == "":
			return nil, fmt.Errorf("pdp: rule with empty id")
		case r.ID == contracts.RuleIDDefault || r.ID == contracts.RuleIDSystemError:
			return nil, fmt.Errorf("pdp: rule id %s is reserved", r.ID)
		case seen[r.ID]:
			return nil, fmt.Errorf("pdp: duplicate rule id %s", r.ID)
		case r.Condition == nil:
			return nil, fmt.Errorf("pdp: rule %s has no condition", r.ID)
		case !r.Verdict.Valid():
			return nil, fmt.Errorf("pdp: rule %s has invalid verdict %q", r.ID, r.Verdict)
		}
		seen[r.ID] = true
	}

	return &Evaluator{
		rules:      table,
		policy:     policy,
		policyVars: policy.activation(),
		policyHash: hash,
		clock:      time.Now,
		logger:     slog.Default().With("component", "pdp"),
	}, nil
}

// WithClock overrides the clock used for evaluation timestamps.
func (e *Evaluator) WithClock(clock func() time.Time) *Evaluator {
	e.clock = clock
	return e
}

// WithLogger overrides the evaluator's logger.
func (e *Evaluator) WithLogger(logger *slog.Logger) *Evaluator {
	e.logger = logger.With("component", "pdp")
	return e
}

// Policy returns the policy the evaluator was built with.
func (e *Evaluator) Policy() *PolicyConfig { return e.policy }

// PolicyHash returns the content hash of the active policy.
func (e *Evaluator) PolicyHash() string { return e.policyHash }

// Display returns the rule table without predicates, in evaluation order.
func (e *Evaluator) Display() []RuleDisplay {
	out := make([]RuleDisplay, len(e.rules))
	for i := range e.rules {
		out[i] = e.rules[i].display()
	}
	return out
}

// Evaluate runs the cascade against req and returns the first matching rule's
// verdict. rules_evaluated holds every rule inspected, up to and including the match.
func (e *Evaluator) Evaluate(req *contracts.Request) (eval *contracts.Evaluation) {
	start := time.Now()
	requestID := ""
	if req != nil {
		requestID = req.ID
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("evaluator fault", "request_id", requestID, "panic", fmt.Sprint(r))
			eval = e.finish(requestID, systemErrorRule, contracts.VerdictBlocked, contracts.RiskHigh, []contracts.RuleResult{}, start)
		}
	}()

	if req == nil {
		e.logger.Error("evaluator fault", "error", "nil request")
		return e.finish("", systemErrorRule, contracts.VerdictBlocked, contracts.RiskHigh, []contracts.RuleResult{}, start)
	}

	in, err := e.input(req)
	if err != nil {
		e.logger.Error("evaluator fault", "request_id", requestID, "error", err)
		return e.finish(requestID, systemErrorRule, contracts.VerdictBlocked, contracts.RiskHigh, []contracts.RuleResult{}, start)
	}

	results := make([]contracts.RuleResult, 0, len(e.rules))
	for i := range e.rules {
		rule := &e.rules[i]
		matched := e.check(rule, in, requestID)
		results = append(results, contracts.RuleResult{ID: rule.ID, Name: rule.Name, Matched: matched})
		if matched {
			triggered := contracts.TriggeredRule{ID: rule.ID, Name: rule.Name, Reason: rule.Reason}
			return e.finish(requestID, triggered, rule.Verdict, rule.RiskLevel, results, start)
		}
	}

	return e.finish(requestID, defaultRule, contracts.VerdictBlocked, contracts.RiskHigh, results, start)
}

// check runs one rule's condition behind a fault barrier.
func (e *Evaluator) check(rule *Rule, in *Input, requestID string) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("rule condition panicked", "request_id", requestID, "rule_id", rule.ID, "panic", fmt.Sprint(r))
			matched = false
		}
	}()

	ok, err := rule.Condition(in)
	if err != nil {
		e.logger.Warn("rule condition failed", "request_id", requestID, "rule_id", rule.ID, "error", err)
		return false
	}
	return ok
}

// input builds the per-evaluation activation. The request is round-tripped
// through JSON so rules see exactly the wire form; a request that cannot be
// encoded (NaN or infinite amount) is an evaluator fault.
func (e *Evaluator) input(req *contracts.Request) (*Input, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}

	return &Input{
		Request: req.Clone(),
		vars: map[string]any{
			"request":   doc,
			"policy":    e.policyVars,
			"reasoning": fold(req.Context.AgentReasoning),
			"limit":     e.policy.limitFor(string(req.Agent.Type)),
		},
	}, nil
}

func (e *Evaluator) finish(
	requestID string,
	triggered contracts.TriggeredRule,
	verdict contracts.Verdict,
	risk contracts.RiskLevel,
	results []contracts.RuleResult,
	start time.Time,
) *contracts.Evaluation {
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	return &contracts.Evaluation{
		RequestID:        requestID,
		Verdict:          verdict,
		RiskLevel:        risk,
		TriggeredRule:    triggered,
		RulesEvaluated:   results,
		EvaluationTimeMs: math.Round(elapsed*100) / 100,
		Timestamp:        e.clock().UTC(),
	}
}
