package pdp

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/gate/pkg/contracts"
)

// Input is what a rule condition sees for one evaluation.
// Request is a private copy; conditions cannot affect the caller's value.
type Input struct {
	Request *contracts.Request
	vars    map[string]any
}

// Condition is a pure predicate over a request. An error or panic is treated as
// "did not match" by the evaluator.
type Condition func(in *Input) (bool, error)

// Rule is one entry of the ordered policy table.
type Rule struct {
	ID          string
	Name        string
	Description string
	Priority    int
	Condition   Condition
	Expression  string
	Verdict     contracts.Verdict
	RiskLevel   contracts.RiskLevel
	Reason      string
}

// RuleDisplay is a Rule without its predicate, safe to serialise.
type RuleDisplay struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Priority    int                 `json:"priority"`
	Verdict     contracts.Verdict   `json:"verdict"`
	RiskLevel   contracts.RiskLevel `json:"risk_level"`
	Reason      string              `json:"reason"`
	Expression  string              `json:"expression,omitempty"`
}

func (r *Rule) display() RuleDisplay {
	return RuleDisplay{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Priority:    r.Priority,
		Verdict:     r.Verdict,
		RiskLevel:   r.RiskLevel,
		Reason:      r.Reason,
		Expression:  r.Expression,
	}
}

// Identifiers of the built-in rules. These appear in sealed evidence and must
// never be renumbered.
const (
	RulePromptInjection     = "RULE-001"
	RuleUnknownAgentType    = "RULE-002"
	RuleUnverifiedHighValue = "RULE-003"
	RuleAgentSpendingLimit  = "RULE-004"
	RuleNewRecipient        = "RULE-005"
	RuleStandardAuth        = "RULE-006"
	RuleNoOp                = "RULE-007"
)

type ruleSource struct {
	id, name, description string
	priority              int
	expr                  string
	verdict               contracts.Verdict
	risk                  contracts.RiskLevel
	reason                string
}

// CEL variables:
//
//	request    the request as decoded JSON
//	policy     agent_limits, known_recipients, suspicious_patterns (folded) and thresholds
//	reasoning  the agent reasoning after folding, "" when absent
//	limit      the spending ceiling for request.agent.type, 0 when unlisted
var builtinRules = []ruleSource{
	{
		id:          RulePromptInjection,
		name:        "Prompt Injection Detection",
		description: "Blocks transactions with unverified recipients, high amounts, and suspicious agent reasoning patterns",
		priority:    1,
		expr: `!request.transaction.recipient.verified &&
			request.transaction.amount > policy.injection_amount_threshold &&
			policy.suspicious_patterns.exists(p, reasoning.contains(p))`,
		verdict: contracts.VerdictBlocked,
		risk:    contracts.RiskCritical,
		reason:  "Potential prompt injection detected: unverified recipient, high amount, and suspicious reasoning pattern",
	},
	// Policy validation already keeps UNKNOWN out of agent_limits; the
	// explicit clause keeps the rule readable on its own.
	{
		id:          RuleUnknownAgentType,
		name:        "Unknown Agent Type",
		description: "Blocks transactions from UNKNOWN agents and from any agent type without a configured spending limit",
		priority:    2,
		expr:        `request.agent.type == 'UNKNOWN' || !(request.agent.type in policy.agent_limits)`,
		verdict:     contracts.VerdictBlocked,
		risk:        contracts.RiskHigh,
		reason:      "Transaction from unknown agent type — not authorized to transact",
	},
	{
		id:          RuleUnverifiedHighValue,
		name:        "Unverified High-Value Recipient",
		description: "Blocks transactions over $100 to recipients not on the verified vendor list",
		priority:    3,
		expr: `!request.transaction.recipient.verified &&
			request.transaction.amount > policy.unverified_amount_threshold`,
		verdict: contracts.VerdictBlocked,
		risk:    contracts.RiskHigh,
		reason:  "Unverified recipient with transaction amount exceeding $100 threshold",
	},
	{
		id:          RuleAgentSpendingLimit,
		name:        "Agent Spending Limit",
		description: "Escalates transactions that exceed the agent type's per-transaction spending ceiling",
		priority:    4,
		expr:        `request.transaction.amount > limit`,
		verdict:     contracts.VerdictRequiresHumanApproval,
		risk:        contracts.RiskMedium,
		reason:      "Transaction amount exceeds agent's authorized spending limit — human approval required",
	},
	{
		id:          RuleNewRecipient,
		name:        "New Recipient Review",
		description: "Escalates transactions to recipients not yet in the approved vendor list",
		priority:    5,
		expr:        `!(request.transaction.recipient.name in policy.known_recipients)`,
		verdict:     contracts.VerdictRequiresHumanApproval,
		risk:        contracts.RiskMedium,
		reason:      "Recipient not found in approved vendor list — human review required",
	},
	{
		id:          RuleStandardAuth,
		name:        "Standard Authorization",
		description: "Authorizes transactions within the agent's spending limit to verified recipients",
		priority:    6,
		expr: `request.transaction.amount > 0.0 &&
			request.transaction.amount <= limit &&
			request.transaction.recipient.verified`,
		verdict: contracts.VerdictAuthorized,
		risk:    contracts.RiskLow,
		reason:  "Transaction within agent limits to verified recipient — authorized",
	},
	{
		id:          RuleNoOp,
		name:        "No-Op Transaction",
		description: "Authorizes zero-amount transactions (no financial risk)",
		priority:    7,
		expr:        `request.transaction.amount == 0.0`,
		verdict:     contracts.VerdictAuthorized,
		risk:        contracts.RiskLow,
		reason:      "Zero-amount transaction — no financial risk",
	},
}

// NewEnv returns the CEL environment rule expressions are compiled in.
func NewEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("policy", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("reasoning", cel.StringType),
		cel.Variable("limit", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("pdp: create CEL environment: %w", err)
	}
	return env, nil
}

// CompileCondition compiles a CEL expression into a Condition. The expression
// must evaluate to a bool.
func CompileCondition(env *cel.Env, expr string) (Condition, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("compile: expression yields %s, want bool", ast.OutputType())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}

	return func(in *Input) (bool, error) {
		out, _, err := prg.Eval(in.vars)
		if err != nil {
			return false, fmt.Errorf("eval: %w", err)
		}
		val, ok := out.Value().(bool)
		if !ok {
			return false, fmt.Errorf("result not bool")
		}
		return val, nil
	}, nil
}

// BuiltinRules returns the reference rule table with its conditions compiled.
func BuiltinRules() ([]Rule, error) {
	env, err := NewEnv()
	if err != nil {
		return nil, err
	}

	rules := make([]Rule, 0, len(builtinRules))
	for _, src := range builtinRules {
		cond, err := CompileCondition(env, src.expr)
		if err != nil {
			return nil, fmt.Errorf("pdp: rule %s: %w", src.id, err)
		}
		rules = append(rules, Rule{
			ID:          src.id,
			Name:        src.name,
			Description: src.description,
			Priority:    src.priority,
			Condition:   cond,
			Expression:  strings.Join(strings.Fields(src.expr), " "),
			Verdict:     src.verdict,
			RiskLevel:   src.risk,
			Reason:      src.reason,
		})
	}
	return rules, nil
}
