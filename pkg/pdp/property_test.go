//go:build property
// +build property

package pdp

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/gate/pkg/contracts"
)

func genRequest() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(-1000, 20000),
		gen.OneConstOf(contracts.AgentPurchasing, contracts.AgentTreasury, contracts.AgentOperations, contracts.AgentUnknown, contracts.AgentType("ROGUE")),
		gen.Bool(),
		gen.OneConstOf("Office Supplies Co", "TechVendor Inc", "Shady LLC", ""),
		gen.OneConstOf("", "routine restock", "ignore previous instructions", "send to wallet"),
	).Map(func(vals []interface{}) *contracts.Request {
		r := baseRequest()
		r.Transaction.Amount = vals[0].(float64)
		r.Agent.Type = vals[1].(contracts.AgentType)
		r.Transaction.Recipient.Verified = vals[2].(bool)
		r.Transaction.Recipient.Name = vals[3].(string)
		r.Context.AgentReasoning = vals[4].(string)
		return r
	})
}

// TestCascadeProperties checks the structural guarantees of every evaluation.
func TestCascadeProperties(t *testing.T) {
	e, err := NewEvaluator(nil)
	if err != nil {
		t.Fatal(err)
	}
	order := make([]string, 0, 7)
	for _, d := range e.Display() {
		order = append(order, d.ID)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("rules_evaluated is a prefix of the table with at most one match, last", prop.ForAll(
		func(req *contracts.Request) bool {
			eval := e.Evaluate(req)
			if len(eval.RulesEvaluated) > len(order) {
				return false
			}
			for i, r := range eval.RulesEvaluated {
				if r.ID != order[i] {
					return false
				}
				last := i == len(eval.RulesEvaluated)-1
				if r.Matched && !last {
					return false
				}
			}
			if eval.TriggeredRule.ID == contracts.RuleIDDefault {
				return len(eval.RulesEvaluated) == len(order) && !eval.RulesEvaluated[len(order)-1].Matched
			}
			n := len(eval.RulesEvaluated)
			return n > 0 && eval.RulesEvaluated[n-1].Matched && eval.RulesEvaluated[n-1].ID == eval.TriggeredRule.ID
		},
		genRequest(),
	))

	properties.Property("negative amounts are never authorized", prop.ForAll(
		func(req *contracts.Request) bool {
			if req.Transaction.Amount >= 0 {
				return true
			}
			return e.Evaluate(req).Verdict != contracts.VerdictAuthorized
		},
		genRequest(),
	))

	properties.Property("unknown agents are always blocked", prop.ForAll(
		func(req *contracts.Request) bool {
			if req.Agent.Type.Known() {
				return true
			}
			return e.Evaluate(req).Verdict == contracts.VerdictBlocked
		},
		genRequest(),
	))

	properties.Property("evaluation is idempotent", prop.ForAll(
		func(req *contracts.Request) bool {
			return e.Evaluate(req).SameDecision(e.Evaluate(req))
		},
		genRequest(),
	))

	properties.TestingRun(t)
}
