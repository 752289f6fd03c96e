package scenarios_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/gate/pkg/contracts"
	"github.com/Mindburn-Labs/gate/pkg/pdp"
	"github.com/Mindburn-Labs/gate/pkg/scenarios"
)

func TestExpectedVerdicts(t *testing.T) {
	ev, err := pdp.NewEvaluator(pdp.DefaultPolicy())
	require.NoError(t, err)

	wantRule := map[scenarios.ID]string{
		scenarios.NormalPurchase:  "RULE-006",
		scenarios.OverLimit:       "RULE-004",
		scenarios.PromptInjection: "RULE-001",
	}
	for _, m := range scenarios.AllMeta() {
		t.Run(string(m.ID), func(t *testing.T) {
			req, err := scenarios.Get(string(m.ID))
			require.NoError(t, err)
			require.NoError(t, contracts.ValidateRequest(req))

			eval := ev.Evaluate(req)
			assert.Equal(t, m.ExpectedVerdict, eval.Verdict)
			assert.Equal(t, wantRule[m.ID], eval.TriggeredRule.ID)
		})
	}
}

func TestGet_FreshCopies(t *testing.T) {
	a, err := scenarios.Get("over-limit")
	require.NoError(t, err)
	b, err := scenarios.Get("over-limit")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	a.Transaction.Amount = 1
	a.Transaction.Recipient.Name = "Mallory"

	c, err := scenarios.Get("over-limit")
	require.NoError(t, err)
	assert.Equal(t, 500.0, c.Transaction.Amount)
	assert.Equal(t, "TechVendor Inc", c.Transaction.Recipient.Name)
}

func TestGetAt(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	req, err := scenarios.GetAt("normal-purchase", at)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, req.Timestamp.Location())
	assert.True(t, req.Timestamp.Equal(at))
}

func TestIsValid(t *testing.T) {
	for _, id := range scenarios.IDs() {
		assert.True(t, scenarios.IsValid(string(id)))
	}
	assert.False(t, scenarios.IsValid("refund-fraud"))
	assert.False(t, scenarios.IsValid(""))

	_, err := scenarios.Get("refund-fraud")
	assert.Error(t, err)
}

func TestIDs_Order(t *testing.T) {
	assert.Equal(t, []scenarios.ID{"normal-purchase", "over-limit", "prompt-injection"}, scenarios.IDs())
	ids := scenarios.IDs()
	ids[0] = "mutated"
	assert.Equal(t, scenarios.NormalPurchase, scenarios.IDs()[0])
}
