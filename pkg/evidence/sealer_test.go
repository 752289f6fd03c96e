package evidence

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/gate/pkg/canonicalize"
	"github.com/Mindburn-Labs/gate/pkg/contracts"
)

var fixedNow = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func testRequest() *contracts.Request {
	return &contracts.Request{
		ID:        "req-seal-001",
		Timestamp: fixedNow.Add(-time.Minute),
		Agent:     contracts.Agent{ID: "agent-procurebot-001", Type: contracts.AgentPurchasing, Name: "ProcureBot"},
		Transaction: contracts.Transaction{
			Type:        contracts.TransactionPurchase,
			Amount:      500,
			Currency:    "USD",
			Recipient:   contracts.Recipient{Name: "TechVendor Inc", Account: "ACC-****-4519", Verified: true},
			Description: "Laptop docking stations",
		},
		Context: contracts.RequestContext{SessionID: "sess-demo-002", IPAddress: "10.0.1.42"},
	}
}

func testEvaluation(verdict contracts.Verdict) *contracts.Evaluation {
	return &contracts.Evaluation{
		RequestID:     "req-seal-001",
		Verdict:       verdict,
		RiskLevel:     contracts.RiskMedium,
		TriggeredRule: contracts.TriggeredRule{ID: "RULE-004", Name: "Agent Spending Limit", Reason: "over limit"},
		RulesEvaluated: []contracts.RuleResult{
			{ID: "RULE-001", Name: "Prompt Injection Detection"},
			{ID: "RULE-004", Name: "Agent Spending Limit", Matched: true},
		},
		EvaluationTimeMs: 0.12,
		Timestamp:        fixedNow,
	}
}

func testSealer() *Sealer {
	return NewSealer().WithClock(func() time.Time { return fixedNow })
}

func TestSeal_Hashes(t *testing.T) {
	req := testRequest()
	eval := testEvaluation(contracts.VerdictRequiresHumanApproval)

	pack, err := testSealer().Seal(req, eval, nil)
	require.NoError(t, err)

	wantReq, err := canonicalize.CanonicalHash(req)
	require.NoError(t, err)
	wantEval, err := canonicalize.CanonicalHash(eval)
	require.NoError(t, err)

	assert.Equal(t, contracts.EvidencePackVersion, pack.Version)
	assert.Equal(t, wantReq, pack.RequestHash)
	assert.Equal(t, wantEval, pack.EvaluationHash)
	assert.Equal(t, canonicalize.HashString(wantReq+wantEval), pack.ReceiptHash)
	assert.True(t, canonicalize.IsDigest(pack.ReceiptHash))
	assert.Equal(t, fixedNow, pack.GeneratedAt)
	assert.Nil(t, pack.Approval)
}

func TestSeal_GateIDIsTimeOrderedUUID(t *testing.T) {
	s := testSealer()
	a, err := s.Seal(testRequest(), testEvaluation(contracts.VerdictBlocked), nil)
	require.NoError(t, err)
	b, err := s.Seal(testRequest(), testEvaluation(contracts.VerdictBlocked), nil)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(a.GateID, GateIDPrefix))
	id, err := uuid.Parse(strings.TrimPrefix(a.GateID, GateIDPrefix))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.NotEqual(t, a.GateID, b.GateID)
	assert.Equal(t, a.ReceiptHash, b.ReceiptHash, "same inputs give same receipt")
}

func TestSeal_SnapshotsInputs(t *testing.T) {
	req := testRequest()
	eval := testEvaluation(contracts.VerdictRequiresHumanApproval)
	approval := &contracts.ApprovalRecord{
		DecisionID: "d-1", RequestID: req.ID, Status: contracts.ApprovalPending,
		RequestedAt: fixedNow, ExpiresAt: fixedNow.Add(contracts.DefaultApprovalTTL), AutoAction: contracts.AutoActionExpire,
	}

	pack, err := testSealer().Seal(req, eval, approval)
	require.NoError(t, err)

	req.Transaction.Amount = 1
	eval.RulesEvaluated[0].Matched = true
	approval.Status = contracts.ApprovalApproved

	assert.Equal(t, 500.0, pack.Request.Transaction.Amount)
	assert.False(t, pack.Evaluation.RulesEvaluated[0].Matched)
	assert.Equal(t, contracts.ApprovalPending, pack.Approval.Status)

	v, err := Verify(pack)
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestSeal_Rejects(t *testing.T) {
	s := testSealer()
	approval := &contracts.ApprovalRecord{DecisionID: "d-1", Status: contracts.ApprovalApproved}

	tests := []struct {
		name     string
		req      *contracts.Request
		eval     *contracts.Evaluation
		approval *contracts.ApprovalRecord
	}{
		{"nil request", nil, testEvaluation(contracts.VerdictBlocked), nil},
		{"nil evaluation", testRequest(), nil, nil},
		{"foreign evaluation", testRequest(), func() *contracts.Evaluation {
			e := testEvaluation(contracts.VerdictBlocked)
			e.RequestID = "other"
			return e
		}(), nil},
		{"approval on authorized", testRequest(), testEvaluation(contracts.VerdictAuthorized), approval},
		{"approval on blocked", testRequest(), testEvaluation(contracts.VerdictBlocked), approval},
		{"approval for another request", testRequest(), testEvaluation(contracts.VerdictRequiresHumanApproval),
			&contracts.ApprovalRecord{DecisionID: "d-2", RequestID: "req-other"}},
		{"unhashable request", func() *contracts.Request {
			r := testRequest()
			r.Transaction.Amount = math.NaN()
			return r
		}(), testEvaluation(contracts.VerdictBlocked), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pack, err := s.Seal(tt.req, tt.eval, tt.approval)
			assert.Nil(t, pack)
			assert.True(t, errors.Is(err, ErrSealFailed), "got %v", err)
		})
	}
}

func TestSeal_GateIDFailure(t *testing.T) {
	s := testSealer()
	s.newID = func() (uuid.UUID, error) { return uuid.Nil, errors.New("entropy exhausted") }

	_, err := s.Seal(testRequest(), testEvaluation(contracts.VerdictBlocked), nil)
	assert.ErrorIs(t, err, ErrSealFailed)
}

func TestSeal_SurvivesJSONRoundTrip(t *testing.T) {
	pack, err := testSealer().Seal(testRequest(), testEvaluation(contracts.VerdictAuthorized), nil)
	require.NoError(t, err)

	data, err := json.Marshal(pack)
	require.NoError(t, err)
	var decoded contracts.EvidencePack
	require.NoError(t, json.Unmarshal(data, &decoded))

	v, err := Verify(&decoded)
	require.NoError(t, err)
	assert.True(t, v.Valid, v.Summary())
}
