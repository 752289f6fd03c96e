package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/gate/pkg/auth"
	"github.com/Mindburn-Labs/gate/pkg/contracts"
)

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"gate"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Dispatch(t *testing.T) {
	called := 0
	orig := startServer
	startServer = func(io.Writer, io.Writer) int { called++; return 0 }
	t.Cleanup(func() { startServer = orig })

	code, _, _ := run()
	assert.Equal(t, 0, code)
	code, _, _ = run("serve")
	assert.Equal(t, 0, code)
	assert.Equal(t, 2, called)

	code, stdout, _ := run("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "USAGE")

	code, _, stderr := run("launch")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Unknown command: launch")
}

func TestEvaluateCmd(t *testing.T) {
	code, stdout, _ := run("evaluate", "--scenario", "prompt-injection")
	require.Equal(t, 0, code, "evaluate exits 0 even when blocked")
	var eval contracts.Evaluation
	require.NoError(t, json.Unmarshal([]byte(stdout), &eval))
	assert.Equal(t, contracts.VerdictBlocked, eval.Verdict)
	assert.Equal(t, "RULE-001", eval.TriggeredRule.ID)

	code, _, _ = run("evaluate")
	assert.Equal(t, 2, code)
	code, _, _ = run("evaluate", "--scenario", "normal-purchase", "--file", "x.json")
	assert.Equal(t, 2, code)
	code, _, _ = run("evaluate", "--file", filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, 1, code)
	code, _, _ = run("evaluate", "--scenario", "bogus")
	assert.Equal(t, 1, code)
}

func TestEvaluateCmd_File(t *testing.T) {
	_, stdout, _ := run("receipt", "--scenario", "normal-purchase")
	var pack contracts.EvidencePack
	require.NoError(t, json.Unmarshal([]byte(stdout), &pack))

	path := filepath.Join(t.TempDir(), "req.json")
	data, err := json.Marshal(pack.Request)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	code, stdout, _ := run("evaluate", "--file", path)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, `"verdict": "AUTHORIZED"`)
}

func TestRulesAndScenariosCmd(t *testing.T) {
	code, stdout, _ := run("rules")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "RULE-001")

	code, stdout, _ = run("rules", "--json")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, `"policy_hash"`)

	code, stdout, _ = run("scenarios")
	assert.Equal(t, 0, code)
	for _, id := range []string{"normal-purchase", "over-limit", "prompt-injection"} {
		assert.Contains(t, stdout, id)
	}
}

func TestReceiptAndVerifyCmd(t *testing.T) {
	out := filepath.Join(t.TempDir(), "pack.json")
	code, stdout, stderr := run("receipt", "--scenario", "over-limit", "--decision", "APPROVED", "--reviewer", "alice", "--out", out)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "REQUIRES_HUMAN_APPROVAL")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var pack contracts.EvidencePack
	require.NoError(t, json.Unmarshal(data, &pack))
	require.NotNil(t, pack.Approval)
	assert.Equal(t, contracts.ApprovalApproved, pack.Approval.Status)
	assert.Equal(t, "alice", pack.Approval.DecidedBy)

	code, stdout, _ = run("verify", "--pack", out)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "valid")

	pack.Request.Transaction.Amount = 1
	tampered, err := json.Marshal(&pack)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(out, tampered, 0600))
	code, stdout, _ = run("verify", "--pack", out)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "INVALID")

	code, _, _ = run("verify")
	assert.Equal(t, 2, code)
}

func TestReceiptCmd_PendingAndValidation(t *testing.T) {
	code, stdout, _ := run("receipt", "--scenario", "over-limit")
	require.Equal(t, 0, code)
	var pack contracts.EvidencePack
	require.NoError(t, json.Unmarshal([]byte(stdout), &pack))
	assert.Equal(t, contracts.ApprovalPending, pack.Approval.Status)

	code, _, _ = run("receipt", "--scenario", "over-limit", "--decision", "MAYBE")
	assert.Equal(t, 2, code)

	code, _, stderr := run("receipt", "--scenario", "normal-purchase", "--decision", "APPROVED", "--reviewer", "alice")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "--decision applies only")

	code, _, stderr = run("receipt", "--scenario", "over-limit", "--decision", "REJECTED", "--reviewer", "")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "--reviewer is required")
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("GATE_APPROVER_SECRET", "")
	code, _, stderr := run("token", "--subject", "alice")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "GATE_APPROVER_SECRET")

	t.Setenv("GATE_APPROVER_SECRET", "cli-test-secret")
	code, _, _ = run("token")
	assert.Equal(t, 2, code)

	code, stdout, _ := run("token", "--subject", "alice")
	require.Equal(t, 0, code)
	tokens, err := auth.NewReviewerTokens("cli-test-secret")
	require.NoError(t, err)
	claims, err := tokens.Verify(strings.TrimSpace(stdout))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
}
