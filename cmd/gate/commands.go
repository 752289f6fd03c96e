package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Mindburn-Labs/gate/pkg/auth"
	"github.com/Mindburn-Labs/gate/pkg/contracts"
	"github.com/Mindburn-Labs/gate/pkg/escalation"
	"github.com/Mindburn-Labs/gate/pkg/evidence"
	"github.com/Mindburn-Labs/gate/pkg/gate"
	"github.com/Mindburn-Labs/gate/pkg/pdp"
	"github.com/Mindburn-Labs/gate/pkg/scenarios"
)

func loadEvaluator(policyPath string) (*pdp.Evaluator, error) {
	policy := pdp.DefaultPolicy()
	if policyPath != "" {
		p, err := pdp.LoadPolicyFile(policyPath)
		if err != nil {
			return nil, err
		}
		policy = p
	}
	return pdp.NewEvaluator(policy)
}

// loadRequest reads a request from exactly one of a scenario id or a JSON file.
func loadRequest(scenarioID, file string) (*contracts.Request, error) {
	switch {
	case scenarioID != "" && file != "":
		return nil, errors.New("--scenario and --file are mutually exclusive")
	case scenarioID != "":
		return scenarios.Get(scenarioID)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		return contracts.DecodeRequest(data)
	default:
		return nil, errors.New("one of --scenario or --file is required")
	}
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runEvaluateCmd implements `gate evaluate`. It exits 0 whatever the verdict.
func runEvaluateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var scenarioID, file, policyPath string
	cmd.StringVar(&scenarioID, "scenario", "", "Built-in scenario id")
	cmd.StringVar(&file, "file", "", "Path to a request JSON document")
	cmd.StringVar(&policyPath, "policy", os.Getenv("GATE_POLICY_FILE"), "Policy YAML file")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if (scenarioID == "") == (file == "") {
		_, _ = fmt.Fprintln(stderr, "Error: exactly one of --scenario or --file is required")
		return 2
	}

	ev, err := loadEvaluator(policyPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	req, err := loadRequest(scenarioID, file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := writeIndented(stdout, ev.Evaluate(req)); err != nil {
		return 1
	}
	return 0
}

// runReceiptCmd implements `gate receipt`: evaluate and seal one request
// locally. Escalated requests are sealed PENDING unless --decision is given.
func runReceiptCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("receipt", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var scenarioID, file, policyPath, decision, reviewer, notes, out string
	cmd.StringVar(&scenarioID, "scenario", "", "Built-in scenario id")
	cmd.StringVar(&file, "file", "", "Path to a request JSON document")
	cmd.StringVar(&policyPath, "policy", os.Getenv("GATE_POLICY_FILE"), "Policy YAML file")
	cmd.StringVar(&decision, "decision", "", "Reviewer decision for escalated requests: APPROVED or REJECTED")
	cmd.StringVar(&reviewer, "reviewer", os.Getenv("USER"), "Reviewer recorded as decided_by")
	cmd.StringVar(&notes, "notes", "", "Reviewer notes")
	cmd.StringVar(&out, "out", "", "Write the evidence pack to this file instead of stdout")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if (scenarioID == "") == (file == "") {
		_, _ = fmt.Fprintln(stderr, "Error: exactly one of --scenario or --file is required")
		return 2
	}
	status := contracts.ApprovalStatus(decision)
	if decision != "" && !status.HumanDecision() {
		_, _ = fmt.Fprintln(stderr, "Error: --decision must be APPROVED or REJECTED")
		return 2
	}

	ev, err := loadEvaluator(policyPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	req, err := loadRequest(scenarioID, file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	orch := gate.NewOrchestrator(ev, nil)
	run, err := orch.Open(ctx, req)
	if err == nil && run.State == gate.StateNeedsApproval {
		if decision != "" {
			run, err = orch.Decide(ctx, run.Approval.DecisionID, status, reviewer, notes)
		} else {
			run, err = orch.Provisional(ctx, run.Approval.DecisionID)
		}
	} else if err == nil && decision != "" {
		_, _ = fmt.Fprintf(stderr, "Error: --decision applies only to %s evaluations (got %s)\n",
			contracts.VerdictRequiresHumanApproval, run.Verdict())
		return 2
	}
	if err != nil {
		if errors.Is(err, escalation.ErrMissingActor) {
			_, _ = fmt.Fprintln(stderr, "Error: --reviewer is required with --decision")
			return 2
		}
		_, _ = fmt.Fprintf(stderr, "Receipt generation failed — gate evaluation defaulted to BLOCKED: %v\n", err)
		return 1
	}

	w := stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	if err := writeIndented(w, run.Pack); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if out != "" {
		_, _ = fmt.Fprintf(stdout, "%s %s receipt=%s -> %s\n", run.Pack.GateID, run.Pack.Verdict(), run.Pack.ReceiptHash, out)
	}
	return 0
}

// runVerifyCmd implements `gate verify`.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = usage or read error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var packPath string
	var jsonOutput bool
	cmd.StringVar(&packPath, "pack", "", "Path to an evidence pack JSON file (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if packPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --pack is required")
		return 2
	}

	data, err := os.ReadFile(packPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	var pack contracts.EvidencePack
	if err := json.Unmarshal(data, &pack); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: invalid pack JSON: %v\n", err)
		return 2
	}

	v, err := evidence.Verify(&pack)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Verification failed: %v\n", err)
		return 1
	}
	if jsonOutput {
		_ = writeIndented(stdout, v)
	} else {
		_, _ = fmt.Fprintln(stdout, v.Summary())
		for _, m := range v.Mismatches {
			_, _ = fmt.Fprintf(stdout, "  %s: recorded %s, computed %s\n", m.Field, m.Recorded, m.Computed)
		}
	}
	if !v.Valid {
		return 1
	}
	return 0
}

func runRulesCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("rules", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var policyPath string
	var jsonOutput bool
	cmd.StringVar(&policyPath, "policy", os.Getenv("GATE_POLICY_FILE"), "Policy YAML file")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ev, err := loadEvaluator(policyPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if jsonOutput {
		_ = writeIndented(stdout, map[string]any{
			"policy_version": ev.Policy().Version,
			"policy_hash":    ev.PolicyHash(),
			"rules":          ev.Display(),
		})
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "policy %s (%s)\n", ev.Policy().Version, ev.PolicyHash())
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PRIORITY\tID\tVERDICT\tRISK\tNAME")
	for _, r := range ev.Display() {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.Priority, r.ID, r.Verdict, r.RiskLevel, r.Name)
	}
	_ = tw.Flush()
	return 0
}

func runScenariosCmd(stdout io.Writer) int {
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tAMOUNT\tEXPECTED\tDESCRIPTION")
	for _, m := range scenarios.AllMeta() {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Amount, m.ExpectedVerdict, m.Description)
	}
	_ = tw.Flush()
	return 0
}

// runTokenCmd mints a reviewer token signed with GATE_APPROVER_SECRET.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var subject string
	var ttl time.Duration
	cmd.StringVar(&subject, "subject", "", "Reviewer identity (REQUIRED)")
	cmd.DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "Token lifetime")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if subject == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --subject is required")
		return 2
	}

	tokens, err := auth.NewReviewerTokens(os.Getenv("GATE_APPROVER_SECRET"))
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error: GATE_APPROVER_SECRET is not set")
		return 1
	}
	tok, err := tokens.Mint(subject, ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, tok)
	return 0
}
