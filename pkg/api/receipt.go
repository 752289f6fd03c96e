package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/gate/pkg/auth"
	"github.com/Mindburn-Labs/gate/pkg/contracts"
	"github.com/Mindburn-Labs/gate/pkg/escalation"
	"github.com/Mindburn-Labs/gate/pkg/gate"
	"github.com/Mindburn-Labs/gate/pkg/scenarios"
)

// receiptInput is the receipt request body. Exactly one of ScenarioID and
// Request selects the transaction.
type receiptInput struct {
	ScenarioID       *string               `json:"scenario_id"`
	Request          json.RawMessage       `json:"request"`
	Evaluation       *contracts.Evaluation `json:"evaluation"`
	ApprovalDecision *string               `json:"approval_decision"`
	Notes            string                `json:"notes"`
}

// ReceiptResponse carries a sealed pack. DownloadURL is null when no evidence
// store is configured.
type ReceiptResponse struct {
	EvidencePack *contracts.EvidencePack `json:"evidence_pack"`
	DownloadURL  *string                 `json:"download_url"`
}

func receiptResponse(run *gate.Run) *ReceiptResponse {
	out := &ReceiptResponse{EvidencePack: run.Pack}
	if run.DownloadURL != "" {
		u := run.DownloadURL
		out.DownloadURL = &u
	}
	return out
}

func invalidInput(w http.ResponseWriter, msg string) {
	WriteGateError(w, http.StatusBadRequest, CodeInvalidInput, msg)
}

func scenarioChoices() string {
	ids := scenarios.IDs()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return strings.Join(names, ", ")
}

// handleReceipt evaluates and seals one request. An escalated request is
// sealed with the reviewer's decision when approval_decision is given, or
// with its PENDING approval otherwise.
func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readBody(w, r)
	if err != nil || !json.Valid(body) {
		invalidInput(w, "Invalid JSON in request body")
		return
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '{' {
		invalidInput(w, "Request body must be a JSON object")
		return
	}
	var in receiptInput
	if err := json.Unmarshal(body, &in); err != nil {
		invalidInput(w, "Request body must be a JSON object")
		return
	}

	var req *contracts.Request
	hasRequest := len(in.Request) > 0 && !bytes.Equal(bytes.TrimSpace(in.Request), []byte("null"))
	switch {
	case hasRequest:
		req, err = contracts.DecodeRequest(in.Request)
		if err != nil {
			invalidInput(w, err.Error())
			return
		}
	case in.ScenarioID != nil && scenarios.IsValid(*in.ScenarioID):
		req, err = scenarios.Get(*in.ScenarioID)
		if err != nil {
			WriteGateSystemError(w, err)
			return
		}
	default:
		invalidInput(w, "Invalid scenario_id. Must be one of: "+scenarioChoices())
		return
	}

	var decision contracts.ApprovalStatus
	if in.ApprovalDecision != nil {
		decision = contracts.ApprovalStatus(*in.ApprovalDecision)
		if !decision.HumanDecision() {
			invalidInput(w, "Invalid approval_decision. Must be APPROVED or REJECTED")
			return
		}
		if !hasRequest && *in.ScenarioID != string(scenarios.OverLimit) {
			invalidInput(w, "approval_decision is only valid for the over-limit scenario")
			return
		}
	}
	if in.Evaluation != nil && !hasRequest {
		invalidInput(w, "evaluation may only be supplied together with request")
		return
	}

	if decision != "" && hasRequest && !s.orch.Evaluate(ctx, req).Escalated() {
		invalidInput(w, "approval_decision is only valid for REQUIRES_HUMAN_APPROVAL evaluations")
		return
	}

	var reviewer string
	if decision != "" {
		reviewer, err = auth.Authenticate(s.tokens, r)
		if err != nil {
			WriteGateError(w, http.StatusUnauthorized, CodeUnauthorized,
				"approval_decision requires a valid reviewer token")
			return
		}
	}

	var run *gate.Run
	if in.Evaluation != nil {
		run, err = s.orch.OpenEvaluated(ctx, req, in.Evaluation)
	} else {
		run, err = s.orch.Open(ctx, req)
	}
	if err != nil {
		s.writeSealError(w, err)
		return
	}

	if run.State == gate.StateNeedsApproval {
		// The run is parked until a decision arrives; seal what is known now.
		id := run.Approval.DecisionID
		if decision != "" {
			run, err = s.orch.Decide(ctx, id, decision, reviewer, in.Notes)
			if errors.Is(err, escalation.ErrExpired) && run != nil && run.Pack != nil {
				err = nil
			}
		} else {
			run, err = s.orch.Provisional(ctx, id)
		}
		if err != nil {
			s.writeSealError(w, err)
			return
		}
	}

	s.logger.InfoContext(ctx, "receipt issued",
		"request_id", req.ID,
		"gate_id", run.Pack.GateID,
		"verdict", string(run.Pack.Verdict()),
	)
	writeJSON(w, http.StatusOK, receiptResponse(run))
}

func (s *Server) writeSealError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gate.ErrEvaluationMismatch):
		WriteGateError(w, http.StatusConflict, CodeEvaluationMismatch,
			"Supplied evaluation does not match the policy evaluation of this request")
	case errors.Is(err, gate.ErrPublishTimeout):
		s.logger.Error("evidence publish timed out", "error", err)
		WriteGateError(w, http.StatusGatewayTimeout, CodeSealTimeout,
			"Evidence publication timed out — gate evaluation defaulted to BLOCKED")
	case errors.Is(err, gate.ErrPendingLimit):
		s.logger.Warn("approval queue full", "error", err)
		w.Header().Set("Retry-After", "60")
		WriteGateError(w, http.StatusServiceUnavailable, CodeApprovalQueueFull,
			"Too many requests are awaiting human approval — gate evaluation defaulted to BLOCKED")
	default:
		WriteGateSystemError(w, err)
	}
}
