package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Mindburn-Labs/gate/pkg/auth"
	"github.com/Mindburn-Labs/gate/pkg/contracts"
	"github.com/Mindburn-Labs/gate/pkg/escalation"
	"github.com/Mindburn-Labs/gate/pkg/gate"
	"github.com/Mindburn-Labs/gate/pkg/store"
)

// DecisionRequest is the body of a reviewer decision.
type DecisionRequest struct {
	Status contracts.ApprovalStatus `json:"status"`
	Notes  string                   `json:"notes,omitempty"`
}

// DecisionResponse reports the recorded approval and, when the run was still
// held by this process, the pack sealed with it.
type DecisionResponse struct {
	Approval     *contracts.ApprovalRecord `json:"approval"`
	EvidencePack *contracts.EvidencePack   `json:"evidence_pack"`
	DownloadURL  *string                   `json:"download_url"`
}

// ApprovalResponse is an approval record and the state of its run.
type ApprovalResponse struct {
	Approval *contracts.ApprovalRecord `json:"approval"`
	State    gate.State                `json:"state,omitempty"`
}

// handleApproval returns a record with passive expiry applied.
func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.orch.Approvals().Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		WriteNotFound(w, "approval not found")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}

	resp := &ApprovalResponse{Approval: rec}
	if run, ok := s.orch.Pending(id); ok {
		resp.State = run.State
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDecision records a reviewer's decision and seals the waiting run.
// The reviewer is the token subject.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	reviewer, ok := auth.ReviewerFrom(ctx)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		WriteBadRequest(w, "Request body too large or unreadable")
		return
	}
	var in DecisionRequest
	if err := json.Unmarshal(body, &in); err != nil {
		WriteBadRequest(w, "Invalid JSON in request body")
		return
	}

	run, err := s.orch.Decide(ctx, id, in.Status, reviewer, in.Notes)
	switch {
	case err == nil:
	case errors.Is(err, escalation.ErrInvalidDecision), errors.Is(err, escalation.ErrMissingActor):
		WriteBadRequest(w, err.Error())
		return
	case errors.Is(err, store.ErrNotFound):
		WriteNotFound(w, "approval not found")
		return
	case errors.Is(err, escalation.ErrAlreadyDecided):
		WriteConflict(w, "approval already decided")
		return
	case errors.Is(err, escalation.ErrExpired):
		WriteGone(w, "approval request has expired")
		return
	case errors.Is(err, gate.ErrRunNotFound):
		// Decision stored but no run is held in this process.
		rec, gerr := s.orch.Approvals().Get(ctx, id)
		if gerr != nil {
			WriteInternal(w, gerr)
			return
		}
		writeJSON(w, http.StatusOK, &DecisionResponse{Approval: rec})
		return
	default:
		s.writeSealError(w, err)
		return
	}

	s.logger.InfoContext(ctx, "approval decided",
		"decision_id", id,
		"status", string(run.Approval.Status),
		"decided_by", reviewer,
		"gate_id", run.Pack.GateID,
	)
	rr := receiptResponse(run)
	writeJSON(w, http.StatusOK, &DecisionResponse{
		Approval:     run.Approval,
		EvidencePack: rr.EvidencePack,
		DownloadURL:  rr.DownloadURL,
	})
}
