package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Mindburn-Labs/gate/pkg/contracts"
	"github.com/Mindburn-Labs/gate/pkg/evidence"
	"github.com/Mindburn-Labs/gate/pkg/pdp"
	"github.com/Mindburn-Labs/gate/pkg/scenarios"
)

// readBody reads at most maxBodyBytes.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return io.ReadAll(r.Body)
}

// handleEvaluate runs the cascade against a schema-valid request document.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		WriteBadRequest(w, "Request body too large or unreadable")
		return
	}
	req, err := contracts.DecodeRequest(body)
	if err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	eval := s.orch.Evaluate(r.Context(), req)
	writeJSON(w, http.StatusOK, eval)
}

// handleVerify recomputes a pack's hashes.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		WriteBadRequest(w, "Request body too large or unreadable")
		return
	}
	var pack contracts.EvidencePack
	if err := json.Unmarshal(body, &pack); err != nil {
		WriteBadRequest(w, "Invalid JSON in request body")
		return
	}

	v, err := evidence.Verify(&pack)
	switch {
	case errors.Is(err, evidence.ErrMalformedPack), errors.Is(err, evidence.ErrUnsupportedVersion):
		WriteErrorR(w, r, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
		return
	case err != nil:
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type rulesResponse struct {
	PolicyVersion string            `json:"policy_version"`
	PolicyHash    string            `json:"policy_hash"`
	Rules         []pdp.RuleDisplay `json:"rules"`
}

func (s *Server) handleRules(w http.ResponseWriter, _ *http.Request) {
	ev := s.orch.Evaluator()
	writeJSON(w, http.StatusOK, &rulesResponse{
		PolicyVersion: ev.Policy().Version,
		PolicyHash:    ev.PolicyHash(),
		Rules:         ev.Display(),
	})
}

func (s *Server) handleScenarios(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": scenarios.AllMeta()})
}
