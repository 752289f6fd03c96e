// Package contracts defines the data exchanged by the gate: the agent's transaction
// request, the policy evaluation, the human approval record and the sealed evidence pack.
//
// Field names on the wire are stable. Evidence packs produced by earlier versions
// reference rule identifiers and fields by name, so nothing here may be renamed.
package contracts

import "time"

// AgentType classifies the autonomous agent submitting a transaction.
type AgentType string

const (
	AgentPurchasing AgentType = "PURCHASING"
	AgentTreasury   AgentType = "TREASURY"
	AgentOperations AgentType = "OPERATIONS"
	AgentUnknown    AgentType = "UNKNOWN"
)

// Known reports whether t is one of the recognised agent types other than UNKNOWN.
func (t AgentType) Known() bool {
	switch t {
	case AgentPurchasing, AgentTreasury, AgentOperations:
		return true
	}
	return false
}

// TransactionType is the kind of money movement being proposed.
type TransactionType string

const (
	TransactionPurchase TransactionType = "PURCHASE"
	TransactionTransfer TransactionType = "TRANSFER"
	TransactionRefund   TransactionType = "REFUND"
)

// Request is one agent-initiated transaction proposal.
// A Request is treated as immutable once constructed: nothing in the gate mutates it.
type Request struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Agent       Agent          `json:"agent"`
	Transaction Transaction    `json:"transaction"`
	Context     RequestContext `json:"context"`
}

// Agent identifies the submitting agent.
type Agent struct {
	ID    string    `json:"id"`
	Type  AgentType `json:"type"`
	Name  string    `json:"name"`
	Model string    `json:"model,omitempty"`
}

// Transaction is the proposed money movement.
type Transaction struct {
	Type        TransactionType `json:"type"`
	Amount      float64         `json:"amount"`
	Currency    string          `json:"currency"`
	Recipient   Recipient       `json:"recipient"`
	Description string          `json:"description"`
}

// Recipient is the counterparty. Account is masked or partial.
type Recipient struct {
	Name     string `json:"name"`
	Account  string `json:"account"`
	Verified bool   `json:"verified"`
}

// RequestContext carries session data and the agent's free-text trail.
type RequestContext struct {
	SessionID      string `json:"session_id"`
	IPAddress      string `json:"ip_address"`
	UserPrompt     string `json:"user_prompt,omitempty"`
	AgentReasoning string `json:"agent_reasoning,omitempty"`
}

// Clone returns a copy of r. Request holds no reference types, so a value copy is deep.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
