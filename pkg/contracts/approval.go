package contracts

import "time"

// ApprovalStatus represents the current state of a human approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalExpired  ApprovalStatus = "EXPIRED"
)

// Terminal reports whether s admits no further transition.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalExpired
}

// HumanDecision reports whether s is a status that only a human may set.
func (s ApprovalStatus) HumanDecision() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// AutoActionExpire is the only action the system takes on an unattended approval.
// An approval is never granted by timeout.
const AutoActionExpire = "EXPIRE"

// DefaultApprovalTTL is the window a reviewer has before a pending approval expires.
const DefaultApprovalTTL = 72 * time.Hour

// ApprovalRecord tracks the human decision on one escalated request.
type ApprovalRecord struct {
	DecisionID  string         `json:"decision_id"`
	RequestID   string         `json:"request_id,omitempty"`
	Status      ApprovalStatus `json:"status"`
	RequestedAt time.Time      `json:"requested_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
	DecidedBy   string         `json:"decided_by,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	AutoAction  string         `json:"auto_action"`
}

// ExpiredAt reports whether the record has reached its expiry at now.
func (a *ApprovalRecord) ExpiredAt(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// Clone returns a deep copy of a.
func (a *ApprovalRecord) Clone() *ApprovalRecord {
	if a == nil {
		return nil
	}
	c := *a
	if a.DecidedAt != nil {
		t := *a.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}
