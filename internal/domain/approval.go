package domain

import "errors"

// Approval statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// PendingApproval is a destructive action waiting for a human decision.
type PendingApproval struct {
	ID          string `json:"id"`
	Tool        string `json:"tool"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt"`
	Metadata    string `json:"metadata"` // JSON with extra context, e.g. the target collection
}

var ErrApprovalNotFound = errors.New("approval not found")

// ApprovalStore persists approvals so another process can decide them.
type ApprovalStore interface {
	CreateApproval(a *PendingApproval) error
	ApprovalStatus(id string) (string, error)
	ListPendingApprovals() ([]PendingApproval, error)
	ResolveApproval(id string, approved bool) error
	DeleteApproval(id string) error
}
