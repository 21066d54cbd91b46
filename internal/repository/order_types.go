package repository

import "time"

// ── Domain types for the freight overage approval workflow ───────────────────

// OrderStatus is the display status derived from the approval level.
// It is never written independently of the level.
type OrderStatus string

const (
	StatusNew      OrderStatus = "new"
	StatusInReview OrderStatus = "in_review"
	StatusApproved OrderStatus = "approved"
	StatusRejected OrderStatus = "rejected"
)

// Order is a freight-cost overage request under approval.
type Order struct {
	ID            string
	OrderNumber   string
	CreatorID     string
	CreatorPlant  string
	Carrier       *string
	Route         *string
	Reason        *string
	OverageAmount int64 // cents
	Currency      string

	// ApprovalLevel counts completed approvals; 99 is the rejection
	// sentinel. RequiredLevel is the threshold for full approval.
	ApprovalLevel int
	RequiredLevel int
	Status        OrderStatus

	// RecoveryFile references an uploaded recovery document.
	// RecoveryEvidence may only be set while RecoveryFile is set.
	RecoveryFile     *string
	RecoveryEvidence *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Actor is a directory entry resolved for an approval action.
// A nil Plant means the actor holds cross-plant authority.
type Actor struct {
	ID    string
	Level int
	Plant *string
}

// OrderFilter narrows List queries.
type OrderFilter struct {
	Status    *OrderStatus
	Plant     *string
	CreatorID *string
	Page      int
	PageSize  int
}

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID           string
	OrderID      string
	Action       string // approved | rejected | evidence_attached
	PerformedBy  string
	PerformedAt  time.Time
	LevelBefore  int
	LevelAfter   int
	StatusBefore OrderStatus
	StatusAfter  OrderStatus
	Metadata     map[string]interface{}
}
