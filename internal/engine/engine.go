// Package engine implements the approval decision logic for freight
// overage orders. All functions are pure over the order snapshot and
// actor passed in: the engine performs no I/O and returns instructions
// (new level, new label, who to notify) for the caller to apply.
package engine

import (
	"fmt"

	"github.com/pesio-ai/be-freight-overages/internal/apperrors"
	"github.com/pesio-ai/be-freight-overages/internal/repository"
)

const (
	// LevelRejected is the absorbing rejection sentinel. A rejection at
	// any pending level terminates the whole chain.
	LevelRejected = 99

	// DefaultRequiredLevel is the approval threshold used when an order
	// carries no cost-bracket override.
	DefaultRequiredLevel = 7
)

// NotificationKind names the side-effect instruction attached to a decision.
type NotificationKind string

const (
	NotifyNextApprover      NotificationKind = "next-approver"
	NotifyRejected          NotificationKind = "rejected"
	NotifyEvidenceRequested NotificationKind = "evidence-requested"
)

// Notification tells the caller who is due a message after a transition.
// TargetLevel is set for next-approver notifications, TargetUser for
// creator-directed ones.
type Notification struct {
	Kind        NotificationKind
	TargetLevel int
	TargetUser  string
}

// Decision is the outcome of an approve or reject call. The caller must
// persist NewLevel and NewStatus as one atomic write before dispatching
// the notification.
type Decision struct {
	NewLevel  int
	NewStatus repository.OrderStatus
	Terminal  bool
	Notify    *Notification
}

// StatusForLevel derives the display status from the approval level.
// This is the only place the mapping exists; no code path writes a
// status that disagrees with the level.
func StatusForLevel(level, required int) repository.OrderStatus {
	switch {
	case level == LevelRejected:
		return repository.StatusRejected
	case level >= required:
		return repository.StatusApproved
	case level == 0:
		return repository.StatusNew
	default:
		return repository.StatusInReview
	}
}

// Terminal reports whether no further approval or rejection may occur.
func Terminal(o *repository.Order) bool {
	return o.ApprovalLevel == LevelRejected || o.ApprovalLevel >= o.RequiredLevel
}

// CanAct reports whether the actor may approve or reject the order in
// its current state:
//
//  1. terminal orders accept no action;
//  2. only the exact next level may act — skipping levels is not
//     permitted, and a level that already approved cannot act again;
//  3. a plant-affiliated actor may only act on orders from their own
//     plant. An actor with no plant affiliation holds cross-plant
//     authority (policy decision, kept as specified).
func CanAct(actor repository.Actor, o *repository.Order) bool {
	if Terminal(o) {
		return false
	}
	if actor.Level != o.ApprovalLevel+1 {
		return false
	}
	if actor.Plant != nil && *actor.Plant != o.CreatorPlant {
		return false
	}
	return true
}

// Approve computes the transition for one approval. The returned
// decision advances the level by exactly one, recomputes the status and
// instructs notification of the new next approver unless the order just
// became fully approved.
func Approve(actor repository.Actor, o *repository.Order) (*Decision, error) {
	if err := gate(actor, o); err != nil {
		return nil, err
	}

	newLevel := o.ApprovalLevel + 1
	d := &Decision{
		NewLevel:  newLevel,
		NewStatus: StatusForLevel(newLevel, o.RequiredLevel),
		Terminal:  newLevel >= o.RequiredLevel,
	}
	if !d.Terminal {
		d.Notify = &Notification{Kind: NotifyNextApprover, TargetLevel: newLevel + 1}
	}
	return d, nil
}

// Reject computes the transition for a rejection. Rejection at any
// pending level terminates the entire chain; the creator is due a
// notification instead of a next approver.
func Reject(actor repository.Actor, o *repository.Order) (*Decision, error) {
	if err := gate(actor, o); err != nil {
		return nil, err
	}

	return &Decision{
		NewLevel:  LevelRejected,
		NewStatus: repository.StatusRejected,
		Terminal:  true,
		Notify:    &Notification{Kind: NotifyRejected, TargetUser: o.CreatorID},
	}, nil
}

// gate maps a failed CanAct to the error the client needs: terminal
// orders are distinguished from plain ineligibility so a stale client
// knows to refresh.
func gate(actor repository.Actor, o *repository.Order) error {
	if Terminal(o) {
		return apperrors.New(apperrors.ErrCodeAlreadyTerminal,
			fmt.Sprintf("order %s is already %s", o.ID, StatusForLevel(o.ApprovalLevel, o.RequiredLevel)))
	}
	if !CanAct(actor, o) {
		return apperrors.New(apperrors.ErrCodeIneligibleActor,
			fmt.Sprintf("actor %s (level %d) may not act on order %s at level %d",
				actor.ID, actor.Level, o.ID, o.ApprovalLevel))
	}
	return nil
}

// ValidateOrder enforces the order invariants after load, so the rest
// of the service operates on a value known to be consistent.
func ValidateOrder(o *repository.Order) error {
	if o.RequiredLevel < 1 {
		return apperrors.InvalidInput("required_level", "must be at least 1")
	}
	if o.ApprovalLevel != LevelRejected && (o.ApprovalLevel < 0 || o.ApprovalLevel > o.RequiredLevel) {
		return apperrors.InvalidInput("approval_level",
			fmt.Sprintf("%d outside [0, %d]", o.ApprovalLevel, o.RequiredLevel))
	}
	if o.Status != StatusForLevel(o.ApprovalLevel, o.RequiredLevel) {
		return apperrors.New(apperrors.ErrCodeInternal,
			fmt.Sprintf("order %s status %q inconsistent with level %d", o.ID, o.Status, o.ApprovalLevel))
	}
	if o.RecoveryEvidence != nil && o.RecoveryFile == nil {
		return apperrors.New(apperrors.ErrCodeInternal,
			fmt.Sprintf("order %s has recovery evidence without a recovery file", o.ID))
	}
	return nil
}

// pendingRoles maps an order's current approval level to the role whose
// sign-off is pending. Presentation metadata only; eligibility never
// consults it.
var pendingRoles = map[int]string{
	0: "Logistics Manager",
	1: "Controlling",
	2: "Plant Manager",
	3: "Head of Logistics",
	4: "Finance Director",
	5: "VP Operations",
	6: "Managing Director",
}

// PendingRole returns the display name of the role expected to act next
// on an order at the given approval level.
func PendingRole(level int) string {
	if name, ok := pendingRoles[level]; ok {
		return name
	}
	return fmt.Sprintf("Level %d", level+1)
}
