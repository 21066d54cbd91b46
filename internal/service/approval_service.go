package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-freight-overages/internal/apperrors"
	"github.com/pesio-ai/be-freight-overages/internal/engine"
	"github.com/pesio-ai/be-freight-overages/internal/logger"
	"github.com/pesio-ai/be-freight-overages/internal/repository"
)

// OrderStore is the persistence contract for freight orders. The
// concrete implementation is repository.OrderRepository; tests run
// against an in-memory fake.
type OrderStore interface {
	Create(ctx context.Context, order *repository.Order) error
	GetByID(ctx context.Context, id string) (*repository.Order, error)
	List(ctx context.Context, filter repository.OrderFilter) ([]*repository.Order, int64, error)
	ListPendingForActor(ctx context.Context, actor repository.Actor) ([]*repository.Order, error)
	// ApplyTransition writes level and status together, compare-and-swapped
	// on the expected previous level. Implementations must guarantee the
	// two columns can never land separately.
	ApplyTransition(ctx context.Context, id string, expectedLevel, newLevel int, newStatus repository.OrderStatus) (*repository.Order, error)
	SetRecoveryEvidence(ctx context.Context, id, fileRef string) (*repository.Order, error)
}

// Directory resolves actors against the authorization directory.
type Directory interface {
	Resolve(ctx context.Context, userID string) (*repository.Actor, error)
	UsersAtLevel(ctx context.Context, level int, plant string) ([]string, error)
}

// AuditLog records approval actions. Append failures are logged, never
// propagated.
type AuditLog interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	GetByOrderID(ctx context.Context, orderID string) ([]*repository.AuditEntry, error)
}

// Notifier dispatches approval events. Implementations must be
// fire-and-forget: a failed dispatch never surfaces to the actor.
type Notifier interface {
	PublishOrderEvent(ctx context.Context, eventType, orderID, actorID string, recipients []string, payload map[string]interface{})
}

// ApprovalService orchestrates the freight overage approval workflow:
// it loads order snapshots, delegates every decision to the engine,
// persists the resulting transition atomically and dispatches the
// engine's notification instructions.
type ApprovalService struct {
	orders    OrderStore
	directory Directory
	audit     AuditLog
	notifier  Notifier
	log       *logger.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	orders OrderStore,
	directory Directory,
	audit AuditLog,
	notifier Notifier,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		orders:    orders,
		directory: directory,
		audit:     audit,
		notifier:  notifier,
		log:       log,
	}
}

// ── Intake ────────────────────────────────────────────────────────────────────

// CreateOrderRequest represents an order intake request.
type CreateOrderRequest struct {
	OrderNumber   string
	CreatorID     string
	CreatorPlant  string
	Carrier       *string
	Route         *string
	Reason        *string
	OverageAmount int64 // cents
	Currency      string
	RequiredLevel int     // 0 = derive from the overage amount bracket
	RecoveryFile  *string // set when the request originates from a recovery case
}

// Overage cost brackets (cents) deciding how far an order must climb
// when the intake does not pin a required level explicitly.
const (
	bracketMinorCents = 500_000   // below: 3 approvals
	bracketMajorCents = 2_500_000 // below: 5 approvals, at/above: full chain
)

// CreateOrder files a new overage request at level 0 and notifies the
// first approver level.
func (s *ApprovalService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*repository.Order, error) {
	if req.OrderNumber == "" {
		return nil, apperrors.InvalidInput("order_number", "is required")
	}
	if req.CreatorID == "" {
		return nil, apperrors.InvalidInput("creator_id", "is required")
	}
	if req.CreatorPlant == "" {
		return nil, apperrors.InvalidInput("creator_plant", "is required")
	}
	if req.OverageAmount <= 0 {
		return nil, apperrors.InvalidInput("overage_amount", "must be positive")
	}
	if req.RequiredLevel < 0 {
		return nil, apperrors.InvalidInput("required_level", "must not be negative")
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = "EUR"
	}

	required := req.RequiredLevel
	if required == 0 {
		required = requiredLevelForAmount(req.OverageAmount)
	}

	order := &repository.Order{
		OrderNumber:   req.OrderNumber,
		CreatorID:     req.CreatorID,
		CreatorPlant:  req.CreatorPlant,
		Carrier:       req.Carrier,
		Route:         req.Route,
		Reason:        req.Reason,
		OverageAmount: req.OverageAmount,
		Currency:      currency,
		ApprovalLevel: 0,
		RequiredLevel: required,
		Status:        engine.StatusForLevel(0, required),
		RecoveryFile:  req.RecoveryFile,
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", order.ID).
		Str("order_number", order.OrderNumber).
		Int("required_level", order.RequiredLevel).
		Msg("Overage order created")

	s.notifyLevel(ctx, order, 1, "approval_required", order.CreatorID, map[string]interface{}{
		"order_number": order.OrderNumber,
		"pending_role": engine.PendingRole(order.ApprovalLevel),
	})

	return order, nil
}

// requiredLevelForAmount maps an overage amount to its approval chain
// depth.
func requiredLevelForAmount(cents int64) int {
	switch {
	case cents < bracketMinorCents:
		return 3
	case cents < bracketMajorCents:
		return 5
	default:
		return engine.DefaultRequiredLevel
	}
}

// ── Approve ───────────────────────────────────────────────────────────────────

// Approve advances the order by one level on behalf of the actor. The
// level and derived status are written as one atomic compare-and-swap;
// a concurrent transition makes the loser fail eligibility instead of
// double-incrementing.
func (s *ApprovalService) Approve(ctx context.Context, orderID, actorID string) (*repository.Order, error) {
	order, actor, err := s.loadForAction(ctx, orderID, actorID)
	if err != nil {
		return nil, err
	}

	decision, err := engine.Approve(*actor, order)
	if err != nil {
		return nil, err
	}

	updated, err := s.orders.ApplyTransition(ctx, orderID, order.ApprovalLevel, decision.NewLevel, decision.NewStatus)
	if err != nil {
		return nil, s.resolveTransitionError(ctx, err, orderID, *actor)
	}

	s.log.Info().
		Str("order_id", orderID).
		Str("actor_id", actorID).
		Int("new_level", decision.NewLevel).
		Str("status", string(decision.NewStatus)).
		Msg("Order approved")

	s.appendAudit(ctx, &repository.AuditEntry{
		OrderID:      orderID,
		Action:       "approved",
		PerformedBy:  actorID,
		LevelBefore:  order.ApprovalLevel,
		LevelAfter:   decision.NewLevel,
		StatusBefore: order.Status,
		StatusAfter:  decision.NewStatus,
		Metadata: map[string]interface{}{
			"actor_level":  actor.Level,
			"order_number": order.OrderNumber,
		},
	})

	// Side effects after the committed transition; failures here never
	// roll back or mask the approval.
	if decision.Terminal {
		s.notifier.PublishOrderEvent(ctx, "order_approved", orderID, actorID,
			[]string{order.CreatorID}, map[string]interface{}{"order_number": order.OrderNumber})
	} else if decision.Notify != nil && decision.Notify.Kind == engine.NotifyNextApprover {
		s.notifyLevel(ctx, updated, decision.Notify.TargetLevel, "approval_required", actorID, map[string]interface{}{
			"order_number": order.OrderNumber,
			"pending_role": engine.PendingRole(updated.ApprovalLevel),
		})
	}

	return updated, nil
}

// ── Reject ────────────────────────────────────────────────────────────────────

// Reject terminates the chain on behalf of the actor. The same
// eligibility gate applies as for approval; the creator is notified
// instead of a next approver.
func (s *ApprovalService) Reject(ctx context.Context, orderID, actorID, reason string) (*repository.Order, error) {
	if reason == "" {
		return nil, apperrors.InvalidInput("reason", "rejection reason is required")
	}

	order, actor, err := s.loadForAction(ctx, orderID, actorID)
	if err != nil {
		return nil, err
	}

	decision, err := engine.Reject(*actor, order)
	if err != nil {
		return nil, err
	}

	updated, err := s.orders.ApplyTransition(ctx, orderID, order.ApprovalLevel, decision.NewLevel, decision.NewStatus)
	if err != nil {
		return nil, s.resolveTransitionError(ctx, err, orderID, *actor)
	}

	s.log.Info().
		Str("order_id", orderID).
		Str("actor_id", actorID).
		Str("reason", reason).
		Msg("Order rejected")

	s.appendAudit(ctx, &repository.AuditEntry{
		OrderID:      orderID,
		Action:       "rejected",
		PerformedBy:  actorID,
		LevelBefore:  order.ApprovalLevel,
		LevelAfter:   decision.NewLevel,
		StatusBefore: order.Status,
		StatusAfter:  decision.NewStatus,
		Metadata: map[string]interface{}{
			"reason":       reason,
			"actor_level":  actor.Level,
			"order_number": order.OrderNumber,
		},
	})

	s.notifier.PublishOrderEvent(ctx, "order_rejected", orderID, actorID,
		[]string{decision.Notify.TargetUser}, map[string]interface{}{
			"order_number": order.OrderNumber,
			"reason":       reason,
		})

	return updated, nil
}

// ── Recovery evidence ─────────────────────────────────────────────────────────

// AttachEvidence stores the follow-up evidence document reference for
// an order's recovery case. Decoupled from approval progress: terminal
// orders accept evidence too.
func (s *ApprovalService) AttachEvidence(ctx context.Context, orderID, actorID, fileRef string) (*repository.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	decision, err := engine.AttachEvidence(order, fileRef)
	if err != nil {
		return nil, err
	}

	updated, err := s.orders.SetRecoveryEvidence(ctx, orderID, decision.FileRef)
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		OrderID:      orderID,
		Action:       "evidence_attached",
		PerformedBy:  actorID,
		LevelBefore:  order.ApprovalLevel,
		LevelAfter:   order.ApprovalLevel,
		StatusBefore: order.Status,
		StatusAfter:  order.Status,
		Metadata:     map[string]interface{}{"file_ref": decision.FileRef},
	})

	if decision.ClearAlert {
		s.notifier.PublishOrderEvent(ctx, "evidence_cleared", orderID, actorID,
			[]string{order.CreatorID}, map[string]interface{}{"order_number": order.OrderNumber})
	}

	return updated, nil
}

// RequestEvidence re-issues the missing-evidence notification for an
// order whose recovery case still lacks its follow-up document.
func (s *ApprovalService) RequestEvidence(ctx context.Context, orderID, actorID string) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !engine.NeedsEvidence(order) {
		return apperrors.New(apperrors.ErrCodeConflict, "order is not missing recovery evidence")
	}

	s.notifier.PublishOrderEvent(ctx, "evidence_requested", orderID, actorID,
		[]string{order.CreatorID}, map[string]interface{}{"order_number": order.OrderNumber})
	return nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetOrder returns a single validated order snapshot.
func (s *ApprovalService) GetOrder(ctx context.Context, orderID string) (*repository.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := engine.ValidateOrder(order); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns orders matching the filter plus a total count.
func (s *ApprovalService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]*repository.Order, int64, error) {
	return s.orders.List(ctx, filter)
}

// ListPendingForActor returns the orders currently awaiting the actor's
// sign-off.
func (s *ApprovalService) ListPendingForActor(ctx context.Context, actorID string) ([]*repository.Order, error) {
	actor, err := s.directory.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return s.orders.ListPendingForActor(ctx, *actor)
}

// GetHistory returns the full approval audit trail for an order.
func (s *ApprovalService) GetHistory(ctx context.Context, orderID string) ([]*repository.AuditEntry, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.audit.GetByOrderID(ctx, orderID)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// loadForAction fetches the order snapshot and resolves the actor,
// validating invariants before any decision is taken.
func (s *ApprovalService) loadForAction(ctx context.Context, orderID, actorID string) (*repository.Order, *repository.Actor, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if err := engine.ValidateOrder(order); err != nil {
		return nil, nil, err
	}

	actor, err := s.directory.Resolve(ctx, actorID)
	if err != nil {
		return nil, nil, err
	}
	return order, actor, nil
}

// resolveTransitionError turns a compare-and-swap conflict into the
// eligibility error the actor would get against the fresh snapshot, so
// a double-click reads as "already approved" rather than a raw conflict.
func (s *ApprovalService) resolveTransitionError(ctx context.Context, err error, orderID string, actor repository.Actor) error {
	if !apperrors.HasCode(err, apperrors.ErrCodeConflict) {
		return err
	}
	fresh, getErr := s.orders.GetByID(ctx, orderID)
	if getErr != nil {
		return err
	}
	if _, gateErr := engine.Approve(actor, fresh); gateErr != nil {
		return gateErr
	}
	return err
}

// notifyLevel fans a notification out to every directory user at the
// target level who can see the order's plant.
func (s *ApprovalService) notifyLevel(ctx context.Context, order *repository.Order, level int, eventType, actorID string, payload map[string]interface{}) {
	recipients, err := s.directory.UsersAtLevel(ctx, level, order.CreatorPlant)
	if err != nil {
		s.log.Warn().Err(err).
			Str("order_id", order.ID).
			Int("level", level).
			Msg("Could not resolve notification recipients")
		return
	}
	s.notifier.PublishOrderEvent(ctx, eventType, order.ID, actorID, recipients, payload)
}

// appendAudit writes an audit entry and logs a warning on failure
// (never returns error).
func (s *ApprovalService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("order_id", entry.OrderID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}
