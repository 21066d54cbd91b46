package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-freight-overages/internal/apperrors"
	"github.com/pesio-ai/be-freight-overages/internal/database"
)

// OrderRepository handles freight order data operations.
type OrderRepository struct {
	db *database.DB
}

// NewOrderRepository creates a new order repository.
func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `
	id, order_number, creator_id, creator_plant,
	carrier, route, reason, overage_amount_cents, currency,
	approval_level, required_level, status,
	recovery_file, recovery_evidence,
	created_at, updated_at
`

// Create inserts a new order. Level and status must already be the
// consistent initial pair (level 0, status new).
func (r *OrderRepository) Create(ctx context.Context, order *Order) error {
	query := `
		INSERT INTO freight_orders
		    (order_number, creator_id, creator_plant,
		     carrier, route, reason, overage_amount_cents, currency,
		     approval_level, required_level, status,
		     recovery_file)
		VALUES ($1, $2, $3,
		        $4, $5, $6, $7, $8,
		        $9, $10, $11::order_status,
		        $12)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		order.OrderNumber,
		order.CreatorID,
		order.CreatorPlant,
		order.Carrier,
		order.Route,
		order.Reason,
		order.OverageAmount,
		order.Currency,
		order.ApprovalLevel,
		order.RequiredLevel,
		order.Status,
		order.RecoveryFile,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create order")
	}
	return nil
}

// GetByID retrieves an order by primary key.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*Order, error) {
	query := `SELECT` + orderColumns + `FROM freight_orders WHERE id = $1`

	order, err := r.scanOrder(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("order", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get order")
	}
	return order, nil
}

// List returns orders matching the filter with a total count.
func (r *OrderRepository) List(ctx context.Context, filter OrderFilter) ([]*Order, int64, error) {
	where := " WHERE 1=1"
	args := []any{}
	n := 0

	if filter.Status != nil {
		n++
		where += fmt.Sprintf(" AND status = $%d::order_status", n)
		args = append(args, *filter.Status)
	}
	if filter.Plant != nil {
		n++
		where += fmt.Sprintf(" AND creator_plant = $%d", n)
		args = append(args, *filter.Plant)
	}
	if filter.CreatorID != nil {
		n++
		where += fmt.Sprintf(" AND creator_id = $%d", n)
		args = append(args, *filter.CreatorID)
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM freight_orders` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to count orders")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 50
	}

	query := `SELECT` + orderColumns + `FROM freight_orders` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list orders")
	}
	defer rows.Close()

	orders, err := r.scanRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListPendingForActor returns non-terminal orders currently awaiting the
// actor: orders whose next required level equals the actor's level, scoped
// to the actor's plant unless the actor holds cross-plant authority.
func (r *OrderRepository) ListPendingForActor(ctx context.Context, actor Actor) ([]*Order, error) {
	query := `SELECT` + orderColumns + `
		FROM freight_orders
		WHERE approval_level + 1 = $1
		  AND approval_level < required_level
		  AND ($2::text IS NULL OR creator_plant = $2)
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, actor.Level, actor.Plant)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list pending orders")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ApplyTransition writes the new approval level and derived status as a
// single compare-and-swap guarded on the expected previous level. Level
// and status can never land separately: either both columns move or
// neither does. A concurrent transition that already advanced the level
// surfaces as a CONFLICT so the caller can re-read and re-gate.
func (r *OrderRepository) ApplyTransition(
	ctx context.Context,
	id string,
	expectedLevel, newLevel int,
	newStatus OrderStatus,
) (*Order, error) {
	query := `
		UPDATE freight_orders
		SET approval_level = $3,
		    status         = $4::order_status,
		    updated_at     = NOW()
		WHERE id = $1
		  AND approval_level = $2
		RETURNING` + orderColumns + `
	`

	order, err := r.scanOrder(r.db.QueryRow(ctx, query, id, expectedLevel, newLevel, newStatus))
	if err == pgx.ErrNoRows {
		// Either the order is gone or its level moved underneath us.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.New(apperrors.ErrCodeConflict,
			fmt.Sprintf("order %s changed state during the transition", id))
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to apply transition")
	}
	return order, nil
}

// SetRecoveryEvidence stores the evidence reference. The guard on
// recovery_file mirrors the engine precondition at the storage layer.
func (r *OrderRepository) SetRecoveryEvidence(ctx context.Context, id, fileRef string) (*Order, error) {
	query := `
		UPDATE freight_orders
		SET recovery_evidence = $2,
		    updated_at        = NOW()
		WHERE id = $1
		  AND recovery_file IS NOT NULL
		RETURNING` + orderColumns + `
	`

	order, err := r.scanOrder(r.db.QueryRow(ctx, query, id, fileRef))
	if err == pgx.ErrNoRows {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.New(apperrors.ErrCodeNoRecoveryFile,
			"order has no recovery file on record")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to set recovery evidence")
	}
	return order, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type orderScanner interface {
	Scan(dest ...any) error
}

func (r *OrderRepository) scanOrder(row orderScanner) (*Order, error) {
	o := &Order{}
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.CreatorID,
		&o.CreatorPlant,
		&o.Carrier,
		&o.Route,
		&o.Reason,
		&o.OverageAmount,
		&o.Currency,
		&o.ApprovalLevel,
		&o.RequiredLevel,
		&o.Status,
		&o.RecoveryFile,
		&o.RecoveryEvidence,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) scanRows(rows pgx.Rows) ([]*Order, error) {
	var orders []*Order
	for rows.Next() {
		o := &Order{}
		err := rows.Scan(
			&o.ID,
			&o.OrderNumber,
			&o.CreatorID,
			&o.CreatorPlant,
			&o.Carrier,
			&o.Route,
			&o.Reason,
			&o.OverageAmount,
			&o.Currency,
			&o.ApprovalLevel,
			&o.RequiredLevel,
			&o.Status,
			&o.RecoveryFile,
			&o.RecoveryEvidence,
			&o.CreatedAt,
			&o.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan order")
		}
		orders = append(orders, o)
	}
	return orders, nil
}
