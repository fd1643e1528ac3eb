package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/course-checkout/internal/domain/order"
)

const createOrderSQL = `INSERT INTO orders
	(id, owner_id, offering_id, offering_rule_id, credit_card_id, state, total, discount, payment_schedule)
	VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9)`

const getOrderSQL = `SELECT id, owner_id, offering_id,
	COALESCE(offering_rule_id, ''), COALESCE(credit_card_id, ''),
	state, total, discount, payment_schedule, created_at, updated_at
	FROM orders WHERE id = $1`

const lockOrderSQL = getOrderSQL + ` FOR UPDATE`

const updateOrderSQL = `UPDATE orders SET
	offering_rule_id = NULLIF($2, ''), credit_card_id = NULLIF($3, ''),
	state = $4, total = $5, discount = $6, payment_schedule = $7, updated_at = now()
	WHERE id = $1`

const listDueOrdersSQL = `SELECT id, owner_id, offering_id,
	COALESCE(offering_rule_id, ''), COALESCE(credit_card_id, ''),
	state, total, discount, payment_schedule, created_at, updated_at
	FROM orders
	WHERE state = $1 AND EXISTS (
		SELECT 1 FROM jsonb_array_elements(payment_schedule) AS inst
		WHERE inst->>'state' = $2 AND (inst->>'due_date')::timestamptz <= $3
	)
	ORDER BY created_at`

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. The
// installment schedule is stored as a JSONB document on the order row, so an
// order and its installments always change in one statement.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new draft order. A live order for the same owner and
// offering yields order.ErrDuplicateOrder.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	scheduleJSON, err := json.Marshal(o.Schedule)
	if err != nil {
		return errors.Wrap(err, "marshaling payment schedule")
	}

	_, err = q(ctx, r.pool).Exec(ctx, createOrderSQL,
		o.ID, o.OwnerID, o.OfferingID, o.OfferingRuleID, o.CreditCardID,
		string(o.State), o.Total, o.Discount, scheduleJSON,
	)
	if isUniqueViolation(err, "orders_owner_offering_live_idx") {
		return order.ErrDuplicateOrder
	}
	if err != nil {
		return errors.Wrapf(err, "creating order %q", o.ID)
	}
	return nil
}

// Get returns an order by ID.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	o, err := scanOrder(q(ctx, r.pool).QueryRow(ctx, getOrderSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting order %q", id)
	}
	return o, nil
}

// WithOrderLock loads the order with SELECT ... FOR UPDATE inside a
// transaction, runs fn, and writes the mutated order back iff fn succeeds.
// The context given to fn carries the transaction, so seat resolution and
// other repository calls made from fn join the critical section.
func (r *OrderRepository) WithOrderLock(ctx context.Context, id string, fn func(ctx context.Context, o *order.Order) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin order transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	txCtx := withTx(ctx, tx)

	o, err := scanOrder(tx.QueryRow(txCtx, lockOrderSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrNotFound
		}
		return errors.Wrapf(err, "locking order %q", id)
	}

	if err := fn(txCtx, o); err != nil {
		return err
	}

	scheduleJSON, err := json.Marshal(o.Schedule)
	if err != nil {
		return errors.Wrap(err, "marshaling payment schedule")
	}
	if _, err := tx.Exec(txCtx, updateOrderSQL,
		o.ID, o.OfferingRuleID, o.CreditCardID,
		string(o.State), o.Total, o.Discount, scheduleJSON,
	); err != nil {
		return errors.Wrapf(err, "updating order %q", id)
	}

	return errors.Wrap(tx.Commit(ctx), "commit order transaction")
}

// ListDueOrders returns orders awaiting further installments with a pending
// installment due on or before day.
func (r *OrderRepository) ListDueOrders(ctx context.Context, day time.Time) ([]order.Order, error) {
	rows, err := q(ctx, r.pool).Query(ctx, listDueOrdersSQL,
		string(order.StatePendingPayment), string(order.InstallmentPending), day,
	)
	if err != nil {
		return nil, errors.Wrap(err, "listing due orders")
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning due order")
		}
		out = append(out, *o)
	}
	return out, errors.Wrap(rows.Err(), "iterating due orders")
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o            order.Order
		scheduleJSON []byte
	)
	if err := row.Scan(
		&o.ID, &o.OwnerID, &o.OfferingID, &o.OfferingRuleID, &o.CreditCardID,
		&o.State, &o.Total, &o.Discount, &scheduleJSON, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scheduleJSON, &o.Schedule); err != nil {
		return nil, errors.Wrap(err, "unmarshaling payment schedule")
	}
	return &o, nil
}
