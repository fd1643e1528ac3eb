package memory

import (
	"context"
	"time"

	"github.com/xenking/course-checkout/internal/domain/order"
)

type orderRecord struct {
	order order.Order
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository on the in-memory Store.
type OrderRepository struct {
	s *Store
}

// NewOrderRepository returns an OrderRepository over the given Store.
func NewOrderRepository(s *Store) *OrderRepository {
	return &OrderRepository{s: s}
}

// Create stores a new draft order, enforcing the one-live-order-per-offering
// invariant.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return r.s.locked(ctx, func(context.Context) error {
		for _, rec := range r.s.orders {
			if rec.order.OwnerID == o.OwnerID &&
				rec.order.OfferingID == o.OfferingID &&
				rec.order.State != order.StateCanceled &&
				rec.order.State != order.StateFailed {
				return order.ErrDuplicateOrder
			}
		}
		now := r.s.Now()
		o.CreatedAt = now
		o.UpdatedAt = now
		r.s.orders[o.ID] = &orderRecord{order: *cloneOrder(o)}
		return nil
	})
}

// Get returns a copy of the order or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var found *order.Order
	err := r.s.locked(ctx, func(context.Context) error {
		rec, ok := r.s.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		found = cloneOrder(&rec.order)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// WithOrderLock runs fn inside the store's critical section on a copy of the
// order, storing the copy back only when fn succeeds.
func (r *OrderRepository) WithOrderLock(ctx context.Context, id string, fn func(ctx context.Context, o *order.Order) error) error {
	return r.s.locked(ctx, func(ctx context.Context) error {
		rec, ok := r.s.orders[id]
		if !ok {
			return order.ErrNotFound
		}

		working := cloneOrder(&rec.order)
		if err := fn(ctx, working); err != nil {
			return err
		}

		working.UpdatedAt = r.s.Now()
		rec.order = *cloneOrder(working)
		return nil
	})
}

// ListDueOrders returns orders in pending_payment with a pending installment
// due on or before day.
func (r *OrderRepository) ListDueOrders(ctx context.Context, day time.Time) ([]order.Order, error) {
	var due []order.Order
	err := r.s.locked(ctx, func(context.Context) error {
		for _, rec := range r.s.orders {
			if rec.order.State != order.StatePendingPayment {
				continue
			}
			for _, inst := range rec.order.Schedule {
				if inst.State == order.InstallmentPending && !inst.DueDate.After(day) {
					due = append(due, *cloneOrder(&rec.order))
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}

// countBoundSeats counts binding orders per rule for one offering. Caller
// must hold the store lock.
func (s *Store) countBoundSeats(offeringID string) map[string]int {
	counts := make(map[string]int)
	for _, rec := range s.orders {
		o := &rec.order
		if o.OfferingID == offeringID && o.OfferingRuleID != "" && o.State.Binding() {
			counts[o.OfferingRuleID]++
		}
	}
	return counts
}

func cloneOrder(o *order.Order) *order.Order {
	clone := *o
	clone.Schedule = make([]order.Installment, len(o.Schedule))
	copy(clone.Schedule, o.Schedule)
	return &clone
}
