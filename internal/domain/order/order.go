// Package order holds the order lifecycle: the state model, the guarded
// transitions that are the only way order and installment state changes, and
// the service orchestrating submission, payment events and cancellation.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State is the authoritative lifecycle state of an order.
type State string

const (
	// StateDraft is the initial state: nothing frozen, nothing charged.
	StateDraft State = "draft"
	// StateSubmitted means the schedule is frozen and the first payment
	// has been opened with the provider.
	StateSubmitted State = "submitted"
	// StatePending is an abandoned submission attempt, resubmittable.
	StatePending State = "pending"
	// StateValidated means the purchase is secured (first or only
	// installment settled, or total was zero).
	StateValidated State = "validated"
	// StatePendingPayment means at least one installment settled and more
	// are expected.
	StatePendingPayment State = "pending_payment"
	// StateCompleted means every installment of a split schedule settled.
	StateCompleted State = "completed"
	// StateCanceled is a terminal withdrawal. Retained for audit.
	StateCanceled State = "canceled"
	// StateFailed is terminal: an installment was refused. Already-settled
	// installments are never rolled back.
	StateFailed State = "failed"
)

// BindingStates are the states in which an order reserves a seat against its
// offering rule's capacity.
var BindingStates = []State{
	StateSubmitted,
	StatePending,
	StatePendingPayment,
	StateValidated,
	StateCompleted,
}

// Terminal reports whether the state rejects all further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCanceled || s == StateFailed
}

// Binding reports whether an order in this state holds a seat.
func (s State) Binding() bool {
	for _, b := range BindingStates {
		if s == b {
			return true
		}
	}
	return false
}

// ReachedValidation reports whether the order passed the validation point,
// after which contract signature may be requested.
func (s State) ReachedValidation() bool {
	return s == StateValidated || s == StatePendingPayment || s == StateCompleted
}

// InstallmentState tracks one scheduled payment.
type InstallmentState string

const (
	InstallmentPending  InstallmentState = "pending"
	InstallmentPaid     InstallmentState = "paid"
	InstallmentRefused  InstallmentState = "refused"
	InstallmentCanceled InstallmentState = "canceled"
)

// Installment is one scheduled payment within an order's schedule.
// TransactionID records the provider transaction that settled it and doubles
// as the idempotency key for repeated notifications.
type Installment struct {
	ID            string           `json:"id"`
	Amount        decimal.Decimal  `json:"amount"`
	DueDate       time.Time        `json:"due_date"`
	State         InstallmentState `json:"state"`
	TransactionID string           `json:"transaction_id,omitempty"`
}

// Order is one buyer's commitment to an offering. Total and Schedule are
// frozen at submission; afterwards they change only through the transition
// methods in this package.
type Order struct {
	ID             string
	OwnerID        string
	OfferingID     string
	OfferingRuleID string
	CreditCardID   string
	State          State
	Total          decimal.Decimal
	// Discount is the amount subtracted from the offering price, kept so
	// the undiscounted price stays recoverable for invoicing.
	Discount  decimal.Decimal
	Schedule  []Installment
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a draft order for the given owner and offering.
func New(ownerID, offeringID string) *Order {
	return &Order{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		OfferingID: offeringID,
		State:      StateDraft,
		Total:      decimal.Zero,
		Discount:   decimal.Zero,
	}
}

// Installment returns the schedule entry with the given ID.
func (o *Order) Installment(id string) (*Installment, error) {
	for i := range o.Schedule {
		if o.Schedule[i].ID == id {
			return &o.Schedule[i], nil
		}
	}
	return nil, &InstallmentNotFoundError{OrderID: o.ID, InstallmentID: id}
}

// FirstPendingInstallment returns the earliest installment still awaiting
// payment, or nil when none remains.
func (o *Order) FirstPendingInstallment() *Installment {
	for i := range o.Schedule {
		if o.Schedule[i].State == InstallmentPending {
			return &o.Schedule[i]
		}
	}
	return nil
}

// PlanFrozen reports whether the order carries a frozen plan. A plan with a
// positive total always has a schedule, and a zero-total plan validates the
// order immediately, so a pending order with no schedule and a zero total
// never had one.
func (o *Order) PlanFrozen() bool {
	return len(o.Schedule) > 0 || !o.Total.IsZero()
}

// HasPaidInstallment reports whether any money has been collected.
func (o *Order) HasPaidInstallment() bool {
	for i := range o.Schedule {
		if o.Schedule[i].State == InstallmentPaid {
			return true
		}
	}
	return false
}

func (o *Order) pendingInstallments() int {
	n := 0
	for i := range o.Schedule {
		if o.Schedule[i].State == InstallmentPending {
			n++
		}
	}
	return n
}

// Sentinel errors for order lookups and submission.
var (
	// ErrNotFound is returned when a requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateOrder is returned when the owner already has a live
	// (non-canceled, non-failed) order for the same offering.
	ErrDuplicateOrder = errors.New("an active order already exists for this owner and offering")
	// ErrBillingAddressRequired is returned when submitting a priced order
	// without a billing address.
	ErrBillingAddressRequired = errors.New("billing address is required for a non-free order")
)

// GuardError reports an illegal transition. The order is left untouched.
type GuardError struct {
	Op     string
	State  State
	Reason string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("cannot %s order in state %q: %s", e.Op, e.State, e.Reason)
}

// InstallmentNotFoundError indicates an event referenced an installment the
// order's schedule does not contain.
type InstallmentNotFoundError struct {
	OrderID       string
	InstallmentID string
}

func (e *InstallmentNotFoundError) Error() string {
	return fmt.Sprintf("order %s has no installment %s", e.OrderID, e.InstallmentID)
}

// AmountMismatchError indicates a payment notification's amount does not
// match the installment it settles.
type AmountMismatchError struct {
	InstallmentID string
	Expected      decimal.Decimal
	Got           decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("installment %s expects %s, notification carries %s",
		e.InstallmentID, e.Expected, e.Got)
}

// Repository defines persistence for orders. An order and its installments
// form one consistency unit: all mutation goes through WithOrderLock.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)

	// WithOrderLock loads the order under an exclusive, order-scoped lock,
	// runs fn, and persists the mutated order iff fn returns nil. The
	// context passed to fn carries the lock scope: resolver and repository
	// calls made with it join the same critical section.
	WithOrderLock(ctx context.Context, id string, fn func(ctx context.Context, o *Order) error) error

	// ListDueOrders returns orders in pending_payment whose schedule holds
	// a pending installment due on or before day.
	ListDueOrders(ctx context.Context, day time.Time) ([]Order, error)
}
