package order

import (
	"github.com/shopspring/decimal"
)

// The methods in this file are the complete transition table of the order
// state machine. They mutate only the in-memory Order; persistence and
// side effects (gateway calls, contract submission) belong to the Service,
// which invokes them under the repository's order lock. A guard violation
// returns a typed error and leaves the order untouched.

// SetPlan freezes the outcome of offering-rule resolution and schedule
// computation. A draft order accepts a plan, as does a pending order that
// never received one (aborted straight from draft); a frozen plan survives
// abort and resubmission.
func (o *Order) SetPlan(total, discount decimal.Decimal, ruleID string, schedule []Installment) error {
	if o.State != StateDraft && !(o.State == StatePending && !o.PlanFrozen()) {
		return &GuardError{Op: "plan", State: o.State, Reason: "total and schedule are frozen once the order leaves draft"}
	}
	o.Total = total
	o.Discount = discount
	o.OfferingRuleID = ruleID
	o.Schedule = schedule
	return nil
}

// MarkSubmitted moves the order into submitted after the provider accepted
// the first payment. Allowed from draft and from pending (resubmission).
func (o *Order) MarkSubmitted() error {
	if o.State != StateDraft && o.State != StatePending {
		return &GuardError{Op: "submit", State: o.State, Reason: "only draft or abandoned orders can be submitted"}
	}
	o.State = StateSubmitted
	return nil
}

// MarkValidated confirms payment through a channel other than the provider
// webhook. Manual operator action; the webhook path goes through RecordPayment.
func (o *Order) MarkValidated() error {
	if o.State != StateSubmitted {
		return &GuardError{Op: "validate", State: o.State, Reason: "only a submitted order can be validated manually"}
	}
	o.State = StateValidated
	return nil
}

// RecordPayment settles one installment from a verified provider event.
//
// It is idempotent on the provider transaction ID: replaying a notification
// for an installment already paid by the same transaction returns
// applied=false and no error. The same installment paid by a different
// transaction is a guard violation so double charges surface loudly.
func (o *Order) RecordPayment(installmentID, transactionID string, amount decimal.Decimal) (applied bool, err error) {
	if o.State != StateSubmitted && o.State != StatePending && o.State != StatePendingPayment {
		return false, &GuardError{Op: "register payment", State: o.State, Reason: "order is not awaiting a payment"}
	}

	inst, err := o.Installment(installmentID)
	if err != nil {
		return false, err
	}

	switch inst.State {
	case InstallmentPaid:
		if inst.TransactionID == transactionID {
			return false, nil
		}
		return false, &GuardError{Op: "register payment", State: o.State,
			Reason: "installment " + installmentID + " already paid by transaction " + inst.TransactionID}
	case InstallmentPending:
		// fallthrough to settlement
	default:
		return false, &GuardError{Op: "register payment", State: o.State,
			Reason: "installment " + installmentID + " is " + string(inst.State)}
	}

	// Installments settle strictly in order.
	for i := range o.Schedule {
		earlier := &o.Schedule[i]
		if earlier.ID == installmentID {
			break
		}
		if earlier.State == InstallmentPending {
			return false, &GuardError{Op: "register payment", State: o.State,
				Reason: "earlier installment " + earlier.ID + " is still pending"}
		}
	}

	if !inst.Amount.Round(2).Equal(amount.Round(2)) {
		return false, &AmountMismatchError{InstallmentID: installmentID, Expected: inst.Amount, Got: amount}
	}

	inst.State = InstallmentPaid
	inst.TransactionID = transactionID

	if o.pendingInstallments() == 0 {
		// A fully settled split schedule completes the order; a single
		// installment settles validation.
		if o.State == StatePendingPayment {
			o.State = StateCompleted
		} else {
			o.State = StateValidated
		}
	} else {
		o.State = StatePendingPayment
	}

	return true, nil
}

// RecordPaymentFailure marks an installment refused and fails the order.
// Installments already paid stay paid: there is no rollback of collected
// money, only the terminal failed state.
func (o *Order) RecordPaymentFailure(installmentID string) error {
	if o.State != StateSubmitted && o.State != StatePending && o.State != StatePendingPayment {
		return &GuardError{Op: "register payment failure", State: o.State, Reason: "order is not awaiting a payment"}
	}

	inst, err := o.Installment(installmentID)
	if err != nil {
		return err
	}
	if inst.State != InstallmentPending {
		return &GuardError{Op: "register payment failure", State: o.State,
			Reason: "installment " + installmentID + " is " + string(inst.State)}
	}

	inst.State = InstallmentRefused
	o.State = StateFailed
	return nil
}

// Abort abandons a submission attempt before any money moved. The order
// becomes pending and may be submitted again.
func (o *Order) Abort() error {
	if o.State != StateDraft && o.State != StateSubmitted {
		return &GuardError{Op: "abort", State: o.State, Reason: "only a draft or submitted order can be aborted"}
	}
	if o.HasPaidInstallment() {
		return &GuardError{Op: "abort", State: o.State, Reason: "an installment is already paid; use cancel"}
	}
	o.State = StatePending
	return nil
}

// Cancel withdraws the order. Disallowed once the purchase is validated or
// completed; cancellation never reverses collected payments. Moving out of a
// binding state releases the seat held against the offering rule.
func (o *Order) Cancel() error {
	if o.State.Terminal() {
		return &GuardError{Op: "cancel", State: o.State, Reason: "order is in a terminal state"}
	}
	if o.State == StateValidated {
		return &GuardError{Op: "cancel", State: o.State, Reason: "a validated order cannot be canceled"}
	}
	for i := range o.Schedule {
		if o.Schedule[i].State == InstallmentPending {
			o.Schedule[i].State = InstallmentCanceled
		}
	}
	o.State = StateCanceled
	return nil
}
