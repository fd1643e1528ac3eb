package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// splitOrder returns a submitted order with a 3.00 + 7.00 schedule.
func splitOrder(t *testing.T) *Order {
	t.Helper()
	o := New("usr-1", "off-1")
	require.NoError(t, o.SetPlan(dec("10.00"), decimal.Zero, "rule-1", []Installment{
		{ID: "ins-1", Amount: dec("3.00"), DueDate: time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC), State: InstallmentPending},
		{ID: "ins-2", Amount: dec("7.00"), DueDate: time.Date(2025, 2, 16, 0, 0, 0, 0, time.UTC), State: InstallmentPending},
	}))
	require.NoError(t, o.MarkSubmitted())
	return o
}

func TestSetPlan_OnlyDraft(t *testing.T) {
	o := New("usr-1", "off-1")
	require.NoError(t, o.SetPlan(dec("10.00"), decimal.Zero, "", nil))

	require.NoError(t, o.MarkSubmitted())
	err := o.SetPlan(dec("20.00"), decimal.Zero, "", nil)

	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
	assert.True(t, o.Total.Equal(dec("10.00")), "frozen total must not change")
}

func TestSetPlan_PendingWithoutPlan(t *testing.T) {
	// Aborted straight from draft: no plan yet, so pending still accepts one.
	o := New("usr-1", "off-1")
	require.NoError(t, o.Abort())
	require.NoError(t, o.SetPlan(dec("10.00"), decimal.Zero, "rule-1", []Installment{
		{ID: "ins-1", Amount: dec("10.00"), State: InstallmentPending},
	}))
	assert.True(t, o.PlanFrozen())

	// Once frozen, a second plan is rejected even while pending.
	err := o.SetPlan(dec("20.00"), decimal.Zero, "rule-2", nil)
	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
	assert.True(t, o.Total.Equal(dec("10.00")))
}

func TestMarkSubmitted(t *testing.T) {
	o := New("usr-1", "off-1")
	require.NoError(t, o.MarkSubmitted())
	assert.Equal(t, StateSubmitted, o.State)

	// Abandoned orders are resubmittable.
	require.NoError(t, o.Abort())
	require.NoError(t, o.MarkSubmitted())
	assert.Equal(t, StateSubmitted, o.State)

	o.State = StateValidated
	var guardErr *GuardError
	require.ErrorAs(t, o.MarkSubmitted(), &guardErr)
}

func TestMarkValidated(t *testing.T) {
	o := splitOrder(t)
	require.NoError(t, o.MarkValidated())
	assert.Equal(t, StateValidated, o.State)

	var guardErr *GuardError
	require.ErrorAs(t, o.MarkValidated(), &guardErr)
}

func TestRecordPayment_SingleInstallmentValidates(t *testing.T) {
	o := New("usr-1", "off-1")
	require.NoError(t, o.SetPlan(dec("90.00"), decimal.Zero, "", []Installment{
		{ID: "ins-1", Amount: dec("90.00"), State: InstallmentPending},
	}))
	require.NoError(t, o.MarkSubmitted())

	applied, err := o.RecordPayment("ins-1", "txn-1", dec("90.00"))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StateValidated, o.State)
	assert.Equal(t, "txn-1", o.Schedule[0].TransactionID)
}

func TestRecordPayment_SplitScheduleProgression(t *testing.T) {
	o := splitOrder(t)

	applied, err := o.RecordPayment("ins-1", "txn-1", dec("3.00"))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatePendingPayment, o.State)

	applied, err = o.RecordPayment("ins-2", "txn-2", dec("7.00"))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StateCompleted, o.State)
}

func TestRecordPayment_IdempotentReplay(t *testing.T) {
	o := splitOrder(t)

	applied, err := o.RecordPayment("ins-1", "txn-1", dec("3.00"))
	require.NoError(t, err)
	require.True(t, applied)

	// Same transaction again: applied no-op.
	applied, err = o.RecordPayment("ins-1", "txn-1", dec("3.00"))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, StatePendingPayment, o.State)

	// A different transaction on a paid installment is a double charge.
	_, err = o.RecordPayment("ins-1", "txn-other", dec("3.00"))
	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
}

func TestRecordPayment_StrictOrder(t *testing.T) {
	o := splitOrder(t)

	_, err := o.RecordPayment("ins-2", "txn-1", dec("7.00"))
	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
	assert.Equal(t, StateSubmitted, o.State)
}

func TestRecordPayment_AmountMismatch(t *testing.T) {
	o := splitOrder(t)

	_, err := o.RecordPayment("ins-1", "txn-1", dec("2.99"))
	var amountErr *AmountMismatchError
	require.ErrorAs(t, err, &amountErr)
	assert.Equal(t, InstallmentPending, o.Schedule[0].State)
}

func TestRecordPayment_UnknownInstallment(t *testing.T) {
	o := splitOrder(t)

	_, err := o.RecordPayment("ins-nope", "txn-1", dec("3.00"))
	var instErr *InstallmentNotFoundError
	require.ErrorAs(t, err, &instErr)
}

func TestRecordPayment_TerminalGuard(t *testing.T) {
	o := splitOrder(t)
	require.NoError(t, o.Cancel())

	_, err := o.RecordPayment("ins-1", "txn-1", dec("3.00"))
	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
}

func TestRecordPaymentFailure_KeepsSettledInstallments(t *testing.T) {
	o := splitOrder(t)

	_, err := o.RecordPayment("ins-1", "txn-1", dec("3.00"))
	require.NoError(t, err)

	require.NoError(t, o.RecordPaymentFailure("ins-2"))
	assert.Equal(t, StateFailed, o.State)
	assert.Equal(t, InstallmentPaid, o.Schedule[0].State)
	assert.Equal(t, InstallmentRefused, o.Schedule[1].State)
}

func TestAbort(t *testing.T) {
	o := splitOrder(t)
	require.NoError(t, o.Abort())
	assert.Equal(t, StatePending, o.State)
}

func TestAbort_AfterPaymentGuard(t *testing.T) {
	o := splitOrder(t)
	_, err := o.RecordPayment("ins-1", "txn-1", dec("3.00"))
	require.NoError(t, err)
	// Regression guard: the state machine must force cancel, not abort, once
	// money moved, even if the state were manually rewound.
	o.State = StateSubmitted

	var guardErr *GuardError
	require.ErrorAs(t, o.Abort(), &guardErr)
}

func TestCancel(t *testing.T) {
	o := splitOrder(t)
	_, err := o.RecordPayment("ins-1", "txn-1", dec("3.00"))
	require.NoError(t, err)

	require.NoError(t, o.Cancel())
	assert.Equal(t, StateCanceled, o.State)
	assert.Equal(t, InstallmentPaid, o.Schedule[0].State, "collected money is never reversed")
	assert.Equal(t, InstallmentCanceled, o.Schedule[1].State)
}

func TestCancel_Guards(t *testing.T) {
	tests := []struct {
		name  string
		state State
	}{
		{name: "validated", state: StateValidated},
		{name: "completed", state: StateCompleted},
		{name: "canceled", state: StateCanceled},
		{name: "failed", state: StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New("usr-1", "off-1")
			o.State = tt.state

			var guardErr *GuardError
			require.ErrorAs(t, o.Cancel(), &guardErr)
		})
	}
}

func TestStatePredicates(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateCanceled.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StatePendingPayment.Terminal())

	assert.True(t, StateSubmitted.Binding())
	assert.True(t, StatePending.Binding())
	assert.False(t, StateDraft.Binding())
	assert.False(t, StateCanceled.Binding())

	assert.True(t, StateValidated.ReachedValidation())
	assert.True(t, StateCompleted.ReachedValidation())
	assert.False(t, StateSubmitted.ReachedValidation())
}
