package order

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/domain/offering"
	"github.com/xenking/course-checkout/internal/domain/payment"
	"github.com/xenking/course-checkout/internal/domain/schedule"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	orders map[string]*Order
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[string]*Order)}
}

func cloneTestOrder(o *Order) *Order {
	clone := *o
	clone.Schedule = append([]Installment(nil), o.Schedule...)
	return &clone
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	for _, existing := range m.orders {
		if existing.OwnerID == o.OwnerID && existing.OfferingID == o.OfferingID &&
			existing.State != StateCanceled && existing.State != StateFailed {
			return ErrDuplicateOrder
		}
	}
	m.orders[o.ID] = cloneTestOrder(o)
	return nil
}

func (m *mockOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTestOrder(o), nil
}

func (m *mockOrderRepo) WithOrderLock(ctx context.Context, id string, fn func(ctx context.Context, o *Order) error) error {
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	clone := cloneTestOrder(o)
	if err := fn(ctx, clone); err != nil {
		return err
	}
	m.orders[id] = clone
	return nil
}

func (m *mockOrderRepo) ListDueOrders(_ context.Context, day time.Time) ([]Order, error) {
	var due []Order
	for _, o := range m.orders {
		if o.State != StatePendingPayment {
			continue
		}
		if inst := o.FirstPendingInstallment(); inst != nil && !inst.DueDate.After(day) {
			due = append(due, *cloneTestOrder(o))
		}
	}
	return due, nil
}

type mockOfferingRepo struct {
	offerings map[string]*offering.Offering
}

func (m *mockOfferingRepo) Get(_ context.Context, id string) (*offering.Offering, error) {
	off, ok := m.offerings[id]
	if !ok {
		return nil, offering.ErrNotFound
	}
	return off, nil
}

func (m *mockOfferingRepo) GetRule(context.Context, string) (*offering.Rule, error) {
	return nil, offering.ErrRuleNotFound
}

func (m *mockOfferingRepo) ListRules(context.Context, string) ([]offering.Rule, error) {
	return nil, nil
}

type mockResolver struct {
	rule *offering.Rule
	err  error
}

func (m *mockResolver) Resolve(context.Context, string, int) (*offering.Rule, error) {
	return m.rule, m.err
}

type mockGateway struct {
	created        []payment.Request
	createErr      error
	oneClick       []payment.OneClickRequest
	settleOneClick bool
	zeroClick      []payment.ZeroClickRequest
	zeroClickErr   error
	refuseZero     bool
	aborted        []string
	abortErr       error
}

func (m *mockGateway) CreatePayment(_ context.Context, req payment.Request) (*payment.Payment, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, req)
	return &payment.Payment{ID: "pay-1", Payload: []byte(`{"provider":"mock"}`)}, nil
}

func (m *mockGateway) CreateOneClickPayment(_ context.Context, req payment.OneClickRequest) (*payment.Payment, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.oneClick = append(m.oneClick, req)
	return &payment.Payment{ID: "pay-1", Payload: []byte(`{"provider":"mock"}`), IsPaid: m.settleOneClick}, nil
}

func (m *mockGateway) CreateZeroClickPayment(_ context.Context, req payment.ZeroClickRequest) (*payment.Payment, error) {
	if m.zeroClickErr != nil {
		return nil, m.zeroClickErr
	}
	m.zeroClick = append(m.zeroClick, req)
	return &payment.Payment{ID: "zc-" + req.InstallmentID, IsPaid: !m.refuseZero}, nil
}

func (m *mockGateway) AbortPayment(_ context.Context, paymentID string) error {
	if m.abortErr != nil {
		return m.abortErr
	}
	m.aborted = append(m.aborted, paymentID)
	return nil
}

func (m *mockGateway) DeleteCreditCard(context.Context, *payment.CreditCard) error {
	return nil
}

func (m *mockGateway) HandleNotification(*http.Request) (*payment.Event, error) {
	return nil, payment.ErrParseNotification
}

type mockCardRepo struct {
	mainByOwner map[string]*payment.CreditCard
}

func (m *mockCardRepo) Save(context.Context, *payment.CreditCard) error { return nil }

func (m *mockCardRepo) Get(context.Context, string) (*payment.CreditCard, error) {
	return nil, payment.ErrCardNotFound
}

func (m *mockCardRepo) FindMainByOwner(_ context.Context, ownerID string) (*payment.CreditCard, error) {
	card, ok := m.mainByOwner[ownerID]
	if !ok {
		return nil, payment.ErrCardNotFound
	}
	return card, nil
}

func (m *mockCardRepo) Delete(context.Context, string) error { return nil }

type mockContractTrigger struct {
	submitted []string
	err       error
}

func (m *mockContractTrigger) SubmitForSignature(_ context.Context, orderID string) error {
	m.submitted = append(m.submitted, orderID)
	return m.err
}

// --- Helpers ---

type serviceFixture struct {
	svc       *Service
	orders    *mockOrderRepo
	gateway   *mockGateway
	cards     *mockCardRepo
	contracts *mockContractTrigger
}

func newFixture(t *testing.T, price string, rule *offering.Rule) *serviceFixture {
	t.Helper()

	calc, err := schedule.NewCalculator(schedule.DefaultConfig())
	require.NoError(t, err)

	f := &serviceFixture{
		orders:    newMockOrderRepo(),
		gateway:   &mockGateway{},
		cards:     &mockCardRepo{mainByOwner: make(map[string]*payment.CreditCard)},
		contracts: &mockContractTrigger{},
	}
	offerings := &mockOfferingRepo{offerings: map[string]*offering.Offering{
		"off-1": {
			ID:                 "off-1",
			CourseID:           "course-1",
			ProductID:          "prod-1",
			OrganizationID:     "org-1",
			Price:              dec(price),
			ContractTemplateID: "tpl-1",
		},
	}}
	f.svc = NewService(ServiceConfig{Currency: "EUR"},
		f.orders, offerings, &mockResolver{rule: rule}, calc,
		f.gateway, f.cards, f.contracts, zap.NewNop())
	return f
}

func halfOffRule() *offering.Rule {
	rate := dec("50")
	return &offering.Rule{ID: "rule-1", OfferingID: "off-1", IsActive: true,
		Discount: &offering.Discount{Rate: &rate}}
}

func submitted(t *testing.T, f *serviceFixture) *Order {
	t.Helper()
	o, err := f.svc.Create(context.Background(), "usr-1", "off-1")
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), o.ID, testBilling())
	require.NoError(t, err)
	got, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	return got
}

func testBilling() *payment.BillingAddress {
	return &payment.BillingAddress{
		FirstName: "Ada", LastName: "Lovelace",
		Address: "12 Analytical Row", City: "London", PostCode: "N1 7AA", Country: "GB",
	}
}

// --- Tests ---

func TestService_Create(t *testing.T) {
	f := newFixture(t, "450.00", nil)

	o, err := f.svc.Create(context.Background(), "usr-1", "off-1")
	require.NoError(t, err)
	assert.Equal(t, StateDraft, o.State)

	_, err = f.svc.Create(context.Background(), "usr-1", "off-unknown")
	assert.ErrorIs(t, err, offering.ErrNotFound)

	_, err = f.svc.Create(context.Background(), "usr-1", "off-1")
	assert.ErrorIs(t, err, ErrDuplicateOrder)
}

func TestService_SubmitFreezesPlan(t *testing.T) {
	f := newFixture(t, "450.00", halfOffRule())

	o, err := f.svc.Create(context.Background(), "usr-1", "off-1")
	require.NoError(t, err)

	result, err := f.svc.Submit(context.Background(), o.ID, testBilling())
	require.NoError(t, err)

	got := result.Order
	assert.Equal(t, StateSubmitted, got.State)
	assert.Equal(t, "rule-1", got.OfferingRuleID)
	assert.True(t, got.Total.Equal(dec("225.00")), "half of 450, got %s", got.Total)
	assert.True(t, got.Discount.Equal(dec("225.00")))

	// 225.00 falls in the 30/70 tier.
	require.Len(t, got.Schedule, 2)
	assert.True(t, got.Schedule[0].Amount.Equal(dec("67.50")))
	assert.True(t, got.Schedule[1].Amount.Equal(dec("157.50")))

	// The provider was asked to open the first installment only.
	require.Len(t, f.gateway.created, 1)
	assert.Equal(t, got.Schedule[0].ID, f.gateway.created[0].InstallmentID)
	assert.True(t, f.gateway.created[0].Amount.Equal(dec("67.50")))
	require.NotNil(t, result.Payment)
}

func TestService_SubmitZeroTotal(t *testing.T) {
	rate := dec("100")
	f := newFixture(t, "90.00", &offering.Rule{ID: "rule-free", IsActive: true,
		Discount: &offering.Discount{Rate: &rate}})

	o, err := f.svc.Create(context.Background(), "usr-1", "off-1")
	require.NoError(t, err)

	// No billing address needed when nothing is collected.
	result, err := f.svc.Submit(context.Background(), o.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, StateValidated, result.Order.State)
	assert.Nil(t, result.Payment)
	assert.Empty(t, f.gateway.created)
	assert.Equal(t, []string{o.ID}, f.contracts.submitted)
}

func TestService_SubmitOneClickWithStoredCard(t *testing.T) {
	f := newFixture(t, "450.00", nil)
	f.cards.mainByOwner["usr-1"] = &payment.CreditCard{
		ID: "card-1", OwnerID: "usr-1", Token: "tok-1", IsMain: true,
	}

	o, err := f.svc.Create(context.Background(), "usr-1", "off-1")
	require.NoError(t, err)

	result, err := f.svc.Submit(context.Background(), o.ID, testBilling())
	require.NoError(t, err)

	// The stored token is charged one-click; no payment form is opened.
	require.Len(t, f.gateway.oneClick, 1)
	assert.Equal(t, "tok-1", f.gateway.oneClick[0].CardToken)
	assert.Empty(t, f.gateway.created)

	// The dummy-style provider settles via webhook, so the order waits.
	assert.Equal(t, StateSubmitted, result.Order.State)
}

func TestService_SubmitOneClickSynchronousSettle(t *testing.T) {
	f := newFixture(t, "90.00", nil)
	f.gateway.settleOneClick = true
	f.cards.mainByOwner["usr-1"] = &payment.CreditCard{
		ID: "card-1", OwnerID: "usr-1", Token: "tok-1", IsMain: true,
	}

	o, err := f.svc.Create(context.Background(), "usr-1", "off-1")
	require.NoError(t, err)

	// 90.00 is a single-installment plan; a synchronous settle validates
	// the order in the same submit call and triggers the contract.
	result, err := f.svc.Submit(context.Background(), o.ID, testBilling())
	require.NoError(t, err)

	assert.Equal(t, StateValidated, result.Order.State)
	require.Len(t, result.Order.Schedule, 1)
	assert.Equal(t, InstallmentPaid, result.Order.Schedule[0].State)
	assert.Equal(t, "pay-1", result.Order.Schedule[0].TransactionID)
	assert.Equal(t, []string{o.ID}, f.contracts.submitted)
}

func TestService_SubmitRequiresBilling(t *testing.T) {
	f := newFixture(t, "450.00", nil)

	o, err := f.svc.Create(context.Background(), "usr-1", "off-1")
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), o.ID, nil)
	assert.ErrorIs(t, err, ErrBillingAddressRequired)
}

func TestService_SubmitGatewayFailureRollsBack(t *testing.T) {
	f := newFixture(t, "450.00", nil)
	f.gateway.createErr = &payment.APIError{StatusCode: 502, Err: errors.New("bad gateway")}

	o, err := f.svc.Create(context.Background(), "usr-1", "off-1")
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), o.ID, testBilling())
	require.Error(t, err)

	got, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDraft, got.State, "failed submission must leave the order untouched")
	assert.Empty(t, got.Schedule)
}

func TestService_ResubmitKeepsFrozenPlan(t *testing.T) {
	f := newFixture(t, "450.00", halfOffRule())
	o := submitted(t, f)

	require.NoError(t, f.svc.Abort(context.Background(), o.ID, "pay-1"))
	assert.Equal(t, []string{"pay-1"}, f.gateway.aborted)

	result, err := f.svc.Submit(context.Background(), o.ID, testBilling())
	require.NoError(t, err)

	assert.Equal(t, StateSubmitted, result.Order.State)
	assert.True(t, result.Order.Total.Equal(o.Total), "plan frozen at first submission")
	assert.Equal(t, o.Schedule[0].ID, result.Order.Schedule[0].ID)
}

func TestService_AbortFromDraftThenResubmit(t *testing.T) {
	f := newFixture(t, "450.00", halfOffRule())

	o, err := f.svc.Create(context.Background(), "usr-1", "off-1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Abort(context.Background(), o.ID, ""))

	// The order went pending before any plan was frozen; resubmission
	// must price it rather than validate it as free.
	result, err := f.svc.Submit(context.Background(), o.ID, testBilling())
	require.NoError(t, err)

	got := result.Order
	assert.Equal(t, StateSubmitted, got.State)
	assert.True(t, got.Total.Equal(dec("225.00")), "got %s", got.Total)
	require.Len(t, got.Schedule, 2)
	assert.True(t, got.Schedule[0].Amount.Equal(dec("67.50")))
	assert.True(t, got.Schedule[1].Amount.Equal(dec("157.50")))

	require.Len(t, f.gateway.created, 1)
	assert.Empty(t, f.contracts.submitted)
}

func TestService_AbortSwallowsProviderError(t *testing.T) {
	f := newFixture(t, "450.00", nil)
	o := submitted(t, f)
	f.gateway.abortErr = errors.New("provider down")

	require.NoError(t, f.svc.Abort(context.Background(), o.ID, "pay-1"))

	got, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
}

func TestService_OnPaymentSuccess(t *testing.T) {
	f := newFixture(t, "450.00", nil)
	o := submitted(t, f)
	first := o.Schedule[0]

	require.NoError(t, f.svc.OnPaymentSuccess(context.Background(), o.ID, first.ID, "txn-1", first.Amount))

	got, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePendingPayment, got.State)
	assert.Equal(t, []string{o.ID}, f.contracts.submitted, "crossing validation triggers the contract")

	// Replay: no error, no second contract trigger.
	require.NoError(t, f.svc.OnPaymentSuccess(context.Background(), o.ID, first.ID, "txn-1", first.Amount))
	assert.Len(t, f.contracts.submitted, 1)
}

func TestService_OnPaymentSuccessUnknownOrder(t *testing.T) {
	f := newFixture(t, "450.00", nil)

	err := f.svc.OnPaymentSuccess(context.Background(), "ord-nope", "ins-1", "txn-1", dec("1.00"))
	var unknownErr *payment.UnknownOrderError
	require.ErrorAs(t, err, &unknownErr)
}

func TestService_OnPaymentFailure(t *testing.T) {
	f := newFixture(t, "450.00", nil)
	o := submitted(t, f)

	require.NoError(t, f.svc.OnPaymentFailure(context.Background(), o.ID, o.Schedule[0].ID))

	got, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
}

func TestService_Validate(t *testing.T) {
	f := newFixture(t, "450.00", nil)
	o := submitted(t, f)

	require.NoError(t, f.svc.Validate(context.Background(), o.ID))

	got, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StateValidated, got.State)
	assert.Equal(t, []string{o.ID}, f.contracts.submitted)
}

func TestService_ChargeDueInstallments(t *testing.T) {
	f := newFixture(t, "450.00", nil)

	// Main card on file, charge settles the last installment.
	a := submitted(t, f)
	require.NoError(t, f.svc.OnPaymentSuccess(context.Background(), a.ID, a.Schedule[0].ID, "txn-a1", a.Schedule[0].Amount))
	f.cards.mainByOwner["usr-1"] = &payment.CreditCard{ID: "card-1", OwnerID: "usr-1", Token: "tok-1", IsMain: true}

	day := time.Now().UTC().AddDate(0, 0, 60)
	report, err := f.svc.ChargeDueInstallments(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, ChargeReport{Charged: 1}, report)
	require.Len(t, f.gateway.zeroClick, 1)
	assert.Equal(t, "tok-1", f.gateway.zeroClick[0].CardToken)

	got, err := f.svc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State, "last installment settles the order")
}

func TestService_ChargeDueInstallmentsSkipsWithoutCard(t *testing.T) {
	f := newFixture(t, "450.00", nil)

	a := submitted(t, f)
	require.NoError(t, f.svc.OnPaymentSuccess(context.Background(), a.ID, a.Schedule[0].ID, "txn-a1", a.Schedule[0].Amount))

	day := time.Now().UTC().AddDate(0, 0, 60)
	report, err := f.svc.ChargeDueInstallments(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, ChargeReport{Skipped: 1}, report)
}

func TestService_ChargeDueInstallmentsRefused(t *testing.T) {
	f := newFixture(t, "450.00", nil)
	f.gateway.refuseZero = true

	a := submitted(t, f)
	require.NoError(t, f.svc.OnPaymentSuccess(context.Background(), a.ID, a.Schedule[0].ID, "txn-a1", a.Schedule[0].Amount))
	f.cards.mainByOwner["usr-1"] = &payment.CreditCard{ID: "card-1", OwnerID: "usr-1", Token: "tok-1", IsMain: true}

	day := time.Now().UTC().AddDate(0, 0, 60)
	report, err := f.svc.ChargeDueInstallments(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, ChargeReport{Refused: 1}, report)

	got, err := f.svc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
}
