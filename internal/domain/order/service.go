package order

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/course-checkout/internal/domain/offering"
	"github.com/xenking/course-checkout/internal/domain/payment"
	"github.com/xenking/course-checkout/internal/domain/schedule"
)

// ContractTrigger is notified when an order reaches validation so contract
// signature can start. Implementations treat orders without a contract
// template as nothing-to-do, and must tolerate repeated triggering.
type ContractTrigger interface {
	SubmitForSignature(ctx context.Context, orderID string) error
}

// ServiceConfig holds non-dependency settings for the order Service.
type ServiceConfig struct {
	// Currency is the single configured currency for the deployment.
	Currency string
	// GatewayTimeout bounds every outbound payment provider call.
	GatewayTimeout time.Duration
	// ChargeConcurrency limits parallel zero-click charges in the batch
	// entry point.
	ChargeConcurrency int
}

// Service drives the order state machine. All order mutation in the system
// funnels through it, under the repository's order-scoped lock.
type Service struct {
	cfg       ServiceConfig
	orders    Repository
	offerings offering.Repository
	resolver  offering.Resolver
	calc      *schedule.Calculator
	gateway   payment.Gateway
	cards     payment.CardRepository
	contracts ContractTrigger
	now       func() time.Time
	lg        *zap.Logger
}

// NewService creates the order Service with its domain dependencies.
func NewService(
	cfg ServiceConfig,
	orders Repository,
	offerings offering.Repository,
	resolver offering.Resolver,
	calc *schedule.Calculator,
	gateway payment.Gateway,
	cards payment.CardRepository,
	contracts ContractTrigger,
	lg *zap.Logger,
) *Service {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.ChargeConcurrency <= 0 {
		cfg.ChargeConcurrency = 4
	}
	return &Service{
		cfg:       cfg,
		orders:    orders,
		offerings: offerings,
		resolver:  resolver,
		calc:      calc,
		gateway:   gateway,
		cards:     cards,
		contracts: contracts,
		now:       time.Now,
		lg:        lg,
	}
}

// Create opens a draft order for the owner on the given offering.
func (s *Service) Create(ctx context.Context, ownerID, offeringID string) (*Order, error) {
	if _, err := s.offerings.Get(ctx, offeringID); err != nil {
		return nil, errors.Wrap(err, "get offering")
	}

	o := New(ownerID, offeringID)
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}

// Get returns an order by ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.Get(ctx, id)
}

// SubmitResult is the outcome of a successful submission.
type SubmitResult struct {
	Order *Order
	// Payment is the provider handle for the first installment, nil for a
	// zero-total order.
	Payment *payment.Payment
}

// Submit freezes offering-rule resolution and the payment schedule, then
// opens the first payment with the provider. A zero total validates the
// order immediately without touching the gateway.
//
// A failed or timed-out provider call rolls the whole submission back: the
// order stays in draft, never partially submitted.
func (s *Service) Submit(ctx context.Context, orderID string, billing *payment.BillingAddress) (*SubmitResult, error) {
	var (
		result      SubmitResult
		crossedGate bool
	)

	err := s.orders.WithOrderLock(ctx, orderID, func(ctx context.Context, o *Order) error {
		if o.State != StateDraft && o.State != StatePending {
			return &GuardError{Op: "submit", State: o.State, Reason: "only draft or abandoned orders can be submitted"}
		}

		// A pending order aborted straight from draft never had a plan;
		// freeze it now rather than treating the zero total as free.
		if !o.PlanFrozen() {
			if err := s.freezePlan(ctx, o); err != nil {
				return err
			}
		}

		if o.Total.IsZero() {
			// Nothing to collect: the purchase is secured immediately.
			o.State = StateValidated
			crossedGate = true
			result.Order = o
			return nil
		}

		if billing == nil {
			return ErrBillingAddressRequired
		}

		first := o.FirstPendingInstallment()
		if first == nil {
			return &GuardError{Op: "submit", State: o.State, Reason: "no pending installment to charge"}
		}

		pctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		defer cancel()

		req := payment.Request{
			OrderID:       o.ID,
			InstallmentID: first.ID,
			Amount:        first.Amount,
			Currency:      s.cfg.Currency,
			Billing:       billing,
		}

		// Owners with a stored main card pay one-click against the token;
		// everyone else gets a regular provider payment form.
		var (
			p   *payment.Payment
			err error
		)
		card, cardErr := s.cards.FindMainByOwner(ctx, o.OwnerID)
		switch {
		case cardErr == nil:
			p, err = s.gateway.CreateOneClickPayment(pctx, payment.OneClickRequest{
				Request:   req,
				CardToken: card.Token,
			})
		case errors.Is(cardErr, payment.ErrCardNotFound):
			p, err = s.gateway.CreatePayment(pctx, req)
		default:
			return errors.Wrap(cardErr, "find main card")
		}
		if err != nil {
			return errors.Wrap(err, "create payment")
		}

		if err := o.MarkSubmitted(); err != nil {
			return err
		}

		// One-click payments may settle synchronously.
		if p.IsPaid {
			before := o.State
			if _, err := o.RecordPayment(first.ID, p.ID, first.Amount); err != nil {
				return err
			}
			crossedGate = !before.ReachedValidation() && o.State.ReachedValidation()
		}

		result.Order = o
		result.Payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if crossedGate {
		s.triggerContract(ctx, orderID)
	}
	return &result, nil
}

// freezePlan resolves the offering rule and computes the installment plan.
// Runs inside the order lock so the seat check and the order write are one
// atomic step.
func (s *Service) freezePlan(ctx context.Context, o *Order) error {
	off, err := s.offerings.Get(ctx, o.OfferingID)
	if err != nil {
		return errors.Wrap(err, "get offering")
	}

	rule, err := s.resolver.Resolve(ctx, o.OfferingID, 1)
	if err != nil {
		return errors.Wrap(err, "resolve offering rule")
	}

	price := off.Price
	total := price
	ruleID := ""
	if rule != nil {
		ruleID = rule.ID
		if rule.Discount != nil {
			total = rule.Discount.Apply(price)
		}
	}

	plan, err := s.calc.Compute(total, s.now(), off.CourseStart)
	if err != nil {
		return errors.Wrap(err, "compute schedule")
	}

	installments := make([]Installment, len(plan))
	for i, p := range plan {
		installments[i] = Installment{
			ID:      uuid.New().String(),
			Amount:  p.Amount,
			DueDate: p.DueDate,
			State:   InstallmentPending,
		}
	}

	return o.SetPlan(total, price.Sub(total), ruleID, installments)
}

// OnPaymentSuccess settles one installment from a verified provider event
// and advances the order. Idempotent on the provider transaction ID.
func (s *Service) OnPaymentSuccess(ctx context.Context, orderID, installmentID, transactionID string, amount decimal.Decimal) error {
	var crossedGate bool

	err := s.orders.WithOrderLock(ctx, orderID, func(ctx context.Context, o *Order) error {
		before := o.State
		if _, err := o.RecordPayment(installmentID, transactionID, amount); err != nil {
			return err
		}
		crossedGate = !before.ReachedValidation() && o.State.ReachedValidation()
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return &payment.UnknownOrderError{OrderID: orderID}
	}
	if err != nil {
		return err
	}

	if crossedGate {
		s.triggerContract(ctx, orderID)
	}
	return nil
}

// OnPaymentFailure marks the installment refused and fails the order.
func (s *Service) OnPaymentFailure(ctx context.Context, orderID, installmentID string) error {
	err := s.orders.WithOrderLock(ctx, orderID, func(ctx context.Context, o *Order) error {
		return o.RecordPaymentFailure(installmentID)
	})
	if errors.Is(err, ErrNotFound) {
		return &payment.UnknownOrderError{OrderID: orderID}
	}
	return err
}

// Abort abandons a pre-payment submission attempt. The outstanding provider
// payment is aborted best-effort: a provider failure does not keep the order
// submitted.
func (s *Service) Abort(ctx context.Context, orderID, paymentID string) error {
	err := s.orders.WithOrderLock(ctx, orderID, func(ctx context.Context, o *Order) error {
		return o.Abort()
	})
	if err != nil {
		return err
	}

	if paymentID != "" {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		defer cancel()
		if err := s.gateway.AbortPayment(pctx, paymentID); err != nil {
			s.lg.Warn("Aborting provider payment failed",
				zap.String("order_id", orderID),
				zap.String("payment_id", paymentID),
				zap.Error(err))
		}
	}
	return nil
}

// Cancel withdraws the order; the held seat is released because canceled
// orders no longer count as binding.
func (s *Service) Cancel(ctx context.Context, orderID string) error {
	return s.orders.WithOrderLock(ctx, orderID, func(ctx context.Context, o *Order) error {
		return o.Cancel()
	})
}

// Validate confirms payment proven through an external channel.
func (s *Service) Validate(ctx context.Context, orderID string) error {
	err := s.orders.WithOrderLock(ctx, orderID, func(ctx context.Context, o *Order) error {
		return o.MarkValidated()
	})
	if err != nil {
		return err
	}
	s.triggerContract(ctx, orderID)
	return nil
}

// ChargeReport summarizes one batch run of due-installment charging.
type ChargeReport struct {
	Charged int
	Refused int
	Skipped int
	Errored int
}

// ChargeDueInstallments is the batch entry point: it scans orders with an
// installment due on or before day and issues a zero-click charge per order
// against the owner's main card. Individual failures never stop the batch.
func (s *Service) ChargeDueInstallments(ctx context.Context, day time.Time) (ChargeReport, error) {
	due, err := s.orders.ListDueOrders(ctx, day)
	if err != nil {
		return ChargeReport{}, errors.Wrap(err, "list due orders")
	}

	var (
		mu     sync.Mutex
		report ChargeReport
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ChargeConcurrency)

	for i := range due {
		o := due[i]
		g.Go(func() error {
			outcome := s.chargeOrder(ctx, &o, day)
			mu.Lock()
			switch outcome {
			case chargeOK:
				report.Charged++
			case chargeRefused:
				report.Refused++
			case chargeSkipped:
				report.Skipped++
			case chargeErrored:
				report.Errored++
			}
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return report, nil
}

type chargeOutcome int

const (
	chargeOK chargeOutcome = iota
	chargeRefused
	chargeSkipped
	chargeErrored
)

// chargeOrder performs one zero-click charge. The order snapshot may be
// stale; RecordPayment's guards re-verify everything under the lock.
func (s *Service) chargeOrder(ctx context.Context, o *Order, day time.Time) chargeOutcome {
	lg := s.lg.With(zap.String("order_id", o.ID))

	inst := o.FirstPendingInstallment()
	if inst == nil || inst.DueDate.After(day) {
		return chargeSkipped
	}

	card, err := s.cards.FindMainByOwner(ctx, o.OwnerID)
	if err != nil {
		if errors.Is(err, payment.ErrCardNotFound) {
			lg.Info("No stored card for due installment, skipping")
			return chargeSkipped
		}
		lg.Warn("Card lookup failed", zap.Error(err))
		return chargeErrored
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	p, err := s.gateway.CreateZeroClickPayment(pctx, payment.ZeroClickRequest{
		OrderID:       o.ID,
		InstallmentID: inst.ID,
		Amount:        inst.Amount,
		Currency:      s.cfg.Currency,
		CardToken:     card.Token,
	})
	if err != nil {
		lg.Warn("Zero-click charge failed", zap.Error(err))
		return chargeErrored
	}

	if !p.IsPaid {
		if err := s.OnPaymentFailure(ctx, o.ID, inst.ID); err != nil {
			lg.Warn("Registering refused charge failed", zap.Error(err))
			return chargeErrored
		}
		return chargeRefused
	}

	if err := s.OnPaymentSuccess(ctx, o.ID, inst.ID, p.ID, inst.Amount); err != nil {
		lg.Warn("Registering settled charge failed", zap.Error(err))
		return chargeErrored
	}
	return chargeOK
}

// triggerContract kicks off contract signature. Best-effort: a signature
// backend failure must not fail the payment path that triggered it.
func (s *Service) triggerContract(ctx context.Context, orderID string) {
	if s.contracts == nil {
		return
	}
	if err := s.contracts.SubmitForSignature(ctx, orderID); err != nil {
		s.lg.Warn("Contract submission failed",
			zap.String("order_id", orderID), zap.Error(err))
	}
}
