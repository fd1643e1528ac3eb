package payment

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UnknownOrderError indicates a verified event references an order this
// system does not know. The event is rejected without side effects.
type UnknownOrderError struct {
	OrderID string
}

func (e *UnknownOrderError) Error() string {
	return "notification references unknown order " + e.OrderID
}

// OrderTransitions is the slice of the order state machine the dispatcher
// drives. Implementations must be idempotent with respect to the provider
// transaction ID and safe under concurrent delivery of the same event.
type OrderTransitions interface {
	OnPaymentSuccess(ctx context.Context, orderID, installmentID, transactionID string, amount decimal.Decimal) error
	OnPaymentFailure(ctx context.Context, orderID, installmentID string) error
}

// Dispatcher receives raw provider notifications, verifies them through the
// gateway, and forwards the outcome to the order state machine.
type Dispatcher struct {
	gateway Gateway
	orders  OrderTransitions
	cards   CardRepository
	lg      *zap.Logger
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(gateway Gateway, orders OrderTransitions, cards CardRepository, lg *zap.Logger) *Dispatcher {
	return &Dispatcher{
		gateway: gateway,
		orders:  orders,
		cards:   cards,
		lg:      lg,
	}
}

// Handle processes one incoming provider notification end to end. It is safe
// to invoke concurrently and repeatedly for the same event: re-delivery of an
// already-applied payment is a no-op success.
func (d *Dispatcher) Handle(ctx context.Context, r *http.Request) error {
	ev, err := d.gateway.HandleNotification(r)
	if err != nil {
		return errors.Wrap(err, "verify notification")
	}

	lg := d.lg.With(
		zap.String("order_id", ev.OrderID),
		zap.String("installment_id", ev.InstallmentID),
		zap.String("transaction_id", ev.TransactionID),
		zap.String("event", string(ev.Type)),
	)

	switch ev.Type {
	case EventPaid:
		if err := d.orders.OnPaymentSuccess(ctx, ev.OrderID, ev.InstallmentID, ev.TransactionID, ev.Amount); err != nil {
			return err
		}
		lg.Info("Payment registered")
		// A settled payment may carry a freshly tokenized card alongside.
		if ev.Card != nil {
			d.saveCard(ctx, lg, ev)
		}
		return nil

	case EventRefused:
		if err := d.orders.OnPaymentFailure(ctx, ev.OrderID, ev.InstallmentID); err != nil {
			return err
		}
		lg.Info("Payment refusal registered")
		return nil

	case EventTokenized:
		if ev.Card == nil {
			return errors.Wrap(ErrParseNotification, "tokenization event without card")
		}
		if err := d.cards.Save(ctx, ev.Card); err != nil {
			return errors.Wrap(err, "save tokenized card")
		}
		lg.Info("Card token stored", zap.String("card_id", ev.Card.ID))
		return nil

	default:
		return errors.Wrap(ErrParseNotification, "unsupported event type "+string(ev.Type))
	}
}

// saveCard stores a card attached to a payment event. Failures are logged,
// not propagated: the payment itself already applied and the provider must
// not retry it.
func (d *Dispatcher) saveCard(ctx context.Context, lg *zap.Logger, ev *Event) {
	if err := d.cards.Save(ctx, ev.Card); err != nil {
		lg.Warn("Storing card from payment event failed", zap.Error(err))
	}
}
