// Package dummy contains the in-process payment and signature backends used
// for development and tests. Notifications are authenticated with an
// HMAC-SHA256 body signature, the same verify-then-act shape a real provider
// integration follows; real wire formats live outside this repository.
package dummy

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/course-checkout/internal/domain/payment"
)

// SignatureHeader carries the hex HMAC-SHA256 of the notification body.
const SignatureHeader = "X-Notification-Signature"

// maxNotificationBytes bounds webhook bodies.
const maxNotificationBytes = 1 << 20

var _ payment.Gateway = (*PaymentGateway)(nil)

// PaymentGateway is the dummy payment backend. Created payments are held in
// an in-memory registry; settlement arrives through signed notifications.
type PaymentGateway struct {
	secret []byte

	mu       sync.Mutex
	payments map[string]payment.Request
}

// NewPaymentGateway creates a dummy gateway signing and verifying
// notifications with the given secret.
func NewPaymentGateway(secret []byte) *PaymentGateway {
	return &PaymentGateway{
		secret:   secret,
		payments: make(map[string]payment.Request),
	}
}

// payload is the opaque blob handed to the front end to run the payment.
type payload struct {
	PaymentID string `json:"payment_id"`
	Provider  string `json:"provider"`
	OrderID   string `json:"order_id"`
	Amount    string `json:"amount"`
}

// CreatePayment registers a payment for one installment.
func (g *PaymentGateway) CreatePayment(_ context.Context, req payment.Request) (*payment.Payment, error) {
	if req.Billing == nil {
		return nil, &payment.CreatePaymentError{Reason: "billing address missing"}
	}
	return g.register(req)
}

// CreateOneClickPayment registers a payment against a stored token. The
// dummy backend still settles through a notification, so IsPaid stays false.
func (g *PaymentGateway) CreateOneClickPayment(_ context.Context, req payment.OneClickRequest) (*payment.Payment, error) {
	if req.CardToken == "" {
		return nil, &payment.CreatePaymentError{Reason: "card token missing"}
	}
	return g.register(req.Request)
}

// CreateZeroClickPayment performs a silent charge and settles synchronously.
// Tokens suffixed "-refused" simulate an issuer refusal.
func (g *PaymentGateway) CreateZeroClickPayment(_ context.Context, req payment.ZeroClickRequest) (*payment.Payment, error) {
	if req.CardToken == "" {
		return nil, &payment.CreatePaymentError{Reason: "card token missing"}
	}
	return &payment.Payment{
		ID:     uuid.New().String(),
		IsPaid: !strings.HasSuffix(req.CardToken, "-refused"),
	}, nil
}

// AbortPayment drops a registered payment.
func (g *PaymentGateway) AbortPayment(_ context.Context, paymentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.payments[paymentID]; !ok {
		return payment.ErrAbortUnknownPayment
	}
	delete(g.payments, paymentID)
	return nil
}

// DeleteCreditCard is a no-op: the dummy backend stores no card state.
func (g *PaymentGateway) DeleteCreditCard(context.Context, *payment.CreditCard) error {
	return nil
}

// notification is the dummy provider's webhook body.
type notification struct {
	Type          string                  `json:"type"`
	OrderID       string                  `json:"order_id"`
	OwnerID       string                  `json:"owner_id,omitempty"`
	InstallmentID string                  `json:"installment_id,omitempty"`
	TransactionID string                  `json:"transaction_id,omitempty"`
	Amount        decimal.Decimal         `json:"amount,omitempty"`
	Card          *notificationCard       `json:"card,omitempty"`
	Billing       *payment.BillingAddress `json:"billing,omitempty"`
}

type notificationCard struct {
	Token    string `json:"token"`
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
	IsMain   bool   `json:"is_main"`
}

// HandleNotification authenticates the body signature and parses the event.
func (g *PaymentGateway) HandleNotification(r *http.Request) (*payment.Event, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		return nil, errors.Wrap(payment.ErrParseNotification, "read body")
	}

	if !verifyHMAC(g.secret, body, r.Header.Get(SignatureHeader)) {
		return nil, errors.Wrap(payment.ErrParseNotification, "bad signature")
	}

	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, errors.Wrap(payment.ErrParseNotification, "malformed payload")
	}
	if n.OrderID == "" {
		return nil, errors.Wrap(payment.ErrParseNotification, "missing order id")
	}

	ev := &payment.Event{
		Type:          payment.EventType(n.Type),
		OrderID:       n.OrderID,
		OwnerID:       n.OwnerID,
		InstallmentID: n.InstallmentID,
		TransactionID: n.TransactionID,
		Amount:        n.Amount,
		Billing:       n.Billing,
	}
	if n.Card != nil {
		ev.Card = &payment.CreditCard{
			ID:       uuid.New().String(),
			OwnerID:  n.OwnerID,
			Token:    n.Card.Token,
			Brand:    n.Card.Brand,
			Last4:    n.Card.Last4,
			ExpMonth: n.Card.ExpMonth,
			ExpYear:  n.Card.ExpYear,
			IsMain:   n.Card.IsMain,
		}
	}
	return ev, nil
}

// Sign computes the notification signature for a body. Exposed so tests and
// the local notification sender can produce valid webhooks.
func (g *PaymentGateway) Sign(body []byte) string {
	return signHMAC(g.secret, body)
}

func signHMAC(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(secret, body []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}

func (g *PaymentGateway) register(req payment.Request) (*payment.Payment, error) {
	id := uuid.New().String()

	g.mu.Lock()
	g.payments[id] = req
	g.mu.Unlock()

	blob, err := json.Marshal(payload{
		PaymentID: id,
		Provider:  "dummy",
		OrderID:   req.OrderID,
		Amount:    req.Amount.StringFixed(2),
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal payment payload")
	}

	return &payment.Payment{ID: id, Payload: blob}, nil
}
