// Package payment defines the gateway port a payment provider backend must
// implement, the event model for incoming provider notifications, and the
// dispatcher that routes verified events into order transitions.
package payment

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors shared by gateway implementations.
var (
	// ErrParseNotification is returned when an incoming notification's
	// signature or payload cannot be verified. Integrity failures never
	// mutate state.
	ErrParseNotification = errors.New("notification could not be verified")
	// ErrAbortUnknownPayment is returned when aborting a payment the
	// provider does not know about.
	ErrAbortUnknownPayment = errors.New("unknown payment")
)

// CreatePaymentError indicates the provider rejected a payment creation
// request for business reasons (as opposed to a transport failure).
type CreatePaymentError struct {
	Reason string
}

func (e *CreatePaymentError) Error() string {
	return "create payment refused: " + e.Reason
}

// APIError indicates a transport or server-side failure talking to the
// provider. The order is left in its pre-call state so the caller can retry.
type APIError struct {
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment provider API error (status %d): %v", e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// BillingAddress is the buyer address attached to a payment.
type BillingAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Address   string `json:"address"`
	City      string `json:"city"`
	PostCode  string `json:"post_code"`
	Country   string `json:"country"`
}

// Request carries what a provider needs to open a payment for one
// installment of an order.
type Request struct {
	OrderID       string
	InstallmentID string
	Amount        decimal.Decimal
	Currency      string
	Billing       *BillingAddress
}

// OneClickRequest is a Request charged against a stored card token with the
// buyer present.
type OneClickRequest struct {
	Request
	CardToken string
}

// ZeroClickRequest is a silent merchant-initiated charge against a stored
// card token, used by the due-installment batch job.
type ZeroClickRequest struct {
	OrderID       string
	InstallmentID string
	Amount        decimal.Decimal
	Currency      string
	CardToken     string
}

// Payment is the provider-side handle for a created payment. Payload is an
// opaque provider blob forwarded to the front end (form token, redirect URL).
// IsPaid is set when the provider settles synchronously.
type Payment struct {
	ID      string
	Payload []byte
	IsPaid  bool
}

// Gateway is the port a concrete payment backend implements. The core only
// ever talks to providers through it; wire formats stay behind it.
//
// Every call must respect the context deadline: a hanging provider must never
// block a state machine transition.
type Gateway interface {
	CreatePayment(ctx context.Context, req Request) (*Payment, error)
	CreateOneClickPayment(ctx context.Context, req OneClickRequest) (*Payment, error)
	CreateZeroClickPayment(ctx context.Context, req ZeroClickRequest) (*Payment, error)
	AbortPayment(ctx context.Context, paymentID string) error
	DeleteCreditCard(ctx context.Context, card *CreditCard) error

	// HandleNotification authenticates and parses an incoming provider
	// webhook. It fails with ErrParseNotification when the signature does
	// not verify, and performs no state changes of its own.
	HandleNotification(r *http.Request) (*Event, error)
}
