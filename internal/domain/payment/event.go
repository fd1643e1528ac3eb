package payment

import (
	"github.com/shopspring/decimal"
)

// EventType enumerates the notification outcomes a provider can report.
type EventType string

const (
	// EventPaid reports a settled payment for one installment.
	EventPaid EventType = "paid"
	// EventRefused reports a refused or failed payment attempt.
	EventRefused EventType = "refused"
	// EventTokenized reports a stored card token. Order-level: no
	// installment transition, only a credit card side effect.
	EventTokenized EventType = "tokenized"
)

// Event is a verified, provider-agnostic payment notification.
type Event struct {
	Type          EventType
	OrderID       string
	OwnerID       string
	InstallmentID string
	TransactionID string
	Amount        decimal.Decimal
	Card          *CreditCard
	Billing       *BillingAddress
}
