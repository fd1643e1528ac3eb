package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrCardNotFound is returned when a referenced credit card does not exist.
var ErrCardNotFound = errors.New("credit card not found")

// CreditCard is a stored payment method: a provider token plus the masked
// details shown to the owner. The PAN itself never reaches this system.
type CreditCard struct {
	ID        string
	OwnerID   string
	Token     string
	Brand     string
	Last4     string
	ExpMonth  int
	ExpYear   int
	IsMain    bool
	CreatedAt time.Time
}

// CardRepository persists stored payment methods.
type CardRepository interface {
	// Save inserts the card or, when the (owner, token) pair already
	// exists, refreshes the stored details.
	Save(ctx context.Context, card *CreditCard) error
	Get(ctx context.Context, id string) (*CreditCard, error)
	// FindMainByOwner returns the owner's main card, used for zero-click
	// charges. ErrCardNotFound when the owner has none.
	FindMainByOwner(ctx context.Context, ownerID string) (*CreditCard, error)
	Delete(ctx context.Context, id string) error
}
