// Package offering models sellable course/product offerings and the seat
// allotment rules that govern who buys at which price.
package offering

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested offering does not exist.
	ErrNotFound = errors.New("offering not found")
	// ErrRuleNotFound is returned when a referenced offering rule does not exist.
	ErrRuleNotFound = errors.New("offering rule not found")
)

var hundred = decimal.NewFromInt(100)

// Offering pairs a course (or enrollment) with a sellable product and an
// organization. Exactly one of CourseID and EnrollmentID is set.
type Offering struct {
	ID                 string
	CourseID           string
	EnrollmentID       string
	ProductID          string
	OrganizationID     string
	Price              decimal.Decimal
	CourseStart        *time.Time
	ContractTemplateID string
}

// Discount is either a percentage rate or a fixed amount, never both.
type Discount struct {
	Rate   *decimal.Decimal
	Amount *decimal.Decimal
}

// Apply returns price reduced by the discount, floored at zero and rounded
// to the currency's minor unit.
func (d Discount) Apply(price decimal.Decimal) decimal.Decimal {
	discounted := price
	switch {
	case d.Rate != nil:
		discounted = price.Sub(price.Mul(*d.Rate).Div(hundred))
	case d.Amount != nil:
		discounted = price.Sub(*d.Amount)
	}
	if discounted.IsNegative() {
		return decimal.Zero
	}
	return discounted.Round(2)
}

// Rule is a seat allotment with an optional validity window and discount,
// scoped to one offering. A nil Capacity means unlimited seats.
type Rule struct {
	ID          string
	OfferingID  string
	Capacity    *int
	IsActive    bool
	Start       *time.Time
	End         *time.Time
	Discount    *Discount
	Description string
	CreatedAt   time.Time
}

// open reports whether the rule accepts new orders at the given instant.
// Orders that already consumed an expired rule keep their discount; openness
// only gates new resolutions.
func (r Rule) open(now time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.Start != nil && now.Before(*r.Start) {
		return false
	}
	if r.End != nil && !now.Before(*r.End) {
		return false
	}
	return true
}

// Repository provides offering and rule lookups. ListRules returns the rules
// of an offering ordered by creation time ascending (first created, first
// consumed).
type Repository interface {
	Get(ctx context.Context, id string) (*Offering, error)
	GetRule(ctx context.Context, id string) (*Rule, error)
	ListRules(ctx context.Context, offeringID string) ([]Rule, error)
}

// Resolver selects the offering rule a new order consumes.
//
// Implementations must make the seat check and the subsequent order write
// atomic: when the caller resolves inside an order transaction, no concurrent
// resolution for the same offering may observe the seat as free. This is a
// hard invariant, not a best-effort count.
type Resolver interface {
	Resolve(ctx context.Context, offeringID string, seats int) (*Rule, error)
}
