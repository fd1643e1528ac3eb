// Package schedule computes payment schedules: how an order total is split
// into installments and when each installment falls due.
package schedule

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ConfigError reports an invalid or incomplete tier configuration. It is a
// deployment defect, never a user error.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "schedule configuration: " + e.Reason
}

// NoTierError indicates no configured tier covers the given price.
type NoTierError struct {
	Price decimal.Decimal
}

func (e *NoTierError) Error() string {
	return "no payment schedule tier covers price " + e.Price.String()
}

// Tier maps a price ceiling to the percentage split applied to prices at or
// below it. Parts must sum to exactly 100.
type Tier struct {
	UpTo  decimal.Decimal
	Parts []decimal.Decimal
}

// Installment is one computed slice of the total: an amount and a due date.
// State tracking lives with the order, not here.
type Installment struct {
	Amount  decimal.Decimal
	DueDate time.Time
}

// Config holds the knobs for schedule computation.
type Config struct {
	// MinPrice is the lowest price the tier table covers. Prices below it
	// fail with NoTierError rather than silently matching the first tier.
	MinPrice decimal.Decimal
	// Tiers ordered by ascending UpTo. The first tier whose UpTo is >= price
	// wins.
	Tiers []Tier
	// FirstDueDays is the offset between the reference date and the first
	// installment's due date. It mirrors the legal withdrawal window.
	FirstDueDays int
	// IntervalDays spaces subsequent installments apart.
	IntervalDays int
}

// DefaultConfig returns the standard tier table: prices up to 100 are
// collected in one installment, up to 500 in a 30/70 split, up to 1000 in a
// 30/35/35 split. The first installment of a split plan is due 16 days after
// submission, subsequent ones 30 days apart.
func DefaultConfig() Config {
	pct := decimal.NewFromInt
	return Config{
		Tiers: []Tier{
			{UpTo: pct(100), Parts: []decimal.Decimal{pct(100)}},
			{UpTo: pct(500), Parts: []decimal.Decimal{pct(30), pct(70)}},
			{UpTo: pct(1000), Parts: []decimal.Decimal{pct(30), pct(35), pct(35)}},
		},
		FirstDueDays: 16,
		IntervalDays: 30,
	}
}

// Calculator turns a price and course timing into an ordered installment
// plan. It is pure: no storage, no clock, safe to call concurrently.
type Calculator struct {
	cfg Config
}

// NewCalculator validates the tier table and returns a Calculator.
func NewCalculator(cfg Config) (*Calculator, error) {
	if len(cfg.Tiers) == 0 {
		return nil, &ConfigError{Reason: "no tiers configured"}
	}
	if cfg.FirstDueDays < 0 || cfg.IntervalDays <= 0 {
		return nil, &ConfigError{Reason: "non-positive due date offsets"}
	}

	prev := decimal.Zero
	for i, tier := range cfg.Tiers {
		if !tier.UpTo.GreaterThan(prev) {
			return nil, &ConfigError{Reason: "tier thresholds must be strictly ascending"}
		}
		prev = tier.UpTo

		if len(tier.Parts) == 0 {
			return nil, &ConfigError{Reason: "tier without percentage parts"}
		}
		sum := decimal.Zero
		for _, p := range tier.Parts {
			if !p.IsPositive() {
				return nil, &ConfigError{Reason: "non-positive percentage part"}
			}
			sum = sum.Add(p)
		}
		if !sum.Equal(hundred) {
			return nil, &ConfigError{
				Reason: errors.Errorf("tier %d percentages sum to %s, want 100", i, sum).Error(),
			}
		}
	}

	return &Calculator{cfg: cfg}, nil
}

// Compute splits price into installments per the configured tier table.
//
// The first installment is due FirstDueDays after referenceDate, later ones
// IntervalDays apart. When courseStart is set and falls after the first due
// date, no installment is due later than the course start. Every installment
// except the last is rounded to the currency's minor unit; the last absorbs
// the remainder so the amounts always sum to price exactly.
//
// A zero price yields an empty schedule. A price outside the tier table
// fails with NoTierError.
func (c *Calculator) Compute(price decimal.Decimal, referenceDate time.Time, courseStart *time.Time) ([]Installment, error) {
	if price.IsNegative() {
		return nil, &NoTierError{Price: price}
	}
	if price.IsZero() {
		return nil, nil
	}
	if price.LessThan(c.cfg.MinPrice) {
		return nil, &NoTierError{Price: price}
	}

	tier, err := c.pickTier(price)
	if err != nil {
		return nil, err
	}

	// A single-installment plan is collected up front; split plans defer the
	// first installment to the end of the withdrawal window.
	firstDue := day(referenceDate)
	if len(tier.Parts) > 1 {
		firstDue = firstDue.AddDate(0, 0, c.cfg.FirstDueDays)
	}

	schedule := make([]Installment, len(tier.Parts))
	allocated := decimal.Zero
	for i, part := range tier.Parts {
		amount := price.Mul(part).Div(hundred).Round(2)
		if i == len(tier.Parts)-1 {
			// The last installment reconciles rounding drift.
			amount = price.Sub(allocated)
		}
		allocated = allocated.Add(amount)

		due := firstDue.AddDate(0, 0, i*c.cfg.IntervalDays)
		if courseStart != nil {
			start := day(*courseStart)
			if start.After(firstDue) && due.After(start) {
				due = start
			}
		}

		schedule[i] = Installment{Amount: amount, DueDate: due}
	}

	return schedule, nil
}

func (c *Calculator) pickTier(price decimal.Decimal) (Tier, error) {
	for _, tier := range c.cfg.Tiers {
		if tier.UpTo.GreaterThanOrEqual(price) {
			return tier, nil
		}
	}
	return Tier{}, &NoTierError{Price: price}
}

// day truncates t to midnight UTC. Due dates are calendar dates, not instants.
func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
