package memory

import (
	"context"
	"sort"

	"github.com/xenking/course-checkout/internal/domain/offering"
)

type offeringRecord struct {
	offering offering.Offering
	rules    []offering.Rule
}

var (
	_ offering.Repository = (*OfferingRepository)(nil)
	_ offering.Resolver   = (*OfferingRepository)(nil)
)

// OfferingRepository implements offering lookups and rule resolution on the
// in-memory Store. Resolution shares the store's critical section with the
// order lock, so seat checks and order writes are atomic.
type OfferingRepository struct {
	s *Store
}

// NewOfferingRepository returns an OfferingRepository over the given Store.
func NewOfferingRepository(s *Store) *OfferingRepository {
	return &OfferingRepository{s: s}
}

// Add seeds an offering.
func (r *OfferingRepository) Add(ctx context.Context, off offering.Offering) error {
	return r.s.locked(ctx, func(context.Context) error {
		r.s.offerings[off.ID] = &offeringRecord{offering: off}
		return nil
	})
}

// AddRule seeds an offering rule.
func (r *OfferingRepository) AddRule(ctx context.Context, rule offering.Rule) error {
	return r.s.locked(ctx, func(context.Context) error {
		rec, ok := r.s.offerings[rule.OfferingID]
		if !ok {
			return offering.ErrNotFound
		}
		rec.rules = append(rec.rules, rule)
		sort.Slice(rec.rules, func(i, j int) bool {
			return rec.rules[i].CreatedAt.Before(rec.rules[j].CreatedAt)
		})
		return nil
	})
}

// Get returns an offering by ID.
func (r *OfferingRepository) Get(ctx context.Context, id string) (*offering.Offering, error) {
	var found *offering.Offering
	err := r.s.locked(ctx, func(context.Context) error {
		rec, ok := r.s.offerings[id]
		if !ok {
			return offering.ErrNotFound
		}
		off := rec.offering
		found = &off
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// GetRule returns a rule by ID.
func (r *OfferingRepository) GetRule(ctx context.Context, id string) (*offering.Rule, error) {
	var found *offering.Rule
	err := r.s.locked(ctx, func(context.Context) error {
		for _, rec := range r.s.offerings {
			for i := range rec.rules {
				if rec.rules[i].ID == id {
					rule := rec.rules[i]
					found = &rule
					return nil
				}
			}
		}
		return offering.ErrRuleNotFound
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ListRules returns an offering's rules ordered by creation time.
func (r *OfferingRepository) ListRules(ctx context.Context, offeringID string) ([]offering.Rule, error) {
	var rules []offering.Rule
	err := r.s.locked(ctx, func(context.Context) error {
		rec, ok := r.s.offerings[offeringID]
		if !ok {
			return offering.ErrNotFound
		}
		rules = append(rules, rec.rules...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// Resolve selects the applicable rule under the store lock, counting seats
// held by binding orders.
func (r *OfferingRepository) Resolve(ctx context.Context, offeringID string, seats int) (*offering.Rule, error) {
	var selected *offering.Rule
	err := r.s.locked(ctx, func(context.Context) error {
		rec, ok := r.s.offerings[offeringID]
		if !ok {
			return offering.ErrNotFound
		}
		counts := r.s.countBoundSeats(offeringID)
		if rule := offering.SelectRule(rec.rules, counts, seats, r.s.Now()); rule != nil {
			clone := *rule
			selected = &clone
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return selected, nil
}
