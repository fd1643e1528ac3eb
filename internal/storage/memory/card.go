package memory

import (
	"context"

	"github.com/xenking/course-checkout/internal/domain/payment"
)

type cardRecord struct {
	card payment.CreditCard
}

var _ payment.CardRepository = (*CardRepository)(nil)

// CardRepository implements payment.CardRepository on the in-memory Store.
type CardRepository struct {
	s *Store
}

// NewCardRepository returns a CardRepository over the given Store.
func NewCardRepository(s *Store) *CardRepository {
	return &CardRepository{s: s}
}

// Save inserts the card, or refreshes the stored details when the
// (owner, token) pair is already known.
func (r *CardRepository) Save(ctx context.Context, card *payment.CreditCard) error {
	return r.s.locked(ctx, func(context.Context) error {
		for _, rec := range r.s.cards {
			if rec.card.OwnerID == card.OwnerID && rec.card.Token == card.Token {
				card.ID = rec.card.ID
				rec.card = *card
				return nil
			}
		}
		if card.CreatedAt.IsZero() {
			card.CreatedAt = r.s.Now()
		}
		r.s.cards[card.ID] = &cardRecord{card: *card}
		return nil
	})
}

// Get returns a card by ID.
func (r *CardRepository) Get(ctx context.Context, id string) (*payment.CreditCard, error) {
	var found *payment.CreditCard
	err := r.s.locked(ctx, func(context.Context) error {
		rec, ok := r.s.cards[id]
		if !ok {
			return payment.ErrCardNotFound
		}
		card := rec.card
		found = &card
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// FindMainByOwner returns the owner's main card.
func (r *CardRepository) FindMainByOwner(ctx context.Context, ownerID string) (*payment.CreditCard, error) {
	var found *payment.CreditCard
	err := r.s.locked(ctx, func(context.Context) error {
		for _, rec := range r.s.cards {
			if rec.card.OwnerID == ownerID && rec.card.IsMain {
				card := rec.card
				found = &card
				return nil
			}
		}
		return payment.ErrCardNotFound
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Delete removes a card.
func (r *CardRepository) Delete(ctx context.Context, id string) error {
	return r.s.locked(ctx, func(context.Context) error {
		if _, ok := r.s.cards[id]; !ok {
			return payment.ErrCardNotFound
		}
		delete(r.s.cards, id)
		return nil
	})
}
