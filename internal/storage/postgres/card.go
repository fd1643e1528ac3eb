package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/course-checkout/internal/domain/payment"
)

const saveCardSQL = `INSERT INTO credit_cards
	(id, owner_id, token, brand, last4, exp_month, exp_year, is_main)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT ON CONSTRAINT credit_cards_owner_token_uniq DO UPDATE SET
		brand = EXCLUDED.brand, last4 = EXCLUDED.last4,
		exp_month = EXCLUDED.exp_month, exp_year = EXCLUDED.exp_year,
		is_main = EXCLUDED.is_main
	RETURNING id, created_at`

const getCardSQL = `SELECT id, owner_id, token, brand, last4, exp_month, exp_year, is_main, created_at
	FROM credit_cards WHERE id = $1`

const findMainCardSQL = `SELECT id, owner_id, token, brand, last4, exp_month, exp_year, is_main, created_at
	FROM credit_cards WHERE owner_id = $1 AND is_main ORDER BY created_at DESC LIMIT 1`

const deleteCardSQL = `DELETE FROM credit_cards WHERE id = $1`

var _ payment.CardRepository = (*CardRepository)(nil)

// CardRepository implements payment.CardRepository backed by PostgreSQL.
type CardRepository struct {
	pool *pgxpool.Pool
}

// NewCardRepository returns a CardRepository that uses the given pool.
func NewCardRepository(pool *pgxpool.Pool) *CardRepository {
	return &CardRepository{pool: pool}
}

// Save inserts the card, or refreshes the stored details when the
// (owner, token) pair is already known. The card's ID and CreatedAt are
// updated in place to the persisted values.
func (r *CardRepository) Save(ctx context.Context, card *payment.CreditCard) error {
	err := q(ctx, r.pool).QueryRow(ctx, saveCardSQL,
		card.ID, card.OwnerID, card.Token, card.Brand, card.Last4,
		card.ExpMonth, card.ExpYear, card.IsMain,
	).Scan(&card.ID, &card.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "saving card of owner %q", card.OwnerID)
	}
	return nil
}

// Get returns a card by ID.
func (r *CardRepository) Get(ctx context.Context, id string) (*payment.CreditCard, error) {
	card, err := scanCard(q(ctx, r.pool).QueryRow(ctx, getCardSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrCardNotFound
		}
		return nil, errors.Wrapf(err, "getting card %q", id)
	}
	return card, nil
}

// FindMainByOwner returns the owner's main card.
func (r *CardRepository) FindMainByOwner(ctx context.Context, ownerID string) (*payment.CreditCard, error) {
	card, err := scanCard(q(ctx, r.pool).QueryRow(ctx, findMainCardSQL, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrCardNotFound
		}
		return nil, errors.Wrapf(err, "finding main card of owner %q", ownerID)
	}
	return card, nil
}

// Delete removes a stored card.
func (r *CardRepository) Delete(ctx context.Context, id string) error {
	tag, err := q(ctx, r.pool).Exec(ctx, deleteCardSQL, id)
	if err != nil {
		return errors.Wrapf(err, "deleting card %q", id)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrCardNotFound
	}
	return nil
}

func scanCard(row pgx.Row) (*payment.CreditCard, error) {
	var card payment.CreditCard
	if err := row.Scan(
		&card.ID, &card.OwnerID, &card.Token, &card.Brand, &card.Last4,
		&card.ExpMonth, &card.ExpYear, &card.IsMain, &card.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &card, nil
}
