package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/course-checkout/internal/domain/contract"
)

const saveContractSQL = `INSERT INTO contracts
	(id, order_id, template_id, checksum, backend_reference, submitted_for_signature_on, signed_on)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		template_id = EXCLUDED.template_id, checksum = EXCLUDED.checksum,
		backend_reference = EXCLUDED.backend_reference,
		submitted_for_signature_on = EXCLUDED.submitted_for_signature_on,
		signed_on = EXCLUDED.signed_on`

const getContractByOrderSQL = `SELECT id, order_id, template_id, checksum, backend_reference,
	submitted_for_signature_on, signed_on, created_at
	FROM contracts WHERE order_id = $1`

const getContractByReferenceSQL = `SELECT id, order_id, template_id, checksum, backend_reference,
	submitted_for_signature_on, signed_on, created_at
	FROM contracts WHERE backend_reference = $1`

var _ contract.Repository = (*ContractRepository)(nil)

// ContractRepository implements contract.Repository backed by PostgreSQL.
type ContractRepository struct {
	pool *pgxpool.Pool
}

// NewContractRepository returns a ContractRepository that uses the given pool.
func NewContractRepository(pool *pgxpool.Pool) *ContractRepository {
	return &ContractRepository{pool: pool}
}

// Save inserts or updates a contract.
func (r *ContractRepository) Save(ctx context.Context, c *contract.Contract) error {
	_, err := q(ctx, r.pool).Exec(ctx, saveContractSQL,
		c.ID, c.OrderID, c.TemplateID, c.Checksum, c.BackendReference,
		c.SubmittedForSignatureOn, c.SignedOn,
	)
	if err != nil {
		return errors.Wrapf(err, "saving contract of order %q", c.OrderID)
	}
	return nil
}

// GetByOrder returns the contract attached to an order.
func (r *ContractRepository) GetByOrder(ctx context.Context, orderID string) (*contract.Contract, error) {
	c, err := scanContract(q(ctx, r.pool).QueryRow(ctx, getContractByOrderSQL, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, contract.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting contract of order %q", orderID)
	}
	return c, nil
}

// GetByReference returns the contract holding a signature backend reference.
func (r *ContractRepository) GetByReference(ctx context.Context, backendReference string) (*contract.Contract, error) {
	c, err := scanContract(q(ctx, r.pool).QueryRow(ctx, getContractByReferenceSQL, backendReference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, contract.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting contract by reference %q", backendReference)
	}
	return c, nil
}

func scanContract(row pgx.Row) (*contract.Contract, error) {
	var c contract.Contract
	if err := row.Scan(
		&c.ID, &c.OrderID, &c.TemplateID, &c.Checksum, &c.BackendReference,
		&c.SubmittedForSignatureOn, &c.SignedOn, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}
