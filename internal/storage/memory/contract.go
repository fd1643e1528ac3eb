package memory

import (
	"context"

	"github.com/xenking/course-checkout/internal/domain/contract"
)

type contractRecord struct {
	contract contract.Contract
}

var _ contract.Repository = (*ContractRepository)(nil)

// ContractRepository implements contract.Repository on the in-memory Store.
type ContractRepository struct {
	s *Store
}

// NewContractRepository returns a ContractRepository over the given Store.
func NewContractRepository(s *Store) *ContractRepository {
	return &ContractRepository{s: s}
}

// Save inserts or overwrites the contract, keyed by its order.
func (r *ContractRepository) Save(ctx context.Context, c *contract.Contract) error {
	return r.s.locked(ctx, func(context.Context) error {
		r.s.contracts[c.OrderID] = &contractRecord{contract: *c}
		return nil
	})
}

// GetByOrder returns the contract attached to an order.
func (r *ContractRepository) GetByOrder(ctx context.Context, orderID string) (*contract.Contract, error) {
	var found *contract.Contract
	err := r.s.locked(ctx, func(context.Context) error {
		rec, ok := r.s.contracts[orderID]
		if !ok {
			return contract.ErrNotFound
		}
		c := rec.contract
		found = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// GetByReference returns the contract with the given provider reference.
func (r *ContractRepository) GetByReference(ctx context.Context, backendReference string) (*contract.Contract, error) {
	var found *contract.Contract
	err := r.s.locked(ctx, func(context.Context) error {
		for _, rec := range r.s.contracts {
			if rec.contract.BackendReference == backendReference {
				c := rec.contract
				found = &c
				return nil
			}
		}
		return contract.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
