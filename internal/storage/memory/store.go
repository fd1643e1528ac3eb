// Package memory provides mutex-guarded in-memory repositories for local
// runs and tests. One Store backs every repository so the order lock and the
// offering rule seat count share a single critical section, matching the
// transactional guarantees of the postgres implementation.
package memory

import (
	"context"
	"sync"
	"time"
)

// lockScope marks contexts already inside the store's critical section, so
// nested repository calls (seat counting during submission) do not deadlock.
type lockScope struct{}

// Store is the shared state behind the in-memory repositories.
type Store struct {
	mu        sync.Mutex
	orders    map[string]*orderRecord
	offerings map[string]*offeringRecord
	cards     map[string]*cardRecord
	contracts map[string]*contractRecord

	// Now is injectable for tests.
	Now func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		orders:    make(map[string]*orderRecord),
		offerings: make(map[string]*offeringRecord),
		cards:     make(map[string]*cardRecord),
		contracts: make(map[string]*contractRecord),
		Now:       time.Now,
	}
}

// locked runs fn inside the store's critical section, entering it unless the
// context already carries it.
func (s *Store) locked(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(lockScope{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(context.WithValue(ctx, lockScope{}, true))
}
