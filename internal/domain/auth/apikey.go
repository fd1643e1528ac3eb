// Package auth holds API key identities for the operator endpoints.
package auth

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound is returned when no API key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// APIKey identifies one operator credential. Only the HMAC-SHA256 hash of
// the secret is stored.
type APIKey struct {
	KeyHash   string
	Name      string
	CreatedAt time.Time
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
}
