// Package exchangecodes declares the repository contract for one-time
// exchange codes.
package exchangecodes

import (
	"context"
	"time"

	"github.com/toolchainlabs/tokensvc/internal/server/models"
)

// Repository defines operations for issuing and consuming exchange codes.
type Repository interface {
	// Create stores a new exchange code row.
	Create(ctx context.Context, c *models.ExchangeCode) error

	// Consume atomically claims an available, unexpired code by the hash of
	// its plaintext and returns it. The availability flip and the read happen
	// in one statement, so two concurrent redemptions of the same code yield
	// exactly one winner. Unknown, already-consumed, and expired codes all
	// return common.ErrorNotFound.
	Consume(ctx context.Context, codeHash string, now time.Time) (*models.ExchangeCode, error)

	// DeleteExpired removes codes past their expiry, returning the number of
	// rows deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
