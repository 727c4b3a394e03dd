// Package refreshtokens declares the server-side repository contract for
// managing refresh tokens in persistent storage.
package refreshtokens

import (
	"context"
	"time"

	"github.com/toolchainlabs/tokensvc/internal/server/models"
)

// Repository defines operations for issuing, retrieving, and transitioning
// refresh tokens. State changes are guarded in SQL so that the monotonic
// lifecycle (active → expired/revoked, terminal states absorbing) holds even
// under concurrent writers.
type Repository interface {
	// Create stores a new refresh token row.
	Create(ctx context.Context, t *models.RefreshToken) error

	// FindBySecretHash looks up a token by the hash of its opaque secret.
	// Returns common.ErrorNotFound when absent.
	FindBySecretHash(ctx context.Context, secretHash string) (*models.RefreshToken, error)

	// FindByID looks up a token by id. Returns common.ErrorNotFound when absent.
	FindByID(ctx context.Context, id string) (*models.RefreshToken, error)

	// ListActiveByUser returns the user's active tokens, newest first.
	ListActiveByUser(ctx context.Context, userID string) ([]*models.RefreshToken, error)

	// CountActiveByUser counts the user's active tokens (quota checks).
	CountActiveByUser(ctx context.Context, userID string) (int64, error)

	// AcquireUserLock serializes token mints for one user. Must run inside a
	// transaction; the lock releases at commit or rollback. Without it, two
	// concurrent mints could both pass the quota count and insert.
	AcquireUserLock(ctx context.Context, userID string) error

	// TouchLastSeen records a use of the token.
	TouchLastSeen(ctx context.Context, id string, at time.Time) error

	// MarkExpired flips an active token to expired. A no-op when the token is
	// already terminal. Returns the number of rows changed.
	MarkExpired(ctx context.Context, id string) (int64, error)

	// MarkRevoked flips a token to revoked and records the time. Expired
	// tokens may still be revoked; revoking a revoked token is a no-op.
	// Returns rows changed.
	MarkRevoked(ctx context.Context, id string, at time.Time) (int64, error)

	// ExpireOverdue flips every active token past its expiry to expired,
	// returning the number of rows changed.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)

	// DeleteSweepable removes tokens that are terminal and whose expiry lies
	// before the cutoff, returning the number of rows deleted.
	DeleteSweepable(ctx context.Context, cutoff time.Time) (int64, error)
}
