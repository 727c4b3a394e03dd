// Package denylist tracks revoked access tokens until they would have
// expired on their own. Access tokens are stateless, so revocation has to be
// propagated through a shared lookup that verifiers consult.
package denylist

import (
	"context"
	"time"
)

// Denylist stores revoked token ids with a TTL. Entries only need to outlive
// the access token validity window.
type Denylist interface {
	// Add records a revoked token id. The entry may be dropped after ttl.
	Add(ctx context.Context, tokenID string, ttl time.Duration) error

	// Contains reports whether the token id has been revoked.
	Contains(ctx context.Context, tokenID string) (bool, error)

	// Close releases backend resources.
	Close() error
}
