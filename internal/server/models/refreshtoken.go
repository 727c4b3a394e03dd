package models

import (
	"time"

	"github.com/toolchainlabs/tokensvc/internal/token"
)

// RefreshToken is the persisted long-lived credential. The opaque secret the
// client holds is never stored; only its SHA-256 hash is.
type RefreshToken struct {
	ID         string
	UserID     string
	CustomerID string
	// RepoID is empty for tokens not scoped to a single repository.
	RepoID     string
	Audience   token.Audience
	Kind       token.Kind
	SecretHash string
	State      token.State
	// Provider names the origin of the token: "exchange" for codes redeemed
	// by the browser/CLI flow, otherwise the CI provider that resolved it.
	Provider  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	LastSeen  *time.Time
	RevokedAt *time.Time
}

// ExpiredAt reports whether the token is past its expiry at the given time.
// This is a clock check only; the persisted State may lag until the next use
// or sweep flips it.
func (t *RefreshToken) ExpiredAt(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}
