package models

import "time"

// ExchangeCode is a short-lived, single-use code binding a user+repo pair.
// Available flips to false exactly once, atomically, when the code is
// consumed to mint a refresh token.
type ExchangeCode struct {
	ID        string
	CodeHash  string
	UserID    string
	RepoID    string
	Available bool
	ExpiresAt time.Time
	CreatedAt time.Time
}
