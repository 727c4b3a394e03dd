// Package users declares the server-side repository contract for user
// accounts.
package users

import (
	"context"

	"github.com/toolchainlabs/tokensvc/internal/server/models"
)

// Repository defines operations for creating and looking up users.
type Repository interface {
	// Create stores a new user and returns it with its generated ID.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetByLogin returns the user with the given login, or common.ErrorNotFound.
	GetByLogin(ctx context.Context, login string) (*models.User, error)

	// GetByID returns the user with the given id, or common.ErrorNotFound.
	GetByID(ctx context.Context, id string) (*models.User, error)
}
