// Package users declares the server-side repository contract for persistent
// user records.
package users

import (
	"context"

	"github.com/mbalashov/sessiond/internal/server/models"
)

// Repository defines lookup and mutation operations for users.
// Email lookups are case-insensitive: implementations normalize the address
// before comparing.
type Repository interface {
	// Create inserts a new user. A duplicate email yields
	// common.ErrEmailTaken.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetByEmail returns the user with the given (normalized) email, or
	// common.ErrorNotFound.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetByID returns the user with the given id, or common.ErrorNotFound.
	GetByID(ctx context.Context, id string) (*models.User, error)

	// UpdateLastLogin stamps the user's last successful login time.
	UpdateLastLogin(ctx context.Context, id string) error

	// UpdatePasswordHash replaces the stored password hash.
	UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error
}
