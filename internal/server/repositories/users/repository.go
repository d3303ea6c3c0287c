// Package users persists account credentials: email, password hash, role and
// the verified flag.
package users

import (
	"context"

	"github.com/dmitrijs2005/marketplace/internal/server/models"
)

type Repository interface {
	// Create inserts user, assigning its ID. A taken email (case-insensitive)
	// yields common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	// SetVerified is idempotent.
	SetVerified(ctx context.Context, id string) error
	UpdatePasswordHash(ctx context.Context, id string, hash string) error
}
