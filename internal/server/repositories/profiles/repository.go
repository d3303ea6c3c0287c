// Package profiles persists the role-specific profile of each account.
// Consumers and markets live in separate tables; the role picks the table.
package profiles

import (
	"context"

	"github.com/dmitrijs2005/marketplace/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, p *models.Profile) (*models.Profile, error)
	GetByUserID(ctx context.Context, role models.Role, userID string) (*models.Profile, error)
	Update(ctx context.Context, p *models.Profile) error
	SetImage(ctx context.Context, role models.Role, userID string, image string) error
}
