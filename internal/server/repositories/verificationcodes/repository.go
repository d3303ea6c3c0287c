package verificationcodes

import (
	"context"
	"time"

	"github.com/dmitrijs2005/marketplace/internal/server/models"
)

// Repository stores at most one verification code per user.
type Repository interface {
	// Upsert replaces any existing code for userID.
	Upsert(ctx context.Context, userID string, code string, expiresAt time.Time) error
	// Find locks and returns the user's code row, or common.ErrorNotFound.
	Find(ctx context.Context, userID string) (*models.VerificationCode, error)
	Delete(ctx context.Context, userID string) error
}
