// Package verificationcodes provides a PostgreSQL-backed repository for the
// email verification codes issued at registration and on resend.
package verificationcodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/marketplace/internal/common"
	"github.com/dmitrijs2005/marketplace/internal/dbx"
	"github.com/dmitrijs2005/marketplace/internal/server/models"
)

// PostgresRepository implements code storage over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert writes code for userID, overwriting a previous code so that an
// older code stops matching as soon as this statement commits.
func (r *PostgresRepository) Upsert(ctx context.Context, userID string, code string, expiresAt time.Time) error {
	query := `
		INSERT INTO verification_codes (user_id, code, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET code = EXCLUDED.code, expires_at = EXCLUDED.expires_at
	`
	if _, err := r.db.ExecContext(ctx, query, userID, code, expiresAt.UTC()); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Find returns the code row for userID. The row is locked FOR UPDATE so a
// concurrent verification inside another transaction waits for this one.
func (r *PostgresRepository) Find(ctx context.Context, userID string) (*models.VerificationCode, error) {
	query := `
		SELECT user_id, code, expires_at
		FROM verification_codes
		WHERE user_id = $1
		FOR UPDATE
	`
	v := &models.VerificationCode{}
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&v.UserID, &v.Code, &v.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

// Delete removes the code row for userID. Deleting a missing row is not an error.
func (r *PostgresRepository) Delete(ctx context.Context, userID string) error {
	query := `
		DELETE FROM verification_codes
		WHERE user_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
