// Package adminctl implements the operator commands of marketctl: schema
// migrations and account support tasks that bypass the web workflow.
package adminctl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/dmitrijs2005/marketplace/internal/common"
	"github.com/dmitrijs2005/marketplace/internal/dbx"
	"github.com/dmitrijs2005/marketplace/internal/server/models"
	"github.com/dmitrijs2005/marketplace/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/marketplace/internal/server/services"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrPasswordTooShort  = fmt.Errorf("password must be at least %d characters", services.MinPasswordLength)
	ErrPasswordsMismatch = errors.New("passwords do not match")
)

// Hasher produces stored password hashes. cryptox.Argon2 implements it.
type Hasher interface {
	Hash(password string) (string, error)
}

type Admin struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      Hasher
	out         io.Writer
}

func New(db *sql.DB, rm repomanager.RepositoryManager, h Hasher, out io.Writer) *Admin {
	return &Admin{db: db, repomanager: rm, hasher: h, out: out}
}

func (a *Admin) Migrate(ctx context.Context) error {
	if err := a.repomanager.RunMigrations(ctx, a.db); err != nil {
		return err
	}
	_, err := fmt.Fprintln(a.out, "migrations applied")
	return err
}

// VerifyUser marks the account verified and drops any outstanding code.
func (a *Admin) VerifyUser(ctx context.Context, email string) error {
	err := dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		u, err := a.lookup(ctx, tx, email)
		if err != nil {
			return err
		}
		if err := a.repomanager.Users(tx).SetVerified(ctx, u.ID); err != nil {
			return err
		}
		return a.repomanager.VerificationCodes(tx).Delete(ctx, u.ID)
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "user %s verified\n", common.NormalizeEmail(email))
	return err
}

// SetPassword replaces the account password after checking the length
// rule the web forms enforce.
func (a *Admin) SetPassword(ctx context.Context, email, password string) error {
	if utf8.RuneCountInString(password) < services.MinPasswordLength {
		return ErrPasswordTooShort
	}
	hash, err := a.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		u, err := a.lookup(ctx, tx, email)
		if err != nil {
			return err
		}
		return a.repomanager.Users(tx).UpdatePasswordHash(ctx, u.ID, hash)
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "password updated for %s\n", common.NormalizeEmail(email))
	return err
}

func (a *Admin) lookup(ctx context.Context, db dbx.DBTX, email string) (*models.User, error) {
	u, err := a.repomanager.Users(db).GetByEmail(ctx, email)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, common.NormalizeEmail(email))
	}
	return u, err
}
