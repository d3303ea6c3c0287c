package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/marketplace/internal/dbx"
	"github.com/dmitrijs2005/marketplace/internal/server/repositories/profiles"
	"github.com/dmitrijs2005/marketplace/internal/server/repositories/users"
	"github.com/dmitrijs2005/marketplace/internal/server/repositories/verificationcodes"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code runs
// against the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Profiles(db dbx.DBTX) profiles.Repository
	VerificationCodes(db dbx.DBTX) verificationcodes.Repository
}
