package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/marketplace/internal/common"
	"github.com/dmitrijs2005/marketplace/internal/cryptox"
	"github.com/dmitrijs2005/marketplace/internal/dbx"
	"github.com/dmitrijs2005/marketplace/internal/server/repositories/repomanager"
)

// CodeDigits is the length of a verification code.
const CodeDigits = 6

// VerificationLedger issues, checks and clears the single live verification
// code of each user. Every method runs on the DBTX it is given, so callers
// decide the transaction boundary.
type VerificationLedger struct {
	repomanager repomanager.RepositoryManager
	ttl         time.Duration
	now         func() time.Time
	newCode     func() (string, error)
}

func NewVerificationLedger(rm repomanager.RepositoryManager, ttl time.Duration) *VerificationLedger {
	return &VerificationLedger{
		repomanager: rm,
		ttl:         ttl,
		now:         time.Now,
		newCode:     func() (string, error) { return cryptox.NewNumericCode(CodeDigits) },
	}
}

// Issue stores a fresh code for userID, replacing any previous one, and
// returns it.
func (l *VerificationLedger) Issue(ctx context.Context, db dbx.DBTX, userID string) (string, error) {
	code, err := l.newCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	if err := l.repomanager.VerificationCodes(db).Upsert(ctx, userID, code, l.now().Add(l.ttl)); err != nil {
		return "", err
	}
	return code, nil
}

// Validate reports whether submitted is the user's live code. A missing
// row, a wrong value and an expired code all yield false with a nil error.
func (l *VerificationLedger) Validate(ctx context.Context, db dbx.DBTX, userID, submitted string) (bool, error) {
	v, err := l.repomanager.VerificationCodes(db).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, err
	}
	return v.UsableAt(submitted, l.now()), nil
}

func (l *VerificationLedger) Clear(ctx context.Context, db dbx.DBTX, userID string) error {
	return l.repomanager.VerificationCodes(db).Delete(ctx, userID)
}
