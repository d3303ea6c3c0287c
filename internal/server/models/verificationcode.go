package models

import (
	"crypto/subtle"
	"time"
)

// VerificationCode is the single live email-verification code of a user.
type VerificationCode struct {
	UserID    string
	Code      string
	ExpiresAt time.Time
}

// UsableAt reports whether submitted matches and the code has not expired at
// now. Both conditions are evaluated against the same instant.
func (v *VerificationCode) UsableAt(submitted string, now time.Time) bool {
	if v == nil {
		return false
	}
	match := subtle.ConstantTimeCompare([]byte(v.Code), []byte(submitted)) == 1
	return match && !now.After(v.ExpiresAt)
}
