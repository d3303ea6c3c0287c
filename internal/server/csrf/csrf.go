// Package csrf issues and checks the per-session anti-forgery token posted
// by every state-changing form.
package csrf

import (
	"crypto/subtle"
	"fmt"

	"github.com/dmitrijs2005/marketplace/internal/common"
	"github.com/dmitrijs2005/marketplace/internal/server/session"
)

const tokenBytes = 32

// Issue generates a new token, stores it on s and returns it. The previous
// token stops being valid.
func Issue(s *session.Session) (string, error) {
	token, err := common.MakeRandHexString(tokenBytes)
	if err != nil {
		return "", fmt.Errorf("csrf token: %w", err)
	}
	s.CSRFToken = token
	return token, nil
}

// Verify reports whether submitted equals the token stored on s. A missing
// stored token and a missing or wrong submission all fail the same way.
func Verify(s *session.Session, submitted string) bool {
	if s == nil || s.CSRFToken == "" || submitted == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.CSRFToken), []byte(submitted)) == 1
}
