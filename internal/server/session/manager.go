package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/marketplace/internal/common"
	"github.com/dmitrijs2005/marketplace/internal/logging"
	"github.com/dmitrijs2005/marketplace/internal/server/auth"
)

// Manager ties sessions in a Store to the signed session cookie.
type Manager struct {
	store  Store
	secret []byte
	ttl    time.Duration
	secure bool
	logger logging.Logger
}

func NewManager(store Store, secret string, ttl time.Duration, secure bool, logger logging.Logger) *Manager {
	return &Manager{
		store:  store,
		secret: []byte(secret),
		ttl:    ttl,
		secure: secure,
		logger: logger.With("module", "session"),
	}
}

// Load returns the session referenced by the request cookie, or a new empty
// session when there is no usable cookie. Store failures are logged and
// also yield a new session.
func (m *Manager) Load(ctx context.Context, r *http.Request) *Session {
	c, err := r.Cookie(common.SessionCookieName)
	if err != nil || c.Value == "" {
		return New()
	}

	id, err := auth.GetSubjectFromToken(c.Value, m.secret)
	if err != nil {
		if !errors.Is(err, common.ErrTokenExpired) {
			m.logger.Warn(ctx, "rejected session cookie", "error", err)
		}
		return New()
	}

	s, err := m.store.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			m.logger.Error(ctx, "session load failed", "error", err)
		}
		return New()
	}
	return s
}

// Save persists s and writes the cookie. A new session gets an ID here; a
// session that was just authenticated is moved to a fresh ID and the old
// one is deleted.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s.ID != "" && s.renew {
		if err := m.store.Delete(ctx, s.ID); err != nil {
			return fmt.Errorf("delete old session: %w", err)
		}
		s.ID = ""
	}
	if s.ID == "" {
		id, err := common.MakeRandHexString(32)
		if err != nil {
			return fmt.Errorf("session id: %w", err)
		}
		s.ID = id
	}
	s.renew = false

	if err := m.store.Save(ctx, s, m.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	token, err := auth.GenerateToken(s.ID, m.secret, m.ttl)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     common.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Destroy removes s from the store and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s.ID != "" {
		if err := m.store.Delete(ctx, s.ID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	s.Reset()
	s.ID = ""

	http.SetCookie(w, &http.Cookie{
		Name:     common.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
