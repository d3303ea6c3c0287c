// Package session holds per-browser state between requests: who is signed
// in, who is waiting for email verification, the CSRF token and a one-shot
// flash message. Sessions live in a pluggable Store and are referenced from
// a signed cookie.
package session

import "github.com/dmitrijs2005/marketplace/internal/server/models"

const (
	FlashSuccess = "success"
	FlashWarning = "warning"
	FlashError   = "error"
)

// Flash is a message shown once on the next rendered page.
type Flash struct {
	Text string `json:"text"`
	Kind string `json:"kind"`
}

// Identity is what an authenticated session knows about its user.
type Identity struct {
	UserID    string      `json:"user_id"`
	Role      models.Role `json:"role"`
	ProfileID int64       `json:"profile_id"`
}

// Session is the state of one browser session. A session is either
// anonymous, pending verification (PendingUserID set) or authenticated
// (Auth set); it is never both pending and authenticated.
type Session struct {
	ID            string    `json:"-"`
	Auth          *Identity `json:"auth,omitempty"`
	PendingUserID string    `json:"pending_user_id,omitempty"`
	CSRFToken     string    `json:"csrf_token,omitempty"`
	Flash         *Flash    `json:"flash,omitempty"`

	// renew asks the manager to move the state to a fresh ID on save.
	renew bool
}

func New() *Session {
	return &Session{}
}

// Authenticate grants the authenticated capabilities and drops any pending
// verification. The session ID is rotated on the next save.
func (s *Session) Authenticate(id Identity) {
	s.Auth = &id
	s.PendingUserID = ""
	s.renew = true
}

func (s *Session) Identity() (Identity, bool) {
	if s.Auth == nil || s.Auth.UserID == "" {
		return Identity{}, false
	}
	return *s.Auth, true
}

func (s *Session) IsAuthenticated() bool {
	_, ok := s.Identity()
	return ok
}

// MarkPending records userID as awaiting email verification. Any
// authenticated identity is dropped and the ID is rotated on the next save.
func (s *Session) MarkPending(userID string) {
	s.Auth = nil
	s.PendingUserID = userID
	s.renew = true
}

func (s *Session) PendingUser() (string, bool) {
	return s.PendingUserID, s.PendingUserID != ""
}

func (s *Session) ClearPending() {
	s.PendingUserID = ""
}

func (s *Session) SetFlash(kind, text string) {
	s.Flash = &Flash{Kind: kind, Text: text}
}

// PopFlash returns the pending flash, if any, and clears it.
func (s *Session) PopFlash() *Flash {
	f := s.Flash
	s.Flash = nil
	return f
}

// Reset drops every field, as on logout.
func (s *Session) Reset() {
	id := s.ID
	*s = Session{ID: id}
}

// NeedsRenewal reports whether the ID should be rotated before saving.
func (s *Session) NeedsRenewal() bool {
	return s.renew
}
