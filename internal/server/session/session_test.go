package session

import (
	"testing"

	"github.com/dmitrijs2005/marketplace/internal/server/models"
	"github.com/stretchr/testify/assert"
)

func TestSession_PendingThenAuthenticated(t *testing.T) {
	s := New()
	assert.False(t, s.IsAuthenticated())

	s.MarkPending("u1")
	id, ok := s.PendingUser()
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
	assert.False(t, s.IsAuthenticated(), "pending never grants authenticated capabilities")

	s.Authenticate(Identity{UserID: "u1", Role: models.RoleMarket, ProfileID: 4})
	_, ok = s.PendingUser()
	assert.False(t, ok, "authenticating clears pending state")
	got, ok := s.Identity()
	assert.True(t, ok)
	assert.Equal(t, Identity{UserID: "u1", Role: models.RoleMarket, ProfileID: 4}, got)
	assert.True(t, s.NeedsRenewal())
}

func TestSession_MarkPendingDropsIdentity(t *testing.T) {
	s := New()
	s.Authenticate(Identity{UserID: "u1", Role: models.RoleConsumer})
	s.MarkPending("u2")

	assert.False(t, s.IsAuthenticated())
	id, _ := s.PendingUser()
	assert.Equal(t, "u2", id)
}

func TestSession_MarkPendingRequestsRenewal(t *testing.T) {
	s := New()
	assert.False(t, s.NeedsRenewal())
	s.MarkPending("u1")
	assert.True(t, s.NeedsRenewal())
}

func TestSession_FlashIsReadOnce(t *testing.T) {
	s := New()
	assert.Nil(t, s.PopFlash())

	s.SetFlash(FlashSuccess, "Email verified successfully! You can now login.")
	f := s.PopFlash()
	if assert.NotNil(t, f) {
		assert.Equal(t, FlashSuccess, f.Kind)
		assert.Equal(t, "Email verified successfully! You can now login.", f.Text)
	}
	assert.Nil(t, s.PopFlash())
}

func TestSession_ResetKeepsID(t *testing.T) {
	s := &Session{ID: "abc", CSRFToken: "t", PendingUserID: "u"}
	s.SetFlash(FlashError, "x")
	s.Reset()

	assert.Equal(t, &Session{ID: "abc"}, s)
}
