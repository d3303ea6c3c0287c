package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmitrijs2005/marketplace/internal/common"
	"github.com/dmitrijs2005/marketplace/internal/logging"
	"github.com/dmitrijs2005/marketplace/internal/server/auth"
	"github.com/dmitrijs2005/marketplace/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newManager(t *testing.T) (*Manager, *MemoryStore) {
	t.Helper()
	st := NewMemoryStore()
	return NewManager(st, testSecret, time.Hour, true, logging.Discard()), st
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == common.SessionCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie set", common.SessionCookieName)
	return nil
}

func requestWith(c *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if c != nil {
		r.AddCookie(c)
	}
	return r
}

func TestManager_LoadWithoutCookie(t *testing.T) {
	m, _ := newManager(t)
	s := m.Load(context.Background(), requestWith(nil))
	assert.Equal(t, "", s.ID)
	assert.False(t, s.IsAuthenticated())
}

func TestManager_SaveThenLoad(t *testing.T) {
	ctx := context.Background()
	m, st := newManager(t)

	s := New()
	s.MarkPending("u1")
	rec := httptest.NewRecorder()
	require.NoError(t, m.Save(ctx, rec, s))
	require.NotEmpty(t, s.ID)
	assert.Equal(t, 1, st.Len())

	c := sessionCookie(t, rec)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 3600, c.MaxAge)

	loaded := m.Load(ctx, requestWith(c))
	assert.Equal(t, s.ID, loaded.ID)
	id, ok := loaded.PendingUser()
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
}

func TestManager_AuthenticateRotatesID(t *testing.T) {
	ctx := context.Background()
	m, st := newManager(t)

	s := New()
	require.NoError(t, m.Save(ctx, httptest.NewRecorder(), s))
	oldID := s.ID

	s.Authenticate(Identity{UserID: "u1", Role: models.RoleConsumer, ProfileID: 1})
	require.NoError(t, m.Save(ctx, httptest.NewRecorder(), s))

	assert.NotEqual(t, oldID, s.ID)
	assert.False(t, s.NeedsRenewal())
	_, err := st.Load(ctx, oldID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, 1, st.Len())
}

func TestManager_MarkPendingRotatesID(t *testing.T) {
	ctx := context.Background()
	m, st := newManager(t)

	s := New()
	s.CSRFToken = "tok"
	require.NoError(t, m.Save(ctx, httptest.NewRecorder(), s))
	oldID := s.ID

	s.MarkPending("u1")
	require.NoError(t, m.Save(ctx, httptest.NewRecorder(), s))

	assert.NotEqual(t, oldID, s.ID)
	_, err := st.Load(ctx, oldID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	loaded, err := st.Load(ctx, s.ID)
	require.NoError(t, err)
	id, ok := loaded.PendingUser()
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
}

func TestManager_RejectsForgedOrUnknownCookies(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	forged, err := auth.GenerateToken("victim", []byte("other-secret"), time.Hour)
	require.NoError(t, err)
	s := m.Load(ctx, requestWith(&http.Cookie{Name: common.SessionCookieName, Value: forged}))
	assert.Empty(t, s.ID)

	valid, err := auth.GenerateToken("not-in-store", []byte(testSecret), time.Hour)
	require.NoError(t, err)
	s = m.Load(ctx, requestWith(&http.Cookie{Name: common.SessionCookieName, Value: valid}))
	assert.Empty(t, s.ID)

	s = m.Load(ctx, requestWith(&http.Cookie{Name: common.SessionCookieName, Value: "garbage"}))
	assert.Empty(t, s.ID)
}

func TestManager_Destroy(t *testing.T) {
	ctx := context.Background()
	m, st := newManager(t)

	s := New()
	s.Authenticate(Identity{UserID: "u1", Role: models.RoleConsumer})
	require.NoError(t, m.Save(ctx, httptest.NewRecorder(), s))
	require.Equal(t, 1, st.Len())

	rec := httptest.NewRecorder()
	require.NoError(t, m.Destroy(ctx, rec, s))

	assert.Equal(t, 0, st.Len())
	assert.False(t, s.IsAuthenticated())
	assert.Empty(t, s.ID)
	assert.True(t, sessionCookie(t, rec).MaxAge < 0)
}

func TestContextRoundTrip(t *testing.T) {
	s := &Session{ID: "x"}
	ctx := NewContext(context.Background(), s)
	assert.Same(t, s, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}
