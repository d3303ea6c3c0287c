package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/marketplace/internal/common"
	"github.com/dmitrijs2005/marketplace/internal/dbx"
	"github.com/dmitrijs2005/marketplace/internal/logging"
	"github.com/dmitrijs2005/marketplace/internal/server/config"
	"github.com/dmitrijs2005/marketplace/internal/server/csrf"
	"github.com/dmitrijs2005/marketplace/internal/server/metrics"
	"github.com/dmitrijs2005/marketplace/internal/server/models"
	"github.com/dmitrijs2005/marketplace/internal/server/repositories/profiles"
	"github.com/dmitrijs2005/marketplace/internal/server/repositories/users"
	"github.com/dmitrijs2005/marketplace/internal/server/repositories/verificationcodes"
	"github.com/dmitrijs2005/marketplace/internal/server/session"
	"github.com/stretchr/testify/require"
)

// --- in-memory store shared by the fake repositories ---

type memStore struct {
	mu       sync.Mutex
	seq      int
	users    map[string]*models.User
	profiles map[string]*models.Profile
	codes    map[string]*models.VerificationCode

	// calls counts every repository call, reads included.
	calls int
	// failOn makes the named operation fail with an internal error.
	failOn map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]*models.User{},
		profiles: map[string]*models.Profile{},
		codes:    map[string]*models.VerificationCode{},
		failOn:   map[string]error{},
	}
}

func (m *memStore) hit(op string) error {
	m.calls++
	return m.failOn[op]
}

func (m *memStore) userByEmail(email string) *models.User {
	for _, u := range m.users {
		if u.Email == strings.ToLower(email) {
			return u
		}
	}
	return nil
}

type fakeUsers struct{ m *memStore }

func (f fakeUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.hit("users.Create"); err != nil {
		return nil, err
	}
	if f.m.userByEmail(u.Email) != nil {
		return nil, common.ErrorAlreadyExists
	}
	f.m.seq++
	cp := *u
	cp.ID = fmt.Sprintf("user-%d", f.m.seq)
	cp.Email = strings.ToLower(cp.Email)
	cp.IsVerified = false
	f.m.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.hit("users.GetByEmail"); err != nil {
		return nil, err
	}
	u := f.m.userByEmail(email)
	if u == nil {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (f fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.hit("users.GetByID"); err != nil {
		return nil, err
	}
	u, ok := f.m.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (f fakeUsers) SetVerified(_ context.Context, id string) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.hit("users.SetVerified"); err != nil {
		return err
	}
	u, ok := f.m.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.IsVerified = true
	return nil
}

func (f fakeUsers) UpdatePasswordHash(_ context.Context, id, hash string) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.hit("users.UpdatePasswordHash"); err != nil {
		return err
	}
	u, ok := f.m.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.PasswordHash = hash
	return nil
}

type fakeProfiles struct{ m *memStore }

func (f fakeProfiles) Create(_ context.Context, p *models.Profile) (*models.Profile, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.hit("profiles.Create"); err != nil {
		return nil, err
	}
	if _, ok := f.m.profiles[p.UserID]; ok {
		return nil, common.ErrorAlreadyExists
	}
	f.m.seq++
	cp := *p
	cp.ID = int64(100 + f.m.seq)
	f.m.profiles[p.UserID] = &cp
	out := cp
	return &out, nil
}

func (f fakeProfiles) GetByUserID(_ context.Context, role models.Role, userID string) (*models.Profile, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.hit("profiles.GetByUserID"); err != nil {
		return nil, err
	}
	p, ok := f.m.profiles[userID]
	if !ok || p.Role != role {
		return nil, common.ErrorNotFound
	}
	cp := *p
	return &cp, nil
}

func (f fakeProfiles) Update(_ context.Context, p *models.Profile) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.hit("profiles.Update"); err != nil {
		return err
	}
	cur, ok := f.m.profiles[p.UserID]
	if !ok || cur.Role != p.Role {
		return common.ErrorNotFound
	}
	cur.Name, cur.City, cur.District = p.Name, p.City, p.District
	return nil
}

func (f fakeProfiles) SetImage(_ context.Context, role models.Role, userID, image string) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.hit("profiles.SetImage"); err != nil {
		return err
	}
	cur, ok := f.m.profiles[userID]
	if !ok || cur.Role != role {
		return common.ErrorNotFound
	}
	cur.Image = image
	return nil
}

type fakeCodes struct{ m *memStore }

func (f fakeCodes) Upsert(_ context.Context, userID, code string, expiresAt time.Time) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.hit("codes.Upsert"); err != nil {
		return err
	}
	f.m.codes[userID] = &models.VerificationCode{UserID: userID, Code: code, ExpiresAt: expiresAt}
	return nil
}

func (f fakeCodes) Find(_ context.Context, userID string) (*models.VerificationCode, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.hit("codes.Find"); err != nil {
		return nil, err
	}
	v, ok := f.m.codes[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *v
	return &cp, nil
}

func (f fakeCodes) Delete(_ context.Context, userID string) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.hit("codes.Delete"); err != nil {
		return err
	}
	delete(f.m.codes, userID)
	return nil
}

type fakeRepoManager struct{ m *memStore }

func (r *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (r *fakeRepoManager) Users(dbx.DBTX) users.Repository           { return fakeUsers{r.m} }
func (r *fakeRepoManager) Profiles(dbx.DBTX) profiles.Repository     { return fakeProfiles{r.m} }
func (r *fakeRepoManager) VerificationCodes(dbx.DBTX) verificationcodes.Repository {
	return fakeCodes{r.m}
}

// --- collaborators ---

// plainCodec is a fast stand-in for argon2.
type plainCodec struct {
	verifyCalls int
}

func (p *plainCodec) Hash(pw string) (string, error) { return "plain$" + pw, nil }
func (p *plainCodec) Verify(pw, encoded string) (bool, error) {
	p.verifyCalls++
	if !strings.HasPrefix(encoded, "plain$") {
		return false, errors.New("bad hash")
	}
	return encoded == "plain$"+pw, nil
}

type sentMail struct {
	email, name, code string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) SendVerificationEmail(_ context.Context, email, name, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{email: email, name: name, code: code})
	return nil
}

func (f *fakeMailer) last() sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMail{}
	}
	return f.sent[len(f.sent)-1]
}

type fakeImages struct {
	saved     map[string]string
	deleted   []string
	err       error
	deleteErr error
}

func (f *fakeImages) Save(_ context.Context, name string, r io.Reader) error {
	if f.err != nil {
		return f.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if f.saved == nil {
		f.saved = map[string]string{}
	}
	f.saved[name] = string(b)
	return nil
}

func (f *fakeImages) Delete(_ context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.saved, name)
	return nil
}

// --- harness ---

type harness struct {
	svc     *AccountService
	mock    sqlmock.Sqlmock
	store   *memStore
	codec   PasswordCodec
	mailer  *fakeMailer
	images  *fakeImages
	metrics *metrics.Metrics
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, &plainCodec{})
}

func newHarnessWith(t *testing.T, codec PasswordCodec) *harness {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		mock:    mock,
		store:   newMemStore(),
		codec:   codec,
		mailer:  &fakeMailer{},
		images:  &fakeImages{},
		metrics: metrics.New(),
		now:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	cfg := &config.Config{VerificationCodeTTL: 24 * time.Hour, MailTimeout: time.Second}
	svc, err := NewAccountService(db, &fakeRepoManager{m: h.store}, cfg, AccountDeps{
		Passwords: h.codec,
		Mailer:    h.mailer,
		Images:    h.images,
		Metrics:   h.metrics,
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	svc.ledger.now = func() time.Time { return h.now }
	h.svc = svc
	return h
}

// csrfSession returns a session with an issued CSRF token.
func csrfSession(t *testing.T) (*session.Session, string) {
	t.Helper()
	s := session.New()
	tok, err := csrf.Issue(s)
	require.NoError(t, err)
	return s, tok
}

func (h *harness) expectTx(commit bool) {
	h.mock.ExpectBegin()
	if commit {
		h.mock.ExpectCommit()
	} else {
		h.mock.ExpectRollback()
	}
}

// scrape renders the harness metrics in exposition format.
func (h *harness) scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func (h *harness) assertSQL(t *testing.T) {
	t.Helper()
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func consumerInput(tok string) RegisterInput {
	return RegisterInput{
		CSRFToken:       tok,
		Role:            "consumer",
		Email:           "a@x.com",
		Password:        "password1",
		ConfirmPassword: "password1",
		Name:            "N",
		City:            "C",
		District:        "D",
	}
}

// seedUser inserts a user with profile directly into the store.
func (h *harness) seedUser(email, password string, role models.Role, verified bool) *models.User {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	h.store.seq++
	u := &models.User{
		ID:           fmt.Sprintf("seed-%d", h.store.seq),
		Email:        email,
		PasswordHash: "plain$" + password,
		Role:         role,
		IsVerified:   verified,
	}
	h.store.users[u.ID] = u
	h.store.profiles[u.ID] = &models.Profile{
		ID: int64(500 + h.store.seq), UserID: u.ID, Role: role, Name: "Seed", City: "C", District: "D",
	}
	cp := *u
	return &cp
}
