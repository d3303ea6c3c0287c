// Package web is the HTML form surface of the marketplace: routing,
// session cookies, page rendering and the HTTP server.
package web

import (
	"context"
	"errors"
	"html/template"
	"net/http"

	"github.com/dmitrijs2005/marketplace/internal/common"
	"github.com/dmitrijs2005/marketplace/internal/logging"
	"github.com/dmitrijs2005/marketplace/internal/server/csrf"
	"github.com/dmitrijs2005/marketplace/internal/server/models"
	"github.com/dmitrijs2005/marketplace/internal/server/services"
	"github.com/dmitrijs2005/marketplace/internal/server/session"
	"github.com/dmitrijs2005/marketplace/internal/server/uploads"
)

// Accounts is the workflow surface the handlers need.
// *services.AccountService implements it.
type Accounts interface {
	Register(ctx context.Context, sess *session.Session, in services.RegisterInput) (*services.Outcome, error)
	Login(ctx context.Context, sess *session.Session, in services.LoginInput) (*services.Outcome, error)
	PendingAccount(ctx context.Context, sess *session.Session) (*services.PendingAccount, error)
	Verify(ctx context.Context, sess *session.Session, in services.VerifyInput) (*services.Outcome, error)
	ResendCode(ctx context.Context, sess *session.Session, csrfToken string) (*services.Outcome, error)
	LoadProfile(ctx context.Context, sess *session.Session) (*services.ProfileView, error)
	UpdateProfile(ctx context.Context, sess *session.Session, in services.ProfileInput) (*services.Outcome, error)
	UploadImage(ctx context.Context, sess *session.Session, in services.ImageInput) (*services.Outcome, error)
	CheckCSRF(ctx context.Context, sess *session.Session, token, action string) error
}

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temp file.
const multipartMemory = 1 << 20

type Handler struct {
	accounts Accounts
	sessions *session.Manager
	logger   logging.Logger
	pages    map[string]*template.Template
}

func NewHandler(accounts Accounts, sessions *session.Manager, l logging.Logger) (*Handler, error) {
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	return &Handler{
		accounts: accounts,
		sessions: sessions,
		logger:   l.With("module", "web"),
		pages:    pages,
	}, nil
}

func currentSession(r *http.Request) *session.Session {
	if s := session.FromContext(r.Context()); s != nil {
		return s
	}
	return session.New()
}

func (h *Handler) loginPage(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	if id, ok := sess.Identity(); ok {
		h.redirect(w, r, sess, id.Role.LandingPath())
		return
	}
	h.render(w, r, sess, http.StatusOK, pageLogin, &pageData{Title: "Login"})
}

func (h *Handler) loginSubmit(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	if !h.parseForm(w, r) {
		return
	}

	in := services.LoginInput{
		CSRFToken: r.PostFormValue(common.CSRFFieldName),
		Email:     r.PostFormValue("email"),
		Password:  r.PostFormValue("password"),
	}
	out, err := h.accounts.Login(r.Context(), sess, in)
	if err != nil {
		data := &pageData{Title: "Login", Form: map[string]string{"email": in.Email}}
		data.setError(err)
		h.render(w, r, sess, statusFor(err), pageLogin, data)
		return
	}
	h.redirect(w, r, sess, out.Redirect)
}

// registerRole is the role named by ?type=. Missing means consumer; an
// unknown value is reported by ok=false.
func registerRole(r *http.Request) (role models.Role, raw string, ok bool) {
	raw = r.URL.Query().Get("type")
	if raw == "" {
		raw = string(models.RoleConsumer)
	}
	role, err := models.ParseRole(raw)
	if err != nil {
		return models.RoleConsumer, raw, false
	}
	return role, raw, true
}

func registerData(role models.Role) *pageData {
	return &pageData{
		Title:     "Register",
		UserType:  string(role),
		NameField: services.NameField(role),
		NameLabel: services.NameLabel(role),
	}
}

func (h *Handler) registerPage(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	role, _, _ := registerRole(r)
	h.render(w, r, sess, http.StatusOK, pageRegister, registerData(role))
}

func (h *Handler) registerSubmit(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	if !h.parseForm(w, r) {
		return
	}

	role, raw, _ := registerRole(r)
	nameField := services.NameField(role)
	in := services.RegisterInput{
		CSRFToken:       r.PostFormValue(common.CSRFFieldName),
		Role:            raw,
		Email:           r.PostFormValue("email"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
		Name:            r.PostFormValue(nameField),
		City:            r.PostFormValue("city"),
		District:        r.PostFormValue("district"),
	}

	out, err := h.accounts.Register(r.Context(), sess, in)
	if err != nil {
		data := registerData(role)
		data.Form = map[string]string{
			"email":    in.Email,
			nameField:  in.Name,
			"city":     in.City,
			"district": in.District,
		}
		data.setError(err)
		h.render(w, r, sess, statusFor(err), pageRegister, data)
		return
	}
	h.redirect(w, r, sess, out.Redirect)
}

func (h *Handler) verifyPage(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	data := &pageData{Title: "Verify Email"}
	if h.loadPending(w, r, sess, data) {
		h.render(w, r, sess, statusOKOr(data), pageVerify, data)
	}
}

func (h *Handler) verifySubmit(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	if !h.parseForm(w, r) {
		return
	}

	ctx := r.Context()
	token := r.PostFormValue(common.CSRFFieldName)

	var (
		out *services.Outcome
		err error
	)
	if r.PostFormValue("resend") != "" {
		out, err = h.accounts.ResendCode(ctx, sess, token)
	} else {
		out, err = h.accounts.Verify(ctx, sess, services.VerifyInput{
			CSRFToken: token,
			Code:      r.PostFormValue("verification_code"),
		})
	}
	if h.signedOut(w, r, sess, err) {
		return
	}
	if err == nil && out.Redirect != "" {
		h.redirect(w, r, sess, out.Redirect)
		return
	}

	data := &pageData{Title: "Verify Email"}
	if !h.loadPending(w, r, sess, data) {
		return
	}
	status := http.StatusOK
	if err != nil {
		data.setError(err)
		status = statusFor(err)
	} else {
		data.Notice = out.Notice
		data.ResendDisabled = out.ResendDisabled
	}
	h.render(w, r, sess, status, pageVerify, data)
}

// loadPending fills data with the pending account. It returns false after
// redirecting a session that is not awaiting verification.
func (h *Handler) loadPending(w http.ResponseWriter, r *http.Request, sess *session.Session, data *pageData) bool {
	acc, err := h.accounts.PendingAccount(r.Context(), sess)
	if h.signedOut(w, r, sess, err) {
		return false
	}
	if err != nil {
		data.setError(err)
		return true
	}
	data.Email = acc.Email
	data.ShowForm = true
	return true
}

func profileData(view *services.ProfileView, role models.Role) *pageData {
	data := &pageData{
		Title:     "Profile",
		Profile:   view,
		NameField: services.NameField(role),
		NameLabel: services.NameLabel(role),
	}
	if view != nil {
		data.Form = map[string]string{
			data.NameField: view.Name,
			"city":         view.City,
			"district":     view.District,
		}
	}
	return data
}

func (h *Handler) profilePage(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	view, err := h.accounts.LoadProfile(r.Context(), sess)
	if h.signedOut(w, r, sess, err) {
		return
	}
	id, _ := sess.Identity()
	data := profileData(view, id.Role)
	if err != nil {
		data.setError(err)
	}
	h.render(w, r, sess, statusOKOr(data), pageProfile, data)
}

func (h *Handler) profileSubmit(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	if !h.parseForm(w, r) {
		return
	}
	id, _ := sess.Identity()
	nameField := services.NameField(id.Role)

	in := services.ProfileInput{
		CSRFToken:       r.PostFormValue(common.CSRFFieldName),
		Name:            r.PostFormValue(nameField),
		City:            r.PostFormValue("city"),
		District:        r.PostFormValue("district"),
		CurrentPassword: r.PostFormValue("current_password"),
		NewPassword:     r.PostFormValue("new_password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}

	out, err := h.accounts.UpdateProfile(r.Context(), sess, in)
	if h.signedOut(w, r, sess, err) {
		return
	}
	if err == nil {
		h.redirect(w, r, sess, out.Redirect)
		return
	}

	view, loadErr := h.accounts.LoadProfile(r.Context(), sess)
	if loadErr != nil {
		view = nil
	}
	data := profileData(view, id.Role)
	data.Form = map[string]string{nameField: in.Name, "city": in.City, "district": in.District}
	data.setError(err)
	h.render(w, r, sess, statusFor(err), pageProfile, data)
}

func (h *Handler) imageSubmit(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	if !sess.IsAuthenticated() {
		h.redirect(w, r, sess, "/login")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, uploads.MaxImageSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.logger.Info(r.Context(), "unreadable upload form", "error", err)
		sess.SetFlash(session.FlashError, services.MsgImageInvalid)
		h.redirect(w, r, sess, "/profile")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	in := services.ImageInput{CSRFToken: r.FormValue(common.CSRFFieldName)}
	file, header, err := r.FormFile("image")
	if err == nil {
		defer file.Close()
		in.Filename, in.Size, in.Body = header.Filename, header.Size, file
	} else if !errors.Is(err, http.ErrMissingFile) {
		h.logger.Info(r.Context(), "unreadable upload part", "error", err)
	}

	out, err := h.accounts.UploadImage(r.Context(), sess, in)
	if h.signedOut(w, r, sess, err) {
		return
	}
	if err != nil {
		sess.SetFlash(session.FlashError, services.UserMessage(err))
		h.redirect(w, r, sess, "/profile")
		return
	}
	h.redirect(w, r, sess, out.Redirect)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	if !h.parseForm(w, r) {
		return
	}
	ctx := r.Context()

	if err := h.accounts.CheckCSRF(ctx, sess, r.PostFormValue(common.CSRFFieldName), "logout"); err != nil {
		sess.SetFlash(session.FlashError, services.UserMessage(err))
		h.redirect(w, r, sess, "/")
		return
	}

	if err := h.sessions.Destroy(ctx, w, sess); err != nil {
		h.logger.Error(ctx, "logout failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	sess.SetFlash(session.FlashSuccess, services.MsgLoggedOut)
	h.redirect(w, r, sess, "/login")
}

func (h *Handler) home(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	h.render(w, r, sess, http.StatusOK, pageHome, &pageData{Title: "Home"})
}

func (h *Handler) marketProducts(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	id, ok := sess.Identity()
	if !ok {
		h.redirect(w, r, sess, "/login")
		return
	}
	if id.Role != models.RoleMarket {
		h.redirect(w, r, sess, "/")
		return
	}
	h.render(w, r, sess, http.StatusOK, pageProducts, &pageData{Title: "My Products"})
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// --- helpers ---

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, multipartMemory)
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	return true
}

// signedOut redirects to the login page when err says the session lacks
// the state the page needs.
func (h *Handler) signedOut(w http.ResponseWriter, r *http.Request, sess *session.Session, err error) bool {
	if errors.Is(err, services.ErrNotAuthenticated) || errors.Is(err, services.ErrNoPendingVerification) {
		h.redirect(w, r, sess, "/login")
		return true
	}
	return false
}

func (h *Handler) prepare(_ context.Context, sess *session.Session, data *pageData) error {
	token, err := csrf.Issue(sess)
	if err != nil {
		return err
	}
	data.CSRFToken = token
	if data.Flash == nil {
		data.Flash = sess.PopFlash()
	}
	if id, ok := sess.Identity(); ok {
		data.Authenticated = true
		data.Role = id.Role
	}
	return nil
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, sess *session.Session) bool {
	if err := h.sessions.Save(r.Context(), w, sess); err != nil {
		h.logger.Error(r.Context(), "session save failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return false
	}
	return true
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, sess *session.Session, to string) {
	if !h.save(w, r, sess) {
		return
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

func statusFor(err error) int {
	kind, _ := services.KindOf(err)
	switch kind {
	case services.ErrInvalidRequest:
		return http.StatusForbidden
	case services.ErrPersistence:
		return http.StatusInternalServerError
	case services.ErrMailFailure:
		return http.StatusServiceUnavailable
	case 0:
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

func statusOKOr(data *pageData) int {
	if data.Error == "" {
		return http.StatusOK
	}
	return http.StatusNotFound
}
