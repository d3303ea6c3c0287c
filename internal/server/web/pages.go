package web

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/dmitrijs2005/marketplace/internal/server/models"
	"github.com/dmitrijs2005/marketplace/internal/server/services"
	"github.com/dmitrijs2005/marketplace/internal/server/session"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	pageLogin    = "login.html"
	pageRegister = "register.html"
	pageVerify   = "verify.html"
	pageProfile  = "profile.html"
	pageHome     = "home.html"
	pageProducts = "products.html"
)

var pageNames = []string{pageLogin, pageRegister, pageVerify, pageProfile, pageHome, pageProducts}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

// pageData is the model shared by every page. Fields a page does not use
// stay zero.
type pageData struct {
	Title         string
	CSRFToken     string
	Flash         *session.Flash
	Error         string
	ErrorField    string
	Notice        string
	Authenticated bool
	Role          models.Role

	// Form holds submitted values to re-populate inputs.
	Form map[string]string

	UserType  string
	NameField string
	NameLabel string

	Email          string
	ShowForm       bool
	ResendDisabled bool

	Profile *services.ProfileView
}

func (p *pageData) Value(field string) string {
	return p.Form[field]
}

func (p *pageData) setError(err error) {
	p.Error = services.UserMessage(err)
	var e *services.Error
	if errors.As(err, &e) {
		p.ErrorField = e.Field
	}
}

// render executes page into a buffer first so a template error never
// leaves a half-written response.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, sess *session.Session, status int, page string, data *pageData) {
	ctx := r.Context()

	if err := h.prepare(ctx, sess, data); err != nil {
		h.logger.Error(ctx, "csrf token", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := h.pages[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		h.logger.Error(ctx, "render failed", "page", page, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if !h.save(w, r, sess) {
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
