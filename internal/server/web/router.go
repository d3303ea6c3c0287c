package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/dmitrijs2005/marketplace/internal/logging"
	"github.com/dmitrijs2005/marketplace/internal/server/session"
	"github.com/dmitrijs2005/marketplace/internal/server/telemetry"
)

type RouterOptions struct {
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// UploadDir is served under /uploads/ when set.
	UploadDir string
	// RateLimitPerMinute caps form posts per client IP; 0 disables it.
	RateLimitPerMinute int
	ServiceName        string
}

// NewRouter mounts the account pages and the operational endpoints.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.UploadDir != "" {
		fs := http.StripPrefix("/uploads/", http.FileServer(http.Dir(opts.UploadDir)))
		r.Method(http.MethodGet, "/uploads/*", fs)
	}

	r.Group(func(r chi.Router) {
		r.Use(withSession(h.sessions))

		r.Get("/", h.home)
		r.Get("/login", h.loginPage)
		r.Get("/register", h.registerPage)
		r.Get("/verify", h.verifyPage)
		r.Get("/profile", h.profilePage)
		r.Get("/market/products", h.marketProducts)

		r.Group(func(r chi.Router) {
			if opts.RateLimitPerMinute > 0 {
				r.Use(httprate.LimitByIP(opts.RateLimitPerMinute, time.Minute))
			}
			r.Post("/login", h.loginSubmit)
			r.Post("/register", h.registerSubmit)
			r.Post("/verify", h.verifySubmit)
		})

		r.Post("/profile", h.profileSubmit)
		r.Post("/profile/image", h.imageSubmit)
		r.Post("/logout", h.logout)
	})

	name := opts.ServiceName
	if name == "" {
		name = "marketplace"
	}
	return telemetry.Middleware(name)(r)
}

func withSession(m *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := m.Load(r.Context(), r)
			next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), s)))
		})
	}
}

func requestLogger(l logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			l.Info(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
