// Package server assembles the marketplace application: storage, sessions,
// mail, uploads, telemetry and the HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/marketplace/internal/cryptox"
	"github.com/dmitrijs2005/marketplace/internal/logging"
	"github.com/dmitrijs2005/marketplace/internal/server/config"
	"github.com/dmitrijs2005/marketplace/internal/server/mail"
	"github.com/dmitrijs2005/marketplace/internal/server/metrics"
	"github.com/dmitrijs2005/marketplace/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/marketplace/internal/server/services"
	"github.com/dmitrijs2005/marketplace/internal/server/session"
	"github.com/dmitrijs2005/marketplace/internal/server/telemetry"
	"github.com/dmitrijs2005/marketplace/internal/server/uploads"
	"github.com/dmitrijs2005/marketplace/internal/server/web"
)

const serviceName = "marketplace"

// Seams for tests.
var (
	openDB        = repomanager.OpenDB
	initTelemetry = telemetry.Init
	newS3Store    = func(ctx context.Context, c uploads.S3Config) (uploads.Store, error) {
		return uploads.NewS3Store(ctx, c)
	}
)

type App struct {
	config *config.Config
	logger logging.Logger
	server *web.HTTPServer

	// closers run in reverse order once the server stops.
	closers []func(context.Context) error
}

// NewApp connects to the database, applies migrations and builds the HTTP
// server. Resources acquired before a failure are released.
func NewApp(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	logger := logging.NewJSONLogger(os.Stdout, cfg.LogLevel)
	app := &App{config: cfg, logger: logger.With("module", "app")}
	defer func() {
		if err != nil {
			app.close(context.WithoutCancel(ctx))
		}
	}()

	shutdownTracing, err := initTelemetry(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry init error: %w", err)
	}
	app.closers = append(app.closers, shutdownTracing)

	db, err := openDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.closers = append(app.closers, func(context.Context) error { return db.Close() })

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, err
	}

	store, closeStore, err := newSessionStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeStore)

	images, err := newImageStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	passwords, err := cryptox.NewArgon2(argon2Params(cfg))
	if err != nil {
		return nil, fmt.Errorf("password codec: %w", err)
	}

	m := metrics.New()
	accounts, err := services.NewAccountService(db, rm, cfg, services.AccountDeps{
		Passwords: passwords,
		Mailer:    mail.NewMailer(newMailTransport(cfg, os.Stdout), humanDuration(cfg.VerificationCodeTTL)),
		Images:    images,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	app.server, err = buildServer(cfg, accounts, store, m, logger)
	if err != nil {
		return nil, err
	}
	return app, nil
}

func buildServer(cfg *config.Config, accounts web.Accounts, store session.Store, m *metrics.Metrics, logger logging.Logger) (*web.HTTPServer, error) {
	sessions := session.NewManager(store, cfg.SecretKey, cfg.SessionTTL, cfg.CookieSecure, logger)
	h, err := web.NewHandler(accounts, sessions, logger)
	if err != nil {
		return nil, err
	}

	opts := web.RouterOptions{
		Metrics:            m.Handler(),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		ServiceName:        serviceName,
	}
	if cfg.UploadBackend == config.BackendDisk {
		opts.UploadDir = cfg.UploadDir
	}
	return web.NewHTTPServer(cfg.EndpointAddrHTTP, web.NewRouter(h, opts), logger), nil
}

func newSessionStore(ctx context.Context, cfg *config.Config) (session.Store, func(context.Context) error, error) {
	if cfg.SessionBackend != config.BackendRedis {
		return session.NewMemoryStore(), func(context.Context) error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis init error: %w", err)
	}
	return session.NewRedisStore(client, ""), func(context.Context) error { return client.Close() }, nil
}

func newMailTransport(cfg *config.Config, devOut io.Writer) mail.Transport {
	if cfg.MailBackend == config.BackendSMTP {
		return mail.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom)
	}
	return mail.NewWriterTransport(devOut)
}

func newImageStore(ctx context.Context, cfg *config.Config) (uploads.Store, error) {
	if cfg.UploadBackend != config.BackendS3 {
		return uploads.NewDiskStore(cfg.UploadDir), nil
	}
	s, err := newS3Store(ctx, uploads.S3Config{
		Region:       cfg.S3Region,
		AccessKey:    cfg.S3RootUser,
		SecretKey:    cfg.S3RootPassword,
		BaseEndpoint: cfg.S3BaseEndpoint,
		Bucket:       cfg.S3Bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 init error: %w", err)
	}
	return s, nil
}

func argon2Params(cfg *config.Config) cryptox.Argon2Params {
	p := cryptox.DefaultArgon2Params()
	p.Memory = cfg.Argon2Memory
	p.Time = cfg.Argon2Time
	p.Parallelism = cfg.Argon2Parallelism
	return p
}

// humanDuration renders d for the verification email, e.g. "24 hours".
func humanDuration(d time.Duration) string {
	unit, n := "minute", int64(d.Round(time.Minute)/time.Minute)
	if d >= time.Hour && d%time.Hour == 0 {
		unit, n = "hour", int64(d/time.Hour)
	}
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Run serves until ctx is cancelled, then releases every resource.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info(ctx, "Starting app...")
	err := app.server.Run(ctx)
	app.close(context.WithoutCancel(ctx))
	app.logger.Info(ctx, "App stopped")
	return err
}

func (app *App) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		errs = append(errs, app.closers[i](ctx))
	}
	if err := errors.Join(errs...); err != nil {
		app.logger.Error(ctx, "shutdown", "error", err)
	}
	app.closers = nil
}

// compile-time check
var _ web.Accounts = (*services.AccountService)(nil)
