// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It opens every external connection,
// builds the services on top of them and mounts the handlers:
//
//	config.Config
//	  ├─ sqlite.DB | postgres.DB  → repository.UserRepository
//	  ├─ cache.Redis              → sessions + emailed link tokens
//	  ├─ auth.Hasher, auth.TokenService, auth.GoogleProvider (optional)
//	  ├─ s3.Client → gallery.Store
//	  └─ mailer.Sender → mailer.Queue → mailer.Outbox
//
//	IdentityService ← AccountService      GalleryService
//	       ↑                ↑                    ↑
//	  AuthHandler ──────────┘             GalleryHandler
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/mount), rather than scattered across the codebase. Everything
// below this package receives interfaces, so tests swap in fakes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pikoshi/pikoshi/internal/auth"
	"github.com/pikoshi/pikoshi/internal/cache"
	"github.com/pikoshi/pikoshi/internal/config"
	"github.com/pikoshi/pikoshi/internal/gallery"
	"github.com/pikoshi/pikoshi/internal/handler"
	"github.com/pikoshi/pikoshi/internal/mailer"
	"github.com/pikoshi/pikoshi/internal/middleware"
	"github.com/pikoshi/pikoshi/internal/repository"
	"github.com/pikoshi/pikoshi/internal/repository/postgres"
	sqliteRepo "github.com/pikoshi/pikoshi/internal/repository/sqlite"
	"github.com/pikoshi/pikoshi/internal/service"
)

// Dependencies are the external systems the routes run on. New opens the
// real ones; tests hand in sqlite ":memory:", miniredis and fakes.
type Dependencies struct {
	Users    repository.UserRepository
	Cache    cache.Store
	Images   service.ImageStore
	OAuth    service.OAuthProvider // nil disables the Google routes
	Notifier service.Notifier

	// Checks back /healthz; a missing entry is simply not checked.
	Checks map[string]handler.Check
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns every connection it opened. closers runs in reverse
// order on Close, so the mail queue drains before the broker connection
// goes away and the database closes last.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	closers []func(ctx context.Context) error
}

// New opens every connection named by cfg and mounts the routes.
//
// STARTUP ORDER:
//  1. database (runs migrations)
//  2. redis (pinged, so a wrong address fails here)
//  3. object storage client
//  4. mail sender + delivery queue
//  5. services and handlers
//
// Any failure closes what was already opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{router: chi.NewRouter(), config: cfg, logger: logger}

	deps, err := s.open(ctx)
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}

	if err := s.mount(deps); err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// NewWithDependencies mounts the routes over already-open dependencies. The
// caller keeps ownership of them.
func NewWithDependencies(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Server, error) {
	s := &Server{router: chi.NewRouter(), config: cfg, logger: logger}
	if err := s.mount(deps); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, for httptest.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) onClose(fn func(ctx context.Context) error) {
	s.closers = append(s.closers, fn)
}

// userStore is what both database backends provide.
type userStore interface {
	repository.UserRepository
	Ping(ctx context.Context) error
	Close() error
}

func (s *Server) open(ctx context.Context) (Dependencies, error) {
	cfg := s.config

	// === DATABASE ===
	var (
		users userStore
		err   error
	)
	switch cfg.DBDriver {
	case "postgres":
		users, err = postgres.Open(ctx, cfg.DBDSN)
	default:
		users, err = sqliteRepo.New(cfg.DBDSN)
	}
	if err != nil {
		return Dependencies{}, fmt.Errorf("opening database: %w", err)
	}
	s.onClose(func(context.Context) error { return users.Close() })

	// === REDIS ===
	redis, err := cache.NewRedis(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return Dependencies{}, err
	}
	s.onClose(func(context.Context) error { return redis.Close() })

	// === OBJECT STORAGE ===
	s3Client, err := gallery.NewS3Client(ctx, gallery.S3Config{
		Region:       cfg.AWSRegion,
		Endpoint:     cfg.S3Endpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		UsePathStyle: cfg.S3UsePathStyle,
	})
	if err != nil {
		return Dependencies{}, err
	}
	store := gallery.NewStore(s3Client, gallery.NewResizer(), gallery.Options{
		BucketCount: cfg.S3BucketCount,
		Region:      cfg.AWSRegion,
		Timeout:     cfg.StorageTimeout,
	}, s.logger)

	// === MAIL ===
	// Without a broker the links are only logged, which is enough for
	// local development.
	var sender mailer.Sender = mailer.LogSender{Logger: s.logger}
	if cfg.MailBrokerURL != "" {
		amqpSender, err := mailer.NewAMQPSender(cfg.MailBrokerURL, cfg.MailQueue, s.logger)
		if err != nil {
			return Dependencies{}, err
		}
		s.onClose(func(context.Context) error { return amqpSender.Close() })
		sender = amqpSender
	} else {
		s.logger.Warn("MAIL_BROKER_URL not set, emailed links will only be logged")
	}

	queue := mailer.NewQueue(sender, mailer.QueueConfig{
		Workers:    cfg.MailWorkers,
		Capacity:   cfg.MailQueueSize,
		MaxRetries: cfg.MailMaxRetries,
	}, s.logger)
	queue.Start()
	s.onClose(queue.Stop)

	composer, err := mailer.NewComposer(cfg.MailFrom, cfg.FrontendURL, service.LinkTokenTTL)
	if err != nil {
		return Dependencies{}, err
	}

	// === GOOGLE ===
	// Left as a nil interface when unconfigured; the service answers 403.
	var provider service.OAuthProvider
	if cfg.GoogleEnabled() {
		provider = auth.NewGoogleProvider(auth.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURI,
			Timeout:      cfg.OAuthTimeout,
		})
	} else {
		s.logger.Warn("Google OAuth2 not configured, google-signup and google-login will return 403")
	}

	return Dependencies{
		Users:    users,
		Cache:    redis,
		Images:   store,
		OAuth:    provider,
		Notifier: mailer.NewOutbox(composer, queue),
		Checks: map[string]handler.Check{
			"database": users.Ping,
			"redis":    redis.Ping,
		},
	}, nil
}

// mount configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET  /healthz                     → dependency health
// POST /auth/google-signup/         → signup with a Google code
// POST /auth/google-login/          → login with a Google code
// POST /auth/email-signup/          → email an onboarding link
// POST /auth/check-token/           → is an emailed link still valid?
// POST /auth/email-onboarding/      → redeem the onboarding link
// POST /auth/email-login/           → password login
// POST /auth/auth-context/          → session check with silent refresh
// POST /auth/auth-logout/           → end the session
// POST /auth/forgot-password/       → email a reset link
// POST /auth/change-password/       → redeem the reset link
// GET  /auth/me/                    → profile            [auth]
// POST /gallery/default-gallery/    → multipart thumbnail stream [auth]
// POST /gallery/default-single/     → one image, sized to the viewport [auth]
// POST /gallery/upload/             → store an image     [auth]
// POST /gallery/image-count/        → album size         [auth]
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (the logger prints it)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Recoverer: catches panics and returns 500 instead of crashing
// 4. Logger: logs each request with timing info
func (s *Server) mount(deps Dependencies) error {
	cfg := s.config

	hasher, err := auth.NewHasher(cfg.Pepper, auth.HashParams{
		Time:      cfg.HashTime,
		MemoryKiB: cfg.HashMemoryKiB,
		Threads:   cfg.HashThreads,
	})
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:     cfg.SecretKey,
		Algorithm:  cfg.JWTAlgorithm,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		return err
	}

	// === Services ===
	identity := service.NewIdentityService(deps.Users, deps.Cache, tokens, hasher, deps.OAuth, s.logger)
	accounts := service.NewAccountService(deps.Users, deps.Cache, hasher, deps.Notifier, identity, s.logger)
	galleries := service.NewGalleryService(deps.Images, cfg.GalleryPageSize, s.logger)

	// === Handlers ===
	cookies := auth.CookieWriter{Secure: cfg.CookieSecure}
	authHandler := handler.NewAuthHandler(identity, accounts, cookies, s.logger)
	galleryHandler := handler.NewGalleryHandler(galleries, cookies, handler.GalleryOptions{
		StreamDelay:    cfg.StreamDelay,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, s.logger)
	healthHandler := handler.NewHealthHandler(deps.Checks, s.logger)

	requireAuth := auth.RequireAuth(identity, cookies)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	s.router.Get("/healthz", healthHandler.HandleHealth)

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/google-signup/", authHandler.HandleGoogleSignup)
		r.Post("/google-login/", authHandler.HandleGoogleLogin)
		r.Post("/email-signup/", authHandler.HandleEmailSignup)
		r.Post("/check-token/", authHandler.HandleCheckToken)
		r.Post("/email-onboarding/", authHandler.HandleEmailOnboarding)
		r.Post("/email-login/", authHandler.HandleEmailLogin)
		r.Post("/auth-context/", authHandler.HandleAuthContext)
		r.Post("/auth-logout/", authHandler.HandleLogout)
		r.Post("/forgot-password/", authHandler.HandleForgotPassword)
		r.Post("/change-password/", authHandler.HandleChangePassword)

		r.With(requireAuth).Get("/me/", authHandler.HandleMe)
	})

	s.router.Route("/gallery", func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/default-gallery/", galleryHandler.HandleDefaultGallery)
		r.Post("/default-single/", galleryHandler.HandleDefaultSingle)
		r.Post("/upload/", galleryHandler.HandleUpload)
		r.Post("/image-count/", galleryHandler.HandleImageCount)
	})

	return nil
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close everything New opened (mail queue drains first)
//
// WriteTimeout stays unset: a gallery stream is written part by part for as
// long as the page takes, and a fixed deadline would cut it off.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second, // uploads up to MAX_UPLOAD_BYTES
		IdleTimeout:       120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("db_driver", s.config.DBDriver),
			slog.Bool("google", s.config.GoogleEnabled()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = s.Close(context.Background())
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give in-flight requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			_ = s.Close(ctx)
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Close(ctx)
}

// Close releases everything New opened, newest first. Safe to call twice.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
