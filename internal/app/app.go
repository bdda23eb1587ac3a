package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"licguard/internal/abuse"
	"licguard/internal/audit"
	"licguard/internal/config"
	"licguard/internal/infrastructure"
	customMiddleware "licguard/internal/middleware"
	"licguard/internal/registry"
	handlers "licguard/internal/transport/http"
	"licguard/internal/verify"
	"licguard/pkg/contracts"
)

const (
	Version = contracts.Version
	AppName = "licguard"
)

// auditBuffer bounds the in-flight audit events; beyond this, events are
// dropped rather than blocking verification.
const auditBuffer = 1024

// Application is the composed service container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Store         *registry.FileStore
	Tracker       *abuse.Tracker
	Engine        *verify.Engine
	Audit         *audit.Logger
	OTelProviders *infrastructure.OTelProviders
	Logger        *slog.Logger
}

// NewApplication builds the full service from configuration
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig builds the service from an explicit configuration;
// used directly by tests.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", Version),
		slog.String("secret_prefix", verify.SecretPrefix(cfg.Verifier.SharedSecret)),
	)

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices constructs the registry, abuse tracking, auditing and
// the verification engine, in dependency order.
func (a *Application) initializeServices() error {
	store, err := registry.NewFileStore(a.Config.Paths.RegistryFile, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open credential registry: %w", err)
	}
	a.Store = store

	a.Tracker = abuse.NewTracker(abuse.Config{
		FailureWindow: a.Config.Abuse.FailureWindow,
		LowThreshold:  a.Config.Abuse.OriginLowThreshold,
		HighThreshold: a.Config.Abuse.OriginHighThreshold,
		ShortLockout:  a.Config.Abuse.ShortLockout,
		LongLockout:   a.Config.Abuse.LongLockout,
	}, nil)

	a.Audit = audit.New(a.Logger, auditBuffer)

	metrics, err := verify.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create verification metrics: %w", err)
	}

	a.Engine = verify.NewEngine(
		verify.Config{
			SharedSecret:       a.Config.Verifier.SharedSecret,
			TokenSecret:        a.Config.Verifier.TokenSecret,
			FreshnessTolerance: a.Config.Verifier.FreshnessTolerance,
		},
		store,
		a.Tracker,
		abuse.CredentialPolicy{
			MismatchThreshold:    a.Config.Abuse.MismatchThreshold,
			AuthFailureThreshold: a.Config.Abuse.CredentialThreshold,
			Lockout:              a.Config.Abuse.CredentialLockout,
		},
		nil,
		a.Audit,
		metrics,
		a.Logger,
	)

	return nil
}

// setupRouter configures the middleware chain and mounts all handlers
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// Ordering matters: RequestID and RealIP must run before anything that
	// logs or keys on the caller.
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.SecurityHeaders)

	if a.Config.Server.RateLimit.Enabled {
		r.Use(customMiddleware.NewRateLimiter(
			a.Config.Server.RateLimit.RPS,
			a.Config.Server.RateLimit.Burst,
			a.Logger,
		).Handler)
	}

	healthHandler := handlers.NewHealthHandler(a.Store, a.Tracker, a.Audit, Version, a.Logger)
	r.Get("/", healthHandler.ServiceInfo)
	r.Get("/healthz", healthHandler.Liveness)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout, a.Logger))

		r.Get("/status", healthHandler.Status)

		verifyHandler := handlers.NewVerifyHandler(a.Engine, a.Logger)
		r.Mount("/verify", verifyHandler.Routes())

		adminHandler := handlers.NewAdminHandler(a.Store, a.Config.Admin.PasswordHash, a.Logger)
		r.Mount("/admin", adminHandler.Routes())
	})

	// Prometheus scrape endpoint, outside the rate-limited API group.
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Run starts the server and blocks until an interrupt or a fatal server
// error, then shuts everything down in reverse order.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Tracker.StartSweeper(a.Config.Abuse.SweepInterval)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "server listening",
			slog.Int("port", a.Config.Server.Port),
		)
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.Background())
	})

	return g.Wait()
}

// Stop gracefully shuts the service down
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	a.Tracker.Stop()
	a.Audit.Close()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "error shutting down OpenTelemetry",
				slog.String("error", err.Error()),
			)
		}
	}

	if err := infrastructure.CloseLogFile(); err != nil {
		a.Logger.ErrorContext(ctx, "error closing log file",
			slog.String("error", err.Error()),
		)
	}

	a.Logger.InfoContext(ctx, "shutdown complete")
	return nil
}
