package app

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

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	httpapi "github.com/aussiebroadwan/sessionguard/internal/auth/http"
	"github.com/aussiebroadwan/sessionguard/internal/auth/metrics"
	"github.com/aussiebroadwan/sessionguard/internal/auth/service"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store/drivers/postgres"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/sessionguard/pkg/cryptox"
	"github.com/aussiebroadwan/sessionguard/pkg/idx"
	"github.com/aussiebroadwan/sessionguard/pkg/jwtx"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
	"github.com/aussiebroadwan/sessionguard/pkg/throttle"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"

	// connectTries bounds startup retries against the store and Redis.
	connectTries = 5
)

// Application encapsulates the auth service application with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db      store.Store
	guard   throttle.Guard
	redis   *redis.Client
	metrics *metrics.Metrics
	codec   *jwtx.Codec
	users   *service.UserAuthenticator

	// Services
	audit               *service.AuditLog
	sessionService      *service.SessionService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(ctx context.Context, cfg Config) (*Application, error) {
	app := &Application{
		cfg:     cfg,
		logger:  NewLogger(cfg),
		metrics: metrics.New(),
	}

	codec, err := jwtx.NewCodec(jwtx.CodecConfig{
		AccessSecret:  []byte(cfg.AccessSecret),
		RenewalSecret: []byte(cfg.RenewalSecret),
		AccessTTL:     cfg.AccessTTL,
		RenewalTTL:    cfg.RenewalTTL,
		Issuer:        cfg.Issuer,
		Audience:      cfg.Audience,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential codec: %w", err)
	}
	app.codec = codec

	db, err := OpenStore(ctx, cfg, app.logger)
	if err != nil {
		return nil, err
	}
	app.db = db

	if err := app.initThrottle(ctx); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	users, err := NewUserAuthenticator(cfg, db)
	if err != nil {
		app.closeBackends()
		return nil, err
	}
	app.users = users

	app.initServices()
	app.initHTTP()

	return app, nil
}

// NewLogger builds the service logger from cfg.
func NewLogger(cfg Config) *slog.Logger {
	return slogx.New(slogx.Config{
		Service: "sessionguard",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
}

// Handler returns the fully wired HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Users exposes the authenticator so callers can enroll accounts.
func (app *Application) Users() *service.UserAuthenticator { return app.users }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	// Start housekeeping service
	app.housekeepingService.Start()

	app.logger.Info("auth service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"store", app.cfg.StoreDriver,
		"throttle", app.cfg.ThrottleBackend,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = app.Shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// Stop the housekeeping service
	app.housekeepingService.Stop()

	// Flush queued audit events before the store goes away
	if err := app.audit.Close(ctx); err != nil {
		app.logger.Warn("audit queue not drained before shutdown deadline", "error", err)
	}

	if err := app.closeBackends(); err != nil {
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

func (app *Application) closeBackends() error {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}
	return nil
}

// OpenStore connects to the configured driver, retrying with exponential
// backoff, and applies migrations.
func OpenStore(ctx context.Context, cfg Config, logger *slog.Logger) (store.Store, error) {
	open := func() (store.Store, error) {
		switch cfg.StoreDriver {
		case DriverPostgres:
			return postgres.NewStore(ctx, postgres.Config{URL: cfg.DatabaseURL})
		case DriverSQLite:
			return sqlite.NewStore(sqlite.DSN(cfg.DatabaseFile))
		default:
			return nil, backoff.Permanent(fmt.Errorf("unknown store driver %q", cfg.StoreDriver))
		}
	}

	db, err := backoff.Retry(ctx, open,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(connectTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Warn("store not reachable, retrying", "driver", cfg.StoreDriver, "error", err, "retry_in", d)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	logger.Info("database migrations applied successfully", "driver", cfg.StoreDriver)
	return db, nil
}

// NewUserAuthenticator loads the pepper and returns the users-table
// authenticator.
func NewUserAuthenticator(cfg Config, db store.Store) (*service.UserAuthenticator, error) {
	pepper, err := cryptox.LoadOrCreatePepper(cfg.PepperFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load pepper: %w", err)
	}
	return &service.UserAuthenticator{
		Store:  db,
		Hasher: cryptox.NewHasher(pepper),
		Clock:  idx.System{},
	}, nil
}

// initThrottle picks the guard. Redis must answer at startup; afterwards its
// failures let requests through.
func (app *Application) initThrottle(ctx context.Context) error {
	if app.cfg.ThrottleBackend != ThrottleRedis {
		app.guard = throttle.NewMemoryGuard(nil)
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     app.cfg.RedisAddr,
		Password: app.cfg.RedisPassword,
	})

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, client.Ping(ctx).Err()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(connectTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			app.logger.Warn("redis not reachable, retrying", "addr", app.cfg.RedisAddr, "error", err, "retry_in", d)
		}),
	)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	app.redis = client
	app.guard = throttle.NewRedisGuard(client, app.cfg.RedisPrefix)
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	clock := idx.System{}

	app.audit = service.NewAuditLog(app.db, clock, app.logger, app.metrics, app.cfg.AuditBuffer, app.cfg.StoreTimeout)

	app.sessionService = service.NewSessionService(service.Options{
		Codec:                   app.codec,
		Store:                   app.db,
		Clock:                   clock,
		Authenticator:           app.users,
		Guard:                   app.guard,
		Policies:                app.cfg.Policies,
		Audit:                   app.audit,
		Metrics:                 app.metrics,
		StoreTimeout:            app.cfg.StoreTimeout,
		ReuseRevokesAllSessions: app.cfg.ReuseRevokeAll,
	})

	app.housekeepingService = service.NewHousekeepingService(
		app.sessionService,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(app.sessionService, BuildVersion, app.logger)
	router.TrustProxies(app.cfg.TrustedProxies)
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
