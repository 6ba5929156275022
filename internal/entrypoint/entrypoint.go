package entrypoint

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/crudkit/internal/auth"
	"github.com/mrlokans/crudkit/internal/config"
	"github.com/mrlokans/crudkit/internal/database"
	"github.com/mrlokans/crudkit/internal/forward"
	http_controllers "github.com/mrlokans/crudkit/internal/http"
	"github.com/mrlokans/crudkit/internal/logging"
	"github.com/mrlokans/crudkit/internal/metrics"
	"github.com/mrlokans/crudkit/internal/sysmgmt"
	"github.com/mrlokans/crudkit/internal/tasks"
	"github.com/mrlokans/crudkit/internal/timer"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

// Serve runs the HTTP server until SIGINT or SIGTERM, then shuts it down
// within the configured timeout.
func Serve(router *gin.Engine, cfg *config.Config, onShutdown ShutdownFunc) error {
	log := logging.L()
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()), zap.Duration("timeout", timeout))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Call shutdown callback first (e.g., to stop task queue)
	if onShutdown != nil {
		onShutdown(ctx)
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}

// Run wires every component from cfg and serves until interrupted.
func Run(cfg *config.Config, version string) error {
	log, err := logging.Init(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log.Info("starting crudkit", zap.String("version", version), zap.String("auth_mode", string(cfg.Auth.Mode)))

	m := metrics.New()

	db, err := database.Open(cfg.Database, database.WithQueryHistogram(m.DBQueryDuration))
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("error closing database", zap.Error(err))
		}
	}()

	if err := sysmgmt.Migrate(db.DB); err != nil {
		return err
	}
	if err := applySeed(cfg, db); err != nil {
		return err
	}

	authn, sessions, csrfSecret, err := setupAuth(cfg, db)
	if err != nil {
		return err
	}

	limiter := auth.NewRateLimiter(auth.RateLimitConfigFrom(cfg.Auth))
	defer limiter.Stop()

	// Initialize task queue if enabled
	var taskClient *tasks.Client
	if cfg.Tasks.Enabled {
		taskClient, err = tasks.NewClient(tasks.ConfigFrom(cfg.Tasks))
		if err != nil {
			return fmt.Errorf("failed to initialize task queue: %w", err)
		}
		defer func() {
			if err := taskClient.Close(); err != nil {
				log.Warn("error closing task client", zap.Error(err))
			}
		}()
	}

	app, err := sysmgmt.New(db.DB, sysmgmt.Options{
		Auth:          cfg.Auth,
		Cache:         cfg.Cache,
		Authenticator: authn,
		Limiter:       limiter,
		Tasks:         taskClient,
	})
	if err != nil {
		return err
	}

	var cleanup *timer.Interval
	taskCtx, taskCancel := context.WithCancel(context.Background())
	defer taskCancel()
	if taskClient != nil {
		taskClient.Register(app.TaskQueues()...)
		taskClient.Start(taskCtx)
		cleanup, err = tasks.ScheduleActionLogCleanup(taskClient)
		if err != nil {
			return fmt.Errorf("failed to schedule action log cleanup: %w", err)
		}
	}

	proxies, err := http_controllers.ParseProxyRoutes(cfg.Proxy.Routes)
	if err != nil {
		return err
	}

	router := http_controllers.NewRouter(http_controllers.RouterConfig{
		Config:      cfg,
		Database:    db,
		Version:     version,
		Metrics:     m,
		App:         app,
		Sessions:    sessions,
		CSRFSecret:  csrfSecret,
		TaskClient:  taskClient,
		Proxies:     proxies,
		ProxyClient: forward.NewClient(),
	})

	// Shutdown callback for graceful cleanup
	onShutdown := func(ctx context.Context) {
		if cleanup != nil {
			cleanup.Stop()
		}
		if taskClient != nil {
			taskClient.Stop(ctx)
			taskCancel()
		}
	}

	return Serve(router, cfg, onShutdown)
}

func applySeed(cfg *config.Config, db *database.Database) error {
	seed, err := sysmgmt.LoadSeed(cfg.Seed.File)
	if err != nil {
		return err
	}
	if _, err := sysmgmt.NewStore(db.DB).ApplySeed(context.Background(), seed, cfg.Auth.BcryptCost); err != nil {
		return fmt.Errorf("failed to apply seed: %w", err)
	}
	return nil
}

// setupAuth builds the token serializer and, in local mode, the session
// manager with its CSRF key.
func setupAuth(cfg *config.Config, db *database.Database) (*auth.Authenticator, *auth.SessionManager, []byte, error) {
	log := logging.L()
	authCfg := cfg.Auth
	if authCfg.SecretKey == "" {
		secret, err := auth.GenerateSecret(32)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to generate secret key: %w", err)
		}
		authCfg.SecretKey = secret
		log.Warn("generated a secret key, tokens will not survive a restart (set AUTH_SECRET_KEY to persist)")
	}

	tokens, err := auth.SerializerFromConfig(authCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if authCfg.Mode != config.AuthModeLocal {
		log.Info("authentication disabled")
		return auth.NewAuthenticator(tokens, nil), nil, nil, nil
	}

	// Sessions share the application database when it is sqlite.
	var sqlDB *sql.DB
	if db.IsSQLite() {
		if sqlDB, err = db.DB.DB(); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to get SQL DB for sessions: %w", err)
		}
	} else {
		log.Info("sessions are kept in memory")
	}
	sessions, err := auth.NewSessionManager(sqlDB, authCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize session manager: %w", err)
	}

	csrfSecret := sha256.Sum256([]byte("csrf:" + authCfg.SecretKey))
	return auth.NewAuthenticator(tokens, sessions), sessions, csrfSecret[:], nil
}
