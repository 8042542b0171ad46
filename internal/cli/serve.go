package cli

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
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/fluxion-chat/internal/api"
	"github.com/ashureev/fluxion-chat/internal/chat"
	"github.com/ashureev/fluxion-chat/internal/config"
	"github.com/ashureev/fluxion-chat/internal/connection"
	"github.com/ashureev/fluxion-chat/internal/identity"
	"github.com/ashureev/fluxion-chat/internal/middleware"
	"github.com/ashureev/fluxion-chat/internal/state"
	"github.com/ashureev/fluxion-chat/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the client daemon",
		Long: `Run the client daemon. It restores the persisted conversation, connects to
the agent backend when an auth token is configured, and serves the local API.

Configuration is read from FLUXION_* environment variables and an optional
.env file in the working directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

//nolint:gocyclo // Startup wiring is kept sequential to make dependency order explicit.
func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("Starting fluxion", "version", version, "addr", cfg.ListenAddr,
		"backend", cfg.BackendURL, "store", cfg.Store.Driver)

	// Persisted state.
	repo, err := store.Open(cfg.Store)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	startCtx, cancelStart := context.WithTimeout(parent, 10*time.Second)
	defer cancelStart()
	if err := repo.Ping(startCtx); err != nil {
		slog.Error("Store health check failed", "error", err)
		return err
	}

	app := state.NewApp()
	root := cfg.Store.RootKey
	if err := store.Hydrate(startCtx, repo, root, app, logger); err != nil {
		slog.Error("Failed to restore state", "error", err)
		return err
	}

	syncer := store.NewSyncer(repo, root, logger)
	syncer.Attach(app)
	syncCtx, stopSync := context.WithCancel(context.Background())
	syncDone := make(chan struct{})
	go func() {
		syncer.Run(syncCtx)
		close(syncDone)
	}()
	defer func() {
		syncer.Detach()
		stopSync()
		<-syncDone
	}()

	clientID := identity.EnsureClientID(app.Session, logger)
	if cfg.AuthToken == "" {
		slog.Warn("FLUXION_AUTH_TOKEN is not set, the agent connection stays closed")
	}

	// Agent connection.
	mgr := connection.NewManager(app.Session, connection.Options{
		BaseURL:           cfg.BackendURL,
		KeepaliveInterval: cfg.Keepalive.Interval,
		KeepaliveTimeout:  cfg.Keepalive.Timeout,
		ReadLimit:         cfg.ReadLimit,
		Logger:            logger,
	})
	sup := connection.NewSupervisor(mgr, app, cfg.AuthToken, connection.RetryPolicy{
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		BaseDelay:   cfg.Reconnect.BaseDelay,
		MaxDelay:    cfg.Reconnect.MaxDelay,
	}, logger)

	// Local API.
	svc := chat.NewService(app, mgr, logger)
	broker := api.NewBroker(app, func() interface{} { return svc.View() }, api.BrokerOptions{Logger: logger})
	limiter := api.NewRateLimiter(cfg.SendPerMinute, time.Minute)
	defer limiter.Stop()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	api.NewHealthHandler(repo, mgr).RegisterHealth(r)
	api.NewHandler(svc, broker, limiter).RegisterRoutes(r)

	// SSE streams are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Local API listening", "addr", srv.Addr, "client_id", clientID, "dev", cfg.IsDevelopment())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		slog.Error("Server failed", "error", err)
		runErr = fmt.Errorf("serve local api: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	// End open streams first so Shutdown does not wait on them.
	broker.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// The supervisor closes the agent connection on its way out.
	<-supDone

	slog.Info("Fluxion stopped")
	return runErr
}
