package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-pkgz/rest"
	restlog "github.com/go-pkgz/rest/logger"
	flags "github.com/jessevdk/go-flags"

	"github.com/BookBrainz/bookbrainz-ws/auth"
	"github.com/BookBrainz/bookbrainz-ws/cache"
	"github.com/BookBrainz/bookbrainz-ws/clock"
	"github.com/BookBrainz/bookbrainz-ws/config"
	"github.com/BookBrainz/bookbrainz-ws/db"
	"github.com/BookBrainz/bookbrainz-ws/logger"
	"github.com/BookBrainz/bookbrainz-ws/registry"
	"github.com/BookBrainz/bookbrainz-ws/session"
)

var revision = "unknown"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		var fErr *flags.Error
		if errors.As(err, &fErr) && fErr.Type == flags.ErrHelp {
			fmt.Println(fErr.Message)
			os.Exit(0)
		}
		logger.Fatal(fmt.Errorf("load config: %w", err))
	}
	logger.Setup(cfg.Debug, cfg.Secrets()...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	sqlDB, err := db.OpenMySQL(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logger.LogErr(fmt.Errorf("close db: %w", err))
		}
	}()

	redisClient, err := db.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.LogErr(fmt.Errorf("close redis: %w", err))
		}
	}()

	clk := clock.Real{}
	store := auth.NewStore(cache.New(redisClient, cfg.Redis.KeyPrefix), clk)
	reg := registry.NewCached(registry.NewMySQL(sqlDB), cfg.Auth.ClientCacheTTL)
	validator := auth.NewValidator(store, reg, clk)

	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           newRouter(validator, clk, cfg.Auth),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", cfg.HTTP.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func tokenConfig(cfg config.AuthConfig) auth.TokenConfig {
	return auth.TokenConfig{
		AccessTokenTTL: cfg.AccessTokenTTL,
		AllowedScopes:  cfg.AllowedScopes,
		DefaultScopes:  cfg.DefaultScopes,
	}
}

func authorizeConfig(cfg config.AuthConfig) auth.AuthorizeConfig {
	return auth.AuthorizeConfig{
		GrantTTL:      cfg.GrantTTL,
		AllowedScopes: cfg.AllowedScopes,
		DefaultScopes: cfg.DefaultScopes,
	}
}

func newRouter(validator auth.RequestValidator, clk clock.Clock, authCfg config.AuthConfig) http.Handler {
	router := chi.NewRouter()
	router.Use(rest.Recoverer(logger.Backend()))
	router.Use(rest.AppInfo("bookbrainz-ws", "BookBrainz", revision), rest.Ping)
	// request bodies carry passwords and client secrets
	router.Use(restlog.New(restlog.Log(logger.Backend()), restlog.Flags(restlog.User), restlog.Prefix("[INFO]")).Handler)

	sessionManager := session.NewManager(validator)

	router.Route("/ws", func(r chi.Router) {
		r.Method(http.MethodPost, "/oauth/token", auth.NewTokenHandler(validator, tokenConfig(authCfg)))
		r.Method(http.MethodPost, "/oauth/authorize", auth.NewAuthorizeHandler(validator, clk, authorizeConfig(authCfg)))

		r.Group(func(r chi.Router) {
			r.Use(sessionManager.Middleware)
			r.Method(http.MethodGet, "/user", session.UserHandler(validator))
		})
	})

	return router
}
