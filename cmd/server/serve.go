package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-listing-dashboard/internal/config"
	httpapi "github.com/tbourn/go-listing-dashboard/internal/http"
	"github.com/tbourn/go-listing-dashboard/internal/observability"
	"github.com/tbourn/go-listing-dashboard/internal/services"
	"github.com/tbourn/go-listing-dashboard/internal/templates"
)

const purgeInterval = time.Hour

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx = logger.WithContext(ctx)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, Version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	catalog, err := templates.Load(cfg.RuleTemplatesPath)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	db, err := openDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer closeDB(db)

	cache, closeCache := buildStatsCache(ctx, cfg.Dashboard, logger)
	defer closeCache()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{DB: db, Catalog: catalog, Cache: cache}, cfg)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go purgeLoop(ctx, db, purgeInterval, func(n int64, err error) {
		if err != nil {
			logger.Warn().Err(err).Msg("idempotency purge failed")
			return
		}
		if n > 0 {
			logger.Debug().Int64("removed", n).Msg("idempotency records purged")
		}
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("base_path", cfg.APIBasePath).
			Int("templates", len(catalog)).
			Bool("auth", cfg.Auth.Enabled()).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildStatsCache picks the dashboard cache: Redis when an address is set,
// in-process otherwise, none when the TTL is zero. An unreachable Redis falls
// back to the in-process cache.
func buildStatsCache(ctx context.Context, cfg config.DashboardConfig, logger zerolog.Logger) (services.StatsCache, func()) {
	noop := func() {}
	if cfg.CacheTTL <= 0 {
		return nil, noop
	}
	if cfg.RedisAddr != "" {
		rc, err := services.NewRedisStatsCache(ctx, cfg.RedisAddr, cfg.RedisPrefix, cfg.CacheTTL)
		if err == nil {
			logger.Info().Str("addr", cfg.RedisAddr).Msg("dashboard cache: redis")
			return rc, func() { _ = rc.Close() }
		}
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, using in-process dashboard cache")
	}
	return services.NewMemoryStatsCache(cfg.CacheTTL), noop
}
