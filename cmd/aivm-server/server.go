package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aivmlib-go/aivmlib/internal/api"
	"github.com/aivmlib-go/aivmlib/internal/catalog"
	"github.com/aivmlib-go/aivmlib/internal/config"
	"github.com/aivmlib-go/aivmlib/internal/limiter"
	"github.com/aivmlib-go/aivmlib/internal/logging"
	"github.com/aivmlib-go/aivmlib/internal/queue"
	"github.com/aivmlib-go/aivmlib/internal/storage"
)

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(cfg.Logging, os.Stdout)
	logger.Info().
		Str("listen", cfg.Server.Listen).
		Str("storage", cfg.Storage.Backend).
		Str("catalog", catalogLabel(cfg.Catalog)).
		Str("version", Version).
		Msg("Starting aivm-server")

	app, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	if scan, _ := cmd.Flags().GetBool("scan"); scan {
		results, err := app.indexer.Scan(cmd.Context(), "")
		if err != nil {
			logger.Error().Err(err).Msg("Startup scan failed")
		} else {
			logger.Info().Int("files", len(results)).Int("failed", countFailed(results)).Msg("Startup scan finished")
		}
	}

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      app.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Listen).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info().Msg("Server stopped")
	return nil
}

func loadConfig() (*config.Config, error) {
	return config.FromViper(viper.GetViper())
}

// app owns the long-lived services behind the router.
type app struct {
	handler http.Handler
	catalog *catalog.Catalog
	pool    *queue.Pool
	indexer *catalog.Indexer
	logger  zerolog.Logger
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	store, err := storage.New(cfg.Storage, cfg.Limits.MaxModelBytes)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	cat, err := catalog.Open(catalog.Options{
		Dir:      cfg.Catalog.Path,
		InMemory: cfg.Catalog.Path == "",
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	pool := queue.NewPool(queue.Config{Workers: cfg.Catalog.Workers, Backlog: cfg.Catalog.Workers})
	indexer := catalog.NewIndexer(cat, store, pool, logger)

	metrics := limiter.NewMetrics()
	deps := api.Deps{
		Limiter: limiter.New(limiter.Config{
			MaxConcurrent: cfg.Limits.MaxConcurrentEncodes,
			QueueTimeout:  cfg.Limits.QueueTimeout,
			Metrics:       metrics,
		}),
		Metrics: metrics,
		Catalog: cat,
		Indexer: indexer,
		Version: Version,
	}

	return &app{
		handler: api.NewRouter(cfg, deps, logger),
		catalog: cat,
		pool:    pool,
		indexer: indexer,
		logger:  logger,
	}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.pool.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Indexing workers did not stop in time")
	}
	if err := a.catalog.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Close catalog")
	}
}

func catalogLabel(c config.CatalogConfig) string {
	if c.Path == "" {
		return "memory"
	}
	return c.Path
}

func countFailed(results []queue.Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
