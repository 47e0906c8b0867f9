package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"

	"github.com/ubermorgenland/mcp-bridge/pkg/executor"
	"github.com/ubermorgenland/mcp-bridge/pkg/fetcher"
	"github.com/ubermorgenland/mcp-bridge/pkg/metrics"
	"github.com/ubermorgenland/mcp-bridge/pkg/registry"
	"github.com/ubermorgenland/mcp-bridge/pkg/server"
)

func main() {
	cfg, err := server.LoadConfig("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := server.NewLogger(cfg.Logging)

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("registry store init failed")
	}
	defer store.Close()

	sources := registry.NewService(store, logger)
	cache := fetcher.NewCache(cfg.CacheTTL(), cfg.Fetcher.CacheMaxEntries)
	fetch := fetcher.New(&http.Client{Timeout: cfg.FetchTimeout()}, cache)
	exec := executor.NewWithLimit(&http.Client{Timeout: cfg.UpstreamTimeout()}, cfg.Upstream.MaxResponseBytes)
	counters := metrics.NewCounters()

	router := server.NewRouter(cfg, logger, sources, fetch, cache, exec, counters)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router.Handler(),
		// Generous timeouts: upstream calls and document fetches run
		// inside the request.
		ReadTimeout:  240 * time.Second,
		WriteTimeout: 240 * time.Second,
	}

	logger.Info().
		Str("addr", cfg.Addr()).
		Str("version", server.Version).
		Bool("url_sources", cfg.Fetcher.AllowURLSources).
		Msg("mcp-bridge starting")

	if err := runWithGracefulShutdown(srv, logger); err != nil {
		logger.Fatal().Err(err).Msg("HTTP server error")
	}
}

// openStore picks the registry backend: Postgres when DATABASE_URL is
// configured, otherwise an in-memory table seeded from config.
func openStore(cfg *server.Config, logger *log.Logger) (registry.Store, error) {
	if cfg.Registry.DatabaseURL == "" {
		store := registry.NewMemoryStore()
		store.Seed(cfg.Registry.Sources)
		logger.Info().Int("sources", len(cfg.Registry.Sources)).Msg("registry running in memory")
		return store, nil
	}

	db, err := registry.Connect(cfg.Registry.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := registry.RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info().Str("database", server.MaskSensitive(cfg.Registry.DatabaseURL)).Msg("registry connected")
	return registry.NewPostgresStore(db), nil
}

// runWithGracefulShutdown serves until SIGINT/SIGTERM, then drains
// in-flight requests for up to 25 seconds.
func runWithGracefulShutdown(srv *http.Server, logger *log.Logger) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %v", err)
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %v", err)
		}
		logger.Info().Msg("server shut down gracefully")
		return nil
	}
}
