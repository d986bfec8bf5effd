package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaibs3/shopwatch/internal/analytics"
	"github.com/shaibs3/shopwatch/internal/cache"
	"github.com/shaibs3/shopwatch/internal/competitor"
	"github.com/shaibs3/shopwatch/internal/config"
	"github.com/shaibs3/shopwatch/internal/handlers"
	"github.com/shaibs3/shopwatch/internal/ingest"
	"github.com/shaibs3/shopwatch/internal/pagefetch"
	"github.com/shaibs3/shopwatch/internal/project"
	"github.com/shaibs3/shopwatch/internal/provider"
	"github.com/shaibs3/shopwatch/internal/registry"
	"github.com/shaibs3/shopwatch/internal/router"
	"github.com/shaibs3/shopwatch/internal/store"
	"github.com/shaibs3/shopwatch/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// App owns every long-lived component of the process
type App struct {
	config     *config.Config
	logger     *zap.Logger
	telemetry  *telemetry.Telemetry
	store      store.Store
	cache      cache.Cache
	registry   *registry.Registry
	resolver   *competitor.Resolver
	pipeline   *ingest.Pipeline
	aggregator *analytics.Aggregator
	projects   *project.Service
	pages      *pagefetch.Fetcher
	server     *http.Server
}

func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	tel, err := telemetry.NewTelemetry(logger)
	if err != nil {
		return nil, err
	}

	// STORE_CONFIG unset selects the in-memory store
	s, err := store.NewStoreFactory(logger, tel).CreateStore(cfg.StoreConfig)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}

	app := &App{
		config:    cfg,
		logger:    logger,
		telemetry: tel,
		store:     s,
		cache:     newCache(cfg.Redis, logger),
	}

	app.registry = registry.New(s, logger, tel)
	app.resolver = competitor.NewResolver(s, logger, tel)
	app.aggregator = analytics.New(s, app.cache, logger)
	app.projects = project.NewService(s, app.resolver, logger)
	app.pages = pagefetch.New(app.registry, pagefetch.Options{
		Concurrency: cfg.Rescrape.Concurrency,
		MaxAge:      cfg.Rescrape.MaxAge,
	}, logger, tel)

	if err := cfg.RequireProvider(); err != nil {
		logger.Warn("ingestion disabled", zap.Error(err))
	} else {
		fetcher := provider.NewClient(provider.Config{
			BaseURL:    cfg.Provider.BaseURL,
			Login:      cfg.Provider.Login,
			Password:   cfg.Provider.Password,
			Timeout:    cfg.Provider.Timeout,
			MaxResults: cfg.Provider.MaxResults,
		}, logger)
		app.pipeline = ingest.New(s, fetcher, app.registry, app.resolver, app.cache, ingest.Options{
			MaxConcurrent: cfg.Ingest.MaxConcurrent,
			RequestDelay:  cfg.Ingest.RequestDelay,
			Detection:     app.thresholds(),
			AutoCreate:    cfg.Detection.AutoCreate,
		}, logger, tel)
	}

	var ingester handlers.Ingester
	if app.pipeline != nil {
		ingester = app.pipeline
	}
	handlerList := []router.Handler{
		handlers.NewHealthHandler(s),
		handlers.NewProjectHandler(app.projects, app.resolver, ingester, app.aggregator, app.cache, app.thresholds()),
		handlers.NewAnalyticsHandler(app.aggregator),
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RPSLimit), cfg.RPSBurst)
	app.server = router.NewRouter(limiter, tel, logger, handlerList).CreateServer(":" + cfg.Port)

	return app, nil
}

func newCache(cfg config.RedisConfig, logger *zap.Logger) cache.Cache {
	if !cfg.Enabled {
		return cache.Nop{}
	}
	client, err := cache.NewClient(cache.Options{Address: cfg.Address, Password: cfg.Password, DB: cfg.DB})
	if err != nil {
		logger.Warn("redis unavailable, analytics caching disabled", zap.String("address", cfg.Address), zap.Error(err))
		return cache.Nop{}
	}
	logger.Info("analytics caching enabled", zap.String("address", cfg.Address))
	return cache.NewRedisCache(client, logger)
}

func (app *App) thresholds() competitor.Thresholds {
	return competitor.Thresholds{
		MinAppearances:    app.config.Detection.MinAppearances,
		MinAuthorityScore: app.config.Detection.MinAuthorityScore,
	}
}

func (app *App) Store() store.Store { return app.store }

func (app *App) Projects() *project.Service { return app.projects }

func (app *App) PageFetcher() *pagefetch.Fetcher { return app.pages }

// Pipeline returns the ingestion pipeline, or an error when no provider credentials are configured
func (app *App) Pipeline() (*ingest.Pipeline, error) {
	if app.pipeline == nil {
		return nil, config.ErrMissingProviderCredentials
	}
	return app.pipeline, nil
}

// Close releases the store, the cache and the metrics exporter
func (app *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(
		app.cache.Close(),
		app.store.Close(),
		app.telemetry.Shutdown(ctx),
	)
}

func (app *App) start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.store.Migrate(ctx); err != nil {
		return err
	}

	app.logger.Info("starting server", zap.String("port", app.config.Port))

	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	return nil
}

func (app *App) stop() error {
	app.logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}

	app.logger.Info("server exited gracefully")
	return nil
}

// Run serves HTTP until SIGINT or SIGTERM
func (app *App) Run() error {
	if err := app.start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	return app.stop()
}
