package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/common"
	"github.com/ternarybob/easel/internal/handlers"
	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/services/artifacts"
	"github.com/ternarybob/easel/internal/services/catalog"
	"github.com/ternarybob/easel/internal/services/generation"
	"github.com/ternarybob/easel/internal/services/iteration"
	"github.com/ternarybob/easel/internal/services/preferences"
	"github.com/ternarybob/easel/internal/services/progress"
	"github.com/ternarybob/easel/internal/services/registry"
	"github.com/ternarybob/easel/internal/services/router"
	"github.com/ternarybob/easel/internal/services/templates"
	"github.com/ternarybob/easel/internal/services/workers"
	badgerstore "github.com/ternarybob/easel/internal/storage/badger"
)

// App holds all application components and dependencies.
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Orchestration services
	Registry    interfaces.RegistryService
	Prober      interfaces.HealthProber
	Pool        interfaces.ClientPool
	Router      interfaces.RouterService
	Aggregator  interfaces.AggregatorService
	Templates   interfaces.TemplateService
	Preferences interfaces.PreferenceService
	Catalog     interfaces.CatalogService
	Artifacts   interfaces.ArtifactService
	Executor    interfaces.ExecutorService
	Iteration   interfaces.IterationService

	// HTTP handlers
	SessionHandler    *handlers.SessionHandler
	GenerationHandler *handlers.GenerationHandler
	IterationHandler  *handlers.IterationHandler
	PreferenceHandler *handlers.PreferenceHandler
	NodeHandler       *handlers.NodeHandler
	ImageHandler      *handlers.ImageHandler
	StreamHandler     *handlers.StreamHandler

	scheduler *cron.Cron
}

// New initializes the application in dependency order: storage, node
// registry, worker pool, orchestration services, then handlers.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	storageManager, err := badgerstore.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.StorageManager = storageManager

	if err := app.initServices(); err != nil {
		storageManager.Close()
		return nil, err
	}
	app.initHandlers()
	app.startSchedules()

	logger.Info().
		Str("inventory", cfg.Nodes.InventoryPath).
		Str("templates", cfg.Templates.Dir).
		Msg("Application initialization complete")
	return app, nil
}

func (a *App) initServices() error {
	cfg := a.Config

	a.Registry = registry.NewService(a.Logger)
	if err := a.Registry.LoadFromFile(cfg.Nodes.InventoryPath); err != nil {
		return fmt.Errorf("failed to load node inventory: %w", err)
	}

	a.Aggregator = progress.NewService(a.Registry, cfg.WebSocket.SubscriberBuffer, a.Logger)

	timeouts := workers.TimeoutsFromConfig(&cfg.Workers)
	a.Pool = workers.NewPool(a.Registry.Snapshot(), timeouts, a.Aggregator.HandleWorkerEvent, a.Logger)

	probeInterval := common.Duration(cfg.Workers.ProbeInterval, 10*time.Second)
	a.Prober = registry.NewProber(a.Registry, a.Pool, probeInterval, timeouts.Probe, a.Logger)
	a.Prober.Start()

	a.Preferences = preferences.NewService(a.StorageManager.PreferenceStorage(), a.Logger)
	a.Catalog = catalog.NewService(a.Registry, a.Pool, a.Preferences, a.Logger)

	a.Templates = templates.NewService(cfg.Templates.Dir, a.Logger)
	if err := a.Templates.LoadAll(); err != nil {
		return fmt.Errorf("failed to load workflow templates: %w", err)
	}

	artifactService, err := artifacts.NewService(cfg.Storage.Images.Dir, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	a.Artifacts = artifactService

	a.Router = router.NewService(a.Registry, cfg.Generation.OverflowThreshold, a.Logger)

	a.Executor = generation.NewService(generation.Deps{
		Sessions:    a.StorageManager.SessionStorage(),
		Generations: a.StorageManager.GenerationStorage(),
		Registry:    a.Registry,
		Router:      a.Router,
		Templates:   a.Templates,
		Pool:        a.Pool,
		Aggregator:  a.Aggregator,
		Preferences: a.Preferences,
		Catalog:     a.Catalog,
		Artifacts:   a.Artifacts,
		Logger:      a.Logger,
	}, cfg.Generation.MaxAutoAdapters, timeouts.Job)

	a.Iteration = iteration.NewService(
		a.StorageManager.SessionStorage(),
		a.StorageManager.GenerationStorage(),
		a.Preferences,
		a.newRewriter(),
		a.Logger,
	)

	return nil
}

// newRewriter selects the prompt rewriter backend from configuration.
func (a *App) newRewriter() interfaces.Rewriter {
	cfg := a.Config.Rewriter
	if cfg.Mode == "claude" && cfg.APIKey != "" {
		a.Logger.Info().Str("model", cfg.Model).Msg("Claude prompt rewriter enabled")
		return iteration.NewClaudeRewriter(cfg.APIKey, cfg.Model, common.Duration(cfg.Timeout, 0), a.Logger)
	}
	return iteration.NewNoopRewriter()
}

func (a *App) initHandlers() {
	sessions := a.StorageManager.SessionStorage()
	generations := a.StorageManager.GenerationStorage()

	a.SessionHandler = handlers.NewSessionHandler(sessions, generations, a.Executor, a.Artifacts, a.Logger)
	a.GenerationHandler = handlers.NewGenerationHandler(a.Executor, generations, a.Iteration, a.Logger)
	a.IterationHandler = handlers.NewIterationHandler(a.Iteration, a.Logger)
	a.PreferenceHandler = handlers.NewPreferenceHandler(a.Preferences, a.Catalog, a.Logger)
	a.NodeHandler = handlers.NewNodeHandler(a.Registry, a.Catalog, a.Logger)
	a.ImageHandler = handlers.NewImageHandler(a.Artifacts, a.Logger)
	a.StreamHandler = handlers.NewStreamHandler(a.Aggregator, a.Iteration, &a.Config.WebSocket, a.Logger)
}

// startSchedules runs the catalog refresh and stale-job sweep on their cron
// expressions, plus one immediate catalog poll so routing has asset data
// before the first tick.
func (a *App) startSchedules() {
	common.SafeGo(a.Logger, "catalog-initial-refresh", func() {
		if err := a.Catalog.Refresh(context.Background()); err != nil {
			a.Logger.Warn().Err(err).Msg("Initial catalog refresh failed")
		}
	})

	a.scheduler = cron.New()
	if _, err := a.scheduler.AddFunc(a.Config.Catalog.RefreshSchedule, func() {
		if err := a.Catalog.Refresh(context.Background()); err != nil {
			a.Logger.Warn().Err(err).Msg("Scheduled catalog refresh failed")
		}
	}); err != nil {
		a.Logger.Error().Err(err).Str("schedule", a.Config.Catalog.RefreshSchedule).Msg("Invalid catalog refresh schedule")
	}
	if _, err := a.scheduler.AddFunc(a.Config.Catalog.StaleSweep, func() {
		if swept := a.Executor.SweepStale(context.Background()); swept > 0 {
			a.Logger.Warn().Int("swept", swept).Msg("Stale generations failed by sweep")
		}
	}); err != nil {
		a.Logger.Error().Err(err).Str("schedule", a.Config.Catalog.StaleSweep).Msg("Invalid stale sweep schedule")
	}
	a.scheduler.Start()
}

// Close shuts components down in reverse initialization order.
func (a *App) Close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.Prober != nil {
		a.Prober.Stop()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.Aggregator != nil {
		a.Aggregator.Close()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to close storage")
			return err
		}
	}
	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
