// Package app wires configuration, storage and the lifecycle manager together.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bearslyricattack/plugman/pkg/config"
	"github.com/bearslyricattack/plugman/pkg/constants"
	"github.com/bearslyricattack/plugman/pkg/descriptor"
	"github.com/bearslyricattack/plugman/pkg/enabledset"
	"github.com/bearslyricattack/plugman/pkg/eventbus"
	"github.com/bearslyricattack/plugman/pkg/installer"
	"github.com/bearslyricattack/plugman/pkg/loader"
	"github.com/bearslyricattack/plugman/pkg/logger"
	"github.com/bearslyricattack/plugman/pkg/manifest"
	"github.com/bearslyricattack/plugman/pkg/metrics"
	"github.com/bearslyricattack/plugman/pkg/migration"
	"github.com/bearslyricattack/plugman/pkg/models"
	"github.com/bearslyricattack/plugman/pkg/plugin"
	"github.com/bearslyricattack/plugman/pkg/publisher"
	"github.com/bearslyricattack/plugman/pkg/storage"
	"github.com/bearslyricattack/plugman/pkg/watcher"
	"gorm.io/gorm"
)

// Options tune how the components are built.
type Options struct {
	// OneShot is set by CLI commands: the enabled-set cache is bypassed.
	OneShot bool
	// Registry defaults to the factories linked into the binary.
	Registry loader.CodeRegistry
}

// App holds the wired components of one process.
type App struct {
	Config      *config.Config
	DB          *gorm.DB
	Descriptors *descriptor.Store
	Enabled     *enabledset.Store
	Migrations  *migration.Runner
	EventBus    *eventbus.EventBus
	Installer   *installer.Installer
	Manager     *plugin.Manager
}

// Build opens storage and assembles the lifecycle manager from cfg.
func Build(cfg *config.Config, opts Options) (*App, error) {
	log := logger.GetLogger()
	if os.Getenv("PLUGMAN_LOG_LEVEL") == "" {
		log.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	}
	logger.SetRecorder(metrics.Recorder{})

	log.Info("Opening database", logger.Fields{"driver": cfg.Database.Driver})
	db, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	descriptors := descriptor.NewStore(cfg.Paths.Plugins,
		descriptor.WithNamespaces(cfg.PluginNamespaces),
		descriptor.WithDenylist(cfg.Denylist...),
	)
	enabled := enabledset.NewStore(
		storage.NewSettingStore(db),
		storage.NewCacheStore(db),
		descriptors,
		enabledset.Options{
			TTL:          cfg.Cache.TTL,
			CacheEnabled: cfg.Cache.IsEnabled(),
			OneShot:      opts.OneShot,
		},
	)

	registry := opts.Registry
	if registry == nil {
		registry = loader.NewStaticRegistry()
		log.Debug("Linked plugin entry points", logger.Fields{"entry_points": loader.LinkedEntryPoints()})
	}
	runner := migration.NewRunner(db)
	bus := eventbus.NewEventBus(cfg.EventBus.BufferSize)

	manager := plugin.NewManager(plugin.Components{
		Descriptors: descriptors,
		Loader:      loader.New(registry, descriptors.SourceDir),
		Migrations:  runner,
		Publisher:   publisher.New(descriptors, cfg.Paths.Public, cfg.Paths.Lang),
		Enabled:     enabled,
		Manifest:    manifest.NewGenerator(cfg.Paths.Manifest, descriptors),
		EventBus:    bus,
		HostVersion: cfg.Host.Version,
	})

	return &App{
		Config:      cfg,
		DB:          db,
		Descriptors: descriptors,
		Enabled:     enabled,
		Migrations:  runner,
		EventBus:    bus,
		Installer:   installer.New(descriptors),
		Manager:     manager,
	}, nil
}

// MigrateHost applies the host application's own migrations.
func (a *App) MigrateHost(ctx context.Context) ([]string, error) {
	var applied []string
	err := logger.TraceOperation(ctx, "migrate", func() error {
		var err error
		applied, err = a.Migrations.Run(ctx, a.Config.Paths.CoreMigrations)
		return err
	})
	return applied, err
}

func (a *App) Close() error {
	return storage.Close(a.DB)
}

// Run boots the linked plugins and keeps the cache in sync with the plugins directory until
// the process is signalled.
func Run(cfg *config.Config) error {
	log := logger.GetLogger()

	a, err := Build(cfg, Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("Failed to close database", logger.Fields{"error": err.Error()})
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Manager.Boot(ctx); err != nil {
		log.Error("Some plugins failed to boot", logger.Fields{"error": err.Error()})
	}

	audit := a.EventBus.Subscribe(constants.LifecycleTopic)
	defer a.EventBus.Unsubscribe(constants.LifecycleTopic, audit)
	go auditLoop(ctx, audit)

	w, err := watcher.New(cfg.Paths.Plugins, enabledset.CacheFunc(a.Manager.ClearCache))
	if err != nil {
		return fmt.Errorf("failed to create plugins watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to watch plugins directory: %w", err)
	}
	defer w.Stop()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Address)
		metricsServer.Start()
	}

	log.Info("Application started successfully, waiting for shutdown signal")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	// 优雅关闭
	log.Info("Received shutdown signal", logger.Fields{"signal": sig.String()})
	cancel()
	if metricsServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			log.Warn("Failed to stop metrics server", logger.Fields{"error": err.Error()})
		}
	}
	log.Info("Application shutdown completed")
	return nil
}

// auditLoop logs every lifecycle event for operators.
func auditLoop(ctx context.Context, events eventbus.EventChan) {
	log := logger.GetLogger().WithField("component", "audit")
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			e, ok := evt.Payload.(models.LifecycleEvent)
			if !ok {
				log.Warn("Unexpected event payload", logger.Fields{"type": fmt.Sprintf("%T", evt.Payload)})
				continue
			}
			log.Info("Plugin lifecycle event", logger.Fields{
				"event_id": e.ID,
				"kind":     string(e.Kind),
				"plugin":   e.PluginID,
				"at":       e.OccurredAt.Format(time.RFC3339),
			})
		}
	}
}
