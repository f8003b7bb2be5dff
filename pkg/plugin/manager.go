// Package plugin sequences the lifecycle of installed plugins: activation, deactivation,
// removal and update.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/bearslyricattack/plugman/pkg/dependency"
	"github.com/bearslyricattack/plugman/pkg/descriptor"
	"github.com/bearslyricattack/plugman/pkg/enabledset"
	"github.com/bearslyricattack/plugman/pkg/eventbus"
	"github.com/bearslyricattack/plugman/pkg/hooks"
	"github.com/bearslyricattack/plugman/pkg/installer"
	"github.com/bearslyricattack/plugman/pkg/loader"
	"github.com/bearslyricattack/plugman/pkg/logger"
	"github.com/bearslyricattack/plugman/pkg/manifest"
	"github.com/bearslyricattack/plugman/pkg/migration"
	"github.com/bearslyricattack/plugman/pkg/models"
	"github.com/bearslyricattack/plugman/pkg/publisher"
	"github.com/bearslyricattack/plugman/pkg/version"
	"github.com/google/uuid"
)

// Components are the collaborators a Manager sequences.
type Components struct {
	Descriptors *descriptor.Store
	Loader      *loader.Loader
	Migrations  *migration.Runner
	Publisher   *publisher.Publisher
	Enabled     *enabledset.Store
	Manifest    *manifest.Generator
	EventBus    *eventbus.EventBus
	// Caches are invalidated together with the enabled set.
	Caches      []enabledset.LifecycleCache
	HostVersion string
	Logger      logger.Logger
}

type Manager struct {
	descriptors *descriptor.Store
	loader      *loader.Loader
	hooks       *hooks.Invoker
	migrations  *migration.Runner
	publisher   *publisher.Publisher
	enabled     *enabledset.Store
	manifest    *manifest.Generator
	eventBus    *eventbus.EventBus
	caches      []enabledset.LifecycleCache
	hostVersion string
	log         logger.Logger

	// 同一进程内的生命周期操作串行执行
	mu sync.Mutex
}

func NewManager(c Components) *Manager {
	log := c.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	bus := c.EventBus
	if bus == nil {
		bus = eventbus.NewEventBus(0)
	}
	return &Manager{
		descriptors: c.Descriptors,
		loader:      c.Loader,
		hooks:       hooks.NewInvoker(c.Loader, log),
		migrations:  c.Migrations,
		publisher:   c.Publisher,
		enabled:     c.Enabled,
		manifest:    c.Manifest,
		eventBus:    bus,
		caches:      c.Caches,
		hostVersion: c.HostVersion,
		log:         log,
	}
}

func (m *Manager) EventBus() *eventbus.EventBus { return m.eventBus }

// run serialises one lifecycle operation and traces it.
func (m *Manager) run(ctx context.Context, op, id string, fn func(ctx context.Context) (*models.Result, error)) (*models.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx = context.WithValue(ctx, logger.OperationIDKey, uuid.NewString())
	ctx = context.WithValue(ctx, logger.PluginKey, id)

	var result *models.Result
	err := logger.TraceOutcome(ctx, m.log, op, func() (string, error) {
		var err error
		result, err = fn(ctx)
		if err != nil {
			return logger.OutcomeError, err
		}
		if result.Error {
			return logger.OutcomeRejected, nil
		}
		return logger.OutcomeSuccess, nil
	})
	if err != nil {
		return nil, err
	}
	log := m.log.WithContext(ctx)
	if result.Error {
		log.Warn("Plugin operation rejected", logger.Fields{
			"operation": op,
			"code":      string(result.Code),
			"message":   result.Message,
		})
	} else {
		log.Info("Plugin operation finished", logger.Fields{
			"operation": op,
			"code":      string(result.Code),
		})
	}
	return result, nil
}

// Activate enables an installed plugin, loading its code and running its setup the first time.
func (m *Manager) Activate(ctx context.Context, id string) (*models.Result, error) {
	return m.run(ctx, "activate", id, func(ctx context.Context) (*models.Result, error) {
		return m.activate(ctx, id)
	})
}

func (m *Manager) activate(ctx context.Context, id string) (*models.Result, error) {
	desc, res, err := m.descriptors.Check(id)
	if err != nil || res != nil {
		return res, err
	}
	if res := m.checkHostVersion(desc); res != nil {
		return res, nil
	}
	if !desc.IsReady() {
		return models.Failure(models.CodeNotReady,
			fmt.Sprintf("Plugin %s is not ready to be activated yet", desc.DisplayName())), nil
	}

	enabled, err := m.enabled.Load(ctx)
	if err != nil {
		return nil, err
	}
	if contains(enabled, id) {
		return models.Noop(models.CodeAlreadyActive, fmt.Sprintf("Plugin %s is already activated", desc.DisplayName())), nil
	}

	if unmet := dependency.Unmet(desc, enabled); len(unmet) > 0 {
		res := models.Failure(models.CodeDependency, fmt.Sprintf(
			"Plugin %s requires the following plugins to be activated first: %s",
			desc.DisplayName(), strings.Join(unmet, ", ")))
		res.Data = unmet
		return res, nil
	}

	if err := m.invalidate(ctx); err != nil {
		return nil, err
	}

	if !m.loader.IsLoaded(desc) {
		if err := m.loader.EnsureLoaded(desc); err != nil {
			return nil, err
		}
		if res, err := m.setup(ctx, desc); err != nil || res != nil {
			// 首次激活失败时卸载代码，重试会重新执行全部初始化
			m.loader.Unload(desc)
			return res, err
		}
	}

	saved, err := m.enabled.Save(ctx, append(enabled, id))
	if err != nil {
		return nil, err
	}
	if err := m.hooks.Invoke(ctx, desc, hooks.Activated); err != nil {
		return nil, err
	}
	if err := m.commit(ctx, saved); err != nil {
		return nil, err
	}
	m.eventBus.PublishLifecycle(models.EventActivated, id)

	return models.Success(fmt.Sprintf("Plugin %s activated", desc.DisplayName())), nil
}

// setup runs the first-activation steps. A non-nil result is a recoverable failure.
func (m *Manager) setup(ctx context.Context, desc *models.PluginDescriptor) (*models.Result, error) {
	id := desc.Dir
	if err := m.hooks.Invoke(ctx, desc, hooks.Activate); err != nil {
		return nil, err
	}
	if _, err := m.migrations.Run(ctx, m.descriptors.MigrationDir(id)); err != nil {
		return nil, fmt.Errorf("run migrations of plugin %s: %w", id, err)
	}
	if res := m.publisher.PublishAssets(id); res.Error {
		return res, nil
	}
	m.publishTranslations(ctx, id)
	return nil, nil
}

// Deactivate disables a plugin unless another enabled plugin still requires it.
func (m *Manager) Deactivate(ctx context.Context, id string) (*models.Result, error) {
	return m.run(ctx, "deactivate", id, func(ctx context.Context) (*models.Result, error) {
		desc, res, err := m.descriptors.Check(id)
		if err != nil || res != nil {
			return res, err
		}
		return m.deactivate(ctx, desc)
	})
}

// deactivate expects the caller to hold m.mu.
func (m *Manager) deactivate(ctx context.Context, desc *models.PluginDescriptor) (*models.Result, error) {
	id := desc.Dir
	enabled, err := m.enabled.Load(ctx)
	if err != nil {
		return nil, err
	}

	if dependents := dependency.Dependents(id, enabled, m.descriptors.Describe); len(dependents) > 0 {
		res := models.Failure(models.CodeDependency, fmt.Sprintf(
			"Plugin %s cannot be deactivated because the following plugins depend on it: %s",
			desc.DisplayName(), dependency.Names(dependents)))
		res.Data = dependents
		return res, nil
	}

	if err := m.invalidate(ctx); err != nil {
		return nil, err
	}

	if !contains(enabled, id) {
		return models.Noop(models.CodeAlreadyInactive, fmt.Sprintf("Plugin %s is already deactivated", desc.DisplayName())), nil
	}

	if err := m.loader.EnsureLoaded(desc); err != nil {
		return nil, err
	}
	if err := m.hooks.Invoke(ctx, desc, hooks.Deactivate); err != nil {
		return nil, err
	}

	saved, err := m.enabled.Save(ctx, without(enabled, id))
	if err != nil {
		return nil, err
	}
	if err := m.hooks.Invoke(ctx, desc, hooks.Deactivated); err != nil {
		return nil, err
	}
	if err := m.commit(ctx, saved); err != nil {
		return nil, err
	}
	m.eventBus.PublishLifecycle(models.EventDeactivated, id)

	return models.Success(fmt.Sprintf("Plugin %s deactivated", desc.DisplayName())), nil
}

// Remove deactivates a plugin and deletes it. Teardown hooks cannot stop a removal.
func (m *Manager) Remove(ctx context.Context, id string) (*models.Result, error) {
	return m.run(ctx, "remove", id, func(ctx context.Context) (*models.Result, error) {
		desc, res, err := m.descriptors.Check(id)
		if err != nil || res != nil {
			return res, err
		}
		if err := m.invalidate(ctx); err != nil {
			return nil, err
		}

		res, err = m.deactivate(ctx, desc)
		if err != nil {
			return nil, err
		}
		if res.Error {
			return res, nil
		}

		if err := m.loader.EnsureLoaded(desc); err != nil {
			m.log.WithContext(ctx).Warn("Plugin code unavailable, removing without teardown hooks", logger.Fields{
				"error": err.Error(),
			})
		}
		_ = m.hooks.Invoke(ctx, desc, hooks.Remove)

		if err := m.migrations.PurgeForPlugin(ctx, m.descriptors.MigrationDir(id)); err != nil {
			return nil, fmt.Errorf("purge migrations of plugin %s: %w", id, err)
		}
		if err := m.publisher.Unpublish(id); err != nil {
			m.log.WithContext(ctx).Warn("Failed to remove published files", logger.Fields{"error": err.Error()})
		}
		if err := os.RemoveAll(m.descriptors.Dir(id)); err != nil {
			return nil, fmt.Errorf("delete plugin %s: %w", id, err)
		}

		_ = m.hooks.Invoke(ctx, desc, hooks.Removed)
		m.loader.Unload(desc)

		if err := m.invalidate(ctx); err != nil {
			return nil, err
		}
		enabled, err := m.enabled.Load(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := m.manifest.Generate(enabled); err != nil {
			return nil, err
		}
		m.eventBus.PublishLifecycle(models.EventRemoved, id)

		return models.Success(fmt.Sprintf("Plugin %s removed", desc.DisplayName())), nil
	})
}

// Update runs procedure between the updating and updated hooks and returns its result as is.
func (m *Manager) Update(ctx context.Context, id string, procedure UpdateProcedure) (*models.Result, error) {
	return m.run(ctx, "update", id, func(ctx context.Context) (*models.Result, error) {
		desc, res, err := m.descriptors.Check(id)
		if err != nil || res != nil {
			return res, err
		}
		if err := m.invalidate(ctx); err != nil {
			return nil, err
		}

		m.eventBus.PublishLifecycle(models.EventUpdating, id)
		_ = m.hooks.Invoke(ctx, desc, hooks.Updating)

		result, procErr := procedure(ctx)
		if procErr != nil {
			if err := m.invalidate(ctx); err != nil {
				m.log.WithContext(ctx).Warn("Cache invalidation failed after update error", logger.Fields{"error": err.Error()})
			}
			return nil, fmt.Errorf("update plugin %s: %w", id, procErr)
		}

		_ = m.hooks.Invoke(ctx, desc, hooks.Updated)

		if err := m.invalidate(ctx); err != nil {
			return nil, err
		}
		enabled, err := m.enabled.Load(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := m.manifest.Generate(enabled); err != nil {
			return nil, err
		}
		m.eventBus.PublishLifecycle(models.EventUpdated, id)

		if result == nil {
			result = models.Success(fmt.Sprintf("Plugin %s updated", desc.DisplayName()))
		}
		return result, nil
	})
}

// RefreshProcedure installs the package at src over the plugin, then applies its new
// migrations and republishes its files.
func (m *Manager) RefreshProcedure(inst PackageInstaller, src, id string) UpdateProcedure {
	return func(ctx context.Context) (*models.Result, error) {
		desc, err := inst.Install(ctx, id, src)
		if errors.Is(err, installer.ErrInvalidPackage) {
			return models.Failure(models.CodeValidation, err.Error()), nil
		}
		if err != nil {
			return nil, err
		}
		if _, err := m.migrations.Run(ctx, m.descriptors.MigrationDir(id)); err != nil {
			return nil, fmt.Errorf("run migrations of plugin %s: %w", id, err)
		}
		if res := m.publisher.PublishAssets(id); res.Error {
			return res, nil
		}
		m.publishTranslations(ctx, id)

		res := models.Success(fmt.Sprintf("Plugin %s updated to version %s", desc.DisplayName(), desc.Version))
		res.Data = map[string]string{"version": desc.Version}
		return res, nil
	}
}

// ClearCache drops every cached copy of the enabled set. It does not take the operation lock,
// so it may be called from hooks and from unrelated subsystems.
func (m *Manager) ClearCache(ctx context.Context) error {
	return m.invalidate(ctx)
}

// Boot loads the code of every plugin listed in the generated manifest.
func (m *Manager) Boot(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mf, err := manifest.Load(m.manifest.Path())
	if err != nil {
		return err
	}
	var errs []error
	for _, entry := range mf.Plugins {
		desc, err := m.descriptors.Describe(entry.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if desc == nil {
			m.log.Warn("Plugin listed in manifest is no longer installed", logger.Fields{"plugin": entry.ID})
			continue
		}
		if err := m.loader.EnsureLoaded(desc); err != nil {
			errs = append(errs, err)
		}
	}
	m.log.Info("Plugins booted", logger.Fields{
		"count":  len(mf.Plugins),
		"failed": len(errs),
	})
	return errors.Join(errs...)
}

// List describes every installed plugin.
func (m *Manager) List(ctx context.Context) ([]Status, error) {
	installed, err := m.descriptors.Installed()
	if err != nil {
		return nil, err
	}
	enabled, err := m.enabled.Load(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]Status, 0, len(installed))
	for _, id := range installed {
		st := Status{ID: id, Enabled: contains(enabled, id)}
		desc, err := m.descriptors.Describe(id)
		if err == nil && desc != nil {
			st.Name = desc.DisplayName()
			st.Version = desc.Version
			st.Description = desc.Description
			st.Loaded = m.loader.IsLoaded(desc)
			st.Valid = m.descriptors.Validate(desc, false).Valid
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Updates compares installed publisher ids against the versions a catalog offers and returns the
// ids with a newer version available.
func (m *Manager) Updates(available map[string]string) (map[string]string, error) {
	installed, err := m.descriptors.InstalledIDs()
	if err != nil {
		return nil, err
	}
	updates := make(map[string]string)
	for id, current := range installed {
		if candidate, ok := available[id]; ok && version.Newer(current, candidate) {
			updates[id] = candidate
		}
	}
	return updates, nil
}

func (m *Manager) checkHostVersion(desc *models.PluginDescriptor) *models.Result {
	if desc.MinimumHostVersion == "" || m.hostVersion == "" {
		return nil
	}
	ok, err := version.Satisfies(m.hostVersion, desc.MinimumHostVersion)
	if err != nil {
		return models.Failure(models.CodeVersion, fmt.Sprintf("Plugin %s declares an unreadable minimum version: %v", desc.DisplayName(), err))
	}
	if !ok {
		return models.Failure(models.CodeVersion, fmt.Sprintf(
			"Plugin %s requires version %s or newer, current version is %s",
			desc.DisplayName(), desc.MinimumHostVersion, m.hostVersion))
	}
	return nil
}

func (m *Manager) publishTranslations(ctx context.Context, id string) {
	if err := m.publisher.PublishTranslations(id); err != nil {
		m.log.WithContext(ctx).Warn("Failed to publish translations", logger.Fields{"error": err.Error()})
	}
}

func (m *Manager) invalidate(ctx context.Context) error {
	if err := m.enabled.Invalidate(ctx); err != nil {
		return fmt.Errorf("invalidate enabled plugins cache: %w", err)
	}
	for _, c := range m.caches {
		if err := c.Invalidate(ctx); err != nil {
			return fmt.Errorf("invalidate cache: %w", err)
		}
	}
	return nil
}

// commit drops caches and regenerates the manifest after the enabled set changed.
func (m *Manager) commit(ctx context.Context, enabled []string) error {
	if err := m.invalidate(ctx); err != nil {
		return err
	}
	_, err := m.manifest.Generate(enabled)
	return err
}

func contains(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
