package loader

import (
	"fmt"

	"github.com/bearslyricattack/plugman/pkg/logger"
	"github.com/bearslyricattack/plugman/pkg/models"
)

// Loader registers plugin code on demand.
type Loader struct {
	registry  CodeRegistry
	sourceDir func(id string) string
}

func New(registry CodeRegistry, sourceDir func(id string) string) *Loader {
	return &Loader{registry: registry, sourceDir: sourceDir}
}

func (l *Loader) IsLoaded(desc *models.PluginDescriptor) bool {
	return l.registry.IsRegistered(desc.EntryPoint)
}

// EnsureLoaded is safe to call any number of times from any lifecycle path.
func (l *Loader) EnsureLoaded(desc *models.PluginDescriptor) error {
	if l.registry.IsRegistered(desc.EntryPoint) {
		return nil
	}
	path := l.sourceDir(desc.Dir)
	if err := l.registry.Register(desc.Namespace, path, desc.EntryPoint); err != nil {
		return fmt.Errorf("load plugin %s: %w", desc.Dir, err)
	}
	logger.GetLogger().Debug("Plugin code registered", logger.Fields{
		"plugin":      desc.Dir,
		"namespace":   desc.Namespace,
		"entry_point": desc.EntryPoint,
		"path":        path,
	})
	return nil
}

// Target returns the registered entry point object, if any.
func (l *Loader) Target(desc *models.PluginDescriptor) (any, bool) {
	return l.registry.Resolve(desc.EntryPoint)
}

// Unload forgets the plugin's entry point; the next EnsureLoaded registers it afresh.
func (l *Loader) Unload(desc *models.PluginDescriptor) {
	l.registry.Unregister(desc.EntryPoint)
}
