package hooks

import (
	"context"
	"fmt"

	"github.com/bearslyricattack/plugman/pkg/logger"
	"github.com/bearslyricattack/plugman/pkg/models"
)

// Resolver finds the entry point object of a loaded plugin.
type Resolver interface {
	Target(desc *models.PluginDescriptor) (any, bool)
}

// Invoker runs hooks synchronously and applies the failure policy of each hook.
type Invoker struct {
	resolver Resolver
	log      logger.Logger
}

func NewInvoker(resolver Resolver, log logger.Logger) *Invoker {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Invoker{resolver: resolver, log: log}
}

// Swallowed reports whether failures of the hook are logged instead of returned.
func Swallowed(name Name) bool {
	switch name {
	case Remove, Removed, Updating, Updated:
		return true
	default:
		return false
	}
}

// Invoke calls hook on the plugin's entry point. A plugin that is not loaded, or that does not
// implement the hook, is a no-op.
func (i *Invoker) Invoke(ctx context.Context, desc *models.PluginDescriptor, name Name) error {
	obj, ok := i.resolver.Target(desc)
	if !ok {
		return nil
	}
	target := Target(obj)
	if !target.HasHook(name) {
		return nil
	}

	err := call(ctx, target, name)
	if err == nil {
		i.log.Debug("Plugin hook completed", logger.Fields{"plugin": desc.Dir, "hook": string(name)})
		return nil
	}

	if Swallowed(name) {
		i.log.Error("Plugin hook failed, continuing", logger.Fields{
			"plugin": desc.Dir,
			"hook":   string(name),
			"error":  err.Error(),
		})
		return nil
	}
	return &HookError{Plugin: desc.Dir, Hook: name, Err: err}
}

// call converts a panicking hook into an error so third-party code cannot take the host down.
func call(ctx context.Context, target HookTarget, name Name) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return target.CallHook(ctx, name)
}
