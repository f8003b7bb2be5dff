// Package blog is the blog plugin linked into the plugman binary.
package blog

import (
	"context"
	"sync/atomic"

	"github.com/bearslyricattack/plugman/pkg/constants"
	"github.com/bearslyricattack/plugman/pkg/loader"
	"github.com/bearslyricattack/plugman/pkg/logger"
)

func init() {
	loader.RegisterFactory(constants.BlogEntryPoint, func() any {
		return &BlogPlugin{log: logger.GetLogger().WithField("plugin", "blog")}
	})
}

type BlogPlugin struct {
	log         logger.Logger
	activations atomic.Int32
}

func (p *BlogPlugin) Activate(ctx context.Context) error {
	p.activations.Add(1)
	p.log.WithContext(ctx).Info("Blog plugin preparing first activation")
	return nil
}

func (p *BlogPlugin) Activated(ctx context.Context) error {
	p.log.WithContext(ctx).Info("Blog plugin activated")
	return nil
}

func (p *BlogPlugin) Deactivate(ctx context.Context) error {
	p.log.WithContext(ctx).Info("Blog plugin deactivating")
	return nil
}

// Remove runs before the plugin's files are deleted.
func (p *BlogPlugin) Remove(ctx context.Context) error {
	p.log.WithContext(ctx).Info("Blog plugin cleaning up before removal")
	return nil
}

// Activations counts how often the activate hook ran in this process.
func (p *BlogPlugin) Activations() int {
	return int(p.activations.Load())
}
