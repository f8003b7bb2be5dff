// Package shop is the shop plugin linked into the plugman binary. It requires the blog plugin.
package shop

import (
	"context"

	"github.com/bearslyricattack/plugman/pkg/constants"
	"github.com/bearslyricattack/plugman/pkg/loader"
	"github.com/bearslyricattack/plugman/pkg/logger"
)

func init() {
	loader.RegisterFactory(constants.ShopEntryPoint, func() any {
		return &ShopPlugin{log: logger.GetLogger().WithField("plugin", "shop")}
	})
}

type ShopPlugin struct {
	log logger.Logger
}

func (p *ShopPlugin) Activate(ctx context.Context) error {
	p.log.WithContext(ctx).Info("Shop plugin preparing first activation")
	return nil
}

func (p *ShopPlugin) Deactivated(ctx context.Context) error {
	p.log.WithContext(ctx).Info("Shop plugin deactivated")
	return nil
}

func (p *ShopPlugin) Updating(ctx context.Context) error {
	p.log.WithContext(ctx).Info("Shop plugin update starting")
	return nil
}

func (p *ShopPlugin) Updated(ctx context.Context) error {
	p.log.WithContext(ctx).Info("Shop plugin update finished")
	return nil
}

func (p *ShopPlugin) Removed(ctx context.Context) error {
	p.log.WithContext(ctx).Info("Shop plugin removed")
	return nil
}
