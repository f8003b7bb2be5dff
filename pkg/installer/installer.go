// Package installer places a downloaded plugin package into the plugins directory.
// Fetching the package is the marketplace client's job; the installer only sees a local tree.
package installer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bearslyricattack/plugman/pkg/constants"
	"github.com/bearslyricattack/plugman/pkg/descriptor"
	"github.com/bearslyricattack/plugman/pkg/logger"
	"github.com/bearslyricattack/plugman/pkg/models"
	"github.com/bearslyricattack/plugman/pkg/publisher"
)

var ErrInvalidPackage = errors.New("invalid plugin package")

type Installer struct {
	store *descriptor.Store
}

func New(store *descriptor.Store) *Installer {
	return &Installer{store: store}
}

// Install copies the package tree at src over plugins/<id>. The package manifest must pass
// strict validation, so it has to carry a publisher id, and it must not swap the publisher id
// of a plugin that is already installed.
func (i *Installer) Install(ctx context.Context, id, src string) (*models.PluginDescriptor, error) {
	data, err := os.ReadFile(filepath.Join(src, constants.ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	var desc models.PluginDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidPackage, constants.ManifestFile, err)
	}
	desc.Dir = id
	if err := i.store.ValidateStrict(&desc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPackage, err)
	}
	if i.store.Denied(id, desc.ID) {
		return nil, fmt.Errorf("%w: plugin %s is not allowed", ErrInvalidPackage, id)
	}
	existing, err := i.store.Describe(id)
	if err == nil && existing != nil && existing.ID != "" && existing.ID != desc.ID {
		return nil, fmt.Errorf("%w: package %s does not match installed plugin %s (%s)",
			ErrInvalidPackage, desc.ID, id, existing.ID)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target := i.store.Dir(id)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", target, err)
	}
	if err := publisher.CopyTree(src, target); err != nil {
		return nil, fmt.Errorf("copy package into %s: %w", target, err)
	}

	logger.WithContext(ctx).Info("Plugin package installed", logger.Fields{
		"plugin":  id,
		"id":      desc.ID,
		"version": desc.Version,
	})
	return &desc, nil
}
