package plugin

import (
	"context"

	"github.com/bearslyricattack/plugman/pkg/models"
)

// UpdateProcedure replaces a plugin's files. It belongs to the caller (marketplace client, CLI)
// and its result is handed back to the caller unchanged.
type UpdateProcedure func(ctx context.Context) (*models.Result, error)

// PackageInstaller places a plugin package tree into the plugins directory.
type PackageInstaller interface {
	Install(ctx context.Context, id, src string) (*models.PluginDescriptor, error)
}

// Status is one row of the plugin listing.
type Status struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Loaded      bool   `json:"loaded"`
	Valid       bool   `json:"valid"`
}
