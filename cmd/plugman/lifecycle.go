package main

import (
	"context"

	"github.com/bearslyricattack/plugman/internal/app"
	"github.com/bearslyricattack/plugman/pkg/models"
	"github.com/spf13/cobra"
)

type lifecycleFunc func(ctx context.Context, a *app.App, id string) (*models.Result, error)

func newLifecycleCommand(opts *rootOptions, use, short string, fn lifecycleFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <plugin>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				res, err := fn(ctx, a, args[0])
				if err != nil {
					return err
				}
				return report(cmd, res)
			})
		},
	}
}

func newActivateCommand(opts *rootOptions) *cobra.Command {
	return newLifecycleCommand(opts, "activate", "Activate an installed plugin",
		func(ctx context.Context, a *app.App, id string) (*models.Result, error) {
			return a.Manager.Activate(ctx, id)
		})
}

func newDeactivateCommand(opts *rootOptions) *cobra.Command {
	return newLifecycleCommand(opts, "deactivate", "Deactivate a plugin",
		func(ctx context.Context, a *app.App, id string) (*models.Result, error) {
			return a.Manager.Deactivate(ctx, id)
		})
}

func newRemoveCommand(opts *rootOptions) *cobra.Command {
	return newLifecycleCommand(opts, "remove", "Deactivate a plugin and delete its files",
		func(ctx context.Context, a *app.App, id string) (*models.Result, error) {
			return a.Manager.Remove(ctx, id)
		})
}

func newUpdateCommand(opts *rootOptions) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "update <plugin>",
		Short: "Replace a plugin with a new package and apply its migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				id := args[0]
				res, err := a.Manager.Update(ctx, id, a.Manager.RefreshProcedure(a.Installer, from, id))
				if err != nil {
					return err
				}
				return report(cmd, res)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "directory holding the unpacked plugin package")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}
