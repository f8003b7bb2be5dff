package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bearslyricattack/plugman/internal/app"
	"github.com/bearslyricattack/plugman/pkg/config"
	"github.com/bearslyricattack/plugman/pkg/logger"
	"github.com/bearslyricattack/plugman/pkg/models"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "plugman",
		Short: "Plugin lifecycle manager",
		Long: `plugman activates, deactivates, updates and removes the plugins installed in the
plugins directory, keeping the enabled set, migrations and published files consistent.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to configuration file")

	rootCmd.AddCommand(
		newActivateCommand(opts),
		newDeactivateCommand(opts),
		newRemoveCommand(opts),
		newUpdateCommand(opts),
		newListCommand(opts),
		newCacheCommand(opts),
		newMigrateCommand(opts),
		newServeCommand(opts),
	)
	return rootCmd
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.LoadConfig(o.configPath)
}

// withApp builds a one-shot app for a CLI command and closes it afterwards.
func (o *rootOptions) withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Build(cfg, app.Options{OneShot: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Failed to close database", logger.Fields{"error": err.Error()})
		}
	}()
	return fn(context.Background(), a)
}

// report prints a lifecycle result and turns error results into a non-zero exit.
func report(cmd *cobra.Command, res *models.Result) error {
	if res.Error {
		return errors.New(res.Message)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	return nil
}
