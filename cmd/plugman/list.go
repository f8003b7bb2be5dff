package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bearslyricattack/plugman/internal/app"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newListCommand(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				statuses, err := a.Manager.List(ctx)
				if err != nil {
					return err
				}
				if output == "json" {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(statuses)
				}

				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.AppendHeader(table.Row{"Plugin", "Name", "Version", "Enabled", "Loaded", "Valid"})
				for _, st := range statuses {
					t.AppendRow(table.Row{st.ID, st.Name, st.Version, yesNo(st.Enabled), yesNo(st.Loaded), yesNo(st.Valid)})
				}
				style := table.StyleLight
				style.Options.DrawBorder = false
				t.SetStyle(style)
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table or json")
	return cmd
}

func newCacheCommand(opts *rootOptions) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the enabled plugins cache",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached copy of the enabled plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				if err := a.Manager.ClearCache(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Plugin cache cleared")
				return nil
			})
		},
	})
	return cacheCmd
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending host migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				applied, err := a.MigrateHost(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s)\n", len(applied))
				for _, name := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "  "+name)
				}
				return nil
			})
		},
	}
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Boot linked plugins and keep the plugin cache in sync until signalled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return app.Run(cfg)
		},
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
