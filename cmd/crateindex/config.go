package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/crateindex/internal/config"
)

// newConfigCommand creates the `crateindex config` command tree.
func newConfigCommand(a *app) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect crateindex configuration",
		Long: `Inspect crateindex configuration.

Settings are read from defaults, then crateindex.toml in the user config
directory (or the file given with --config), then CRATEINDEX_* environment
variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfgPath != "" {
				fmt.Fprintf(a.out, "# config file: %s\n", a.cfgPath)
			} else {
				fmt.Fprintln(a.out, "# config file: (using defaults)")
			}
			fmt.Fprintf(a.out, "# store: %s\n", a.cfg.StoreKind())
			data, err := a.cfg.TOML()
			if err != nil {
				return err
			}
			_, err = a.out.Write(data)
			return err
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfgPath != "" {
				fmt.Fprintln(a.out, a.cfgPath)
				return nil
			}
			dir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s/%s.%s (not present)\n", dir, config.ConfigFileName, config.ConfigFileExt)
			return nil
		},
	})

	return cfgCmd
}
