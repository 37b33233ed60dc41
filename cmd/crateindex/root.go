package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/git-pkgs/crateindex"
	"github.com/git-pkgs/crateindex/internal/config"
)

// app holds the state shared by every command of one invocation.
type app struct {
	out    io.Writer
	errOut io.Writer

	cfgFile string
	verbose bool
	backend string
	asJSON  bool

	cfg     *config.Config
	cfgPath string
	logger  *log.Logger
	rc      *crateindex.ResolverContext
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "crateindex",
		Short: "Resolve Rust crate versions from a crates index",
		Long: `crateindex reads crate metadata from Cargo's local git index, a plain
directory mirror or the remote sparse index, resolves version requirements
and answers completion requests for Cargo.toml files.

Examples:
  crateindex versions serde          List every version of serde
  crateindex resolve serde "^1.0"    Show the best match for a requirement
  crateindex deps Cargo.toml         Check every dependency of a manifest
  crateindex serve                   Serve completions over HTTP`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/crateindex/crateindex.toml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&a.backend, "backend", "", "index backend: git, dir or sparse")
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "print results as JSON")

	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.AddCommand(
		newCratesCommand(a),
		newVersionsCommand(a),
		newResolveCommand(a),
		newFeaturesCommand(a),
		newCompleteCommand(a),
		newDepsCommand(a),
		newDownloadCommand(a),
		newServeCommand(a),
		newConfigCommand(a),
	)
	return root
}

// setup loads the configuration and builds the logger. The resolver is
// created lazily since some commands never touch the index.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, path, err := config.Load(cmd.Context(), config.LoadOptions{ConfigFilePath: a.cfgFile})
	if err != nil {
		return err
	}
	if a.backend != "" {
		cfg.Backend = a.backend
		cfg.UseLocalIndex = a.backend != config.BackendSparse
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	a.cfg = cfg
	a.cfgPath = path
	a.logger = cfg.Log.NewLogger(a.errOut)
	if a.verbose {
		a.logger.SetLevel(log.DebugLevel)
	}
	a.logger.Debug("configuration loaded", "path", path, "store", cfg.StoreKind())
	return nil
}

func (a *app) resolver(ctx context.Context) (*crateindex.ResolverContext, error) {
	if a.rc != nil {
		return a.rc, nil
	}
	rc, err := crateindex.NewResolverContext(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.rc = rc
	return rc, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
