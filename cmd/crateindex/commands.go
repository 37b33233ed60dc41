package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/crateindex"
	"github.com/git-pkgs/crateindex/internal/manifest"
	"github.com/git-pkgs/crateindex/internal/server"
	"github.com/git-pkgs/crateindex/internal/shard"
	"github.com/git-pkgs/crateindex/internal/versions"
)

func newCratesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "crates <prefix>",
		Short: "List crate names starting with a prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := a.resolver(cmd.Context())
			if err != nil {
				return err
			}

			prefix := args[0]
			entries, err := rc.SearchNames(cmd.Context(), prefix)
			var names []string
			for _, e := range entries {
				if shard.Matches(e, prefix) {
					names = append(names, shard.BaseName(e))
				}
			}
			slices.Sort(names)
			names = slices.Compact(names)

			if a.asJSON {
				if perr := a.printJSON(names); perr != nil {
					return perr
				}
			} else {
				for _, n := range names {
					fmt.Fprintln(a.out, n)
				}
			}
			return err
		},
	}
}

func newVersionsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <name>",
		Short: "List every version of a crate, highest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := a.resolver(cmd.Context())
			if err != nil {
				return err
			}
			target, err := crateindex.ParseTarget(args[0])
			if err != nil {
				return err
			}
			pkg, err := rc.Package(cmd.Context(), target.Name)
			if err != nil {
				return err
			}

			if a.asJSON {
				return a.printJSON(pkg)
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			for _, v := range pkg.Versions {
				status := ""
				if v.Yanked {
					status = "yanked"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", v.Number, status, v.RustVersion)
			}
			return w.Flush()
		},
	}
}

func newResolveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <name|purl> [requirement]",
		Short: "Show the best version of a crate for a requirement",
		Long: `Show the best version of a crate for a requirement.

The crate may be given as name, name@requirement or pkg:cargo/name@requirement.
Without a requirement the latest stable version is shown.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := a.resolver(cmd.Context())
			if err != nil {
				return err
			}
			target, err := crateindex.ParseTarget(args[0])
			if err != nil {
				return err
			}
			req := target.Requirement
			if len(args) > 1 {
				req = args[1]
			}
			if req == "" {
				req = "*"
			}

			match, err := rc.Resolve(cmd.Context(), target.Name, req)
			if err != nil {
				return err
			}
			if !match.Found {
				return fmt.Errorf("no version of %s matches %q", target.Name, req)
			}

			urls := crateindex.BuildURLs(rc.URLs(), target.Name, match.Version)
			if a.asJSON {
				return a.printJSON(map[string]any{
					"name":        target.Name,
					"requirement": req,
					"version":     match.Version,
					"yanked":      match.Record.Yanked,
					"urls":        urls,
				})
			}
			fmt.Fprintln(a.out, match.Version)
			if a.verbose {
				for _, k := range []string{"registry", "download", "docs", "purl"} {
					if u, ok := urls[k]; ok {
						fmt.Fprintf(a.out, "  %-8s  %s\n", k, u)
					}
				}
			}
			return nil
		},
	}
}

func newFeaturesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "features <name> [requirement]",
		Short: "List the features of the best matching version",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := a.resolver(cmd.Context())
			if err != nil {
				return err
			}
			target, err := crateindex.ParseTarget(args[0])
			if err != nil {
				return err
			}
			req := target.Requirement
			if len(args) > 1 {
				req = args[1]
			}

			features, err := rc.Features(cmd.Context(), target.Name, req)
			if err != nil {
				return err
			}
			if a.asJSON {
				if features == nil {
					features = []string{}
				}
				return a.printJSON(features)
			}
			for _, f := range features {
				fmt.Fprintln(a.out, f)
			}
			return nil
		},
	}
}

func newCompleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <Cargo.toml> <line> <column>",
		Short: "Complete the dependency declaration at a position",
		Long: `Complete the dependency declaration at a position.

Line and column are zero based, as in the Language Server Protocol.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid line %q: %w", args[1], err)
			}
			col, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid column %q: %w", args[2], err)
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			site, ok := manifest.Detect(strings.Split(string(data), "\n"), line, col)
			if !ok {
				return fmt.Errorf("no dependency declaration at %d:%d", line, col)
			}
			a.logger.Debug("declaration site", "kind", site.Kind, "crate", site.PackageName, "requirement", site.RequirementText)

			rc, err := a.resolver(cmd.Context())
			if err != nil {
				return err
			}
			list := rc.Complete(cmd.Context(), args[0], site)

			if a.asJSON {
				return a.printJSON(list)
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			for _, item := range list.Items {
				mark := " "
				if item.Preselect {
					mark = "*"
				}
				fmt.Fprintf(w, "%s %s\t%s\n", mark, item.Label, item.Detail)
			}
			return w.Flush()
		},
	}
}

func newDepsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deps <Cargo.toml>",
		Short: "Show the best match and latest version of every dependency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			deps, err := manifest.Dependencies(data)
			if err != nil {
				return err
			}

			rc, err := a.resolver(cmd.Context())
			if err != nil {
				return err
			}
			names := make([]string, len(deps))
			for i, d := range deps {
				names[i] = d.Name
			}
			pkgs := rc.BulkResolve(cmd.Context(), names)

			type row struct {
				manifest.Dependency
				Best   string `json:"best,omitempty"`
				Latest string `json:"latest,omitempty"`
			}
			rows := make([]row, len(deps))
			for i, d := range deps {
				rows[i] = row{Dependency: d}
				pkg, ok := pkgs[d.Name]
				if !ok {
					continue
				}
				if d.Requirement != "" {
					if m := versions.ResolveBest(d.Requirement, pkg.Versions); m.Found {
						rows[i].Best = m.Version
					}
				}
				if m := versions.Latest(pkg.Versions); m.Found {
					rows[i].Latest = m.Version
				}
			}

			if a.asJSON {
				return a.printJSON(rows)
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SECTION\tCRATE\tREQUIREMENT\tBEST\tLATEST")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Section, r.Name, orDash(r.Requirement), orDash(r.Best), orDash(r.Latest))
			}
			return w.Flush()
		},
	}
}

func newDownloadCommand(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "download <name|purl> [requirement]",
		Short: "Download the .crate file of the best matching version",
		Long: `Download the .crate file of the best matching version.

The file is checked against the checksum recorded in the index before it
is written.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := a.resolver(cmd.Context())
			if err != nil {
				return err
			}
			target, err := crateindex.ParseTarget(args[0])
			if err != nil {
				return err
			}
			req := target.Requirement
			if len(args) > 1 {
				req = args[1]
			}
			if req == "" {
				req = "*"
			}

			info, err := rc.Artifact(cmd.Context(), target.Name, req)
			if err != nil {
				return err
			}
			if info.Yanked {
				a.logger.Warn("downloading a yanked version", "file", info.Filename)
			}
			data, err := rc.Download(cmd.Context(), info, nil)
			if err != nil {
				return err
			}

			path := filepath.Join(dir, info.Filename)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintln(a.out, path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "output", "o", ".", "directory to write the file to")
	return cmd
}

func newServeCommand(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve lookups and completions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := a.resolver(cmd.Context())
			if err != nil {
				return err
			}
			addr := a.cfg.Listen
			if listen != "" {
				addr = listen
			}
			srv := server.New(rc,
				server.WithLogger(a.logger.WithPrefix("http")),
				server.WithTimeout(a.cfg.FetchTimeout),
			)
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default from config)")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
