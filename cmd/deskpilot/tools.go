package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"deskpilot/internal/domain"
	"deskpilot/internal/plugin"
	"deskpilot/internal/tool"

	"github.com/spf13/cobra"
)

func toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List, search and inspect capabilities",
	}
	cmd.AddCommand(toolsListCmd(), toolsSearchCmd(), toolsShowCmd())
	return cmd
}

func toolsListCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer done()

			caps := a.registry.List()
			if category != "" {
				cat, ok := domain.ParseCategory(category)
				if !ok {
					return fmt.Errorf("unknown category %q", category)
				}
				caps = a.registry.ByCategory(cat)
			}
			printCapabilities(cmd.OutOrStdout(), a, caps)
			return nil
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "only list this category")
	return cmd
}

func toolsSearchCmd() *cobra.Command {
	var fuzzy bool
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search capabilities by name, description and keywords",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer done()

			query := strings.Join(args, " ")
			var caps []domain.Capability
			if fuzzy {
				caps = a.registry.FuzzyFind(query)
			} else {
				caps = a.registry.Search(query)
			}
			printCapabilities(cmd.OutOrStdout(), a, caps)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fuzzy, "fuzzy", false, "match names as subsequences")
	return cmd
}

func toolsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a capability's descriptor and parameter schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer done()

			desc, ok := a.registry.Descriptor(args[0])
			if !ok {
				return fmt.Errorf("capability %q not found", args[0])
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s, unit %s)\n", desc.Name, desc.Category, a.registry.Unit(desc.Name))
			fmt.Fprintf(out, "%s\n", desc.Description)
			if reason, bad := a.registry.Invalid(desc.Name); bad {
				fmt.Fprintf(out, "Unavailable: %s\n", reason)
			}
			if len(desc.Examples) > 0 {
				fmt.Fprintln(out, "\nExamples:")
				for _, ex := range desc.Examples {
					fmt.Fprintf(out, "  %s\n", ex)
				}
			}
			fmt.Fprintln(out, "\nParameters:")
			return writeJSON(out, tool.ParameterSchema(desc))
		},
	}
}

func printCapabilities(w io.Writer, a *app, caps []domain.Capability) {
	if len(caps) == 0 {
		fmt.Fprintln(w, "No capabilities found.")
		return
	}
	descs := make([]domain.CapabilityDescriptor, 0, len(caps))
	for _, c := range caps {
		descs = append(descs, c.Describe())
	}
	slices.SortFunc(descs, func(x, y domain.CapabilityDescriptor) int {
		if c := strings.Compare(string(x.Category), string(y.Category)); c != 0 {
			return c
		}
		return strings.Compare(x.Name, y.Name)
	})
	for _, d := range descs {
		mark := " "
		if _, bad := a.registry.Invalid(d.Name); bad {
			mark = "!"
		}
		fmt.Fprintf(w, "%s %-24s %-14s %s\n", mark, d.Name, d.Category, d.Description)
	}
	fmt.Fprintf(w, "\n%d capabilities\n", len(descs))
}

func pluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Manage capability units",
	}
	cmd.AddCommand(pluginsListCmd(), pluginsReloadCmd(), pluginsValidateCmd(), pluginsNewCmd())
	return cmd
}

func pluginsListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded units and load errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer done()

			info := a.loader.Info()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			printPluginInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printPluginInfo(w io.Writer, info plugin.Info) {
	fmt.Fprintf(w, "%d capabilities in %d units\n\n", info.TotalCapabilities, len(info.Units))
	for _, u := range info.Units {
		version := ""
		if u.Manifest != nil && u.Manifest.Version != "" {
			version = " v" + u.Manifest.Version
		}
		fmt.Fprintf(w, "%-28s %-8s%s\n", u.ID, u.Kind, version)
		for _, name := range u.Capabilities {
			fmt.Fprintf(w, "    %s\n", name)
		}
	}
	if len(info.Invalid) > 0 {
		fmt.Fprintln(w, "\nUnavailable:")
		names := make([]string, 0, len(info.Invalid))
		for name := range info.Invalid {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s: %s\n", name, info.Invalid[name])
		}
	}
	if len(info.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, e := range info.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
}

func pluginsReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload <unit>",
		Short: "Reload one unit, e.g. tools/media or plugin/weather",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer done()

			res := a.loader.Reload(args[0])
			if !res.Success {
				return fmt.Errorf("reload %s: %s", args[0], res.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reloaded %s (%d capabilities)\n", args[0], res.ReloadedCount)
			return nil
		},
	}
}

func pluginsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check every capability's requirements against this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer done()

			out := cmd.OutOrStdout()
			failed := 0
			for _, desc := range a.registry.Descriptors() {
				report := a.loader.ValidateDependencies(desc)
				if report.Valid {
					printPass(out, desc.Name, "ok")
					continue
				}
				failed++
				printFail(out, desc.Name, report.Reason())
			}
			for _, e := range a.discovery.Errors {
				failed++
				printFail(out, "load", e.Error())
			}
			if failed > 0 {
				return fmt.Errorf("%d problem(s) found", failed)
			}
			return nil
		},
	}
}

func pluginsNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new <name>",
		Short: "Create a starter plugin in the first plugin directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logClose, err := loadConfig()
			if err != nil {
				return err
			}
			defer logClose.Close()
			if len(cfg.Plugins.PluginDirs) == 0 {
				return fmt.Errorf("no plugin directory configured (plugins.pluginDirs)")
			}
			path, err := plugin.CreateTemplate(args[0], cfg.Plugins.PluginDirs[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return nil
		},
	}
}

// openApp loads the config and wires an app without a plugin watcher.
func openApp(cmd *cobra.Command) (*app, func(), error) {
	cfg, logClose, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{})
	if err != nil {
		logClose.Close()
		return nil, nil, err
	}
	return a, func() {
		a.close()
		logClose.Close()
	}, nil
}
