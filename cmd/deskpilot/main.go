package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"deskpilot/internal/agent"
	"deskpilot/internal/config"

	"github.com/spf13/cobra"
)

var (
	logger     = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	configPath string // overridable via --config
	logLevel   string // overrides general.logLevel
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "deskpilot",
		Short:         "DeskPilot: natural-language desktop automation",
		Long:          "DeskPilot turns plain-language commands into calls to desktop, file and web capabilities provided by compiled-in units and plugins.",
		Version:       agent.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.deskpilot/config.json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override general.logLevel (debug, info, warn, error)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(execCmd())
	root.AddCommand(toolsCmd())
	root.AddCommand(pluginsCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(browserCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(pairingCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())
	return root
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the default config and DeskPilot directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			cfg.ExpandPaths()
			dirs := []string{
				cfg.General.Workspace,
				cfg.Plugins.ToolsDir,
				cfg.Resolver.PatternsDir,
				cfg.Tools.Screenshot.Dir,
			}
			dirs = append(dirs, cfg.Plugins.PluginDirs...)
			for _, dir := range dirs {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\nWorkspace: %s\nTools: %s\n", cfgPath, cfg.General.Workspace, cfg.Plugins.ToolsDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// resolveConfigPath returns the config path from --config or the default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist, and installs the configured logger. The returned closer
// releases the log file.
func loadConfig() (*config.Config, io.Closer, error) {
	cfgPath := resolveConfigPath()
	var cfg *config.Config
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg = config.Defaults()
		cfg.ExpandPaths()
	} else {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	if logLevel != "" {
		cfg.General.LogLevel = logLevel
	}

	l, closer, err := newLogger(cfg.General, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	logger = l
	slog.SetDefault(l)
	logger.Debug("config loaded", "path", cfgPath)
	return cfg, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger builds the process logger from the general config section.
func newLogger(gc config.GeneralConfig, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(gc.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("unknown log level %q", gc.LogLevel)
	}

	var out io.Writer = stderr
	var closer io.Closer = nopCloser{}
	if gc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(gc.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("cannot create log directory: %w", err)
		}
		f, err := os.OpenFile(gc.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot open log file: %w", err)
		}
		out, closer = f, f
	}

	opts := &slog.HandlerOptions{Level: level}
	if gc.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(out, opts)), closer, nil
	}
	return slog.New(slog.NewTextHandler(out, opts)), closer, nil
}
