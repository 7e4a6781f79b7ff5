package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"deskpilot/internal/agent"
	"deskpilot/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

// checkTally counts doctor outcomes.
type checkTally struct {
	w                      io.Writer
	passed, warned, failed int
}

func (t *checkTally) pass(check, detail string) { printPass(t.w, check, detail); t.passed++ }
func (t *checkTally) warn(check, detail string) { printWarn(t.w, check, detail); t.warned++ }
func (t *checkTally) fail(check, detail string) { printFail(t.w, check, detail); t.failed++ }

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your DeskPilot installation",
		Long: `Verifies that DeskPilot's configuration, database, capability directories,
channels and workspace are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := resolveConfigPath()
			fmt.Fprintf(out, "DeskPilot Doctor v%s\n", agent.Version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			t := &checkTally{w: out}

			if _, err := os.Stat(cfgPath); err != nil {
				t.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Fprintf(out, "\nRun 'deskpilot init' to create a default configuration.\n")
				return nil
			}
			t.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				t.fail("Config validation", err.Error())
				fmt.Fprintf(out, "\n%d passed, %d failed\n", t.passed, t.failed)
				return nil
			}
			t.pass("Config validation", "valid")

			runChecks(cmd.Context(), t, cfg)

			fmt.Fprintf(out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", t.passed, t.warned, t.failed)
			if t.failed > 0 {
				fmt.Fprintf(out, "\nPlease fix the failed checks before running DeskPilot.\n")
				return fmt.Errorf("%d check(s) failed", t.failed)
			}
			if t.warned > 0 {
				fmt.Fprintf(out, "\nDeskPilot should work but consider fixing the warnings.\n")
			} else {
				fmt.Fprintf(out, "\nAll checks passed! DeskPilot is ready to run.\n")
			}
			return nil
		},
	}
}

func runChecks(ctx context.Context, t *checkTally, cfg *config.Config) {
	checkDir(t, "Workspace", cfg.General.Workspace, true)

	if cfg.Memory.Enabled {
		if err := checkDatabase(ctx, cfg.Memory.DBPath); err != nil {
			t.fail("Database", err.Error())
		} else {
			t.pass("Database", cfg.Memory.DBPath)
		}
	} else {
		t.warn("Database", "memory disabled, executions are not recorded")
	}

	checkDir(t, "Tools dir", cfg.Plugins.ToolsDir, false)
	for _, dir := range cfg.Plugins.PluginDirs {
		checkDir(t, "Plugin dir", dir, false)
	}
	if cfg.Resolver.PatternsDir != "" {
		checkDir(t, "Patterns dir", cfg.Resolver.PatternsDir, false)
	}

	if cfg.Resolver.Annotator == "ollama" {
		if err := newOllamaAnnotator(cfg).Healthy(ctx); err != nil {
			t.warn("Ollama annotator", fmt.Sprintf("%v (resolution continues without the verb stage)", err))
		} else {
			t.pass("Ollama annotator", cfg.Resolver.Ollama.APIBase+" ("+cfg.Resolver.Ollama.Model+")")
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		if err := checkPort(cfg.Metrics.Listen); err != nil {
			t.warn("Metrics listen", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
		} else {
			t.pass("Metrics listen", cfg.Metrics.Listen+" available")
		}
	}

	if cfg.Channels.Telegram.Enabled {
		tg := cfg.Channels.Telegram
		switch {
		case tg.Pairing:
			t.pass("Telegram", fmt.Sprintf("%d allowed user(s), pairing on", len(tg.AllowFrom)))
		case len(tg.AllowFrom) == 0:
			t.warn("Telegram", "no allowFrom users and pairing off, anyone can run commands")
		default:
			t.pass("Telegram", fmt.Sprintf("%d allowed user(s)", len(tg.AllowFrom)))
		}
	}

	if cfg.Tools.Browser.Enabled {
		if path, ok := findChrome(); ok {
			t.pass("Browser", path)
		} else {
			t.warn("Browser", "no Chrome or Chromium found in PATH")
		}
	}

	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			t.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			t.pass("Log file", cfg.General.LogFile)
		}
	}
}

// checkDir passes for an existing directory. A missing directory fails when
// required, otherwise it only warns since the loader creates it on demand.
func checkDir(t *checkTally, check, dir string, required bool) {
	if dir == "" {
		t.warn(check, "not configured")
		return
	}
	info, err := os.Stat(dir)
	switch {
	case err != nil && required:
		t.fail(check, fmt.Sprintf("not found: %s", dir))
	case err != nil:
		t.warn(check, fmt.Sprintf("not found: %s (created on first run)", dir))
	case !info.IsDir():
		t.fail(check, fmt.Sprintf("not a directory: %s", dir))
	default:
		t.pass(check, dir)
	}
}

func checkDatabase(ctx context.Context, dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_time_format=sqlite")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

var chromeNames = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"}

func findChrome() (string, bool) {
	for _, name := range chromeNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}
	if _, err := os.Stat("/Applications/Google Chrome.app"); err == nil {
		return "/Applications/Google Chrome.app", true
	}
	return "", false
}

func printPass(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [PASS] %-20s %s\n", check, detail)
}

func printFail(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [WARN] %-20s %s\n", check, detail)
}
