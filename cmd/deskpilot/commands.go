package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"deskpilot/internal/agent"
	"deskpilot/internal/domain"
	"deskpilot/internal/memory"
	"deskpilot/internal/resolver"
	"deskpilot/internal/security"

	"github.com/spf13/cobra"
)

func resolveCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "resolve <command...>",
		Short: "Show how a command would be resolved, without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer done()

			parsed := a.resolver.ResolveContext(cmd.Context(), strings.Join(args, " "))
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), parsed)
			}
			printResolution(cmd.OutOrStdout(), parsed, a.resolver.Thresholds())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the parsed command as JSON")
	return cmd
}

func printResolution(w io.Writer, p domain.ParsedCommand, th resolver.Thresholds) {
	if p.Unknown() {
		fmt.Fprintln(w, "Not understood.")
		if len(p.Alternatives) > 0 {
			fmt.Fprintf(w, "Did you mean: %s\n", strings.Join(p.Alternatives, ", "))
		}
		return
	}
	fmt.Fprintf(w, "Intent:     %s/%s\n", p.Intent, p.Action)
	fmt.Fprintf(w, "Tool:       %s\n", p.ToolName)
	fmt.Fprintf(w, "Confidence: %.2f (%s)\n", p.Confidence, decision(p.Confidence, th))
	if len(p.Parameters) > 0 {
		data, _ := json.Marshal(p.Parameters)
		fmt.Fprintf(w, "Parameters: %s\n", data)
	}
}

func decision(confidence float64, th resolver.Thresholds) string {
	switch {
	case confidence >= th.AutoDispatch:
		return "runs immediately"
	case confidence >= th.Actionable:
		return "asks for confirmation"
	default:
		return "not actionable"
	}
}

func execCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "exec <command...>",
		Short: "Resolve and run one command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer done()

			confirm := promptConfirm(cmd.InOrStdin(), cmd.ErrOrStderr())
			if yes {
				confirm = func(context.Context, string) (bool, error) { return true, nil }
			}
			a.orch.SetConfirmer("cli", confirm)

			exec := a.orch.Execute(cmd.Context(), domain.CommandRequest{
				Source:   "cli",
				ChatID:   "direct",
				SenderID: "user",
				Text:     strings.Join(args, " "),
			})
			fmt.Fprintln(cmd.OutOrStdout(), agent.FormatExecution(exec))
			if !exec.Success {
				cmd.SilenceErrors = true
				return fmt.Errorf("execution %s failed", exec.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "answer yes to every confirmation")
	return cmd
}

// promptConfirm asks on out and reads a single line from in.
func promptConfirm(in io.Reader, out io.Writer) security.ConfirmFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, question string) (bool, error) {
		fmt.Fprintf(out, "%s [y/N] ", question)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

func historyCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history [n]",
		Short: "Show recently executed commands",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit := 20
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid count %q", args[0])
				}
				limit = n
			}

			cfg, logClose, err := loadConfig()
			if err != nil {
				return err
			}
			defer logClose.Close()
			if !cfg.Memory.Enabled {
				return fmt.Errorf("the execution log is disabled (memory.enabled = false)")
			}

			store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.RecentExecutions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), recs)
			}
			printHistory(cmd.OutOrStdout(), recs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}

func printHistory(w io.Writer, recs []domain.ExecutionRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No commands yet.")
		return
	}
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		status := "ok  "
		if !r.Success {
			status = "FAIL"
		}
		tool := r.ToolName
		if tool == "" {
			tool = "-"
		}
		fmt.Fprintf(w, "%s  %s  %-8s %-22s %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"), status, r.Source, tool, r.Command)
		if !r.Success && r.Error != "" {
			fmt.Fprintf(w, "%42s%s\n", "", r.Error)
		}
	}
}

func statusCmd() *cobra.Command {
	var showMetrics bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show loaded capabilities, plugin errors and the execution log size",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer done()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, a.orch.Status(cmd.Context()).String())
			fmt.Fprintf(out, "Config: %s\n", resolveConfigPath())
			if errs := a.discovery.Errors; len(errs) > 0 {
				fmt.Fprintf(out, "\nLoad errors (%d):\n", len(errs))
				for _, e := range errs {
					fmt.Fprintf(out, "  - %v\n", e)
				}
			}
			if showMetrics {
				fmt.Fprintln(out)
				return a.metrics.WriteText(out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "also print the metrics in Prometheus text format")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
