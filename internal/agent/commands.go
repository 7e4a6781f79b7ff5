package agent

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// ChatCommand represents a parsed slash command.
type ChatCommand struct {
	Name string   // command name without "/"
	Args []string // arguments after the command
	Raw  string   // original full text
}

// CommandResult holds the response for a handled command.
type CommandResult struct {
	Response string
	Handled  bool // false: resolve the text as a normal command
}

const defaultHistoryShown = 10

// Version is reported by /version and /status.
var Version = "0.1.0"

// ParseCommand returns nil unless text starts with "/".
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil
	}

	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return &ChatCommand{
		Name: name,
		Args: args,
		Raw:  text,
	}
}

// HandleCommand answers a slash command. Unknown commands come back with
// Handled=false.
func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *ChatCommand) CommandResult {
	switch cmd.Name {
	case "help":
		return CommandResult{Response: o.helpText(), Handled: true}

	case "tools":
		return CommandResult{Response: o.toolsText(strings.Join(cmd.Args, " ")), Handled: true}

	case "history":
		limit := defaultHistoryShown
		if len(cmd.Args) > 0 {
			n, err := strconv.Atoi(cmd.Args[0])
			if err != nil || n <= 0 {
				return CommandResult{Response: "Usage: /history [n]", Handled: true}
			}
			limit = n
		}
		return CommandResult{Response: o.historyText(ctx, limit), Handled: true}

	case "reload":
		if len(cmd.Args) != 1 {
			return CommandResult{Response: "Usage: /reload <unit>\n\n" + o.unitsText(), Handled: true}
		}
		res := o.Reload(cmd.Args[0])
		if !res.Success {
			return CommandResult{Response: fmt.Sprintf("Reload of %s failed: %s", cmd.Args[0], res.Error), Handled: true}
		}
		msg := fmt.Sprintf("Reloaded %s: %d capabilities.", cmd.Args[0], res.ReloadedCount)
		if res.Error != "" {
			msg += "\nWarnings: " + res.Error
		}
		return CommandResult{Response: msg, Handled: true}

	case "status":
		return CommandResult{Response: o.Status(ctx).String(), Handled: true}

	case "version":
		return CommandResult{Response: fmt.Sprintf("DeskPilot v%s (%s/%s, Go %s)", Version, runtime.GOOS, runtime.GOARCH, runtime.Version()), Handled: true}

	default:
		return CommandResult{Handled: false}
	}
}

func (o *Orchestrator) helpText() string {
	var sb strings.Builder
	sb.WriteString(`**DeskPilot Commands**

/help — Show this help message
/tools [query] — List capabilities, optionally filtered
/history [n] — Show recent commands
/reload <unit> — Reload a plugin unit
/status — Show registry and queue status
/version — Show version info

**Try**
`)
	examples := o.resolver.Patterns()
	shown := 0
	for _, p := range examples {
		if len(p.Examples) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "• %s\n", p.Examples[0])
		shown++
		if shown == 6 {
			break
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (o *Orchestrator) toolsText(query string) string {
	caps := o.registry.List()
	title := "**Available Tools**"
	if query != "" {
		caps = o.registry.Search(query)
		title = fmt.Sprintf("**Tools matching %q**", query)
	}
	if len(caps) == 0 {
		return "No tools found."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%d)\n\n", title, len(caps))
	for _, c := range caps {
		desc := c.Describe()
		mark := ""
		if _, invalid := o.registry.Invalid(desc.Name); invalid {
			mark = " (unavailable)"
		}
		fmt.Fprintf(&sb, "• **%s**%s — %s\n", desc.Name, mark, desc.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (o *Orchestrator) historyText(ctx context.Context, limit int) string {
	var sb strings.Builder
	if o.store != nil {
		recs, err := o.store.RecentExecutions(ctx, limit)
		if err != nil {
			o.logger.Warn("failed to read history", "err", err)
		} else if len(recs) > 0 {
			sb.WriteString("**Recent Commands**\n\n")
			for i := len(recs) - 1; i >= 0; i-- {
				r := recs[i]
				status := "✓"
				if !r.Success {
					status = "✗"
				}
				fmt.Fprintf(&sb, "%s %s  %s", status, r.CreatedAt.Local().Format(time.TimeOnly), r.Command)
				if r.ToolName != "" {
					fmt.Fprintf(&sb, " → %s", r.ToolName)
				}
				sb.WriteString("\n")
			}
			return strings.TrimRight(sb.String(), "\n")
		}
	}

	history := o.resolver.History(limit)
	if len(history) == 0 {
		return "No commands yet."
	}
	sb.WriteString("**Recent Commands**\n\n")
	for _, p := range history {
		fmt.Fprintf(&sb, "✓ %s", p.ToolName)
		if len(p.Parameters) > 0 {
			fmt.Fprintf(&sb, " (%s)", formatParams(p.Parameters))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (o *Orchestrator) unitsText() string {
	if o.loader == nil {
		return "No plugin loader configured."
	}
	var sb strings.Builder
	sb.WriteString("Loaded units:\n")
	for _, u := range o.loader.Units() {
		fmt.Fprintf(&sb, "• %s (%d)\n", u.ID, len(u.Capabilities))
	}
	return strings.TrimRight(sb.String(), "\n")
}
