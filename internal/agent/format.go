package agent

import (
	"fmt"
	"sort"
	"strings"

	"deskpilot/internal/domain"
)

const maxReplyOutput = 3000

// FormatExecution renders an execution as a chat reply.
func FormatExecution(exec *domain.Execution) string {
	if exec.Parsed != nil && exec.Parsed.Unknown() {
		var sb strings.Builder
		fmt.Fprintf(&sb, "I didn't understand %q.", strings.TrimSpace(exec.Command))
		if len(exec.Suggestions) > 0 {
			sb.WriteString("\n\nDid you mean:\n")
			for _, s := range exec.Suggestions {
				fmt.Fprintf(&sb, "• %s\n", s)
			}
		} else {
			sb.WriteString(" Type /help for examples.")
		}
		return strings.TrimRight(sb.String(), "\n")
	}

	if !exec.Success {
		if exec.Result != nil && exec.Result.Message != "" {
			return fmt.Sprintf("%s: %s", exec.Result.Message, exec.Error)
		}
		return "Error: " + exec.Error
	}

	res := exec.Result
	var sb strings.Builder
	sb.WriteString(res.Message)
	if out, ok := res.Data["output"].(string); ok && out != "" && out != res.Message {
		if len(out) > maxReplyOutput {
			out = out[:maxReplyOutput] + "\n... (truncated)"
		}
		sb.WriteString("\n\n")
		sb.WriteString(out)
	}
	return sb.String()
}

func formatParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, ", ")
}
