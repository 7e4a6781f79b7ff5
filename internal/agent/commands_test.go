package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"deskpilot/internal/domain"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		name  string
		args  int
		isNil bool
	}{
		{"/help", "help", 0, false},
		{"/History 5", "history", 1, false},
		{"  /tools open file ", "tools", 2, false},
		{"say hello", "", 0, true},
		{"", "", 0, true},
		{"/", "", 0, false},
	}
	for _, tt := range tests {
		cmd := ParseCommand(tt.input)
		if tt.isNil {
			if cmd != nil {
				t.Errorf("ParseCommand(%q) = %+v, want nil", tt.input, cmd)
			}
			continue
		}
		if cmd == nil {
			t.Fatalf("ParseCommand(%q) = nil", tt.input)
		}
		if cmd.Name != tt.name || len(cmd.Args) != tt.args {
			t.Errorf("ParseCommand(%q) = %q %v, want %q with %d args", tt.input, cmd.Name, cmd.Args, tt.name, tt.args)
		}
	}
}

func handle(t *testing.T, o *Orchestrator, text string) CommandResult {
	t.Helper()
	cmd := ParseCommand(text)
	if cmd == nil {
		t.Fatalf("%q is not a slash command", text)
	}
	return o.HandleCommand(context.Background(), cmd)
}

func TestHandleCommand_Unknown(t *testing.T) {
	h := newHarness(t)
	if res := handle(t, h.orch, "/frobnicate"); res.Handled {
		t.Fatal("unknown slash commands fall through to resolution")
	}
}

func TestHandleCommand_Help(t *testing.T) {
	h := newHarness(t)
	res := handle(t, h.orch, "/help")
	if !res.Handled || !strings.Contains(res.Response, "/history [n]") {
		t.Fatalf("unexpected help: %q", res.Response)
	}
}

func TestHandleCommand_Tools(t *testing.T) {
	h := newHarness(t)
	h.registry.MarkInvalid("echo_text", "missing: festival")

	res := handle(t, h.orch, "/tools")
	if !strings.Contains(res.Response, "echo_text** (unavailable)") {
		t.Fatalf("invalid capabilities should be marked: %q", res.Response)
	}
	res = handle(t, h.orch, "/tools spreadsheet")
	if res.Response != "No tools found." {
		t.Fatalf("unexpected response %q", res.Response)
	}
}

func TestHandleCommand_History(t *testing.T) {
	h := newHarness(t)

	if res := handle(t, h.orch, "/history"); res.Response != "No commands yet." {
		t.Fatalf("unexpected empty history %q", res.Response)
	}
	if res := handle(t, h.orch, "/history abc"); res.Response != "Usage: /history [n]" {
		t.Fatalf("unexpected usage %q", res.Response)
	}

	h.execute("say hello")
	h.execute("launch apollo")

	res := handle(t, h.orch, "/history 5")
	lines := strings.Split(res.Response, "\n")
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, "✗") || !strings.Contains(last, "launch apollo → rocket") {
		t.Fatalf("newest entry should be last and failed: %q", res.Response)
	}
	if !strings.Contains(res.Response, "✓") {
		t.Fatalf("expected a successful entry: %q", res.Response)
	}
}

func TestHandleCommand_HistoryFallsBackToResolver(t *testing.T) {
	h := newHarness(t)
	h.orch.store = nil
	h.execute("say hello")

	res := handle(t, h.orch, "/history")
	if !strings.Contains(res.Response, "✓ echo_text (text=hello)") {
		t.Fatalf("unexpected history %q", res.Response)
	}
}

func TestHandleCommand_ReloadUsage(t *testing.T) {
	h := newHarness(t)
	res := handle(t, h.orch, "/reload")
	if !strings.HasPrefix(res.Response, "Usage: /reload <unit>") {
		t.Fatalf("unexpected response %q", res.Response)
	}
	res = handle(t, h.orch, "/reload tools/none")
	if !strings.Contains(res.Response, "failed") {
		t.Fatalf("unexpected response %q", res.Response)
	}
}

func TestHandleCommand_StatusAndVersion(t *testing.T) {
	h := newHarness(t)
	h.queue.Enqueue(domain.CommandRequest{Source: "cli", Text: "say later"})

	res := handle(t, h.orch, "/status")
	for _, want := range []string{"Capabilities: 1", "utilities=1", "Queue: 1 pending"} {
		if !strings.Contains(res.Response, want) {
			t.Errorf("status missing %q:\n%s", want, res.Response)
		}
	}

	res = handle(t, h.orch, "/version")
	if !strings.HasPrefix(res.Response, "DeskPilot v"+Version) {
		t.Fatalf("unexpected version %q", res.Response)
	}
}

func TestFormatExecution(t *testing.T) {
	tests := []struct {
		name string
		exec domain.Execution
		want string
	}{
		{
			name: "unknown with suggestions",
			exec: domain.Execution{
				Command:     "opn file",
				Parsed:      &domain.ParsedCommand{Intent: domain.IntentUnknown},
				Suggestions: []string{"open file", "read_file"},
			},
			want: "I didn't understand \"opn file\".\n\nDid you mean:\n• open file\n• read_file",
		},
		{
			name: "unknown without suggestions",
			exec: domain.Execution{Command: "zzz", Parsed: &domain.ParsedCommand{Intent: domain.IntentUnknown}},
			want: `I didn't understand "zzz". Type /help for examples.`,
		},
		{
			name: "failed result",
			exec: domain.Execution{
				Parsed: &domain.ParsedCommand{Intent: "file"},
				Result: domain.Failed("Parameter validation failed", "text: required"),
				Error:  "text: required",
			},
			want: "Parameter validation failed: text: required",
		},
		{
			name: "refused",
			exec: domain.Execution{Parsed: &domain.ParsedCommand{Intent: "file"}, Error: "cancelled"},
			want: "Error: cancelled",
		},
		{
			name: "output differs from message",
			exec: domain.Execution{
				Success: true,
				Parsed:  &domain.ParsedCommand{Intent: "system"},
				Result:  domain.OK("Command completed", map[string]any{"output": "total 0"}),
			},
			want: "Command completed\n\ntotal 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatExecution(&tt.exec); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatExecution_TruncatesOutput(t *testing.T) {
	exec := &domain.Execution{
		Success: true,
		Parsed:  &domain.ParsedCommand{Intent: "system"},
		Result:  domain.OK("done", map[string]any{"output": strings.Repeat("x", maxReplyOutput+10)}),
	}
	got := FormatExecution(exec)
	if !strings.HasSuffix(got, "... (truncated)") {
		t.Fatalf("expected truncation marker, got suffix %q", got[len(got)-20:])
	}
}

func TestStatusString(t *testing.T) {
	s := Status{
		Capabilities: 3,
		Units:        2,
		Invalid:      1,
		Categories:   map[domain.Category]int{domain.CategoryUtilities: 2, domain.CategoryFileOperations: 1},
		Processed:    4,
		Succeeded:    3,
		Stored:       9,
		Uptime:       90 * time.Second,
	}
	got := s.String()
	for _, want := range []string{
		"Capabilities: 3 in 2 units (1 unavailable)",
		"Categories: file_operations=1, utilities=2",
		"Processed: 4 (3 succeeded)",
		"Stored executions: 9",
		"Uptime: 1m30s",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("status missing %q:\n%s", want, got)
		}
	}
}
