package tool

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"deskpilot/internal/domain"
)

const (
	defaultShellTimeout   = 30
	defaultMaxOutputBytes = 65536
)

// RunCommandTool runs a shell command line under a hard timeout.
type RunCommandTool struct {
	workingDir     string
	timeoutSeconds int
	maxOutputBytes int
	policy         domain.CommandPolicy
}

type ShellConfig struct {
	WorkingDir     string
	TimeoutSeconds int
	MaxOutputBytes int
	Policy         domain.CommandPolicy // optional
}

func NewRunCommandTool(cfg ShellConfig) *RunCommandTool {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultShellTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &RunCommandTool{
		workingDir:     cfg.WorkingDir,
		timeoutSeconds: cfg.TimeoutSeconds,
		maxOutputBytes: cfg.MaxOutputBytes,
		policy:         cfg.Policy,
	}
}

func (s *RunCommandTool) Describe() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:        "run_command",
		Description: "Run a shell command and return its combined output",
		Category:    domain.CategorySystemControl,
		Keywords:    []string{"run", "shell", "terminal", "command", "execute"},
		Parameters: []domain.ParameterSchema{
			{Name: "command", Kind: domain.KindString, Description: "Command line to execute (e.g. 'ls -la')", Required: true},
			{Name: "timeout", Kind: domain.KindInteger, Description: "Timeout in seconds", Min: floatPtr(1), Max: floatPtr(600)},
		},
		Examples: []string{"run ls -la", "run command git status"},
	}
}

func (s *RunCommandTool) Invoke(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
	command := strings.TrimSpace(ArgsString(args, "command"))
	if command == "" {
		return nil, fmt.Errorf("missing argument: command")
	}

	if s.policy != nil {
		action, err := s.policy.Check(ctx, "run_command", command)
		if err != nil {
			return nil, fmt.Errorf("policy check: %w", err)
		}
		switch action {
		case domain.ActionBlock:
			return domain.Failed("Command blocked by policy", "blocked: "+command), nil
		case domain.ActionConfirm:
			ok, err := s.policy.RequestConfirmation(ctx, "run_command", command)
			if err != nil || !ok {
				return domain.Failed("Command not confirmed", "denied: "+command), nil
			}
		}
	}

	dir := s.workingDir
	if dir == "" {
		dir = "."
	}
	absDir, err := filepath.Abs(ExpandHome(dir))
	if err != nil {
		absDir = dir
	}

	timeout := time.Duration(s.timeoutSeconds) * time.Second
	if n := ArgsInt(args, "timeout"); n > 0 {
		timeout = time.Duration(n) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(runCtx, command)
	cmd.Dir = absDir
	cmd.WaitDelay = time.Second

	output, err := cmd.CombinedOutput()
	result := string(output)
	if s.maxOutputBytes > 0 && len(result) > s.maxOutputBytes {
		result = result[:s.maxOutputBytes] + "\n... (output truncated)"
	}
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("command timed out after %s", timeout)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("command cancelled")
		}
		res := domain.Failed("Command exited with error", err.Error())
		res.Data = map[string]any{"output": result, "command": command}
		return res, nil
	}

	return domain.OK("Command completed", map[string]any{
		"output":  result,
		"command": command,
	}), nil
}

// shellCommand wraps command in the platform shell so pipes and quoting work.
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

func floatPtr(f float64) *float64 { return &f }
