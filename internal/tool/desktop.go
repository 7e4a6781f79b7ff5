package tool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"deskpilot/internal/domain"
)

// commandRunner starts external programs. Tests replace it.
type commandRunner interface {
	LookPath(file string) (string, error)
	Start(ctx context.Context, name string, args ...string) error
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) LookPath(file string) (string, error) { return exec.LookPath(file) }

func (execRunner) Start(ctx context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, truncate(string(out), 200))
	}
	return nil
}

// --- OpenApplicationTool ---

// OpenApplicationTool launches a desktop application by name.
type OpenApplicationTool struct {
	runner commandRunner
	goos   string
}

func NewOpenApplicationTool() *OpenApplicationTool {
	return &OpenApplicationTool{runner: execRunner{}, goos: runtime.GOOS}
}

func (t *OpenApplicationTool) Describe() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:        "open_application",
		Description: "Open or launch a desktop application by name",
		Category:    domain.CategorySystemControl,
		Keywords:    []string{"open", "launch", "start", "application", "app"},
		Parameters: []domain.ParameterSchema{
			{Name: "app_name", Kind: domain.KindString, Description: "Application name (e.g. 'firefox', 'calculator')", Required: true},
		},
		Examples: []string{"open blender", "open chrome", "launch calculator"},
	}
}

func (t *OpenApplicationTool) Invoke(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
	app := strings.TrimSpace(ArgsString(args, "app_name"))
	if app == "" {
		return nil, fmt.Errorf("missing argument: app_name")
	}

	name, launchArgs := t.launchCommand(app)
	if err := t.runner.Start(ctx, name, launchArgs...); err != nil {
		return nil, fmt.Errorf("launch %s: %w", app, err)
	}
	return domain.OK(fmt.Sprintf("Opened %s", app), map[string]any{
		"app_name": app,
		"command":  strings.Join(append([]string{name}, launchArgs...), " "),
	}), nil
}

func (t *OpenApplicationTool) launchCommand(app string) (string, []string) {
	switch t.goos {
	case "darwin":
		return "open", []string{"-a", app}
	case "windows":
		return "cmd", []string{"/C", "start", "", app}
	}
	bin := strings.ToLower(strings.ReplaceAll(app, " ", "-"))
	if path, err := t.runner.LookPath(bin); err == nil {
		return path, nil
	}
	if alt, ok := linuxAppAliases[bin]; ok {
		if path, err := t.runner.LookPath(alt); err == nil {
			return path, nil
		}
	}
	return "gtk-launch", []string{bin}
}

var linuxAppAliases = map[string]string{
	"calculator": "gnome-calculator",
	"chrome":     "google-chrome",
	"vscode":     "code",
	"terminal":   "x-terminal-emulator",
	"browser":    "xdg-open",
	"files":      "nautilus",
}

// --- ScreenshotTool ---

// ScreenshotTool captures the screen through the platform's capture utility.
type ScreenshotTool struct {
	dir    string
	runner commandRunner
	goos   string
}

func NewScreenshotTool(dir string) *ScreenshotTool {
	if dir == "" {
		dir = os.TempDir()
	}
	return &ScreenshotTool{dir: dir, runner: execRunner{}, goos: runtime.GOOS}
}

func (t *ScreenshotTool) Describe() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:        "take_screenshot",
		Description: "Capture the screen to a PNG file",
		Category:    domain.CategorySystemControl,
		Keywords:    []string{"screenshot", "capture", "screen", "snapshot"},
		Parameters: []domain.ParameterSchema{
			{Name: "file_path", Kind: domain.KindPath, Description: "Output file (defaults to a timestamped file)"},
		},
		Examples: []string{"take screenshot", "capture screen"},
	}
}

func (t *ScreenshotTool) Invoke(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
	out := ExpandHome(ArgsString(args, "file_path"))
	if out == "" {
		out = filepath.Join(ExpandHome(t.dir), fmt.Sprintf("screenshot_%s.png", time.Now().Format("20060102_150405")))
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, fmt.Errorf("create screenshot dir: %w", err)
	}

	var lastErr error
	for _, c := range t.captureCommands(out) {
		if _, err := t.runner.LookPath(c[0]); err != nil {
			continue
		}
		if err := t.runner.Run(ctx, c[0], c[1:]...); err != nil {
			lastErr = err
			continue
		}
		return domain.OK("Screenshot saved to "+out, map[string]any{"file_path": out}), nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("no screenshot utility found for %s", t.goos)
}

func (t *ScreenshotTool) captureCommands(out string) [][]string {
	switch t.goos {
	case "darwin":
		return [][]string{{"screencapture", "-x", out}}
	case "windows":
		script := fmt.Sprintf(`Add-Type -AssemblyName System.Windows.Forms,System.Drawing;`+
			`$b=[System.Windows.Forms.Screen]::PrimaryScreen.Bounds;`+
			`$i=New-Object System.Drawing.Bitmap $b.Width,$b.Height;`+
			`[System.Drawing.Graphics]::FromImage($i).CopyFromScreen($b.Location,[System.Drawing.Point]::Empty,$b.Size);`+
			`$i.Save('%s')`, out)
		return [][]string{{"powershell", "-NoProfile", "-Command", script}}
	}
	return [][]string{
		{"gnome-screenshot", "-f", out},
		{"scrot", out},
		{"import", "-window", "root", out},
	}
}

var (
	_ domain.Capability = (*OpenApplicationTool)(nil)
	_ domain.Capability = (*ScreenshotTool)(nil)
)
