package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeRunner struct {
	available map[string]bool
	started   []string
	ran       []string
	runErr    error
}

func (f *fakeRunner) LookPath(file string) (string, error) {
	if f.available[file] {
		return "/usr/bin/" + file, nil
	}
	return "", errors.New("not found")
}

func (f *fakeRunner) Start(ctx context.Context, name string, args ...string) error {
	f.started = append(f.started, strings.Join(append([]string{name}, args...), " "))
	return nil
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) error {
	f.ran = append(f.ran, name)
	return f.runErr
}

func TestOpenApplication_Darwin(t *testing.T) {
	r := &fakeRunner{}
	tl := &OpenApplicationTool{runner: r, goos: "darwin"}
	res, err := tl.Invoke(context.Background(), map[string]any{"app_name": "Calculator"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(r.started) != 1 || r.started[0] != "open -a Calculator" {
		t.Fatalf("started: %v", r.started)
	}
	if res.Data["app_name"] != "Calculator" {
		t.Fatalf("data: %v", res.Data)
	}
}

func TestOpenApplication_LinuxAlias(t *testing.T) {
	r := &fakeRunner{available: map[string]bool{"gnome-calculator": true}}
	tl := &OpenApplicationTool{runner: r, goos: "linux"}
	if _, err := tl.Invoke(context.Background(), map[string]any{"app_name": "calculator"}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if r.started[0] != "/usr/bin/gnome-calculator" {
		t.Fatalf("started: %v", r.started)
	}
}

func TestScreenshot_FallsThroughUtilities(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{available: map[string]bool{"scrot": true}}
	tl := &ScreenshotTool{dir: dir, runner: r, goos: "linux"}

	res, err := tl.Invoke(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(r.ran) != 1 || r.ran[0] != "scrot" {
		t.Fatalf("ran: %v", r.ran)
	}
	if !strings.HasPrefix(res.Data["file_path"].(string), dir) {
		t.Fatalf("file_path: %v", res.Data["file_path"])
	}
}

func TestScreenshot_NoUtility(t *testing.T) {
	tl := &ScreenshotTool{dir: t.TempDir(), runner: &fakeRunner{}, goos: "linux"}
	if _, err := tl.Invoke(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error without a capture utility")
	}
}

func TestBuiltinUnits(t *testing.T) {
	units := BuiltinUnits(BuiltinConfig{})
	want := map[string]int{UnitSystem: 4, UnitFiles: 6, UnitWeb: 2}
	for id, n := range want {
		caps, err := units[id]()
		if err != nil {
			t.Fatalf("%s: %v", id, err)
		}
		if len(caps) != n {
			t.Fatalf("%s: expected %d capabilities, got %d", id, n, len(caps))
		}
		for _, c := range caps {
			if err := CheckDescriptor(c.Describe()); err != nil {
				t.Fatalf("%s: %v", id, err)
			}
		}
	}
}
