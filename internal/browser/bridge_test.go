package browser

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewBridge_Defaults(t *testing.T) {
	b := NewBridge(BridgeConfig{})
	if b.timeout != defaultTimeout {
		t.Errorf("timeout = %v, want %v", b.timeout, defaultTimeout)
	}
	if !strings.HasSuffix(b.ProfileDir(), filepath.Join(".deskpilot", "chrome-profile")) {
		t.Errorf("unexpected default profile dir %q", b.ProfileDir())
	}
	if b.logger == nil {
		t.Error("expected default logger")
	}
}

func TestNewBridge_Config(t *testing.T) {
	dir := t.TempDir()
	b := NewBridge(BridgeConfig{ProfileDir: dir, Headless: true, Timeout: 5 * time.Second})
	if b.ProfileDir() != dir || !b.headless || b.timeout != 5*time.Second {
		t.Fatalf("config not applied: %+v", b)
	}
}

func TestAllocatorOptions_Headless(t *testing.T) {
	b := NewBridge(BridgeConfig{ProfileDir: t.TempDir()})
	headless := b.allocatorOptions(true)
	visible := b.allocatorOptions(false)
	if len(headless) != len(visible) {
		t.Fatalf("both modes add one option: %d vs %d", len(headless), len(visible))
	}
}

func TestCollapseBlankLines(t *testing.T) {
	in := "\n  Title  \r\n\n\n\nFirst paragraph\n   \nSecond\n\n"
	want := "Title\n\nFirst paragraph\n\nSecond"
	if got := collapseBlankLines(in); got != want {
		t.Errorf("collapseBlankLines() = %q, want %q", got, want)
	}
}
