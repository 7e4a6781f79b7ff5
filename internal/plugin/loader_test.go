package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"deskpilot/internal/domain"
	"deskpilot/internal/tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubCapability struct {
	desc domain.CapabilityDescriptor
}

func (s *stubCapability) Describe() domain.CapabilityDescriptor { return s.desc }

func (s *stubCapability) Invoke(ctx context.Context, params map[string]any) (*domain.ToolResult, error) {
	return domain.OK("ok", nil), nil
}

func stub(name string) *stubCapability {
	return &stubCapability{desc: domain.CapabilityDescriptor{
		Name:        name,
		Description: "stub " + name,
		Category:    domain.CategoryUtilities,
	}}
}

func fakeEnv(found ...string) *Environment {
	have := make(map[string]bool)
	for _, f := range found {
		have[f] = true
	}
	return &Environment{
		GOOS:    "linux",
		Version: "go1.25.6",
		LookPath: func(file string) (string, error) {
			if have[file] {
				return "/usr/bin/" + file, nil
			}
			return "", errors.New("not found")
		},
	}
}

type fixture struct {
	root     string
	tools    string
	plugins  string
	registry *tool.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	return &fixture{
		root:     root,
		tools:    filepath.Join(root, "tools"),
		plugins:  filepath.Join(root, "plugins"),
		registry: tool.NewRegistry(testLogger()),
	}
}

func (f *fixture) loader(builtins map[string]domain.UnitFactory, disabled ...string) *Loader {
	return NewLoader(f.registry, Config{
		ToolsDir:   f.tools,
		PluginDirs: []string{f.plugins},
		Disabled:   disabled,
		Builtins:   builtins,
		Env:        fakeEnv("sh", "echo"),
		Logger:     testLogger(),
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const twoTools = `capabilities:
  - name: say_hello
    description: Print a greeting
    keywords: [hello]
    parameters:
      - name: who
        kind: string
        default: world
    exec:
      command: echo
      args: ["hello", "{{.who}}"]
  - name: say_bye
    description: Print a farewell
    exec:
      command: echo
      args: ["bye"]
`

func TestDiscoverAndLoadAll_CreatesMissingDirectories(t *testing.T) {
	f := newFixture(t)
	l := f.loader(tool.BuiltinUnits(tool.BuiltinConfig{}))

	res := l.DiscoverAndLoadAll()
	assert.Empty(t, res.Errors)
	assert.Equal(t, 12, res.CapabilitiesLoaded)
	assert.Equal(t, 0, res.PluginsLoaded)
	assert.Len(t, res.Details, 3)
	assert.Equal(t, 12, f.registry.Len())

	assert.DirExists(t, f.tools)
	assert.DirExists(t, f.plugins)
	assert.Equal(t, tool.UnitFiles, f.registry.Unit("create_zip"))
}

func TestDiscoverAndLoadAll_ToolsAndPlugins(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.tools, "greet.yaml"), twoTools)
	writeFile(t, filepath.Join(f.plugins, "weather", "plugin.yaml"), "name: weather\nversion: 1.2.0\nauthor: ops\n")
	writeFile(t, filepath.Join(f.plugins, "weather", "capabilities.yml"), `capabilities:
  - name: get_weather
    description: Show the weather
    category: web_automation
    exec:
      command: echo
      args: ["sunny"]
`)
	writeFile(t, filepath.Join(f.plugins, "bare", "tools.yaml"), `capabilities:
  - name: bare_tool
    description: No manifest here
    exec: {command: echo}
`)

	l := f.loader(nil)
	res := l.DiscoverAndLoadAll()
	require.Empty(t, res.Errors)
	assert.Equal(t, 4, res.CapabilitiesLoaded)
	assert.Equal(t, 2, res.PluginsLoaded)
	assert.ElementsMatch(t, []string{"say_hello", "say_bye"}, res.Details["tools/greet"])
	assert.Equal(t, []string{"get_weather"}, res.Details["plugin/weather"])

	units := l.Units()
	require.Len(t, units, 3)
	assert.Equal(t, "plugin/bare", units[0].ID)
	assert.Nil(t, units[0].Manifest)
	assert.Equal(t, "plugin/weather", units[1].ID)
	require.NotNil(t, units[1].Manifest)
	assert.Equal(t, "1.2.0", units[1].Manifest.Version)
	assert.NotEqual(t, units[1].Instance, units[2].Instance)

	desc, ok := f.registry.Descriptor("get_weather")
	require.True(t, ok)
	assert.Equal(t, domain.CategoryWebAutomation, desc.Category)
	assert.Equal(t, "1.0.0", desc.Version, "manifest version is not merged into descriptors")
}

func TestDiscoverAndLoadAll_CollectsFailures(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.tools, "mixed.yaml"), `capabilities:
  - name: fine
    description: Works
    exec: {command: echo}
  - name: no_description
    exec: {command: echo}
  - name: no_command
    description: Missing exec
  - name: dup_params
    description: Duplicate parameter names
    parameters:
      - {name: a, kind: string}
      - {name: a, kind: integer}
    exec: {command: echo}
`)
	writeFile(t, filepath.Join(f.tools, "broken.yaml"), "capabilities: [::")
	writeFile(t, filepath.Join(f.plugins, "empty", "plugin.json"), `{"name": "empty"}`)

	builtins := map[string]domain.UnitFactory{
		"builtin/panics": func() ([]domain.Capability, error) { panic("boom") },
		"builtin/ok": func() ([]domain.Capability, error) {
			return []domain.Capability{stub("alpha"), nil, stub("beta")}, nil
		},
	}

	l := f.loader(builtins)
	res := l.DiscoverAndLoadAll()

	assert.Equal(t, 3, res.CapabilitiesLoaded) // alpha, beta, fine
	assert.Len(t, res.Errors, 7)
	for _, err := range res.Errors {
		assert.True(t, errors.Is(err, domain.ErrLoadFailure), err.Error())
		var le *domain.LoadError
		assert.True(t, errors.As(err, &le))
	}
	_, ok := f.registry.Get("fine")
	assert.True(t, ok)
	assert.Len(t, l.Errors(), 7)
	assert.Len(t, l.Info().Errors, 7)
}

func TestDiscoverAndLoadAll_NormalizesCategories(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.tools, "cats.yaml"), `capabilities:
  - name: shout_copy
    description: Copy loudly
    category: FILE_OPERATIONS
    exec: {command: echo}
  - name: odd_one
    description: Made-up category
    category: frobnicate
    exec: {command: echo}
`)

	l := f.loader(nil)
	res := l.DiscoverAndLoadAll()

	assert.Equal(t, 1, res.CapabilitiesLoaded)
	require.Len(t, res.Errors, 1)
	var le *domain.LoadError
	require.True(t, errors.As(res.Errors[0], &le))
	assert.Contains(t, le.Error(), "frobnicate")

	byCat := f.registry.ByCategory(domain.CategoryFileOperations)
	require.Len(t, byCat, 1)
	assert.Equal(t, "shout_copy", byCat[0].Describe().Name)
	assert.Equal(t, domain.CategoryFileOperations, byCat[0].Describe().Category)
	assert.Equal(t, map[domain.Category]int{domain.CategoryFileOperations: 1}, f.registry.CategoryCounts())
}

func TestDiscoverAndLoadAll_Disabled(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.tools, "greet.yaml"), twoTools)
	writeFile(t, filepath.Join(f.plugins, "weather", "caps.yaml"), "capabilities:\n  - {name: get_weather, description: w, exec: {command: echo}}\n")

	l := f.loader(nil, "weather", "tools/greet")
	res := l.DiscoverAndLoadAll()
	assert.Equal(t, 0, res.CapabilitiesLoaded)
	assert.Equal(t, 0, f.registry.Len())
}

func TestReload_ReplacesOnlyThatUnit(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.tools, "greet.yaml")
	writeFile(t, path, twoTools)
	builtins := map[string]domain.UnitFactory{
		"builtin/stub": func() ([]domain.Capability, error) {
			return []domain.Capability{stub("alpha")}, nil
		},
	}
	l := f.loader(builtins)
	l.DiscoverAndLoadAll()
	require.Equal(t, 3, f.registry.Len())

	writeFile(t, path, "capabilities:\n  - {name: say_hi, description: Hi, exec: {command: echo}}\n")
	res := l.Reload("tools/greet")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.ReloadedCount)

	assert.ElementsMatch(t, []string{"alpha", "say_hi"}, f.registry.Names())
	_, ok := f.registry.Get("say_hello")
	assert.False(t, ok)
	assert.Equal(t, "builtin/stub", f.registry.Unit("alpha"))
}

func TestReload_FreshInstances(t *testing.T) {
	f := newFixture(t)
	calls := 0
	builtins := map[string]domain.UnitFactory{
		"builtin/stub": func() ([]domain.Capability, error) {
			calls++
			return []domain.Capability{stub("alpha")}, nil
		},
	}
	l := f.loader(builtins)
	l.DiscoverAndLoadAll()
	first, _ := f.registry.Get("alpha")
	before := l.Units()[0].Instance

	res := l.Reload("builtin/stub")
	require.True(t, res.Success)
	second, _ := f.registry.Get("alpha")
	assert.Equal(t, 2, calls)
	assert.NotSame(t, first, second)
	assert.NotEqual(t, before, l.Units()[0].Instance)
}

func TestReload_UnknownUnit(t *testing.T) {
	f := newFixture(t)
	l := f.loader(nil)
	res := l.Reload("tools/nope")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not loaded")
}

func TestReload_SourceRemoved(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.tools, "greet.yaml")
	writeFile(t, path, twoTools)
	l := f.loader(nil)
	l.DiscoverAndLoadAll()

	require.NoError(t, os.Remove(path))
	res := l.Reload("tools/greet")
	assert.False(t, res.Success)
	assert.Equal(t, 0, f.registry.Len())
	assert.Empty(t, l.Units())
}

func TestReloadPath(t *testing.T) {
	f := newFixture(t)
	l := f.loader(nil)
	l.DiscoverAndLoadAll()

	path := filepath.Join(f.tools, "greet.yaml")
	writeFile(t, path, twoTools)
	res := l.ReloadPath(path)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 2, res.ReloadedCount)

	capFile := filepath.Join(f.plugins, "weather", "caps.yaml")
	writeFile(t, capFile, "capabilities:\n  - {name: get_weather, description: w, exec: {command: echo}}\n")
	res = l.ReloadPath(capFile)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "plugin/weather", f.registry.Unit("get_weather"))

	require.NoError(t, os.Remove(path))
	res = l.ReloadPath(path)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"get_weather"}, f.registry.Names())

	res = l.ReloadPath(filepath.Join(f.root, "elsewhere.yaml"))
	assert.False(t, res.Success)
}

func TestUnload(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.tools, "greet.yaml"), twoTools)
	l := f.loader(nil)
	l.DiscoverAndLoadAll()

	removed, err := l.Unload("tools/greet")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"say_hello", "say_bye"}, removed)
	assert.Equal(t, 0, f.registry.Len())

	_, err = l.Unload("tools/greet")
	assert.Error(t, err)
}

func TestNameCollision_LastLoadWins(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.tools, "a.yaml"), "capabilities:\n  - {name: shared, description: from a, exec: {command: echo}}\n")
	writeFile(t, filepath.Join(f.tools, "b.yaml"), "capabilities:\n  - {name: shared, description: from b, exec: {command: echo}}\n")
	l := f.loader(nil)
	l.DiscoverAndLoadAll()

	desc, _ := f.registry.Descriptor("shared")
	assert.Equal(t, "from b", desc.Description)
	assert.Equal(t, "tools/b", f.registry.Unit("shared"))

	// Unloading the unit that lost the name leaves the winner in place.
	_, err := l.Unload("tools/a")
	require.NoError(t, err)
	_, ok := f.registry.Get("shared")
	assert.True(t, ok)
}

func TestDependencyValidationMarksInvalid(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.tools, "deps.yaml"), `capabilities:
  - name: needs_ffmpeg
    description: Needs ffmpeg
    requirements: [ffmpeg]
    exec: {command: ffmpeg}
  - name: mac_only
    description: Darwin only
    platforms: [macos]
    exec: {command: echo}
  - name: future
    description: Needs a newer runtime
    minimum_runtime_version: "1.99"
    exec: {command: echo}
  - name: fine
    description: Has what it needs
    requirements: [sh]
    platforms: [Linux]
    minimum_runtime_version: "1.21"
    exec: {command: echo}
`)
	l := f.loader(nil)
	res := l.DiscoverAndLoadAll()
	assert.Equal(t, 4, res.CapabilitiesLoaded, "invalid capabilities stay registered")

	reason, invalid := f.registry.Invalid("needs_ffmpeg")
	assert.True(t, invalid)
	assert.Contains(t, reason, "ffmpeg")
	_, invalid = f.registry.Invalid("mac_only")
	assert.True(t, invalid)
	_, invalid = f.registry.Invalid("future")
	assert.True(t, invalid)
	_, invalid = f.registry.Invalid("fine")
	assert.False(t, invalid)
	assert.Len(t, l.Info().Invalid, 3)
}

func TestValidateDependencies(t *testing.T) {
	f := newFixture(t)
	l := f.loader(nil)

	got := l.ValidateDependencies(domain.CapabilityDescriptor{
		Requirements:          []string{"sh", "blender"},
		Platforms:             []string{"windows", "darwin"},
		MinimumRuntimeVersion: "go1.30",
	})
	assert.Equal(t, DependencyReport{
		Valid:      false,
		Missing:    []string{"blender"},
		PlatformOK: false,
		VersionOK:  false,
	}, got)

	got = l.ValidateDependencies(domain.CapabilityDescriptor{})
	assert.True(t, got.Valid)
	assert.True(t, got.PlatformOK)
	assert.True(t, got.VersionOK)
}

func TestVersionAtLeast(t *testing.T) {
	assert.True(t, versionAtLeast("go1.25.6", "1.25"))
	assert.True(t, versionAtLeast("go1.25.6", "go1.25.6"))
	assert.False(t, versionAtLeast("go1.25.6", "1.26"))
	assert.False(t, versionAtLeast("go1.25.6", "banana"))
	assert.True(t, versionAtLeast("devel +abc123", "1.26"))
}

func TestInfo(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.tools, "greet.yaml"), twoTools)
	l := f.loader(tool.BuiltinUnits(tool.BuiltinConfig{}))
	l.DiscoverAndLoadAll()

	info := l.Info()
	assert.Equal(t, 14, info.TotalCapabilities)
	assert.Equal(t, 2, info.Categories[domain.CategoryCustom])
	assert.Equal(t, 6, info.Categories[domain.CategoryFileOperations]+info.Categories[domain.CategoryUtilities])
	require.Len(t, info.Units, 4)
	assert.Equal(t, "builtin/files", info.Units[0].ID)
}

func TestWatch_EmitsDebouncedChanges(t *testing.T) {
	f := newFixture(t)
	l := f.loader(nil)
	l.DiscoverAndLoadAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := l.Watch(ctx, 50*time.Millisecond)
	require.NoError(t, err)

	path := filepath.Join(f.tools, "greet.yaml")
	for i := 0; i < 3; i++ {
		writeFile(t, path, twoTools)
	}

	select {
	case got := <-changes:
		assert.Equal(t, path, got)
		res := l.ReloadPath(got)
		assert.True(t, res.Success, res.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	for range changes {
	}
}

func TestCreateTemplate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("template capability targets unix shells")
	}
	f := newFixture(t)

	root, err := CreateTemplate("notes-sync", f.plugins)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "plugin.yaml"))
	assert.FileExists(t, filepath.Join(root, "capabilities.yaml"))
	assert.FileExists(t, filepath.Join(root, "README.md"))

	_, err = CreateTemplate("notes-sync", f.plugins)
	assert.Error(t, err)
	_, err = CreateTemplate("../escape", f.plugins)
	assert.Error(t, err)

	l := f.loader(nil)
	res := l.DiscoverAndLoadAll()
	require.Empty(t, res.Errors)
	assert.Equal(t, []string{"notes_sync_hello"}, res.Details["plugin/notes-sync"])

	c, ok := f.registry.Get("notes_sync_hello")
	require.True(t, ok)
	result := tool.SafeInvoke(context.Background(), c, map[string]any{"name": "Ada"})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "Hello, Ada", result.Message)
}
