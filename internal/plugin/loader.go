// Package plugin discovers capability units, registers what they define and
// keeps them reloadable.
package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"deskpilot/internal/domain"
	"deskpilot/internal/tool"

	"github.com/google/uuid"
)

// Unit kinds.
const (
	KindBuiltin = "builtin"
	KindTools   = "tools"
	KindPlugin  = "plugin"
)

// Config configures a Loader.
type Config struct {
	ToolsDir   string                        // one declarative unit per YAML file
	PluginDirs []string                      // one plugin unit per subdirectory
	Disabled   []string                      // unit ids or bare plugin names
	Builtins   map[string]domain.UnitFactory // compiled-in units by id
	Env        *Environment                  // nil selects HostEnvironment
	Logger     *slog.Logger
}

// Unit is the bookkeeping record of one loaded source unit.
type Unit struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Source       string    `json:"source,omitempty"`
	Instance     string    `json:"instance"`
	Capabilities []string  `json:"capabilities"`
	Manifest     *Manifest `json:"manifest,omitempty"`
	LoadedAt     time.Time `json:"loaded_at"`
}

// DiscoveryResult summarizes one discovery pass.
type DiscoveryResult struct {
	CapabilitiesLoaded int                 `json:"capabilities_loaded"`
	PluginsLoaded      int                 `json:"plugins_loaded"`
	Errors             []error             `json:"-"`
	Details            map[string][]string `json:"details"`
}

// ReloadResult is the outcome of reloading one unit.
type ReloadResult struct {
	Success       bool   `json:"success"`
	ReloadedCount int    `json:"reloaded_count"`
	Error         string `json:"error,omitempty"`
}

type source struct {
	id      string
	kind    string
	path    string
	factory domain.UnitFactory
}

// Loader populates a tool registry from compiled-in units, a tools directory
// and plugin directories. Reload and unload calls are serialized internally.
type Loader struct {
	mu         sync.Mutex
	registry   *tool.Registry
	toolsDir   string
	pluginDirs []string
	disabled   map[string]bool
	builtins   map[string]domain.UnitFactory
	env        Environment
	units      map[string]*Unit
	lastErrors []error
	logger     *slog.Logger
}

func NewLoader(registry *tool.Registry, cfg Config) *Loader {
	l := &Loader{
		registry:   registry,
		toolsDir:   cfg.ToolsDir,
		pluginDirs: cfg.PluginDirs,
		disabled:   make(map[string]bool, len(cfg.Disabled)),
		builtins:   cfg.Builtins,
		env:        HostEnvironment(),
		units:      make(map[string]*Unit),
		logger:     cfg.Logger,
	}
	if cfg.Env != nil {
		l.env = *cfg.Env
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	for _, d := range cfg.Disabled {
		l.disabled[d] = true
	}
	return l
}

// DiscoverAndLoadAll loads every unit found in the configured locations.
// Failures are collected per unit or capability and never stop the pass.
func (l *Loader) DiscoverAndLoadAll() DiscoveryResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := DiscoveryResult{Details: make(map[string][]string)}
	sources, errs := l.discover()
	res.Errors = append(res.Errors, errs...)

	for _, src := range sources {
		if l.isDisabled(src) {
			l.logger.Info("unit disabled, skipping", "unit", src.id)
			continue
		}
		if _, loaded := l.units[src.id]; loaded {
			l.unloadLocked(src.id)
		}
		unit, errs := l.load(src)
		res.Errors = append(res.Errors, errs...)
		if unit == nil {
			continue
		}
		res.Details[unit.ID] = unit.Capabilities
		res.CapabilitiesLoaded += len(unit.Capabilities)
		if unit.Kind == KindPlugin {
			res.PluginsLoaded++
		}
	}

	l.lastErrors = res.Errors
	l.logger.Info("plugin discovery complete",
		"capabilities", res.CapabilitiesLoaded,
		"plugins", res.PluginsLoaded,
		"errors", len(res.Errors),
	)
	return res
}

// Reload evicts a loaded unit and loads it again from its source. Names the
// unit registered before are removed first, so names it no longer defines
// disappear.
func (l *Loader) Reload(id string) ReloadResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	unit, ok := l.units[id]
	if !ok {
		return ReloadResult{Error: fmt.Sprintf("unit %q is not loaded", id)}
	}
	src := l.sourceOf(unit)
	l.unloadLocked(id)
	return l.reloadSource(src)
}

// ReloadPath reacts to a change at path: a loaded unit is reloaded, a new
// unit is loaded and a unit whose source disappeared is unloaded.
func (l *Loader) ReloadPath(path string) ReloadResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.sourceForPath(path)
	if !ok {
		return ReloadResult{Error: fmt.Sprintf("%s is not inside a plugin location", path)}
	}
	if l.isDisabled(src) {
		return ReloadResult{Error: fmt.Sprintf("unit %q is disabled", src.id)}
	}

	_, loaded := l.units[src.id]
	if _, err := os.Stat(src.path); os.IsNotExist(err) {
		if loaded {
			removed := l.unloadLocked(src.id)
			l.logger.Info("unit source removed, unloaded", "unit", src.id, "removed", len(removed))
			return ReloadResult{Success: true}
		}
		return ReloadResult{Error: fmt.Sprintf("unit %q has no source", src.id)}
	}
	if loaded {
		l.unloadLocked(src.id)
	}
	return l.reloadSource(src)
}

func (l *Loader) reloadSource(src source) ReloadResult {
	if src.kind != KindBuiltin {
		if _, err := os.Stat(src.path); err != nil {
			return ReloadResult{Error: fmt.Sprintf("source of %q unavailable: %v", src.id, err)}
		}
	}
	unit, errs := l.load(src)
	if unit == nil {
		return ReloadResult{Error: errors.Join(errs...).Error()}
	}
	res := ReloadResult{Success: true, ReloadedCount: len(unit.Capabilities)}
	if len(errs) > 0 {
		res.Error = errors.Join(errs...).Error()
	}
	l.logger.Info("unit reloaded", "unit", src.id, "capabilities", res.ReloadedCount)
	return res
}

// Unload removes a unit's capabilities without loading it again.
func (l *Loader) Unload(id string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.units[id]; !ok {
		return nil, fmt.Errorf("unit %q is not loaded", id)
	}
	return l.unloadLocked(id), nil
}

func (l *Loader) unloadLocked(id string) []string {
	removed := l.registry.UnregisterByUnit(id)
	delete(l.units, id)
	l.logger.Debug("unit evicted", "unit", id, "removed", len(removed))
	return removed
}

// Units returns the loaded units ordered by id.
func (l *Loader) Units() []Unit {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Unit, 0, len(l.units))
	for _, u := range l.units {
		cp := *u
		cp.Capabilities = append([]string(nil), u.Capabilities...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UnitOf returns the id of the unit that registered the named capability.
func (l *Loader) UnitOf(name string) string {
	return l.registry.Unit(name)
}

// Errors returns the errors collected by the last discovery pass.
func (l *Loader) Errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.lastErrors...)
}

func (l *Loader) isDisabled(src source) bool {
	if l.disabled[src.id] {
		return true
	}
	_, name, _ := strings.Cut(src.id, "/")
	return l.disabled[name]
}

// discover lists candidate units: compiled-in units first, then the tools
// directory, then each plugin directory.
func (l *Loader) discover() ([]source, []error) {
	var sources []source
	var errs []error

	ids := make([]string, 0, len(l.builtins))
	for id := range l.builtins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sources = append(sources, source{id: id, kind: KindBuiltin, factory: l.builtins[id]})
	}

	if l.toolsDir != "" {
		if err := l.ensureDir(l.toolsDir); err != nil {
			errs = append(errs, &domain.LoadError{Unit: l.toolsDir, Err: err})
		} else if entries, err := os.ReadDir(l.toolsDir); err != nil {
			errs = append(errs, &domain.LoadError{Unit: l.toolsDir, Err: err})
		} else {
			for _, e := range entries {
				if e.IsDir() || !isDefinitionFile(e.Name()) {
					continue
				}
				path := filepath.Join(l.toolsDir, e.Name())
				sources = append(sources, source{id: toolsUnitID(path), kind: KindTools, path: path})
			}
		}
	}

	seen := make(map[string]string)
	for _, dir := range l.pluginDirs {
		if err := l.ensureDir(dir); err != nil {
			errs = append(errs, &domain.LoadError{Unit: dir, Err: err})
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			errs = append(errs, &domain.LoadError{Unit: dir, Err: err})
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			path := filepath.Join(dir, e.Name())
			id := pluginUnitID(path)
			if prev, dup := seen[id]; dup {
				errs = append(errs, &domain.LoadError{Unit: id, Err: fmt.Errorf("%s shadowed by %s", path, prev)})
				continue
			}
			seen[id] = path
			sources = append(sources, source{id: id, kind: KindPlugin, path: path})
		}
	}
	return sources, errs
}

func (l *Loader) ensureDir(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	l.logger.Warn("plugin directory missing, creating", "dir", dir)
	return os.MkdirAll(dir, 0o755)
}

// load instantiates and registers one unit. A nil unit means the source
// itself could not be loaded.
func (l *Loader) load(src source) (*Unit, []error) {
	unit := &Unit{
		ID:       src.id,
		Kind:     src.kind,
		Source:   src.path,
		Instance: uuid.NewString(),
		LoadedAt: time.Now(),
	}

	caps, errs, err := l.instantiate(src, unit)
	if err != nil {
		l.logger.Warn("unit failed to load", "unit", src.id, "err", err)
		return nil, append(errs, &domain.LoadError{Unit: src.id, Err: err})
	}

	for _, c := range caps {
		desc := c.Describe()
		if err := tool.CheckDescriptor(desc); err != nil {
			errs = append(errs, &domain.LoadError{Unit: src.id, Capability: desc.Name, Err: err})
			continue
		}
		l.disown(desc.Name)
		l.registry.RegisterUnit(src.id, c)
		unit.Capabilities = append(unit.Capabilities, desc.Name)

		stored, _ := l.registry.Descriptor(desc.Name)
		if report := l.env.Check(stored); !report.Valid {
			reason := report.Reason()
			l.registry.MarkInvalid(desc.Name, reason)
			l.logger.Warn("capability dependencies unsatisfied", "tool", desc.Name, "unit", src.id, "reason", reason)
		}
	}
	for _, err := range errs {
		l.logger.Warn("capability failed to load", "unit", src.id, "err", err)
	}

	l.units[src.id] = unit
	l.logger.Info("unit loaded", "unit", src.id, "instance", unit.Instance, "capabilities", len(unit.Capabilities))
	return unit, errs
}

// disown drops name from whichever loaded unit claimed it before.
func (l *Loader) disown(name string) {
	for _, u := range l.units {
		for i, n := range u.Capabilities {
			if n == name {
				u.Capabilities = append(u.Capabilities[:i:i], u.Capabilities[i+1:]...)
				break
			}
		}
	}
}

func (l *Loader) instantiate(src source, unit *Unit) ([]domain.Capability, []error, error) {
	switch src.kind {
	case KindBuiltin:
		caps, err := callFactory(src.factory)
		if err != nil {
			return nil, nil, err
		}
		var errs []error
		out := caps[:0:0]
		for i, c := range caps {
			if c == nil {
				errs = append(errs, &domain.LoadError{Unit: src.id, Err: fmt.Errorf("capability %d is nil", i)})
				continue
			}
			out = append(out, c)
		}
		return out, errs, nil

	case KindTools:
		return l.loadDefinitionFile(src.path, filepath.Dir(src.path), unit)

	case KindPlugin:
		var errs []error
		m, err := readManifest(src.path)
		if err != nil {
			errs = append(errs, &domain.LoadError{Unit: src.id, Err: err})
		}
		unit.Manifest = m
		if m != nil {
			for _, req := range m.Requirements {
				if _, err := l.env.LookPath(req); err != nil {
					l.logger.Warn("plugin requirement not found", "unit", src.id, "requirement", req)
				}
			}
		}

		entries, err := os.ReadDir(src.path)
		if err != nil {
			return nil, errs, err
		}
		var caps []domain.Capability
		files := 0
		for _, e := range entries {
			if e.IsDir() || isManifestFile(e.Name()) || !isDefinitionFile(e.Name()) {
				continue
			}
			files++
			c, fileErrs, err := l.loadDefinitionFile(filepath.Join(src.path, e.Name()), src.path, unit)
			errs = append(errs, fileErrs...)
			if err != nil {
				errs = append(errs, &domain.LoadError{Unit: src.id, Err: err})
				continue
			}
			caps = append(caps, c...)
		}
		if files == 0 {
			return nil, errs, fmt.Errorf("no capability definitions in %s", src.path)
		}
		return caps, errs, nil
	}
	return nil, nil, fmt.Errorf("unknown unit kind %q", src.kind)
}

func (l *Loader) loadDefinitionFile(path, baseDir string, unit *Unit) ([]domain.Capability, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	defs, parseErrs, err := parseDefinitions(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	var errs []error
	for _, e := range parseErrs {
		errs = append(errs, &domain.LoadError{Unit: unit.ID, Err: fmt.Errorf("%s: %w", filepath.Base(path), e)})
	}
	env := []string{
		"DESKPILOT_UNIT=" + unit.ID,
		"DESKPILOT_UNIT_INSTANCE=" + unit.Instance,
		"DESKPILOT_UNIT_DIR=" + baseDir,
	}
	var caps []domain.Capability
	for _, d := range defs {
		c, err := newExecCapability(d, baseDir, env)
		if err != nil {
			errs = append(errs, &domain.LoadError{Unit: unit.ID, Capability: d.Name, Err: err})
			continue
		}
		caps = append(caps, c)
	}
	return caps, errs, nil
}

func callFactory(f domain.UnitFactory) (caps []domain.Capability, err error) {
	if f == nil {
		return nil, fmt.Errorf("unit has no entry point")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit entry point panicked: %v", r)
		}
	}()
	return f()
}

func (l *Loader) sourceOf(u *Unit) source {
	if u.Kind == KindBuiltin {
		return source{id: u.ID, kind: KindBuiltin, factory: l.builtins[u.ID]}
	}
	return source{id: u.ID, kind: u.Kind, path: u.Source}
}

// sourceForPath maps a file system path to the unit it belongs to.
func (l *Loader) sourceForPath(path string) (source, bool) {
	path = filepath.Clean(path)
	if l.toolsDir != "" && filepath.Dir(path) == filepath.Clean(l.toolsDir) && isDefinitionFile(path) {
		return source{id: toolsUnitID(path), kind: KindTools, path: path}, true
	}
	for _, dir := range l.pluginDirs {
		rel, err := filepath.Rel(filepath.Clean(dir), path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		top, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
		if strings.HasPrefix(top, ".") {
			continue
		}
		root := filepath.Join(dir, top)
		return source{id: pluginUnitID(root), kind: KindPlugin, path: root}, true
	}
	return source{}, false
}

func toolsUnitID(path string) string {
	base := filepath.Base(path)
	return KindTools + "/" + strings.TrimSuffix(base, filepath.Ext(base))
}

func pluginUnitID(dir string) string {
	return KindPlugin + "/" + filepath.Base(dir)
}

func isDefinitionFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
