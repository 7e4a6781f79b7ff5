package tool

import (
	"log/slog"
	"strings"
	"sync"

	"deskpilot/internal/domain"

	"github.com/sahilm/fuzzy"
)

// Default descriptor values applied at registration.
const (
	DefaultVersion = "1.0.0"
)

// DefaultPlatforms is assumed when a descriptor declares none.
var DefaultPlatforms = []string{"windows", "linux", "darwin"}

type entry struct {
	capability domain.Capability
	desc       domain.CapabilityDescriptor
	unit       string
	invalid    string
}

// Registry holds every known capability, indexed by name and by category.
// Category lists and the listing order follow registration order.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	order      []string
	categories map[domain.Category][]string
	logger     *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		entries:    make(map[string]*entry),
		categories: make(map[domain.Category][]string),
		logger:     logger,
	}
}

// Register adds c without an owning load unit.
func (r *Registry) Register(c domain.Capability) {
	r.RegisterUnit("", c)
}

// RegisterUnit adds c on behalf of unit. An existing capability with the same
// name is replaced and the collision is logged.
func (r *Registry) RegisterUnit(unit string, c domain.Capability) {
	desc := normalizeDescriptor(c.Describe())

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[desc.Name]; ok {
		r.logger.Warn("tool name collision, replacing",
			"name", desc.Name,
			"previous_unit", prev.unit,
			"unit", unit,
		)
		if prev.desc.Category != desc.Category {
			r.removeFromCategory(prev.desc.Category, desc.Name)
			r.categories[desc.Category] = append(r.categories[desc.Category], desc.Name)
		}
	} else {
		r.order = append(r.order, desc.Name)
		r.categories[desc.Category] = append(r.categories[desc.Category], desc.Name)
	}

	r.entries[desc.Name] = &entry{capability: c, desc: desc, unit: unit}
	r.logger.Debug("registered tool", "name", desc.Name, "category", desc.Category, "unit", unit)
}

func (r *Registry) Get(name string) (domain.Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.capability, true
}

// Descriptor returns the registration-time descriptor with defaults applied.
func (r *Registry) Descriptor(name string) (domain.CapabilityDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return domain.CapabilityDescriptor{}, false
	}
	return e.desc, true
}

// Unit returns the load unit that registered name.
func (r *Registry) Unit(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.unit
	}
	return ""
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Names returns capability names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// List returns every capability in registration order.
func (r *Registry) List() []domain.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Capability, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].capability)
	}
	return out
}

// Descriptors returns every descriptor in registration order.
func (r *Registry) Descriptors() []domain.CapabilityDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.CapabilityDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].desc)
	}
	return out
}

// ByCategory returns the capabilities of one category in insertion order.
func (r *Registry) ByCategory(category domain.Category) []domain.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.categories[category]
	out := make([]domain.Capability, 0, len(names))
	for _, name := range names {
		out = append(out, r.entries[name].capability)
	}
	return out
}

// CategoryCounts returns the number of capabilities per non-empty category.
func (r *Registry) CategoryCounts() map[domain.Category]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[domain.Category]int, len(r.categories))
	for cat, names := range r.categories {
		if len(names) > 0 {
			counts[cat] = len(names)
		}
	}
	return counts
}

// Search returns capabilities whose name, description or any keyword contains
// query, case-insensitively. Each capability appears at most once.
func (r *Registry) Search(query string) []domain.Capability {
	q := strings.ToLower(query)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Capability
	for _, name := range r.order {
		e := r.entries[name]
		if matchesQuery(e.desc, q) {
			out = append(out, e.capability)
		}
	}
	return out
}

func matchesQuery(desc domain.CapabilityDescriptor, q string) bool {
	if strings.Contains(strings.ToLower(desc.Name), q) ||
		strings.Contains(strings.ToLower(desc.Description), q) {
		return true
	}
	for _, kw := range desc.Keywords {
		if strings.Contains(strings.ToLower(kw), q) {
			return true
		}
	}
	return false
}

type nameSource []string

func (s nameSource) String(i int) string { return s[i] }
func (s nameSource) Len() int            { return len(s) }

// FuzzyFind ranks capability names by subsequence match against query,
// best match first.
func (r *Registry) FuzzyFind(query string) []domain.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := nameSource(r.order)
	matches := fuzzy.FindFrom(query, names)
	out := make([]domain.Capability, 0, len(matches))
	for _, m := range matches {
		out = append(out, r.entries[names[m.Index]].capability)
	}
	return out
}

// Unregister removes a single capability by name.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(name)
}

// UnregisterByUnit removes every capability whose owning unit is unit and
// returns the removed names. Capabilities registered without a unit are
// never removed this way.
func (r *Registry) UnregisterByUnit(unit string) []string {
	if unit == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for _, name := range append([]string(nil), r.order...) {
		if r.entries[name].unit == unit {
			r.remove(name)
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		r.logger.Debug("unregistered unit", "unit", unit, "count", len(removed))
	}
	return removed
}

// MarkInvalid flags name as non-executable with reason. An empty reason
// clears the flag.
func (r *Registry) MarkInvalid(name, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.invalid = reason
	}
}

// Invalid returns the reason name was flagged non-executable, if any.
func (r *Registry) Invalid(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok || e.invalid == "" {
		return "", false
	}
	return e.invalid, true
}

func (r *Registry) remove(name string) bool {
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	delete(r.entries, name)
	r.removeFromCategory(e.desc.Category, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) removeFromCategory(cat domain.Category, name string) {
	names := r.categories[cat]
	for i, n := range names {
		if n == name {
			names = append(names[:i:i], names[i+1:]...)
			break
		}
	}
	if len(names) == 0 {
		delete(r.categories, cat)
		return
	}
	r.categories[cat] = names
}

func normalizeDescriptor(desc domain.CapabilityDescriptor) domain.CapabilityDescriptor {
	if desc.Version == "" {
		desc.Version = DefaultVersion
	}
	if len(desc.Platforms) == 0 {
		desc.Platforms = append([]string(nil), DefaultPlatforms...)
	}
	// Unknown categories are rejected by CheckDescriptor before loading;
	// here they fall back to custom.
	desc.Category, _ = domain.ParseCategory(string(desc.Category))
	return desc
}
