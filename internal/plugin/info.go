package plugin

import "deskpilot/internal/domain"

// Info is a snapshot of the loader and the registry it populates.
type Info struct {
	TotalCapabilities int                     `json:"total_capabilities"`
	Categories        map[domain.Category]int `json:"categories"`
	Units             []Unit                  `json:"units"`
	Invalid           map[string]string       `json:"invalid,omitempty"`
	Errors            []string                `json:"errors,omitempty"`
}

// Info reports totals, per-category counts, loaded units and the errors of
// the last discovery pass.
func (l *Loader) Info() Info {
	info := Info{
		TotalCapabilities: l.registry.Len(),
		Categories:        l.registry.CategoryCounts(),
		Units:             l.Units(),
	}
	for _, name := range l.registry.Names() {
		if reason, ok := l.registry.Invalid(name); ok {
			if info.Invalid == nil {
				info.Invalid = make(map[string]string)
			}
			info.Invalid[name] = reason
		}
	}
	for _, err := range l.Errors() {
		info.Errors = append(info.Errors, err.Error())
	}
	return info
}
