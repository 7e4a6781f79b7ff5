package resolver

import (
	"strings"

	"deskpilot/internal/domain"
)

// mapEntities applies a pattern's entity-to-parameter map.
func mapEntities(entities map[string]any, mapping map[string]string) map[string]any {
	params := make(map[string]any, len(mapping))
	for entityKey, param := range mapping {
		if v, ok := entities[entityKey]; ok {
			params[param] = v
		}
	}
	return params
}

// inferParameters fills parameters by name: path/file, url, text/message and
// number/count draw from the matching entity categories.
func inferParameters(desc domain.CapabilityDescriptor, entities map[string]any) map[string]any {
	params := make(map[string]any)
	for _, p := range desc.Parameters {
		name := strings.ToLower(p.Name)
		switch {
		case strings.Contains(name, "path") || strings.Contains(name, "file"):
			if v, ok := firstString(entities, domain.EntityFilePaths); ok {
				params[p.Name] = v
			} else if v, ok := firstString(entities, "file"); ok {
				params[p.Name] = v
			}
		case strings.Contains(name, "url"):
			if v, ok := firstString(entities, domain.EntityURLs); ok {
				params[p.Name] = v
			}
		case strings.Contains(name, "text") || strings.Contains(name, "message"):
			if v, ok := firstString(entities, "text"); ok {
				params[p.Name] = v
			} else if v, ok := firstString(entities, domain.EntityQuotedStrings); ok {
				params[p.Name] = v
			}
		case strings.Contains(name, "number") || strings.Contains(name, "count"):
			if v, ok := firstInt(entities, domain.EntityNumbers); ok {
				params[p.Name] = v
			}
		}
	}
	return params
}
