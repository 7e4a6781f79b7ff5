package tool

import "deskpilot/internal/domain"

// ParameterSchema renders a descriptor's parameters as a JSON Schema object.
func ParameterSchema(desc domain.CapabilityDescriptor) map[string]any {
	props := make(map[string]any, len(desc.Parameters))
	var required []string
	for _, p := range desc.Parameters {
		prop := map[string]any{
			"type":        jsonType(p.Kind),
			"description": p.Description,
		}
		switch p.Kind {
		case domain.KindURL:
			prop["format"] = "uri"
		case domain.KindEmail:
			prop["format"] = "email"
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Choices) > 0 {
			prop["enum"] = p.Choices
		}
		if p.Min != nil {
			prop["minimum"] = *p.Min
		}
		if p.Max != nil {
			prop["maximum"] = *p.Max
		}
		if p.Pattern != "" {
			prop["pattern"] = p.Pattern
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func jsonType(k domain.ParameterKind) string {
	switch k {
	case domain.KindInteger:
		return "integer"
	case domain.KindFloat:
		return "number"
	case domain.KindBoolean:
		return "boolean"
	case domain.KindList:
		return "array"
	case domain.KindMap:
		return "object"
	default:
		return "string"
	}
}
