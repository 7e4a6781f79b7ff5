package tool

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"deskpilot/internal/domain"
)

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Validate checks params against desc and reports the first violated rule.
// Declared parameters are checked in order; undeclared keys are reported
// together once every declared parameter passed.
func Validate(desc domain.CapabilityDescriptor, params map[string]any) error {
	for _, p := range desc.Parameters {
		value, present := params[p.Name]
		if err := ValidateParameter(p, value, present && value != nil); err != nil {
			return err
		}
	}

	var unexpected []string
	for key := range params {
		if _, ok := desc.Parameter(key); !ok {
			unexpected = append(unexpected, key)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return &domain.ValidationError{
			Parameter: strings.Join(unexpected, ","),
			Rule:      domain.RuleUnexpected,
			Message:   fmt.Sprintf("unexpected parameters: %s", strings.Join(unexpected, ", ")),
		}
	}
	return nil
}

// ValidateParameter checks a single value. Absent optional values pass.
func ValidateParameter(p domain.ParameterSchema, value any, present bool) error {
	if !present {
		if p.Required {
			return invalid(p, domain.RuleRequired, "parameter '%s' is required", p.Name)
		}
		return nil
	}

	if !kindMatches(p.Kind, value) {
		return invalid(p, domain.RuleType, "parameter '%s' must be of type %s", p.Name, p.Kind)
	}

	if n, ok := toFloat(value); ok && isNumericKind(p.Kind) {
		if p.Min != nil && n < *p.Min {
			return invalid(p, domain.RuleRange, "parameter '%s' must be >= %v", p.Name, *p.Min)
		}
		if p.Max != nil && n > *p.Max {
			return invalid(p, domain.RuleRange, "parameter '%s' must be <= %v", p.Name, *p.Max)
		}
	}

	if len(p.Choices) > 0 && !containsValue(p.Choices, value) {
		return invalid(p, domain.RuleChoices, "parameter '%s' must be one of %v", p.Name, p.Choices)
	}

	s, isString := value.(string)
	if p.Pattern != "" && isString {
		re, err := regexp.Compile(`^(?:` + p.Pattern + `)`)
		if err != nil {
			return invalid(p, domain.RulePattern, "parameter '%s' has an invalid pattern: %v", p.Name, err)
		}
		if !re.MatchString(s) {
			return invalid(p, domain.RulePattern, "parameter '%s' must match pattern %s", p.Name, p.Pattern)
		}
	}

	switch p.Kind {
	case domain.KindFile:
		info, err := os.Stat(ExpandHome(s))
		if err != nil || info.IsDir() {
			return invalid(p, domain.RuleExists, "file does not exist: %s", s)
		}
	case domain.KindDirectory:
		info, err := os.Stat(ExpandHome(s))
		if err != nil || !info.IsDir() {
			return invalid(p, domain.RuleExists, "directory does not exist: %s", s)
		}
	case domain.KindPath:
		if strings.TrimSpace(s) == "" || strings.ContainsRune(s, 0) {
			return invalid(p, domain.RuleFormat, "invalid path: %q", s)
		}
	case domain.KindURL:
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return invalid(p, domain.RuleFormat, "invalid URL: %s", s)
		}
	case domain.KindEmail:
		if !emailRe.MatchString(s) {
			return invalid(p, domain.RuleFormat, "invalid email: %s", s)
		}
	}
	return nil
}

// CheckDescriptor verifies the metadata a capability publishes.
func CheckDescriptor(desc domain.CapabilityDescriptor) error {
	if strings.TrimSpace(desc.Name) == "" {
		return fmt.Errorf("tool name is required")
	}
	if strings.TrimSpace(desc.Description) == "" {
		return fmt.Errorf("tool %s: description is required", desc.Name)
	}
	if desc.Category != "" {
		if _, ok := domain.ParseCategory(string(desc.Category)); !ok {
			return fmt.Errorf("tool %s: unknown category %q", desc.Name, desc.Category)
		}
	}
	seen := make(map[string]bool, len(desc.Parameters))
	for _, p := range desc.Parameters {
		if p.Name == "" {
			return fmt.Errorf("tool %s: parameter without name", desc.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("tool %s: duplicate parameter %q", desc.Name, p.Name)
		}
		seen[p.Name] = true
		if !knownKind(p.Kind) {
			return fmt.Errorf("tool %s: parameter %q has unknown kind %q", desc.Name, p.Name, p.Kind)
		}
	}
	return nil
}

// WithDefaults returns a copy of params with declared defaults filled in for
// absent optional parameters.
func WithDefaults(desc domain.CapabilityDescriptor, params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+len(desc.Parameters))
	for k, v := range params {
		out[k] = v
	}
	for _, p := range desc.Parameters {
		if v, ok := out[p.Name]; (!ok || v == nil) && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}

func invalid(p domain.ParameterSchema, rule, format string, args ...any) error {
	return &domain.ValidationError{
		Parameter: p.Name,
		Rule:      rule,
		Message:   fmt.Sprintf(format, args...),
	}
}

func knownKind(k domain.ParameterKind) bool {
	switch k {
	case domain.KindString, domain.KindInteger, domain.KindFloat, domain.KindBoolean,
		domain.KindPath, domain.KindURL, domain.KindEmail, domain.KindList, domain.KindMap,
		domain.KindFile, domain.KindDirectory:
		return true
	}
	return false
}

func isNumericKind(k domain.ParameterKind) bool {
	return k == domain.KindInteger || k == domain.KindFloat
}

func kindMatches(k domain.ParameterKind, v any) bool {
	switch k {
	case domain.KindString, domain.KindPath, domain.KindURL, domain.KindEmail,
		domain.KindFile, domain.KindDirectory:
		_, ok := v.(string)
		return ok
	case domain.KindInteger:
		return isInteger(v)
	case domain.KindFloat:
		_, ok := toFloat(v)
		return ok
	case domain.KindBoolean:
		_, ok := v.(bool)
		return ok
	case domain.KindList:
		rk := reflect.ValueOf(v).Kind()
		return rk == reflect.Slice || rk == reflect.Array
	case domain.KindMap:
		return reflect.ValueOf(v).Kind() == reflect.Map
	}
	return false
}

// isInteger accepts integral floats so JSON-decoded numbers validate.
func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return n == float64(int64(n))
	case float32:
		return n == float32(int64(n))
	}
	return false
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func containsValue(choices []any, v any) bool {
	vf, vNum := toFloat(v)
	for _, c := range choices {
		if cf, ok := toFloat(c); ok && vNum {
			if cf == vf {
				return true
			}
			continue
		}
		if reflect.DeepEqual(c, v) {
			return true
		}
	}
	return false
}
