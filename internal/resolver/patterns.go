package resolver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"deskpilot/internal/domain"
)

// Placeholder capture rules. Keys double as entity keys.
var placeholderRules = map[string]string{
	"file":   `([^\s]+)`,
	"path":   `([^\s]+)`,
	"app":    `([a-zA-Z]+(?:\s+[a-zA-Z]+)*)`,
	"text":   `(.+)`,
	"number": `(\d+)`,
}

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

type compiledPattern struct {
	domain.CommandPattern
	re       *regexp.Regexp
	captures []string // entity key per capture group
	examples []string // lowercased
}

// compilePattern substitutes placeholders with capture groups and compiles
// the template as a case-insensitive expression.
func compilePattern(p domain.CommandPattern) (*compiledPattern, error) {
	if strings.TrimSpace(p.Pattern) == "" {
		return nil, fmt.Errorf("pattern is empty")
	}
	if p.TargetCapability == "" {
		return nil, fmt.Errorf("pattern %q: target capability is required", p.Pattern)
	}

	var captures []string
	var unknown []string
	expr := placeholderRe.ReplaceAllStringFunc(p.Pattern, func(m string) string {
		key := m[1 : len(m)-1]
		rule, ok := placeholderRules[key]
		if !ok {
			unknown = append(unknown, key)
			return m
		}
		captures = append(captures, key)
		return rule
	})
	if len(unknown) > 0 {
		return nil, fmt.Errorf("pattern %q: no extraction rule for placeholder(s) %s", p.Pattern, strings.Join(unknown, ", "))
	}

	re, err := regexp.Compile(`(?i)` + expr)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", p.Pattern, err)
	}
	// Templates may carry their own groups; entity keys bind to the placeholder groups only.
	if re.NumSubexp() != len(captures) {
		return nil, fmt.Errorf("pattern %q: use non-capturing groups (?:...) outside placeholders", p.Pattern)
	}

	examples := make([]string, len(p.Examples))
	for i, ex := range p.Examples {
		examples[i] = strings.ToLower(ex)
	}
	return &compiledPattern{CommandPattern: p, re: re, captures: captures, examples: examples}, nil
}

// match returns the placeholder entities for a structural match.
func (cp *compiledPattern) match(text string) (map[string]any, bool) {
	m := cp.re.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	found := make(map[string]any, len(cp.captures))
	for i, key := range cp.captures {
		value := strings.TrimSpace(m[i+1])
		if key == "number" {
			if n, err := strconv.Atoi(value); err == nil {
				found[key] = n
				continue
			}
		}
		found[key] = value
	}
	return found, true
}

// BuiltinPatterns returns the default pattern table in priority order.
func BuiltinPatterns() []domain.CommandPattern {
	return []domain.CommandPattern{
		{
			Pattern:              "open {app}",
			Intent:               "application",
			Action:               "launch",
			TargetCapability:     "open_application",
			EntityToParameterMap: map[string]string{"app": "app_name"},
			Examples:             []string{"open blender", "open chrome", "open vscode"},
		},
		{
			Pattern:              "start {app}",
			Intent:               "application",
			Action:               "launch",
			TargetCapability:     "open_application",
			EntityToParameterMap: map[string]string{"app": "app_name"},
			Examples:             []string{"start blender", "start notepad"},
		},
		{
			Pattern:              "copy {file} to {path}",
			Intent:               "file",
			Action:               "copy",
			TargetCapability:     "copy_files",
			EntityToParameterMap: map[string]string{"file": "source_path", "path": "destination_path"},
			Examples:             []string{"copy file.txt to documents", "copy image.jpg to desktop"},
		},
		{
			Pattern:              "move {file} to {path}",
			Intent:               "file",
			Action:               "move",
			TargetCapability:     "move_files",
			EntityToParameterMap: map[string]string{"file": "source_path", "path": "destination_path"},
			Examples:             []string{"move file.txt to documents", "move photos to backup"},
		},
		{
			Pattern:          "take screenshot",
			Intent:           "system",
			Action:           "screenshot",
			TargetCapability: "take_screenshot",
			Examples:         []string{"take screenshot", "capture screen", "screenshot"},
		},
		{
			Pattern:          "check system",
			Intent:           "system",
			Action:           "monitor",
			TargetCapability: "get_system_information",
			Examples:         []string{"check system", "system status", "monitor system"},
		},
		{
			Pattern:              "search for {text}",
			Intent:               "web",
			Action:               "search",
			TargetCapability:     "search_web",
			EntityToParameterMap: map[string]string{"text": "query"},
			Examples:             []string{"search for python tutorials", "search for weather"},
		},
		{
			Pattern:              "browse {text}",
			Intent:               "web",
			Action:               "navigate",
			TargetCapability:     "navigate_to_website",
			EntityToParameterMap: map[string]string{"text": "url"},
			Examples:             []string{"browse google.com", "browse youtube"},
		},
	}
}

// CommonCommands are offered as suggestions alongside capability names.
var CommonCommands = []string{
	"open blender",
	"take screenshot",
	"list files",
	"search web",
	"copy files",
	"move files",
	"create zip",
	"monitor system",
}
