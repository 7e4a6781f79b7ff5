package domain

import "time"

// Well-known entity keys produced by entity extraction.
const (
	EntityFilePaths       = "file_paths"
	EntityURLs            = "urls"
	EntityEmails          = "emails"
	EntityNumbers         = "numbers"
	EntityQuotedStrings   = "quoted_strings"
	EntityOriginalCommand = "original_command"
)

// Intent and action values with fixed meaning.
const (
	IntentUnknown     = "unknown"
	IntentExecuteTool = "execute_tool"
	ActionHelp        = "help"
	ActionRun         = "run"
)

// CommandPattern binds a text template to an intent/action/capability triple.
// Templates may contain {file}, {path}, {app}, {text} and {number}; the rest is
// a case-insensitive regular expression.
type CommandPattern struct {
	Pattern              string            `json:"pattern" yaml:"pattern"`
	Intent               string            `json:"intent" yaml:"intent"`
	Action               string            `json:"action" yaml:"action"`
	TargetCapability     string            `json:"target_capability" yaml:"target_capability"`
	EntityToParameterMap map[string]string `json:"entity_to_parameter_map,omitempty" yaml:"entity_to_parameter_map,omitempty"`
	Examples             []string          `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// ParsedCommand is the outcome of resolving one input string.
type ParsedCommand struct {
	Intent       string         `json:"intent"`
	Action       string         `json:"action"`
	Entities     map[string]any `json:"entities"`
	Confidence   float64        `json:"confidence"`
	ToolName     string         `json:"tool_name,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Alternatives []string       `json:"alternatives,omitempty"`
}

// Unknown reports whether the command was not understood.
func (p ParsedCommand) Unknown() bool {
	return p.Intent == IntentUnknown
}

// Execution is the record of one processed command.
type Execution struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	Command     string         `json:"command"`
	Parsed      *ParsedCommand `json:"parsed,omitempty"`
	Result      *ToolResult    `json:"result,omitempty"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration"`
}
