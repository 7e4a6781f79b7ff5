package domain

import (
	"context"
	"strings"
	"time"
)

// Category groups capabilities for enumeration and verb-based lookup.
type Category string

const (
	CategoryFileOperations  Category = "file_operations"
	CategorySystemControl   Category = "system_control"
	CategoryMediaProcessing Category = "media_processing"
	CategoryWebAutomation   Category = "web_automation"
	CategoryDevelopment     Category = "development"
	CategoryCommunication   Category = "communication"
	CategoryProductivity    Category = "productivity"
	CategoryEntertainment   Category = "entertainment"
	CategoryUtilities       Category = "utilities"
	CategoryCustom          Category = "custom"
)

// Categories lists every category in declaration order.
var Categories = []Category{
	CategoryFileOperations,
	CategorySystemControl,
	CategoryMediaProcessing,
	CategoryWebAutomation,
	CategoryDevelopment,
	CategoryCommunication,
	CategoryProductivity,
	CategoryEntertainment,
	CategoryUtilities,
	CategoryCustom,
}

// ParseCategory accepts either the lowercase value or the upper-case constant
// name (FILE_OPERATIONS). Unknown values map to CategoryCustom and ok=false.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if strings.EqualFold(string(c), s) {
			return c, true
		}
	}
	return CategoryCustom, false
}

// ParameterKind is the declared type of a capability parameter.
type ParameterKind string

const (
	KindString    ParameterKind = "string"
	KindInteger   ParameterKind = "integer"
	KindFloat     ParameterKind = "float"
	KindBoolean   ParameterKind = "boolean"
	KindPath      ParameterKind = "path"
	KindURL       ParameterKind = "url"
	KindEmail     ParameterKind = "email"
	KindList      ParameterKind = "list"
	KindMap       ParameterKind = "map"
	KindFile      ParameterKind = "file"
	KindDirectory ParameterKind = "directory"
)

// ParameterSchema describes one input a capability accepts.
type ParameterSchema struct {
	Name        string        `json:"name" yaml:"name"`
	Kind        ParameterKind `json:"kind" yaml:"kind"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool          `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any           `json:"default,omitempty" yaml:"default,omitempty"`
	Choices     []any         `json:"choices,omitempty" yaml:"choices,omitempty"`
	Min         *float64      `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64      `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern     string        `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// CapabilityDescriptor is the metadata a capability publishes about itself.
type CapabilityDescriptor struct {
	Name                  string            `json:"name" yaml:"name"`
	Description           string            `json:"description" yaml:"description"`
	Category              Category          `json:"category" yaml:"category"`
	Version               string            `json:"version,omitempty" yaml:"version,omitempty"`
	Author                string            `json:"author,omitempty" yaml:"author,omitempty"`
	Keywords              []string          `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Parameters            []ParameterSchema `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Requirements          []string          `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	Platforms             []string          `json:"platforms,omitempty" yaml:"platforms,omitempty"`
	MinimumRuntimeVersion string            `json:"minimum_runtime_version,omitempty" yaml:"minimum_runtime_version,omitempty"`
	Examples              []string          `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// Parameter returns the schema for name, if declared.
func (d CapabilityDescriptor) Parameter(name string) (ParameterSchema, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSchema{}, false
}

// Capability is a named unit of invocable functionality.
// Invoke receives parameters that already passed validation; a returned error
// is an execution failure and is converted to a failed ToolResult by callers.
type Capability interface {
	Describe() CapabilityDescriptor
	Invoke(ctx context.Context, params map[string]any) (*ToolResult, error)
}

// UnitFactory is the entry point of a compiled-in plugin unit.
type UnitFactory func() ([]Capability, error)

// ToolResult is the outcome of one capability invocation.
type ToolResult struct {
	Success       bool           `json:"success"`
	Message       string         `json:"message"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime float64        `json:"execution_time"`
	Timestamp     time.Time      `json:"timestamp"`
}

// OK builds a successful result.
func OK(message string, data map[string]any) *ToolResult {
	return &ToolResult{Success: true, Message: message, Data: data, Timestamp: time.Now()}
}

// Failed builds a failed result.
func Failed(message, errText string) *ToolResult {
	return &ToolResult{Success: false, Message: message, Error: errText, Timestamp: time.Now()}
}
