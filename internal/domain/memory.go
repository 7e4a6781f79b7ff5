package domain

import (
	"context"
	"time"
)

// ExecutionStore persists processed commands and policy audit entries.
type ExecutionStore interface {
	RecordExecution(ctx context.Context, exec Execution) error
	RecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error)
	LogAudit(ctx context.Context, entry AuditEntry) error
	Close() error
}

// ExecutionRecord is the flattened, stored form of an Execution.
type ExecutionRecord struct {
	ID            string         `json:"id"`
	Source        string         `json:"source"`
	Command       string         `json:"command"`
	Intent        string         `json:"intent"`
	Action        string         `json:"action"`
	ToolName      string         `json:"tool_name,omitempty"`
	Confidence    float64        `json:"confidence"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Success       bool           `json:"success"`
	Message       string         `json:"message,omitempty"`
	Error         string         `json:"error,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	Suggestions   []string       `json:"suggestions,omitempty"`
	ExecutionTime float64        `json:"execution_time"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ParsedCommand rebuilds the resolution that produced this record.
func (r ExecutionRecord) ParsedCommand() ParsedCommand {
	return ParsedCommand{
		Intent:     r.Intent,
		Action:     r.Action,
		Entities:   map[string]any{},
		Confidence: r.Confidence,
		ToolName:   r.ToolName,
		Parameters: r.Parameters,
	}
}

// NewExecutionRecord flattens exec for storage.
func NewExecutionRecord(exec Execution) ExecutionRecord {
	rec := ExecutionRecord{
		ID:            exec.ID,
		Source:        exec.Source,
		Command:       exec.Command,
		Intent:        IntentUnknown,
		Action:        ActionHelp,
		Success:       exec.Success,
		Error:         exec.Error,
		Suggestions:   exec.Suggestions,
		ExecutionTime: exec.Duration.Seconds(),
		CreatedAt:     exec.StartedAt,
	}
	if p := exec.Parsed; p != nil {
		rec.Intent = p.Intent
		rec.Action = p.Action
		rec.ToolName = p.ToolName
		rec.Confidence = p.Confidence
		rec.Parameters = p.Parameters
	}
	if r := exec.Result; r != nil {
		rec.Message = r.Message
		rec.Data = r.Data
		if rec.Error == "" {
			rec.Error = r.Error
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return rec
}
