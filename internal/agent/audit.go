package agent

import (
	"context"

	"deskpilot/internal/bus"
	"deskpilot/internal/domain"
	"deskpilot/internal/security"
)

// AuditSink stores policy audit entries and publishes blocked commands.
type AuditSink struct {
	store  domain.ExecutionStore // optional
	events *bus.EventBus         // optional
}

var _ security.AuditLogger = (*AuditSink)(nil)

func NewAuditSink(store domain.ExecutionStore, events *bus.EventBus) *AuditSink {
	return &AuditSink{store: store, events: events}
}

func (a *AuditSink) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	if entry.Result == "blocked" && a.events != nil {
		a.events.Emit(bus.Event{
			Type:   bus.EventSecurityBlocked,
			Source: "security",
			Payload: map[string]any{
				"tool":    entry.ToolName,
				"command": entry.Command,
				"details": entry.Details,
			},
		})
	}
	if a.store == nil {
		return nil
	}
	return a.store.LogAudit(ctx, entry)
}
