// Package agent owns the command pipeline: it drains the command queue,
// resolves each command, gates low-confidence matches behind confirmation
// and executes the selected capability.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"deskpilot/internal/bus"
	"deskpilot/internal/domain"
	"deskpilot/internal/plugin"
	"deskpilot/internal/resolver"
	"deskpilot/internal/security"
	"deskpilot/internal/tool"

	"github.com/google/uuid"
)

const (
	defaultIdlePoll       = 100 * time.Millisecond
	defaultErrorBackoff   = time.Second
	defaultConfirmTimeout = time.Minute
)

// Config holds the components the orchestrator drives. Registry, Resolver
// and Queue are required.
type Config struct {
	Registry       *tool.Registry
	Resolver       *resolver.Resolver
	Loader         *plugin.Loader // optional: enables /reload and reload requests
	Queue          *bus.Queue
	Events         *bus.EventBus         // optional
	Store          domain.ExecutionStore // optional
	Reloads        <-chan string         // optional: changed paths from the plugin watcher
	IdlePoll       time.Duration
	ErrorBackoff   time.Duration
	ConfirmTimeout time.Duration
	Logger         *slog.Logger
}

// Orchestrator is the lone consumer of the command queue. Reloads are
// applied from the same goroutine, between commands.
type Orchestrator struct {
	registry *tool.Registry
	resolver *resolver.Resolver
	loader   *plugin.Loader
	queue    *bus.Queue
	events   *bus.EventBus
	store    domain.ExecutionStore
	reloads  <-chan string
	logger   *slog.Logger

	idlePoll       time.Duration
	errorBackoff   time.Duration
	confirmTimeout time.Duration

	mu         sync.RWMutex
	confirmers map[string]security.ConfirmFunc

	processed atomic.Int64
	succeeded atomic.Int64
	started   time.Time
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		registry:       cfg.Registry,
		resolver:       cfg.Resolver,
		loader:         cfg.Loader,
		queue:          cfg.Queue,
		events:         cfg.Events,
		store:          cfg.Store,
		reloads:        cfg.Reloads,
		logger:         cfg.Logger,
		idlePoll:       cfg.IdlePoll,
		errorBackoff:   cfg.ErrorBackoff,
		confirmTimeout: cfg.ConfirmTimeout,
		confirmers:     make(map[string]security.ConfirmFunc),
		started:        time.Now(),
	}
	if o.idlePoll <= 0 {
		o.idlePoll = defaultIdlePoll
	}
	if o.errorBackoff <= 0 {
		o.errorBackoff = defaultErrorBackoff
	}
	if o.confirmTimeout <= 0 {
		o.confirmTimeout = defaultConfirmTimeout
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// SetConfirmer registers the yes/no prompt of a channel. Commands from a
// source without one are refused when they need confirmation.
func (o *Orchestrator) SetConfirmer(source string, fn security.ConfirmFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if fn == nil {
		delete(o.confirmers, source)
		return
	}
	o.confirmers[source] = fn
}

func (o *Orchestrator) confirmer(source string) security.ConfirmFunc {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.confirmers[source]
}

// PolicyConfirm returns a confirm function for the security policy that
// asks whichever channel submitted the command being executed.
func (o *Orchestrator) PolicyConfirm() security.ConfirmFunc {
	return func(ctx context.Context, question string) (bool, error) {
		req, _ := domain.RequestFrom(ctx)
		fn := o.confirmer(req.Source)
		if fn == nil {
			return false, nil
		}
		return o.ask(ctx, fn, question)
	}
}

func (o *Orchestrator) ask(ctx context.Context, fn security.ConfirmFunc, question string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, o.confirmTimeout)
	defer cancel()
	ok, err := fn(ctx, question)
	if err != nil {
		return false, fmt.Errorf("confirmation: %w", err)
	}
	return ok, nil
}

// Execute resolves req.Text and runs the selected capability. Every outcome,
// including failures before execution, is returned as an Execution.
func (o *Orchestrator) Execute(ctx context.Context, req domain.CommandRequest) *domain.Execution {
	exec := &domain.Execution{
		ID:        req.ID,
		Source:    req.Source,
		Command:   req.Text,
		StartedAt: time.Now(),
	}
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	ctx = domain.WithRequest(ctx, req)
	defer o.finish(ctx, exec)

	parsed := o.resolver.ResolveContext(ctx, req.Text)
	exec.Parsed = &parsed

	if parsed.Unknown() {
		exec.Error = domain.ErrResolutionAmbiguous.Error()
		exec.Suggestions = parsed.Alternatives
		o.emitResolved(exec, "unknown")
		return exec
	}

	th := o.resolver.Thresholds()
	outcome := "dispatched"
	if parsed.Confidence < th.AutoDispatch {
		outcome = "confirm"
	}
	o.emitResolved(exec, outcome)

	capability, ok := o.registry.Get(parsed.ToolName)
	if !ok {
		exec.Error = fmt.Errorf("%w: %q", domain.ErrToolNotFound, parsed.ToolName).Error()
		o.emitRefused(exec, "not_found")
		return exec
	}
	if reason, invalid := o.registry.Invalid(parsed.ToolName); invalid {
		exec.Error = fmt.Errorf("%w: %s", domain.ErrDependencyUnsatisfied, reason).Error()
		o.emitRefused(exec, "dependency")
		return exec
	}

	if outcome == "confirm" {
		fn := o.confirmer(req.Source)
		if fn == nil {
			exec.Error = fmt.Sprintf("%s needs confirmation (confidence %.2f) but %s cannot ask",
				parsed.ToolName, parsed.Confidence, sourceName(req.Source))
			o.emitRefused(exec, "unconfirmed")
			return exec
		}
		yes, err := o.ask(ctx, fn, confirmQuestion(parsed))
		if err != nil {
			o.logger.Warn("confirmation failed", "id", exec.ID, "err", err)
		}
		if !yes {
			exec.Error = "cancelled"
			o.emitRefused(exec, "declined")
			return exec
		}
	}

	result := tool.SafeInvoke(ctx, capability, parsed.Parameters)
	exec.Result = result
	exec.Success = result.Success
	if !result.Success {
		exec.Error = result.Error
	} else {
		o.resolver.Remember(parsed)
	}

	o.emit(bus.EventToolExecuted, map[string]any{
		"id":       exec.ID,
		"tool":     parsed.ToolName,
		"success":  result.Success,
		"duration": time.Since(exec.StartedAt),
	})
	return exec
}

func (o *Orchestrator) finish(ctx context.Context, exec *domain.Execution) {
	exec.Duration = time.Since(exec.StartedAt)
	o.processed.Add(1)
	if exec.Success {
		o.succeeded.Add(1)
	}

	toolName := ""
	if exec.Parsed != nil {
		toolName = exec.Parsed.ToolName
	}
	o.logger.Info("command processed",
		"id", exec.ID,
		"source", exec.Source,
		"tool", toolName,
		"success", exec.Success,
		"duration", exec.Duration.Round(time.Millisecond),
	)

	if o.store != nil {
		// The caller's context may be cancelled; the record is still written.
		if err := o.store.RecordExecution(context.WithoutCancel(ctx), *exec); err != nil {
			o.logger.Warn("failed to record execution", "id", exec.ID, "err", err)
		}
	}
}

func (o *Orchestrator) emitResolved(exec *domain.Execution, outcome string) {
	o.emit(bus.EventCommandResolved, map[string]any{
		"id":         exec.ID,
		"command":    exec.Command,
		"tool":       exec.Parsed.ToolName,
		"confidence": exec.Parsed.Confidence,
		"outcome":    outcome,
	})
}

func (o *Orchestrator) emitRefused(exec *domain.Execution, reason string) {
	o.logger.Info("command refused", "id", exec.ID, "tool", exec.Parsed.ToolName, "reason", reason)
	o.emit(bus.EventToolRefused, map[string]any{
		"id":     exec.ID,
		"tool":   exec.Parsed.ToolName,
		"reason": reason,
	})
}

func (o *Orchestrator) emit(eventType string, payload map[string]any) {
	if o.events == nil {
		return
	}
	o.events.Emit(bus.Event{Type: eventType, Source: "agent", Payload: payload})
}

func confirmQuestion(p domain.ParsedCommand) string {
	q := fmt.Sprintf("Run %s", p.ToolName)
	if len(p.Parameters) > 0 {
		q += " with " + formatParams(p.Parameters)
	}
	return fmt.Sprintf("%s? (confidence %.2f)", q, p.Confidence)
}

func sourceName(source string) string {
	if source == "" {
		return "this caller"
	}
	return source
}
