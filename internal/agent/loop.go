package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"deskpilot/internal/bus"
	"deskpilot/internal/domain"
	"deskpilot/internal/plugin"
)

// Run drains the queue one command at a time until ctx is cancelled or the
// queue is closed and empty. Pending reload requests are applied before the
// next command.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator started", "idle_poll", o.idlePoll, "capabilities", o.registry.Len())

	idle := time.NewTimer(o.idlePoll)
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			o.logger.Info("orchestrator stopping")
			return nil
		}
		o.drainReloads()

		if req, ok := o.queue.TryDequeue(); ok {
			o.process(ctx, req)
			continue
		}
		if o.queue.Closed() {
			o.logger.Info("queue closed, orchestrator stopping")
			return nil
		}

		idle.Reset(o.idlePoll)
		select {
		case <-ctx.Done():
		case <-o.queue.Ready():
		case path, ok := <-o.reloads:
			if !ok {
				o.reloads = nil
				continue
			}
			o.applyReload(path)
		case <-idle.C:
		}
	}
}

func (o *Orchestrator) drainReloads() {
	for {
		select {
		case path, ok := <-o.reloads:
			if !ok {
				o.reloads = nil
				return
			}
			o.applyReload(path)
		default:
			return
		}
	}
}

// process handles one dequeued command and replies to its channel. A panic
// is logged, answered with an error reply and followed by the error backoff.
func (o *Orchestrator) process(ctx context.Context, req domain.CommandRequest) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("command processing panicked",
				"id", req.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			o.safeReply(req, fmt.Sprintf("Sorry, something went wrong processing %q.", req.Text))
			select {
			case <-ctx.Done():
			case <-time.After(o.errorBackoff):
			}
		}
	}()

	if cmd := ParseCommand(req.Text); cmd != nil {
		if res := o.HandleCommand(ctx, cmd); res.Handled {
			o.reply(req, res.Response, nil)
			return
		}
	}

	exec := o.Execute(ctx, req)
	o.reply(req, FormatExecution(exec), exec)
}

func (o *Orchestrator) reply(req domain.CommandRequest, content string, exec *domain.Execution) {
	o.queue.SendReply(domain.Reply{
		Channel:   req.Source,
		ChatID:    req.ChatID,
		Content:   content,
		Execution: exec,
	})
}

// safeReply is used after a panic; a second panic from the reply handler
// is logged and dropped.
func (o *Orchestrator) safeReply(req domain.CommandRequest, content string) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("reply handler panicked", "id", req.ID, "channel", req.Source, "panic", r)
		}
	}()
	o.reply(req, content, nil)
}

// Discover runs a full plugin discovery pass and publishes its totals.
func (o *Orchestrator) Discover() plugin.DiscoveryResult {
	if o.loader == nil {
		return plugin.DiscoveryResult{}
	}
	res := o.loader.DiscoverAndLoadAll()
	for _, err := range res.Errors {
		o.logger.Warn("capability load failure", "err", err)
	}
	o.emit(bus.EventUnitLoaded, map[string]any{
		"capabilities": o.registry.Len(),
		"plugins":      res.PluginsLoaded,
		"errors":       len(res.Errors),
	})
	return res
}

// applyReload reacts to a changed path reported by the plugin watcher.
func (o *Orchestrator) applyReload(path string) {
	if o.loader == nil {
		return
	}
	res := o.loader.ReloadPath(path)
	if !res.Success {
		o.logger.Warn("reload failed", "path", path, "err", res.Error)
	}
	o.emitReloaded(path, res)
}

// Reload reloads one unit by id. Outside Run it must not race with Execute.
func (o *Orchestrator) Reload(unit string) plugin.ReloadResult {
	if o.loader == nil {
		return plugin.ReloadResult{Error: "plugin loader not configured"}
	}
	res := o.loader.Reload(unit)
	o.emitReloaded(unit, res)
	return res
}

func (o *Orchestrator) emitReloaded(target string, res plugin.ReloadResult) {
	o.emit(bus.EventUnitReloaded, map[string]any{
		"target":       target,
		"success":      res.Success,
		"reloaded":     res.ReloadedCount,
		"capabilities": o.registry.Len(),
	})
}

// WarmHistory replays the most recent successful executions from the store
// into the resolver history, oldest first.
func (o *Orchestrator) WarmHistory(ctx context.Context, limit int) (int, error) {
	if o.store == nil || limit <= 0 {
		return 0, nil
	}
	recs, err := o.store.RecentExecutions(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("load recent executions: %w", err)
	}
	n := 0
	for i := len(recs) - 1; i >= 0; i-- {
		if !recs[i].Success || recs[i].ToolName == "" {
			continue
		}
		o.resolver.Remember(recs[i].ParsedCommand())
		n++
	}
	o.logger.Debug("resolver history warmed", "entries", n)
	return n, nil
}
