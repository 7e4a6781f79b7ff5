package metrics

import (
	"fmt"
	"time"

	"deskpilot/internal/bus"
)

const namespace = "deskpilot"

var (
	confidenceBuckets = []float64{0.1, 0.3, 0.5, 0.6, 0.7, 0.8, 0.9, 1}
	latencyBuckets    = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30}
)

// Set holds the metrics DeskPilot records while processing commands.
type Set struct {
	*Collector

	CommandsQueued *Counter
	Confidence     *Histogram
	ToolLatency    *Histogram
	QueueDepth     *Gauge
	Capabilities   *Gauge
	LoadErrors     *Gauge
}

func NewSet() *Set {
	c := NewCollector(namespace)
	return &Set{
		Collector:      c,
		CommandsQueued: c.Counter("deskpilot_commands_queued_total", "Commands accepted into the queue", ""),
		Confidence:     c.Histogram("deskpilot_resolution_confidence", "Confidence of resolved commands", "", confidenceBuckets),
		ToolLatency:    c.Histogram("deskpilot_tool_latency_seconds", "Capability execution latency in seconds", "", latencyBuckets),
		QueueDepth:     c.Gauge("deskpilot_queue_depth", "Commands waiting in the queue", ""),
		Capabilities:   c.Gauge("deskpilot_capabilities", "Registered capabilities", ""),
		LoadErrors:     c.Gauge("deskpilot_load_errors", "Errors collected by the last discovery", ""),
	}
}

// Resolutions counts resolved commands by outcome (dispatched, confirmed,
// declined, unknown).
func (s *Set) Resolutions(outcome string) *Counter {
	return s.Counter("deskpilot_resolutions_total", "Resolved commands by outcome", label("outcome", outcome))
}

// Executions counts capability invocations by result (success, failure).
func (s *Set) Executions(result string) *Counter {
	return s.Counter("deskpilot_executions_total", "Capability executions by result", label("result", result))
}

func (s *Set) Refusals(reason string) *Counter {
	return s.Counter("deskpilot_refusals_total", "Commands refused before execution", label("reason", reason))
}

func (s *Set) Reloads(result string) *Counter {
	return s.Counter("deskpilot_unit_reloads_total", "Unit reloads by result", label("result", result))
}

func (s *Set) SecurityBlocks() *Counter {
	return s.Counter("deskpilot_security_blocks_total", "Command lines blocked by the security policy", "")
}

// Subscribe keeps the set current from bus events. It returns the
// subscription id for Off.
func (s *Set) Subscribe(events *bus.EventBus) string {
	return events.On(bus.Wildcard, s.observe)
}

func (s *Set) observe(e bus.Event) {
	switch e.Type {
	case bus.EventCommandQueued:
		s.CommandsQueued.Inc()
	case bus.EventCommandResolved:
		if c, ok := e.Payload["confidence"].(float64); ok {
			s.Confidence.Observe(c)
		}
		if outcome, ok := e.Payload["outcome"].(string); ok {
			s.Resolutions(outcome).Inc()
		}
	case bus.EventToolExecuted:
		result := "failure"
		if ok, _ := e.Payload["success"].(bool); ok {
			result = "success"
		}
		s.Executions(result).Inc()
		if d, ok := e.Payload["duration"].(time.Duration); ok {
			s.ToolLatency.Observe(d.Seconds())
		}
	case bus.EventToolRefused:
		reason, _ := e.Payload["reason"].(string)
		s.Refusals(reason).Inc()
	case bus.EventUnitLoaded:
		if n, ok := e.Payload["capabilities"].(int); ok {
			s.Capabilities.Set(int64(n))
		}
		if n, ok := e.Payload["errors"].(int); ok {
			s.LoadErrors.Set(int64(n))
		}
	case bus.EventUnitReloaded:
		result := "failure"
		if ok, _ := e.Payload["success"].(bool); ok {
			result = "success"
		}
		s.Reloads(result).Inc()
		if n, ok := e.Payload["capabilities"].(int); ok {
			s.Capabilities.Set(int64(n))
		}
	case bus.EventSecurityBlocked:
		s.SecurityBlocks().Inc()
	}
}

func label(key, value string) string {
	return fmt.Sprintf("%s=%q", key, value)
}
