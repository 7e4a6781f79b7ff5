package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Well-known event types.
const (
	EventCommandQueued   = "command.queued"
	EventCommandResolved = "command.resolved"
	EventToolExecuted    = "tool.executed"
	EventToolRefused     = "tool.refused"
	EventUnitLoaded      = "plugin.loaded"
	EventUnitReloaded    = "plugin.reloaded"
	EventSecurityBlocked = "security.blocked"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

const defaultEventHistory = 256

// Event is an internal notification about command processing or plugin
// activity.
type Event struct {
	Type      string
	Source    string // emitting component
	Payload   map[string]any
	Timestamp time.Time
}

type EventHandler func(Event)

type subscription struct {
	id      string
	handler EventHandler
}

// EventBus is a synchronous topic-based pub/sub with a bounded replay
// history. Handler panics are recovered and logged.
type EventBus struct {
	mu         sync.RWMutex
	subs       map[string][]subscription
	nextID     int
	history    []Event
	maxHistory int
	logger     *slog.Logger
}

// NewEventBus keeps up to historySize events for Replay; non-positive
// selects the default.
func NewEventBus(logger *slog.Logger, historySize int) *EventBus {
	if historySize <= 0 {
		historySize = defaultEventHistory
	}
	return &EventBus{
		subs:       make(map[string][]subscription),
		maxHistory: historySize,
		logger:     logger,
	}
}

// On registers handler for eventType (or Wildcard) and returns an id for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "#" + strconv.Itoa(eb.nextID)
	eb.subs[eventType] = append(eb.subs[eventType], subscription{id: id, handler: handler})
	return id
}

func (eb *EventBus) Off(eventType, id string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	subs := eb.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			eb.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit records event and calls its handlers in subscription order, exact
// type first, wildcard after.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		copy(eb.history, eb.history[1:])
		eb.history = eb.history[:len(eb.history)-1]
	}
	eb.history = append(eb.history, event)
	subs := append([]subscription(nil), eb.subs[event.Type]...)
	if event.Type != Wildcard {
		subs = append(subs, eb.subs[Wildcard]...)
	}
	eb.mu.Unlock()

	for _, s := range subs {
		eb.dispatch(s, event)
	}
}

func (eb *EventBus) dispatch(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "handler", s.id, "panic", r)
		}
	}()
	s.handler(event)
}

// Replay returns recorded events of eventType (or Wildcard) at or after since.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var out []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == Wildcard || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}
