// Package bus carries commands from callers to the single consumer and
// replies back to the channel that sent them.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"deskpilot/internal/domain"

	"github.com/google/uuid"
)

// Queue is an unbounded FIFO of pending commands. Producers never block; a
// pending command can be dropped until the consumer takes it.
type Queue struct {
	mu       sync.Mutex
	pending  []domain.CommandRequest
	ready    chan struct{}
	handlers map[string]func(domain.Reply)
	closed   bool
	events   *EventBus
	logger   *slog.Logger
}

var _ domain.CommandQueue = (*Queue)(nil)

func New(logger *slog.Logger) *Queue {
	return &Queue{
		ready:    make(chan struct{}, 1),
		handlers: make(map[string]func(domain.Reply)),
		logger:   logger,
	}
}

// Enqueue appends req and returns its id, assigning one if req has none.
// A closed queue rejects the command and returns "".
func (q *Queue) Enqueue(req domain.CommandRequest) string {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("attempted to enqueue on closed queue", "source", req.Source)
		return ""
	}
	q.pending = append(q.pending, req)
	depth := len(q.pending)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	q.mu.Unlock()

	q.logger.Debug("command queued", "id", req.ID, "source", req.Source, "depth", depth)
	if events := q.eventBus(); events != nil {
		events.Emit(Event{
			Type:    EventCommandQueued,
			Source:  req.Source,
			Payload: map[string]any{"id": req.ID, "depth": depth},
		})
	}
	return req.ID
}

// Publish makes Enqueue emit EventCommandQueued on events.
func (q *Queue) Publish(events *EventBus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = events
}

func (q *Queue) eventBus() *EventBus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.events
}

// Drop removes a command that has not been dequeued yet.
func (q *Queue) Drop(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, req := range q.pending {
		if req.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.logger.Debug("command dropped", "id", id)
			return true
		}
	}
	return false
}

// TryDequeue pops the oldest pending command without waiting.
func (q *Queue) TryDequeue() (domain.CommandRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return domain.CommandRequest{}, false
	}
	req := q.pending[0]
	q.pending[0] = domain.CommandRequest{}
	q.pending = q.pending[1:]
	return req, true
}

// Ready is signalled after an enqueue. A signal may be stale; consumers
// re-check with TryDequeue.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// SendReply routes reply to the handler of its channel.
func (q *Queue) SendReply(reply domain.Reply) {
	q.mu.Lock()
	handler, ok := q.handlers[reply.Channel]
	q.mu.Unlock()

	if !ok {
		q.logger.Warn("no handler registered for channel", "channel", reply.Channel)
		return
	}
	handler(reply)
}

func (q *Queue) OnReply(channelName string, handler func(domain.Reply)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[channelName] = handler
}

// Close stops accepting commands. Pending commands stay dequeueable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ready)
	}
}
