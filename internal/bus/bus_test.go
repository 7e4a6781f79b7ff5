package bus

import (
	"sync"
	"testing"

	"deskpilot/internal/domain"
)

func TestQueue_FIFO(t *testing.T) {
	q := New(testLogger())

	first := q.Enqueue(domain.CommandRequest{Source: "cli", Text: "open calculator"})
	second := q.Enqueue(domain.CommandRequest{ID: "fixed", Source: "cli", Text: "take screenshot"})
	if first == "" || second != "fixed" {
		t.Fatalf("unexpected ids %q %q", first, second)
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 pending, got %d", q.Len())
	}

	req, ok := q.TryDequeue()
	if !ok || req.ID != first || req.Timestamp.IsZero() {
		t.Fatalf("unexpected first dequeue: %+v", req)
	}
	req, _ = q.TryDequeue()
	if req.Text != "take screenshot" {
		t.Errorf("unexpected second dequeue: %+v", req)
	}
	if _, ok := q.TryDequeue(); ok {
		t.Error("queue should be empty")
	}
}

func TestQueue_DropBeforeDequeue(t *testing.T) {
	q := New(testLogger())

	a := q.Enqueue(domain.CommandRequest{Text: "a"})
	b := q.Enqueue(domain.CommandRequest{Text: "b"})
	q.Enqueue(domain.CommandRequest{Text: "c"})

	if !q.Drop(b) {
		t.Fatal("pending command should be droppable")
	}
	if q.Drop(b) {
		t.Error("dropping twice should fail")
	}

	req, _ := q.TryDequeue()
	if req.ID != a {
		t.Fatalf("expected %s first", a)
	}
	if q.Drop(a) {
		t.Error("dequeued command must not be droppable")
	}
	req, _ = q.TryDequeue()
	if req.Text != "c" {
		t.Errorf("expected c, got %s", req.Text)
	}
}

func TestQueue_ReadySignal(t *testing.T) {
	q := New(testLogger())

	select {
	case <-q.Ready():
		t.Fatal("no signal expected before enqueue")
	default:
	}

	q.Enqueue(domain.CommandRequest{Text: "x"})
	q.Enqueue(domain.CommandRequest{Text: "y"})
	select {
	case <-q.Ready():
	default:
		t.Fatal("expected ready signal")
	}
}

func TestQueue_Unbounded(t *testing.T) {
	q := New(testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(domain.CommandRequest{Text: "load"})
			}
		}()
	}
	wg.Wait()

	if q.Len() != 1000 {
		t.Errorf("expected 1000 pending, got %d", q.Len())
	}
}

func TestQueue_Close(t *testing.T) {
	q := New(testLogger())
	q.Enqueue(domain.CommandRequest{Text: "before"})
	q.Close()
	q.Close()

	if id := q.Enqueue(domain.CommandRequest{Text: "after"}); id != "" {
		t.Errorf("closed queue accepted %s", id)
	}
	if !q.Closed() {
		t.Error("Closed should report true")
	}
	if req, ok := q.TryDequeue(); !ok || req.Text != "before" {
		t.Error("pending commands stay available after close")
	}
	// Drains a stale signal, then ends because the channel is closed.
	for range q.Ready() {
	}
}

func TestQueue_ReplyRouting(t *testing.T) {
	q := New(testLogger())

	var got []string
	q.OnReply("cli", func(r domain.Reply) { got = append(got, r.Content) })

	q.SendReply(domain.Reply{Channel: "cli", Content: "done"})
	q.SendReply(domain.Reply{Channel: "telegram", Content: "dropped"})

	if len(got) != 1 || got[0] != "done" {
		t.Errorf("unexpected replies %v", got)
	}
}

func TestQueue_PublishesQueuedEvents(t *testing.T) {
	q := New(testLogger())
	events := NewEventBus(testLogger(), 0)
	q.Publish(events)

	var got []Event
	events.On(EventCommandQueued, func(e Event) { got = append(got, e) })

	id := q.Enqueue(domain.CommandRequest{Source: "telegram", Text: "take screenshot"})
	q.Enqueue(domain.CommandRequest{Source: "cli", Text: "open calculator"})

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Source != "telegram" || got[0].Payload["id"] != id {
		t.Fatalf("unexpected first event: %+v", got[0])
	}
	if got[1].Payload["depth"] != 2 {
		t.Fatalf("expected depth 2, got %v", got[1].Payload["depth"])
	}
}
