package metrics

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"deskpilot/internal/bus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCounter_SameKeyReturnsSameCounter(t *testing.T) {
	c := NewCollector("test")
	a := c.Counter("x_total", "help", `k="v"`)
	b := c.Counter("x_total", "help", `k="v"`)
	if a != b {
		t.Fatal("expected the same counter for the same name and labels")
	}
	a.Inc()
	b.Add(2)
	if a.Value() != 3 {
		t.Fatalf("expected 3, got %d", a.Value())
	}
}

func TestCounter_ConcurrentIncrements(t *testing.T) {
	c := NewCollector("test")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Counter("hits_total", "hits", "").Inc()
			}
		}()
	}
	wg.Wait()
	if got := c.Counter("hits_total", "hits", "").Value(); got != 5000 {
		t.Fatalf("expected 5000, got %d", got)
	}
}

func TestGauge(t *testing.T) {
	c := NewCollector("test")
	g := c.Gauge("depth", "queue depth", "")
	g.Set(5)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 4 {
		t.Fatalf("expected 4, got %d", g.Value())
	}
}

func TestHistogram_AddsInfBucket(t *testing.T) {
	c := NewCollector("")
	h := c.Histogram("latency_seconds", "latency", "", []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(7)

	var sb strings.Builder
	if err := c.WriteText(&sb); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := sb.String()

	for _, want := range []string{
		"# TYPE latency_seconds histogram",
		`latency_seconds_bucket{le="0.1"} 1`,
		`latency_seconds_bucket{le="1"} 2`,
		`latency_seconds_bucket{le="+Inf"} 3`,
		"latency_seconds_count 3",
		"latency_seconds_sum 7.550000",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "uptime_seconds") {
		t.Error("collector without namespace should not render uptime")
	}
}

func TestWriteText_StableOrder(t *testing.T) {
	c := NewCollector("test")
	c.Counter("b_total", "b", "").Inc()
	c.Counter("a_total", "a", `x="2"`).Inc()
	c.Counter("a_total", "a", `x="1"`).Inc()

	var sb strings.Builder
	c.WriteText(&sb)
	out := sb.String()

	first := strings.Index(out, `a_total{x="1"}`)
	second := strings.Index(out, `a_total{x="2"}`)
	third := strings.Index(out, "b_total 1")
	if first < 0 || second < 0 || third < 0 {
		t.Fatalf("missing samples in:\n%s", out)
	}
	if !(first < second && second < third) {
		t.Fatalf("samples out of order:\n%s", out)
	}
	if strings.Count(out, "# HELP a_total") != 1 {
		t.Fatalf("HELP should be written once per name:\n%s", out)
	}
	if !strings.Contains(out, "test_uptime_seconds") {
		t.Fatal("expected uptime gauge")
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector("test")
	c.Counter("requests_total", "requests", "").Inc()

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "requests_total 1") {
		t.Fatalf("unexpected body:\n%s", body)
	}
}

func TestSet_ObservesBusEvents(t *testing.T) {
	s := NewSet()
	events := bus.NewEventBus(testLogger(), 0)
	s.Subscribe(events)

	events.Emit(bus.Event{Type: bus.EventCommandQueued})
	events.Emit(bus.Event{Type: bus.EventCommandQueued})
	events.Emit(bus.Event{Type: bus.EventCommandResolved, Payload: map[string]any{"outcome": "dispatched", "confidence": 0.9}})
	events.Emit(bus.Event{Type: bus.EventCommandResolved, Payload: map[string]any{"outcome": "unknown", "confidence": 0.0}})
	events.Emit(bus.Event{Type: bus.EventToolExecuted, Payload: map[string]any{"success": true, "duration": 20 * time.Millisecond}})
	events.Emit(bus.Event{Type: bus.EventToolExecuted, Payload: map[string]any{"success": false}})
	events.Emit(bus.Event{Type: bus.EventToolRefused, Payload: map[string]any{"reason": "declined"}})
	events.Emit(bus.Event{Type: bus.EventUnitLoaded, Payload: map[string]any{"capabilities": 12, "errors": 2}})
	events.Emit(bus.Event{Type: bus.EventUnitReloaded, Payload: map[string]any{"success": true, "capabilities": 13}})
	events.Emit(bus.Event{Type: bus.EventSecurityBlocked})

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"queued", s.CommandsQueued.Value(), 2},
		{"dispatched", s.Resolutions("dispatched").Value(), 1},
		{"unknown", s.Resolutions("unknown").Value(), 1},
		{"confidence observations", s.Confidence.Count(), 2},
		{"success", s.Executions("success").Value(), 1},
		{"failure", s.Executions("failure").Value(), 1},
		{"latency observations", s.ToolLatency.Count(), 1},
		{"refusals", s.Refusals("declined").Value(), 1},
		{"capabilities", s.Capabilities.Value(), 13},
		{"load errors", s.LoadErrors.Value(), 2},
		{"reloads", s.Reloads("success").Value(), 1},
		{"blocks", s.SecurityBlocks().Value(), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}

	var sb strings.Builder
	s.WriteText(&sb)
	if !strings.Contains(sb.String(), `deskpilot_resolutions_total{outcome="dispatched"} 1`) {
		t.Fatalf("unexpected exposition:\n%s", sb.String())
	}
}
