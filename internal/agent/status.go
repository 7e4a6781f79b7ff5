package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"deskpilot/internal/domain"
)

// Status is a snapshot of the running system.
type Status struct {
	Capabilities int                     `json:"capabilities"`
	Categories   map[domain.Category]int `json:"categories"`
	Units        int                     `json:"units"`
	Invalid      int                     `json:"invalid"`
	QueueDepth   int                     `json:"queue_depth"`
	Processed    int64                   `json:"processed"`
	Succeeded    int64                   `json:"succeeded"`
	Stored       int                     `json:"stored,omitempty"`
	Uptime       time.Duration           `json:"uptime"`
}

// statsStore is implemented by stores that can count their executions.
type statsStore interface {
	Stats(ctx context.Context) (total, succeeded int, err error)
}

func (o *Orchestrator) Status(ctx context.Context) Status {
	st := Status{
		Capabilities: o.registry.Len(),
		Categories:   o.registry.CategoryCounts(),
		Processed:    o.processed.Load(),
		Succeeded:    o.succeeded.Load(),
		Uptime:       time.Since(o.started).Round(time.Second),
	}
	if o.queue != nil {
		st.QueueDepth = o.queue.Len()
	}
	if o.loader != nil {
		st.Units = len(o.loader.Units())
	}
	for _, name := range o.registry.Names() {
		if _, invalid := o.registry.Invalid(name); invalid {
			st.Invalid++
		}
	}
	if s, ok := o.store.(statsStore); ok {
		if total, _, err := s.Stats(ctx); err == nil {
			st.Stored = total
		}
	}
	return st
}

func (s Status) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**DeskPilot v%s**\n\n", Version)
	fmt.Fprintf(&sb, "Capabilities: %d in %d units", s.Capabilities, s.Units)
	if s.Invalid > 0 {
		fmt.Fprintf(&sb, " (%d unavailable)", s.Invalid)
	}
	sb.WriteString("\n")

	cats := make([]string, 0, len(s.Categories))
	for c, n := range s.Categories {
		cats = append(cats, fmt.Sprintf("%s=%d", c, n))
	}
	sort.Strings(cats)
	if len(cats) > 0 {
		fmt.Fprintf(&sb, "Categories: %s\n", strings.Join(cats, ", "))
	}

	fmt.Fprintf(&sb, "Queue: %d pending\n", s.QueueDepth)
	fmt.Fprintf(&sb, "Processed: %d (%d succeeded)\n", s.Processed, s.Succeeded)
	if s.Stored > 0 {
		fmt.Fprintf(&sb, "Stored executions: %d\n", s.Stored)
	}
	fmt.Fprintf(&sb, "Uptime: %s", s.Uptime)
	return sb.String()
}
