package domain

import (
	"context"
	"time"
)

// CommandRequest is a natural-language command submitted by a caller.
type CommandRequest struct {
	ID        string
	Source    string // channel name: cli, telegram, api
	ChatID    string
	SenderID  string
	Text      string
	Timestamp time.Time
}

// Reply carries the outcome of a command back to its channel.
type Reply struct {
	Channel   string
	ChatID    string
	Content   string
	Execution *Execution
}

type requestKey struct{}

// WithRequest attaches the request being processed to ctx so that prompts
// raised during execution can reach the caller that sent it.
func WithRequest(ctx context.Context, req CommandRequest) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

// RequestFrom returns the request attached by WithRequest.
func RequestFrom(ctx context.Context) (CommandRequest, bool) {
	req, ok := ctx.Value(requestKey{}).(CommandRequest)
	return req, ok
}
