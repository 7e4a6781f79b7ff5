package domain

import "context"

// Channel is a caller that submits commands and renders replies (CLI, Telegram).
type Channel interface {
	Name() string
	Start(ctx context.Context, queue CommandQueue) error
	Stop() error
	Send(ctx context.Context, chatID string, content string) error
}
