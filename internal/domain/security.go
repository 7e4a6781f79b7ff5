package domain

import (
	"context"
	"time"
)

type SecurityAction string

const (
	ActionAllow   SecurityAction = "allow"
	ActionBlock   SecurityAction = "block"
	ActionConfirm SecurityAction = "confirm"
)

// CommandPolicy decides whether a shell-like command line may run.
type CommandPolicy interface {
	Check(ctx context.Context, toolName string, command string) (SecurityAction, error)
	RequestConfirmation(ctx context.Context, toolName string, command string) (bool, error)
}

type AuditEntry struct {
	Action   string // tool_exec | command_blocked | confirm_yes | confirm_no
	ToolName string
	Command  string
	Result   string // allowed | blocked | confirmed | denied
	Details  string
}

// PairedUser is a channel user admitted with a pairing code.
type PairedUser struct {
	Channel   string     `json:"channel"`
	UserID    string     `json:"user_id"`
	PairedAt  time.Time  `json:"paired_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"` // nil never expires
}

// PairingStore persists paired users.
type PairingStore interface {
	PairUser(ctx context.Context, u PairedUser) error
	IsPaired(ctx context.Context, channel, userID string, at time.Time) (bool, error)
	Unpair(ctx context.Context, channel, userID string) (bool, error)
	PairedUsers(ctx context.Context) ([]PairedUser, error)
}
