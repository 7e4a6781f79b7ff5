// Package security gates shell-like capabilities behind a command policy.
package security

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"deskpilot/internal/config"
	"deskpilot/internal/domain"
)

// ConfirmFunc asks the user a yes/no question.
type ConfirmFunc func(ctx context.Context, question string) (bool, error)

// AuditLogger persists audit entries.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry domain.AuditEntry) error
}

// chainRe finds command separators and substitutions. A command containing
// one is never whitelisted.
var chainRe = regexp.MustCompile("[;&|`\n]|\\$\\(")

// Policy evaluates command lines against blacklist, whitelist and confirm
// patterns, then falls back to the default policy.
type Policy struct {
	defaultPolicy string
	audit         bool
	confirmFn     ConfirmFunc
	auditLogger   AuditLogger
	logger        *slog.Logger

	blacklist []*regexp.Regexp
	whitelist []*regexp.Regexp
	confirm   []*regexp.Regexp
}

var _ domain.CommandPolicy = (*Policy)(nil)

func NewPolicy(cfg config.SecurityConfig, confirmFn ConfirmFunc, auditLogger AuditLogger, logger *slog.Logger) (*Policy, error) {
	p := &Policy{
		defaultPolicy: cfg.DefaultPolicy,
		audit:         cfg.AuditLog,
		confirmFn:     confirmFn,
		auditLogger:   auditLogger,
		logger:        logger,
	}

	var err error
	if p.blacklist, err = compilePatterns(cfg.Blacklist, false); err != nil {
		return nil, fmt.Errorf("invalid blacklist pattern: %w", err)
	}
	if p.whitelist, err = compilePatterns(cfg.Whitelist, true); err != nil {
		return nil, fmt.Errorf("invalid whitelist pattern: %w", err)
	}
	if p.confirm, err = compilePatterns(cfg.ConfirmPatterns, false); err != nil {
		return nil, fmt.Errorf("invalid confirm pattern: %w", err)
	}
	return p, nil
}

// SetConfirmFunc replaces the confirmation callback. Channels install theirs
// once they are running.
func (p *Policy) SetConfirmFunc(fn ConfirmFunc) {
	p.confirmFn = fn
}

func (p *Policy) Check(ctx context.Context, toolName string, command string) (domain.SecurityAction, error) {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return domain.ActionBlock, nil
	}

	for _, re := range p.blacklist {
		if re.MatchString(cmd) {
			p.logger.Warn("command blocked by blacklist", "tool", toolName, "command", cmd, "pattern", re.String())
			p.record(ctx, "command_blocked", toolName, cmd, "blocked", "blacklist match: "+re.String())
			return domain.ActionBlock, nil
		}
	}

	if !chainRe.MatchString(cmd) {
		for _, re := range p.whitelist {
			if re.MatchString(cmd) {
				p.record(ctx, "tool_exec", toolName, cmd, "allowed", "whitelist match: "+re.String())
				return domain.ActionAllow, nil
			}
		}
	}

	for _, re := range p.confirm {
		if re.MatchString(cmd) {
			p.logger.Info("command requires confirmation", "tool", toolName, "command", cmd)
			return domain.ActionConfirm, nil
		}
	}

	switch p.defaultPolicy {
	case "allow":
		p.record(ctx, "tool_exec", toolName, cmd, "allowed", "default policy: allow")
		return domain.ActionAllow, nil
	case "deny":
		p.record(ctx, "command_blocked", toolName, cmd, "blocked", "default policy: deny")
		return domain.ActionBlock, nil
	default:
		return domain.ActionConfirm, nil
	}
}

// RequestConfirmation denies when no confirmation callback is installed.
func (p *Policy) RequestConfirmation(ctx context.Context, toolName string, command string) (bool, error) {
	if p.confirmFn == nil {
		p.record(ctx, "confirm_no", toolName, command, "denied", "no confirmation handler")
		return false, nil
	}

	question := fmt.Sprintf("Confirm %s:\n\n  %s\n\nAllow? (yes/no)", toolName, command)
	ok, err := p.confirmFn(ctx, question)
	switch {
	case err != nil:
		p.record(ctx, "confirm_no", toolName, command, "denied", "confirmation error: "+err.Error())
		return false, err
	case ok:
		p.record(ctx, "confirm_yes", toolName, command, "confirmed", "user confirmed")
	default:
		p.record(ctx, "confirm_no", toolName, command, "denied", "user denied")
	}
	return ok, nil
}

func (p *Policy) record(ctx context.Context, action, toolName, command, result, details string) {
	if !p.audit || p.auditLogger == nil {
		return
	}
	err := p.auditLogger.LogAudit(ctx, domain.AuditEntry{
		Action:   action,
		ToolName: toolName,
		Command:  command,
		Result:   result,
		Details:  details,
	})
	if err != nil {
		p.logger.Warn("audit write failed", "err", err)
	}
}

// compilePatterns turns plain words into case-insensitive literals and keeps
// anything with regex metacharacters as a regex. Whitelist literals anchor
// to the program name.
func compilePatterns(patterns []string, anchorProgram bool) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pat := range patterns {
		var expr string
		switch {
		case isRegex(pat):
			expr = pat
		case anchorProgram:
			expr = `(?i)^` + regexp.QuoteMeta(pat) + `(\s|$)`
		default:
			expr = `(?i)` + regexp.QuoteMeta(pat)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pat, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func isRegex(s string) bool {
	return strings.ContainsAny(s, `()[]{}|^$.*+?\`)
}
