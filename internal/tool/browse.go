package tool

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"deskpilot/internal/domain"
)

// PageVisitor loads a page in a real browser and returns its title and text.
type PageVisitor interface {
	Visit(ctx context.Context, url string) (title string, text string, err error)
}

// NavigateTool opens a website. Without a browser it falls back to a plain
// HTTP fetch.
type NavigateTool struct {
	browser PageVisitor
	client  *http.Client
}

func NewNavigateTool(browser PageVisitor) *NavigateTool {
	return &NavigateTool{
		browser: browser,
		client:  &http.Client{Timeout: searchTimeout},
	}
}

func (t *NavigateTool) Describe() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:        "navigate_to_website",
		Description: "Navigate to a website and return its title and text",
		Category:    domain.CategoryWebAutomation,
		Keywords:    []string{"browse", "visit", "navigate", "website", "open url"},
		Parameters: []domain.ParameterSchema{
			{Name: "url", Kind: domain.KindString, Description: "Address to open; https:// is assumed when missing", Required: true},
		},
		Examples: []string{"browse github.com", "visit https://go.dev"},
	}
}

func (t *NavigateTool) Invoke(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
	target, err := normalizeURL(ArgsString(args, "url"))
	if err != nil {
		return nil, err
	}

	if t.browser != nil {
		title, text, err := t.browser.Visit(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("browser: %w", err)
		}
		return domain.OK("Opened "+target, map[string]any{
			"url":   target,
			"title": title,
			"text":  truncate(text, fetchMaxOutput),
			"via":   "browser",
		}), nil
	}

	text, err := fetchText(ctx, t.client, target)
	if err != nil {
		return nil, err
	}
	return domain.OK("Fetched "+target, map[string]any{
		"url":  target,
		"text": text,
		"via":  "http",
	}), nil
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("missing argument: url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid URL: missing host")
	}
	return parsed.String(), nil
}
