package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deskpilot/internal/domain"
)

const (
	searchTimeout      = 15 * time.Second
	fetchMaxBytes      = 100 * 1024
	fetchMaxOutput     = 10000
	userAgentString    = "deskpilot/0.1"
	defaultDDGEndpoint = "https://api.duckduckgo.com/"
)

// WebSearchTool searches the web using the DuckDuckGo Instant Answer API.
type WebSearchTool struct {
	client   *http.Client
	endpoint string
}

func NewWebSearchTool(endpoint string) *WebSearchTool {
	if endpoint == "" {
		endpoint = defaultDDGEndpoint
	}
	return &WebSearchTool{
		client:   &http.Client{Timeout: searchTimeout},
		endpoint: endpoint,
	}
}

func (t *WebSearchTool) Describe() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:        "search_web",
		Description: "Search the web and return a summary of results",
		Category:    domain.CategoryWebAutomation,
		Keywords:    []string{"search", "google", "lookup", "find online", "web"},
		Parameters: []domain.ParameterSchema{
			{Name: "query", Kind: domain.KindString, Description: "Search query", Required: true},
			{Name: "max_results", Kind: domain.KindInteger, Description: "Related topics to include", Default: 5, Min: floatPtr(1), Max: floatPtr(20)},
		},
		Examples: []string{"search for golang generics", "search web"},
	}
}

func (t *WebSearchTool) Invoke(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
	query := ArgsString(args, "query")
	if query == "" {
		return nil, fmt.Errorf("missing argument: query")
	}
	maxResults := ArgsInt(args, "max_results")
	if maxResults <= 0 {
		maxResults = 5
	}

	endpoint := fmt.Sprintf("%s?q=%s&format=json&no_html=1&skip_disambig=1", t.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: HTTP %d", resp.StatusCode)
	}

	var ddg ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&ddg); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	var results []map[string]any
	if ddg.Abstract != "" {
		results = append(results, map[string]any{"title": ddg.Heading, "text": ddg.Abstract, "url": ddg.AbstractURL})
	}
	for _, topic := range ddg.RelatedTopics {
		if len(results) >= maxResults {
			break
		}
		if topic.Text != "" {
			results = append(results, map[string]any{"text": topic.Text, "url": topic.FirstURL})
		}
	}

	data := map[string]any{"query": query, "results": results}
	if ddg.Answer != "" {
		data["answer"] = ddg.Answer
	}
	if len(results) == 0 && ddg.Answer == "" {
		return domain.OK(fmt.Sprintf("No instant results found for: %s", query), data), nil
	}
	return domain.OK(fmt.Sprintf("%d results for: %s", len(results), query), data), nil
}

// DuckDuckGo response types
type ddgResponse struct {
	Abstract      string     `json:"Abstract"`
	AbstractURL   string     `json:"AbstractURL"`
	Heading       string     `json:"Heading"`
	Answer        string     `json:"Answer"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

type ddgTopic struct {
	Text     string `json:"Text"`
	FirstURL string `json:"FirstURL"`
}

// fetchText downloads rawURL over HTTP and strips markup.
func fetchText(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	text := stripHTMLTags(string(body))
	if len(text) > fetchMaxOutput {
		text = text[:fetchMaxOutput] + "\n... (truncated)"
	}
	return text, nil
}

// stripHTMLTags removes HTML tags and blank lines.
func stripHTMLTags(s string) string {
	var result strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			result.WriteRune(r)
		}
	}
	var cleaned []string
	for _, line := range strings.Split(result.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
