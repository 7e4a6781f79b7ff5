package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"deskpilot/internal/resolver"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3.1:8b"
)

const annotatePrompt = `You are a part-of-speech and named-entity tagger for short desktop commands.
Reply with JSON only, in this shape:
{"tokens":[{"text":"...","lemma":"...","pos":"VERB|NOUN|NUM|X"}],"entities":[{"text":"...","label":"..."}]}
Tag every word in order. Use the base form of verbs as lemma. Entity labels are
upper-case spaCy style names such as PERSON, ORG, GPE, DATE, CARDINAL, PRODUCT.`

// OllamaConfig configures an OllamaAnnotator.
type OllamaConfig struct {
	APIBase string
	Model   string
	Timeout time.Duration // per Annotate call, retries included
	Retries int
	Client  *http.Client // nil selects a pooled client
	Logger  *slog.Logger
}

// OllamaAnnotator tags tokens and entities through an Ollama chat model.
type OllamaAnnotator struct {
	apiBase string
	model   string
	timeout time.Duration
	retry   retryPolicy
	client  *http.Client
	logger  *slog.Logger
}

var _ resolver.Annotator = (*OllamaAnnotator)(nil)

func NewOllamaAnnotator(cfg OllamaConfig) *OllamaAnnotator {
	if cfg.APIBase == "" {
		cfg.APIBase = ollamaDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = ollamaDefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Client == nil {
		cfg.Client = sharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OllamaAnnotator{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		retry:   retryPolicy{retries: cfg.Retries, base: 250 * time.Millisecond},
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

// Healthy checks that the Ollama API answers.
func (o *OllamaAnnotator) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

// ollamaRequest matches the Ollama /api/chat request body.
type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []ollamaMsg    `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Message ollamaMsg `json:"message"`
	Done    bool      `json:"done"`
}

// annotationPayload is the JSON the model is asked to produce.
type annotationPayload struct {
	Tokens []struct {
		Text  string `json:"text"`
		Lemma string `json:"lemma"`
		POS   string `json:"pos"`
	} `json:"tokens"`
	Entities []struct {
		Text  string `json:"text"`
		Label string `json:"label"`
	} `json:"entities"`
}

func (o *OllamaAnnotator) Annotate(ctx context.Context, text string) (resolver.Annotation, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body, err := json.Marshal(ollamaRequest{
		Model: o.model,
		Messages: []ollamaMsg{
			{Role: "system", Content: annotatePrompt},
			{Role: "user", Content: text},
		},
		Format:  "json",
		Options: map[string]any{"temperature": 0},
	})
	if err != nil {
		return resolver.Annotation{}, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := doWithRetry(ctx, o.client, o.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, o.logger)
	if err != nil {
		return resolver.Annotation{}, fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resolver.Annotation{}, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, msg)
	}

	var chat ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return resolver.Annotation{}, fmt.Errorf("decode response: %w", err)
	}
	return parseAnnotation(chat.Message.Content)
}

// parseAnnotation converts the model's JSON reply. Code fences around the
// object are tolerated.
func parseAnnotation(content string) (resolver.Annotation, error) {
	content = strings.TrimSpace(content)
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		content = content[start : end+1]
	}

	var payload annotationPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return resolver.Annotation{}, fmt.Errorf("annotation is not JSON: %w", err)
	}

	var ann resolver.Annotation
	for _, t := range payload.Tokens {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		lemma := strings.ToLower(strings.TrimSpace(t.Lemma))
		if lemma == "" {
			lemma = strings.ToLower(t.Text)
		}
		pos := strings.ToUpper(strings.TrimSpace(t.POS))
		if pos == "" {
			pos = "X"
		}
		ann.Tokens = append(ann.Tokens, resolver.Token{Text: t.Text, Lemma: lemma, POS: pos})
	}
	for _, e := range payload.Entities {
		if e.Text == "" || e.Label == "" {
			continue
		}
		ann.Entities = append(ann.Entities, resolver.Span{Text: e.Text, Label: strings.ToUpper(e.Label)})
	}
	return ann, nil
}
