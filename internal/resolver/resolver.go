// Package resolver turns free-form command text into a scored capability
// selection with extracted entities and invocation parameters.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"

	"deskpilot/internal/domain"
)

// Catalog is the read view of the capability registry the resolver needs.
type Catalog interface {
	Descriptors() []domain.CapabilityDescriptor
}

// Thresholds are the confidence constants of the resolution ladder.
type Thresholds struct {
	PatternMatch        float64 `json:"patternMatch"`
	ExampleSimilarity   float64 `json:"exampleSimilarity"`
	AnnotatorMatch      float64 `json:"annotatorMatch"`
	NameContainment     float64 `json:"nameContainment"`
	KeywordContainment  float64 `json:"keywordContainment"`
	FuzzyTool           float64 `json:"fuzzyTool"`
	Actionable          float64 `json:"actionable"`
	AutoDispatch        float64 `json:"autoDispatch"`
	PatternShortCircuit float64 `json:"patternShortCircuit"`
	Suggestion          float64 `json:"suggestion"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		PatternMatch:        0.9,
		ExampleSimilarity:   0.8,
		AnnotatorMatch:      0.8,
		NameContainment:     0.8,
		KeywordContainment:  0.6,
		FuzzyTool:           0.7,
		Actionable:          0.3,
		AutoDispatch:        0.7,
		PatternShortCircuit: 0.7,
		Suggestion:          0.6,
	}
}

const (
	// maxFuzzyRunes bounds the input the similarity stages score. Exact
	// pattern, name and keyword containment still see the whole text.
	maxFuzzyRunes = 200

	defaultHistoryCap     = 100
	defaultHistoryKeep    = 50
	defaultHistoryLimit   = 10
	defaultMaxSuggestions = 3
)

// Options configures a Resolver. Zero values select defaults.
type Options struct {
	Catalog        Catalog
	Annotator      Annotator // optional
	Thresholds     *Thresholds
	Patterns       []domain.CommandPattern // nil selects BuiltinPatterns
	Examples       []string                // nil selects CommonCommands
	HistoryCap     int
	HistoryKeep    int
	MaxSuggestions int
	Logger         *slog.Logger
}

// Resolver runs the pattern, annotator and tool-name stages and keeps a
// bounded history of executed commands.
type Resolver struct {
	mu             sync.RWMutex
	catalog        Catalog
	annotator      Annotator
	th             Thresholds
	patterns       []*compiledPattern
	examples       []string
	history        []domain.ParsedCommand
	historyCap     int
	historyKeep    int
	maxSuggestions int
	logger         *slog.Logger
}

func New(opts Options) (*Resolver, error) {
	r := &Resolver{
		catalog:        opts.Catalog,
		annotator:      opts.Annotator,
		th:             DefaultThresholds(),
		examples:       opts.Examples,
		historyCap:     opts.HistoryCap,
		historyKeep:    opts.HistoryKeep,
		maxSuggestions: opts.MaxSuggestions,
		logger:         opts.Logger,
	}
	if opts.Thresholds != nil {
		r.th = *opts.Thresholds
		if r.th.PatternShortCircuit <= 0 {
			r.th.PatternShortCircuit = DefaultThresholds().PatternShortCircuit
		}
	}
	if r.examples == nil {
		r.examples = CommonCommands
	}
	if r.historyCap <= 0 {
		r.historyCap = defaultHistoryCap
	}
	if r.historyKeep <= 0 || r.historyKeep > r.historyCap {
		r.historyKeep = min(defaultHistoryKeep, r.historyCap)
	}
	if r.maxSuggestions <= 0 {
		r.maxSuggestions = defaultMaxSuggestions
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	patterns := opts.Patterns
	if patterns == nil {
		patterns = BuiltinPatterns()
	}
	for _, p := range patterns {
		if err := r.AddPattern(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Thresholds returns the active confidence constants.
func (r *Resolver) Thresholds() Thresholds {
	return r.th
}

// AddPattern compiles p and appends it to the pattern table. Earlier patterns
// win ties.
func (r *Resolver) AddPattern(p domain.CommandPattern) error {
	cp, err := compilePattern(p)
	if err != nil {
		return fmt.Errorf("add pattern: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, cp)
	r.logger.Debug("pattern added", "pattern", p.Pattern, "target", p.TargetCapability)
	return nil
}

// Patterns returns the pattern table in declaration order.
func (r *Resolver) Patterns() []domain.CommandPattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.CommandPattern, len(r.patterns))
	for i, cp := range r.patterns {
		out[i] = cp.CommandPattern
	}
	return out
}

// Resolve is ResolveContext with a background context.
func (r *Resolver) Resolve(command string) domain.ParsedCommand {
	return r.ResolveContext(context.Background(), command)
}

// ResolveContext maps command to the best-scoring candidate. Results below
// the actionable threshold come back as intent "unknown" with suggestions.
// ctx bounds the annotator stage only.
func (r *Resolver) ResolveContext(ctx context.Context, command string) domain.ParsedCommand {
	trimmed := strings.TrimSpace(command)
	text := strings.ToLower(trimmed)
	if text == "" {
		return domain.ParsedCommand{
			Intent:   domain.IntentUnknown,
			Action:   domain.ActionHelp,
			Entities: map[string]any{},
		}
	}
	fuzzy := clipRunes(text, maxFuzzyRunes)

	r.mu.RLock()
	best := r.matchPatterns(trimmed, fuzzy)
	r.mu.RUnlock()
	// A structural or example match above the short-circuit line outranks
	// every heuristic stage.
	if best.Confidence > r.th.PatternShortCircuit {
		return best
	}

	// The annotator may do I/O, so it runs without the lock.
	if r.annotator != nil {
		if cand, ok := r.matchAnnotated(ctx, trimmed); ok && cand.Confidence > best.Confidence {
			best = cand
		}
	}

	if cand := r.matchToolNames(trimmed, text, fuzzy); cand.Confidence > best.Confidence {
		best = cand
	}

	if best.Confidence < r.th.Actionable {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return domain.ParsedCommand{
			Intent:       domain.IntentUnknown,
			Action:       domain.ActionHelp,
			Entities:     map[string]any{domain.EntityOriginalCommand: trimmed},
			Alternatives: r.suggest(fuzzy),
		}
	}
	return best
}

func (r *Resolver) matchPatterns(original, fuzzy string) domain.ParsedCommand {
	best := domain.ParsedCommand{Intent: domain.IntentUnknown, Action: domain.ActionHelp}

	for _, cp := range r.patterns {
		captured, structural := cp.match(original)
		if structural && r.th.PatternMatch > best.Confidence {
			best = cp.resolution(original, captured, r.th.PatternMatch)
		}

		for _, ex := range cp.examples {
			score := Ratio(fuzzy, ex)
			if score > r.th.ExampleSimilarity && score > best.Confidence {
				// Example phrasings score by similarity, but parameters
				// still come from the template when it matches.
				best = cp.resolution(original, captured, score)
			}
		}
	}
	return best
}

// resolution builds the parsed command for a pattern hit. captured may be nil.
func (cp *compiledPattern) resolution(original string, captured map[string]any, confidence float64) domain.ParsedCommand {
	entities := ExtractEntities(original)
	maps.Copy(entities, captured)
	return domain.ParsedCommand{
		Intent:     cp.Intent,
		Action:     cp.Action,
		Entities:   entities,
		Confidence: confidence,
		ToolName:   cp.TargetCapability,
		Parameters: mapEntities(entities, cp.EntityToParameterMap),
	}
}

func (r *Resolver) matchAnnotated(ctx context.Context, original string) (domain.ParsedCommand, bool) {
	ann, err := r.annotator.Annotate(ctx, original)
	if err != nil {
		r.logger.Debug("annotator failed", "err", err)
		return domain.ParsedCommand{}, false
	}

	entities := ExtractEntities(original)
	for _, ent := range ann.Entities {
		entities[strings.ToLower(ent.Label)] = ent.Text
	}

	for _, tok := range ann.Tokens {
		if tok.POS != "VERB" {
			continue
		}
		vi, ok := verbIntents[strings.ToLower(tok.Lemma)]
		if !ok {
			continue
		}
		cand := domain.ParsedCommand{
			Intent:     vi.intent,
			Action:     vi.action,
			Entities:   entities,
			Confidence: r.th.AnnotatorMatch,
		}
		if desc, ok := r.toolForIntent(vi.intent, vi.action); ok {
			cand.ToolName = desc.Name
			cand.Parameters = inferParameters(desc, entities)
		}
		return cand, true
	}
	return domain.ParsedCommand{}, false
}

// toolForIntent picks a capability from the intent's category, preferring
// one whose name or description mentions the action.
func (r *Resolver) toolForIntent(intent, action string) (domain.CapabilityDescriptor, bool) {
	cat, ok := intentCategories[intent]
	if !ok || r.catalog == nil {
		return domain.CapabilityDescriptor{}, false
	}
	var first *domain.CapabilityDescriptor
	for _, desc := range r.catalog.Descriptors() {
		if desc.Category != cat {
			continue
		}
		if strings.Contains(strings.ToLower(desc.Name), action) ||
			strings.Contains(strings.ToLower(desc.Description), action) {
			return desc, true
		}
		if first == nil {
			d := desc
			first = &d
		}
	}
	if first != nil {
		return *first, true
	}
	return domain.CapabilityDescriptor{}, false
}

func (r *Resolver) matchToolNames(original, text, fuzzy string) domain.ParsedCommand {
	best := domain.ParsedCommand{Intent: domain.IntentUnknown, Action: domain.ActionHelp}
	if r.catalog == nil {
		return best
	}

	var bestDesc domain.CapabilityDescriptor
	for _, desc := range r.catalog.Descriptors() {
		name := strings.ToLower(desc.Name)
		score := 0.0
		if strings.Contains(text, name) || strings.Contains(text, strings.ReplaceAll(name, "_", " ")) {
			score = r.th.NameContainment
		}
		for _, kw := range desc.Keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				score = max(score, r.th.KeywordContainment)
				break
			}
		}
		partial := max(PartialRatio(fuzzy, name), PartialRatio(fuzzy, strings.ToLower(desc.Description)))
		if partial > r.th.FuzzyTool {
			score = max(score, partial)
		}
		if score > best.Confidence {
			best.Confidence = score
			bestDesc = desc
		}
	}

	if best.Confidence == 0 {
		return best
	}
	entities := ExtractEntities(original)
	return domain.ParsedCommand{
		Intent:     domain.IntentExecuteTool,
		Action:     domain.ActionRun,
		Entities:   entities,
		Confidence: best.Confidence,
		ToolName:   bestDesc.Name,
		Parameters: inferParameters(bestDesc, entities),
	}
}

type suggestion struct {
	text  string
	score float64
	uses  int
	order int
}

// suggest ranks capability names and common commands by similarity to text.
// History only breaks ties between equally similar candidates.
func (r *Resolver) suggest(text string) []string {
	var candidates []string
	if r.catalog != nil {
		for _, desc := range r.catalog.Descriptors() {
			candidates = append(candidates, desc.Name)
		}
	}
	candidates = append(candidates, r.examples...)

	uses := make(map[string]int)
	for _, h := range r.history {
		if h.ToolName != "" {
			uses[h.ToolName]++
		}
	}

	seen := make(map[string]bool)
	var ranked []suggestion
	for i, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		score := Ratio(text, strings.ToLower(c))
		if score > r.th.Suggestion {
			ranked = append(ranked, suggestion{text: c, score: score, uses: uses[c], order: i})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].uses > ranked[j].uses
	})

	out := []string{}
	for i := 0; i < len(ranked) && i < r.maxSuggestions; i++ {
		out = append(out, ranked[i].text)
	}
	return out
}

func clipRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Remember appends an executed command to the history. Past the cap the
// history is cut to the most recent entries.
func (r *Resolver) Remember(p domain.ParsedCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, p)
	if len(r.history) > r.historyCap {
		kept := make([]domain.ParsedCommand, r.historyKeep)
		copy(kept, r.history[len(r.history)-r.historyKeep:])
		r.history = kept
	}
}

// History returns up to limit most recent entries, oldest first. A
// non-positive limit returns the default of 10.
func (r *Resolver) History(limit int) []domain.ParsedCommand {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	start := max(0, len(r.history)-limit)
	return append([]domain.ParsedCommand(nil), r.history[start:]...)
}
