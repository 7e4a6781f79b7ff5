package resolver

import (
	"context"
	"regexp"
	"strings"

	"deskpilot/internal/domain"
)

// Token is one annotated word.
type Token struct {
	Text  string
	Lemma string
	POS   string // VERB, NUM, X
}

// Span is a labelled entity found by an annotator.
type Span struct {
	Text  string
	Label string
}

// Annotation is the linguistic view of one input.
type Annotation struct {
	Tokens   []Token
	Entities []Span
}

// Annotator tags parts of speech and named entities. It drives the optional
// verb stage of resolution. Implementations that do I/O honour ctx.
type Annotator interface {
	Annotate(ctx context.Context, text string) (Annotation, error)
}

type verbIntent struct {
	intent string
	action string
}

var verbIntents = map[string]verbIntent{
	"open":     {"application", "launch"},
	"start":    {"application", "launch"},
	"launch":   {"application", "launch"},
	"run":      {"application", "launch"},
	"close":    {"application", "close"},
	"quit":     {"application", "close"},
	"exit":     {"application", "close"},
	"copy":     {"file", "copy"},
	"move":     {"file", "move"},
	"delete":   {"file", "delete"},
	"remove":   {"file", "delete"},
	"create":   {"file", "create"},
	"make":     {"file", "create"},
	"zip":      {"archive", "create"},
	"compress": {"archive", "create"},
	"extract":  {"archive", "extract"},
	"unzip":    {"archive", "extract"},
	"search":   {"web", "search"},
	"browse":   {"web", "navigate"},
	"visit":    {"web", "navigate"},
	"download": {"web", "download"},
	"take":     {"system", "screenshot"},
	"capture":  {"system", "screenshot"},
	"monitor":  {"system", "monitor"},
	"check":    {"system", "status"},
}

var intentCategories = map[string]domain.Category{
	"file":        domain.CategoryFileOperations,
	"application": domain.CategorySystemControl,
	"archive":     domain.CategoryUtilities,
	"web":         domain.CategoryWebAutomation,
	"system":      domain.CategorySystemControl,
}

var wordRe = regexp.MustCompile(`[A-Za-z]+(?:'[a-z]+)?|\d+|\S`)

// LexiconAnnotator is a rule-based Annotator: words from the verb lexicon
// (and their regular inflections) are tagged VERB, digit runs NUM.
type LexiconAnnotator struct{}

func (LexiconAnnotator) Annotate(_ context.Context, text string) (Annotation, error) {
	var ann Annotation
	for _, w := range wordRe.FindAllString(text, -1) {
		lower := strings.ToLower(w)
		tok := Token{Text: w, Lemma: lower, POS: "X"}
		switch {
		case isDigits(lower):
			tok.POS = "NUM"
			ann.Entities = append(ann.Entities, Span{Text: w, Label: "CARDINAL"})
		default:
			if lemma, ok := verbLemma(lower); ok {
				tok.Lemma = lemma
				tok.POS = "VERB"
			}
		}
		ann.Tokens = append(ann.Tokens, tok)
	}
	return ann, nil
}

// verbLemma maps simple inflections (opens, opening, copied) back to a
// lexicon verb.
func verbLemma(word string) (string, bool) {
	if _, ok := verbIntents[word]; ok {
		return word, true
	}
	var stems []string
	for _, suffix := range []string{"ing", "ed", "es", "s"} {
		if !strings.HasSuffix(word, suffix) {
			continue
		}
		stem := strings.TrimSuffix(word, suffix)
		stems = append(stems, stem, stem+"e")
		if n := len(stem); n > 1 && stem[n-1] == stem[n-2] {
			stems = append(stems, stem[:n-1])
		}
		if strings.HasSuffix(stem, "i") {
			stems = append(stems, strings.TrimSuffix(stem, "i")+"y")
		}
	}
	for _, s := range stems {
		if _, ok := verbIntents[s]; ok {
			return s, true
		}
	}
	return "", false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
