package resolver

import (
	"regexp"
	"strconv"

	"deskpilot/internal/domain"
)

var (
	urlRe    = regexp.MustCompile(`https?://[^\s]+`)
	emailRe  = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	numberRe = regexp.MustCompile(`\b\d+\b`)
	quotedRe = regexp.MustCompile(`"([^"]*)"`)

	// Windows drive, absolute Unix, home-relative, ./ and ../ forms. A path
	// must start at the beginning of the input or after whitespace.
	pathRe = regexp.MustCompile(`(?:^|\s)((?:[a-zA-Z]:[\\/]|/|~/|\./|\.\.[\\/])[^\s"]+)`)
)

// ExtractEntities finds paths, URLs, emails, integers and double-quoted
// strings in text. Only categories with at least one match are present.
func ExtractEntities(text string) map[string]any {
	entities := make(map[string]any)

	urls := urlRe.FindAllString(text, -1)
	if len(urls) > 0 {
		entities[domain.EntityURLs] = urls
	}
	emails := emailRe.FindAllString(text, -1)
	if len(emails) > 0 {
		entities[domain.EntityEmails] = emails
	}

	// URLs and emails contain slashes; blank them so they are not read as paths.
	masked := urlRe.ReplaceAllStringFunc(text, blank)
	masked = emailRe.ReplaceAllStringFunc(masked, blank)
	var paths []string
	for _, m := range pathRe.FindAllStringSubmatch(masked, -1) {
		paths = append(paths, m[1])
	}
	if len(paths) > 0 {
		entities[domain.EntityFilePaths] = paths
	}

	var numbers []int
	for _, s := range numberRe.FindAllString(text, -1) {
		if n, err := strconv.Atoi(s); err == nil {
			numbers = append(numbers, n)
		}
	}
	if len(numbers) > 0 {
		entities[domain.EntityNumbers] = numbers
	}

	var quoted []string
	for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
		quoted = append(quoted, m[1])
	}
	if len(quoted) > 0 {
		entities[domain.EntityQuotedStrings] = quoted
	}

	return entities
}

func blank(s string) string {
	b := make([]byte, len(s))
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

func firstString(entities map[string]any, key string) (string, bool) {
	switch v := entities[key].(type) {
	case []string:
		if len(v) > 0 {
			return v[0], true
		}
	case string:
		return v, v != ""
	}
	return "", false
}

func firstInt(entities map[string]any, key string) (int, bool) {
	switch v := entities[key].(type) {
	case []int:
		if len(v) > 0 {
			return v[0], true
		}
	case int:
		return v, true
	}
	return 0, false
}
