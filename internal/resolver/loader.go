package resolver

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"deskpilot/internal/domain"

	"gopkg.in/yaml.v3"
)

type patternFile struct {
	Patterns []domain.CommandPattern `yaml:"patterns"`
}

// LoadPatternsFromDirectory reads user-added command patterns from .yaml/.yml
// files in dir. Unreadable or malformed files are logged and skipped.
func LoadPatternsFromDirectory(dir string, logger *slog.Logger) ([]domain.CommandPattern, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("patterns directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read patterns dir: %w", err)
	}

	var patterns []domain.CommandPattern
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read pattern file", "path", path, "err", err)
			continue
		}

		var pf patternFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			logger.Warn("cannot parse pattern file", "path", path, "err", err)
			continue
		}
		for _, p := range pf.Patterns {
			if _, err := compilePattern(p); err != nil {
				logger.Warn("skipping invalid pattern", "path", path, "err", err)
				continue
			}
			patterns = append(patterns, p)
		}
		logger.Info("loaded user patterns", "path", path, "count", len(pf.Patterns))
	}

	return patterns, nil
}
