// Package config loads, validates and edits the JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Config is the root configuration for DeskPilot.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Resolver ResolverConfig `json:"resolver"`
	Plugins  PluginsConfig  `json:"plugins"`
	Tools    ToolsConfig    `json:"tools"`
	Security SecurityConfig `json:"security"`
	Queue    QueueConfig    `json:"queue"`
	Memory   MemoryConfig   `json:"memory"`
	Channels ChannelsConfig `json:"channels"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	Workspace string `json:"workspace"`
	LogLevel  string `json:"logLevel"`  // debug | info | warn | error
	LogFormat string `json:"logFormat"` // text | json
	LogFile   string `json:"logFile"`   // append here instead of stderr
}

// ResolverConfig carries the confidence ladder and history bounds of the
// command resolver.
type ResolverConfig struct {
	Thresholds     ThresholdsConfig `json:"thresholds"`
	HistoryCap     int              `json:"historyCap"`
	HistoryKeep    int              `json:"historyKeep"`
	MaxSuggestions int              `json:"maxSuggestions"`
	Annotator      string           `json:"annotator"` // lexicon | ollama | none
	Ollama         OllamaConfig     `json:"ollama"`    // used when annotator is ollama
	PatternsDir    string           `json:"patternsDir"`
}

type ThresholdsConfig struct {
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

type OllamaConfig struct {
	APIBase        string `json:"apiBase"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	Retries        int    `json:"retries"`
}

type PluginsConfig struct {
	ToolsDir   string   `json:"toolsDir"`
	PluginDirs []string `json:"pluginDirs"`
	Disabled   []string `json:"disabled"`
	Builtins   bool     `json:"builtins"`
	Watch      bool     `json:"watch"`
	DebounceMs int      `json:"debounceMs"`
}

type ToolsConfig struct {
	Shell      ShellToolConfig      `json:"shell"`
	Files      FilesToolConfig      `json:"files"`
	Screenshot ScreenshotToolConfig `json:"screenshot"`
	Web        WebToolConfig        `json:"web"`
	Browser    BrowserToolConfig    `json:"browser"`
}

type ShellToolConfig struct {
	Timeout        int `json:"timeout"`
	MaxOutputBytes int `json:"maxOutputBytes"`
}

type FilesToolConfig struct {
	RestrictToWorkspace bool `json:"restrictToWorkspace"`
}

type ScreenshotToolConfig struct {
	Dir string `json:"dir"`
}

type WebToolConfig struct {
	SearchEndpoint string `json:"searchEndpoint"`
}

type BrowserToolConfig struct {
	Enabled        bool   `json:"enabled"`
	Headless       bool   `json:"headless"`
	ProfileDir     string `json:"profileDir"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type SecurityConfig struct {
	DefaultPolicy         string   `json:"defaultPolicy"` // allow | deny | ask
	Blacklist             []string `json:"blacklist"`
	Whitelist             []string `json:"whitelist"`
	ConfirmPatterns       []string `json:"confirmPatterns"`
	ConfirmTimeoutSeconds int      `json:"confirmTimeoutSeconds"`
	AuditLog              bool     `json:"auditLog"`
}

// QueueConfig tunes the command consumer loop.
type QueueConfig struct {
	IdlePollMs     int `json:"idlePollMs"`
	ErrorBackoffMs int `json:"errorBackoffMs"`
}

type MemoryConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
	HistoryWarmup int    `json:"historyWarmup"` // executions replayed into resolver history
}

type ChannelsConfig struct {
	CLI      CLIConfig      `json:"cli"`
	Telegram TelegramConfig `json:"telegram"`
}

type CLIConfig struct {
	Enabled bool   `json:"enabled"`
	Prompt  string `json:"prompt"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	// Pairing admits users outside allowFrom after they send a code shown
	// on the host. PairingTTLDays < 0 makes pairings permanent.
	Pairing        bool `json:"pairing"`
	PairingTTLDays int  `json:"pairingTTLDays"`
}

// FlexStringList is a []string that also accepts numbers in the JSON array
// (Telegram user ids are often written unquoted).
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			out = append(out, strconv.FormatInt(int64(n), 10))
			continue
		}
		out = append(out, string(item))
	}
	*f = out
	return nil
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"` // address of the /metrics endpoint; empty disables it
}

// DefaultConfigDir returns ~/.deskpilot.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deskpilot"
	}
	return filepath.Join(home, ".deskpilot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads path over Defaults, expands ${VAR} references and ~/ paths,
// and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	cfg.ExpandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ExpandPaths resolves ~/ in every path setting.
func (c *Config) ExpandPaths() {
	c.General.Workspace = ExpandPath(c.General.Workspace)
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.Resolver.PatternsDir = ExpandPath(c.Resolver.PatternsDir)
	c.Plugins.ToolsDir = ExpandPath(c.Plugins.ToolsDir)
	for i, d := range c.Plugins.PluginDirs {
		c.Plugins.PluginDirs[i] = ExpandPath(d)
	}
	c.Tools.Screenshot.Dir = ExpandPath(c.Tools.Screenshot.Dir)
	c.Tools.Browser.ProfileDir = ExpandPath(c.Tools.Browser.ProfileDir)
	c.Memory.DBPath = ExpandPath(c.Memory.DBPath)
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with its value and ${VAR:-default} with the
// default when VAR is unset or empty. Unset references without a default
// are left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		hasDefault := len(groups) >= 3 && groups[2] != ""

		if val, ok := os.LookupEnv(groups[1]); ok && val != "" {
			return val
		}
		if hasDefault {
			return groups[2]
		}
		return match
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate reports every invalid value at once.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be text or json")
	}

	th := cfg.Resolver.Thresholds
	for name, v := range map[string]float64{
		"patternMatch":        th.PatternMatch,
		"exampleSimilarity":   th.ExampleSimilarity,
		"annotatorMatch":      th.AnnotatorMatch,
		"nameContainment":     th.NameContainment,
		"keywordContainment":  th.KeywordContainment,
		"fuzzyTool":           th.FuzzyTool,
		"actionable":          th.Actionable,
		"autoDispatch":        th.AutoDispatch,
		"patternShortCircuit": th.PatternShortCircuit,
		"suggestion":          th.Suggestion,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("resolver.thresholds.%s must be between 0 and 1", name))
		}
	}
	if th.Actionable > th.AutoDispatch {
		errs = append(errs, "resolver.thresholds.actionable must not exceed autoDispatch")
	}
	if cfg.Resolver.HistoryCap < 1 {
		errs = append(errs, "resolver.historyCap must be >= 1")
	}
	if cfg.Resolver.HistoryKeep < 1 || cfg.Resolver.HistoryKeep > cfg.Resolver.HistoryCap {
		errs = append(errs, "resolver.historyKeep must be between 1 and historyCap")
	}
	if cfg.Resolver.MaxSuggestions < 0 {
		errs = append(errs, "resolver.maxSuggestions must be >= 0")
	}
	switch cfg.Resolver.Annotator {
	case "", "lexicon", "none":
	case "ollama":
		if cfg.Resolver.Ollama.TimeoutSeconds < 1 {
			errs = append(errs, "resolver.ollama.timeoutSeconds must be >= 1")
		}
		if cfg.Resolver.Ollama.Retries < 0 {
			errs = append(errs, "resolver.ollama.retries must be >= 0")
		}
	default:
		errs = append(errs, "resolver.annotator must be lexicon, ollama or none")
	}

	if cfg.Plugins.DebounceMs < 0 {
		errs = append(errs, "plugins.debounceMs must be >= 0")
	}
	if cfg.Tools.Shell.Timeout < 1 {
		errs = append(errs, "tools.shell.timeout must be >= 1")
	}
	if cfg.Tools.Shell.MaxOutputBytes < 0 {
		errs = append(errs, "tools.shell.maxOutputBytes must be >= 0")
	}
	switch cfg.Security.DefaultPolicy {
	case "allow", "deny", "ask":
	default:
		errs = append(errs, "security.defaultPolicy must be one of: allow, deny, ask")
	}
	if cfg.Queue.IdlePollMs < 1 {
		errs = append(errs, "queue.idlePollMs must be >= 1")
	}
	if cfg.Queue.ErrorBackoffMs < 0 {
		errs = append(errs, "queue.errorBackoffMs must be >= 0")
	}
	if cfg.Memory.Enabled && cfg.Memory.DBPath == "" {
		errs = append(errs, "memory.dbPath is required when memory is enabled")
	}
	if cfg.Memory.RetentionDays < 0 {
		errs = append(errs, "memory.retentionDays must be >= 0")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
