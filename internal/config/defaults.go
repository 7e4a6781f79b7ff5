package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace: "~/.deskpilot/workspace",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Resolver: ResolverConfig{
			Thresholds: ThresholdsConfig{
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
			},
			HistoryCap:     100,
			HistoryKeep:    50,
			MaxSuggestions: 3,
			Annotator:      "lexicon",
			Ollama: OllamaConfig{
				APIBase:        "http://localhost:11434",
				Model:          "llama3.1:8b",
				TimeoutSeconds: 10,
				Retries:        1,
			},
			PatternsDir:    "~/.deskpilot/patterns",
		},
		Plugins: PluginsConfig{
			ToolsDir:   "~/.deskpilot/tools",
			PluginDirs: []string{"~/.deskpilot/plugins"},
			Builtins:   true,
			Watch:      true,
			DebounceMs: 500,
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{
				Timeout:        30,
				MaxOutputBytes: 65536,
			},
			Screenshot: ScreenshotToolConfig{
				Dir: "~/.deskpilot/screenshots",
			},
			Web: WebToolConfig{
				SearchEndpoint: "https://html.duckduckgo.com/html/",
			},
			Browser: BrowserToolConfig{
				Enabled:        false,
				Headless:       true,
				TimeoutSeconds: 30,
			},
		},
		Security: SecurityConfig{
			DefaultPolicy:         "ask",
			Blacklist:             defaultBlacklist(),
			Whitelist:             defaultWhitelist(),
			ConfirmPatterns:       defaultConfirmPatterns(),
			ConfirmTimeoutSeconds: 60,
			AuditLog:              true,
		},
		Queue: QueueConfig{
			IdlePollMs:     100,
			ErrorBackoffMs: 1000,
		},
		Memory: MemoryConfig{
			Enabled:       true,
			DBPath:        "~/.deskpilot/deskpilot.db",
			RetentionDays: 90,
			HistoryWarmup: 50,
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{
				Enabled: true,
				Prompt:  "deskpilot> ",
			},
			Telegram: TelegramConfig{
				Enabled:        false,
				PairingTTLDays: 30,
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
	}
}

// Entries containing regex metacharacters are compiled as expressions;
// everything else is matched literally.
func defaultBlacklist() []string {
	return []string{
		`rm\s+-(rf|fr)\s+/(\*|\s|$)`,
		"mkfs",
		"dd if=",
		`:\(\)\s*\{\s*:\|:&\s*\};:`,
		"chmod -R 777 /",
		"> /dev/sda",
		`mv\s+/\*`,
	}
}

func defaultWhitelist() []string {
	return []string{
		"ls", "cat", "echo", "pwd", "date", "whoami",
		"git status", "git log", "git diff", "git branch",
		"go version", "go env", "python3 --version",
		"uname", "uptime", "df -h", "free -h",
	}
}

func defaultConfirmPatterns() []string {
	return []string{
		"rm ", "sudo ", "kill ", "killall ",
		"shutdown", "reboot", "halt",
		"chmod ", "chown ",
		"mv /", "cp /",
		"apt ", "apt-get ", "brew ",
		"pip install", "npm install -g",
		"systemctl ", "launchctl ",
	}
}
