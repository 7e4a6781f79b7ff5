package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"deskpilot/internal/agent"
	"deskpilot/internal/browser"
	"deskpilot/internal/bus"
	"deskpilot/internal/config"
	"deskpilot/internal/domain"
	"deskpilot/internal/memory"
	"deskpilot/internal/metrics"
	"deskpilot/internal/nlp"
	"deskpilot/internal/plugin"
	"deskpilot/internal/resolver"
	"deskpilot/internal/security"
	"deskpilot/internal/tool"
)

// app is the wired component graph shared by the subcommands.
type app struct {
	cfg       *config.Config
	events    *bus.EventBus
	queue     *bus.Queue
	metrics   *metrics.Set
	store     *memory.SQLiteStore // nil when memory is disabled
	policy    *security.Policy
	registry  *tool.Registry
	loader    *plugin.Loader
	resolver  *resolver.Resolver
	orch      *agent.Orchestrator
	discovery plugin.DiscoveryResult
}

type appOptions struct {
	watch bool // feed plugin file changes to the orchestrator
}

// newApp builds every component, loads capabilities and warms the resolver
// history. The caller must call close.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	a := &app{cfg: cfg}
	a.events = bus.NewEventBus(logger, 0)
	a.queue = bus.New(logger)
	a.queue.Publish(a.events)
	a.metrics = metrics.NewSet()
	a.metrics.Subscribe(a.events)

	var store domain.ExecutionStore
	if cfg.Memory.Enabled {
		s, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("memory store: %w", err)
		}
		a.store = s
		store = s
	}

	policy, err := security.NewPolicy(cfg.Security, nil, agent.NewAuditSink(store, a.events), logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("security policy: %w", err)
	}
	a.policy = policy

	a.registry = tool.NewRegistry(logger)
	var builtins map[string]domain.UnitFactory
	if cfg.Plugins.Builtins {
		builtins = tool.BuiltinUnits(builtinConfig(cfg, policy))
	}
	a.loader = plugin.NewLoader(a.registry, plugin.Config{
		ToolsDir:   cfg.Plugins.ToolsDir,
		PluginDirs: cfg.Plugins.PluginDirs,
		Disabled:   cfg.Plugins.Disabled,
		Builtins:   builtins,
		Logger:     logger,
	})

	if a.resolver, err = newResolver(cfg, a.registry); err != nil {
		a.close()
		return nil, err
	}

	var reloads <-chan string
	if opts.watch && cfg.Plugins.Watch {
		ch, err := a.loader.Watch(ctx, time.Duration(cfg.Plugins.DebounceMs)*time.Millisecond)
		if err != nil {
			logger.Warn("plugin watcher unavailable", "err", err)
		} else {
			reloads = ch
		}
	}

	a.orch = agent.New(agent.Config{
		Registry:       a.registry,
		Resolver:       a.resolver,
		Loader:         a.loader,
		Queue:          a.queue,
		Events:         a.events,
		Store:          store,
		Reloads:        reloads,
		IdlePoll:       time.Duration(cfg.Queue.IdlePollMs) * time.Millisecond,
		ErrorBackoff:   time.Duration(cfg.Queue.ErrorBackoffMs) * time.Millisecond,
		ConfirmTimeout: time.Duration(cfg.Security.ConfirmTimeoutSeconds) * time.Second,
		Logger:         logger,
	})
	policy.SetConfirmFunc(a.orch.PolicyConfirm())

	a.discovery = a.orch.Discover()
	logger.Info("capabilities loaded",
		"capabilities", a.registry.Len(),
		"plugins", a.discovery.PluginsLoaded,
		"errors", len(a.discovery.Errors),
	)

	if a.store != nil && cfg.Memory.HistoryWarmup > 0 {
		if _, err := a.orch.WarmHistory(ctx, cfg.Memory.HistoryWarmup); err != nil {
			logger.Warn("history warmup failed", "err", err)
		}
	}
	return a, nil
}

func builtinConfig(cfg *config.Config, policy domain.CommandPolicy) tool.BuiltinConfig {
	bc := tool.BuiltinConfig{
		Files: tool.FileConfig{
			Workspace: cfg.General.Workspace,
			Restrict:  cfg.Tools.Files.RestrictToWorkspace,
		},
		Shell: tool.ShellConfig{
			WorkingDir:     cfg.General.Workspace,
			TimeoutSeconds: cfg.Tools.Shell.Timeout,
			MaxOutputBytes: cfg.Tools.Shell.MaxOutputBytes,
			Policy:         policy,
		},
		ScreenshotDir:  cfg.Tools.Screenshot.Dir,
		SearchEndpoint: cfg.Tools.Web.SearchEndpoint,
	}
	// Browser stays a nil interface when disabled so navigation falls back to HTTP.
	if cfg.Tools.Browser.Enabled {
		bc.Browser = newBridge(cfg)
	}
	return bc
}

func newBridge(cfg *config.Config) *browser.Bridge {
	return browser.NewBridge(browser.BridgeConfig{
		ProfileDir: cfg.Tools.Browser.ProfileDir,
		Headless:   cfg.Tools.Browser.Headless,
		Timeout:    time.Duration(cfg.Tools.Browser.TimeoutSeconds) * time.Second,
		Logger:     logger,
	})
}

func newOllamaAnnotator(cfg *config.Config) *nlp.OllamaAnnotator {
	oc := cfg.Resolver.Ollama
	return nlp.NewOllamaAnnotator(nlp.OllamaConfig{
		APIBase: oc.APIBase,
		Model:   oc.Model,
		Timeout: time.Duration(oc.TimeoutSeconds) * time.Second,
		Retries: oc.Retries,
		Logger:  logger,
	})
}

// newResolver combines the built-in pattern table with user pattern files.
func newResolver(cfg *config.Config, catalog resolver.Catalog) (*resolver.Resolver, error) {
	patterns := resolver.BuiltinPatterns()
	if cfg.Resolver.PatternsDir != "" {
		user, err := resolver.LoadPatternsFromDirectory(cfg.Resolver.PatternsDir, logger)
		if err != nil {
			logger.Warn("user patterns not loaded", "dir", cfg.Resolver.PatternsDir, "err", err)
		}
		patterns = append(patterns, user...)
	}

	var annotator resolver.Annotator
	switch cfg.Resolver.Annotator {
	case "lexicon":
		annotator = resolver.LexiconAnnotator{}
	case "ollama":
		annotator = newOllamaAnnotator(cfg)
	}

	th := resolver.Thresholds(cfg.Resolver.Thresholds)
	res, err := resolver.New(resolver.Options{
		Catalog:        catalog,
		Annotator:      annotator,
		Thresholds:     &th,
		Patterns:       patterns,
		HistoryCap:     cfg.Resolver.HistoryCap,
		HistoryKeep:    cfg.Resolver.HistoryKeep,
		MaxSuggestions: cfg.Resolver.MaxSuggestions,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	return res, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("closing store", "err", err)
		}
	}
}
