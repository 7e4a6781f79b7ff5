package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deskpilot/internal/channel"
	"deskpilot/internal/domain"
	"deskpilot/internal/security"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func runCmd() *cobra.Command {
	var noCLI bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start DeskPilot with the enabled channels (CLI, Telegram)",
		Long:  "Starts the command consumer, the enabled channels, the plugin watcher and the metrics endpoint. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeskPilot(cmd.Context(), !noCLI)
		},
	}
	cmd.Flags().BoolVar(&noCLI, "no-cli", false, "do not start the interactive terminal (daemon mode)")
	return cmd
}

func runDeskPilot(parent context.Context, withCLI bool) error {
	cfg, logClose, err := loadConfig()
	if err != nil {
		return err
	}
	defer logClose.Close()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{watch: true})
	if err != nil {
		return err
	}
	defer a.close()

	for _, e := range a.discovery.Errors {
		logger.Warn("capability load failure", "err", e)
	}

	if a.store != nil && cfg.Memory.RetentionDays > 0 {
		retention := time.Duration(cfg.Memory.RetentionDays) * 24 * time.Hour
		if n, err := a.store.Prune(ctx, retention); err != nil {
			logger.Warn("pruning execution log failed", "err", err)
		} else if n > 0 {
			logger.Info("execution log pruned", "removed", n, "retention_days", cfg.Memory.RetentionDays)
		}
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		metricsSrv = startMetricsServer(cfg.Metrics.Listen, a)
	}

	orchDone := make(chan error, 1)
	go func() { orchDone <- a.orch.Run(ctx) }()

	var channels []domain.Channel
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tgCfg := channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Logger:    logger,
		}
		if cfg.Channels.Telegram.Pairing {
			pairing := newPairingService(a, cfg.Channels.Telegram.PairingTTLDays)
			go cleanPairingCodes(ctx, pairing)
			tgCfg.Pairing = pairing
		}
		tg := channel.NewTelegram(tgCfg)
		a.orch.SetConfirmer(tg.Name(), tg.Confirm)
		channels = append(channels, tg)
		go func() {
			if err := tg.Start(ctx, a.queue); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	}

	if withCLI && cfg.Channels.CLI.Enabled {
		cli := channel.NewCLI(channel.CLIConfig{
			Prompt:  cfg.Channels.CLI.Prompt,
			Spinner: true,
			Logger:  logger,
		})
		a.orch.SetConfirmer(cli.Name(), cli.Confirm)
		channels = append(channels, cli)
		if err := cli.Start(ctx, a.queue); err != nil {
			logger.Error("cli channel error", "err", err)
		}
		// Leaving the REPL ends the session.
		stop()
	} else {
		if len(channels) == 0 {
			logger.Warn("no channel enabled; only the metrics endpoint and plugin watcher are running")
		}
		logger.Info("deskpilot running. Press Ctrl+C to stop.")
		<-ctx.Done()
	}

	return shutdown(a, channels, metricsSrv, orchDone)
}

// newPairingService persists pairings in the execution database when
// memory is enabled and keeps them for the process lifetime otherwise.
func newPairingService(a *app, ttlDays int) *security.PairingService {
	pc := security.PairingConfig{TTLDays: ttlDays, Logger: logger}
	if a.store != nil {
		pc.Store = a.store
	} else {
		logger.Warn("memory is disabled; telegram pairings last until restart")
	}
	return security.NewPairingService(pc)
}

func cleanPairingCodes(ctx context.Context, ps *security.PairingService) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ps.CleanExpiredCodes()
		}
	}
}

// shutdown closes the queue, lets the consumer finish the command in
// flight and stops the remaining services within shutdownTimeout.
func shutdown(a *app, channels []domain.Channel, metricsSrv *http.Server, orchDone <-chan error) error {
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.queue.Close()
	for _, ch := range channels {
		if err := ch.Stop(); err != nil {
			logger.Warn("channel stop failed", "channel", ch.Name(), "err", err)
		}
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "err", err)
		}
	}

	select {
	case err := <-orchDone:
		logger.Info("shutdown complete")
		return err
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func startMetricsServer(addr string, a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler(a))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	logger.Info("metrics endpoint listening", "addr", addr)
	return srv
}

// metricsHandler refreshes the sampled gauges before rendering.
func metricsHandler(a *app) http.Handler {
	render := a.metrics.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.metrics.QueueDepth.Set(int64(a.queue.Len()))
		a.metrics.Capabilities.Set(int64(a.registry.Len()))
		render(w, r)
	})
}
