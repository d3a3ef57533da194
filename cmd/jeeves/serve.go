package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/soratobu/jeeves/internal/adapter"
	"github.com/soratobu/jeeves/internal/idempotency"
	"github.com/soratobu/jeeves/internal/scheduler"
	"github.com/soratobu/jeeves/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent as a long-running service",
	Long:  `Starts the HTTP API plus any enabled chat adapters and scheduled jobs, and runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		rt, err := buildRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		srv, err := server.New(cfg.Server, rt.executor)
		if err != nil {
			return err
		}

		var dedupe *idempotency.Store
		if cfg.Adapters.Telegram.Enabled || cfg.Adapters.Slack.Enabled {
			dedupe, err = idempotency.NewStore(filepath.Join(filepath.Dir(cfg.History.Dir), "processed_events.json"))
			if err != nil {
				slog.Warn("Event dedupe store unavailable, adapters may reprocess redeliveries", "error", err)
			}
		}

		var adapters []adapter.Adapter
		if cfg.Adapters.Telegram.Enabled {
			adapters = append(adapters, adapter.NewTelegramAdapter(cfg.Adapters.Telegram, rt.executor, dedupe))
		}
		if cfg.Adapters.Slack.Enabled {
			adapters = append(adapters, adapter.NewSlackAdapter(cfg.Adapters.Slack, rt.executor, dedupe))
		}
		for _, a := range adapters {
			if err := a.Start(ctx); err != nil {
				slog.Error("Adapter failed to start", "adapter", a.Name(), "error", err)
			}
		}

		var engine *scheduler.Engine
		if cfg.Scheduler.Enabled {
			engine, err = scheduler.New(cfg.Scheduler, rt.executor)
			if err != nil {
				return err
			}
			if err := engine.Start(ctx); err != nil {
				return err
			}
		}

		handler := NewSignalHandler(ctx)
		handler.Start()

		serverErr := make(chan error, 1)
		go func() { serverErr <- srv.Start() }()

		select {
		case err := <-serverErr:
			return err
		case <-handler.Done():
		}

		slog.Info("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if engine != nil {
			if err := engine.Stop(shutdownCtx); err != nil {
				slog.Warn("Scheduler shutdown failed", "error", err)
			}
		}
		for _, a := range adapters {
			if err := a.Stop(shutdownCtx); err != nil {
				slog.Warn("Adapter shutdown failed", "adapter", a.Name(), "error", err)
			}
		}
		if err := srv.Stop(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown failed", "error", err)
		}
		if dedupe != nil {
			dedupe.Prune()
			if err := dedupe.Save(); err != nil {
				slog.Warn("Failed to persist event dedupe store", "error", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
