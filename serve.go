package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dealview/contactsync/internal/notify"
	syncengine "github.com/dealview/contactsync/internal/sync"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine as a long-lived service",
		Long: `Run until interrupted: sync once at startup, re-sync whenever the
local message store changes, and publish a completion event on the
WebSocket endpoint (GET /v1/events) after every run.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openStore(resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	events := syncengine.NewBroadcaster()

	o, err := newOrchestrator(resolvedCfg, s, events, logger, nil)
	if err != nil {
		return err
	}

	server := notify.NewServer(resolvedCfg.Events.ListenAddr, events, logger)
	if err := server.Start(); err != nil {
		return err
	}
	defer func() {
		if err := server.Stop(); err != nil {
			logger.Warn("stopping event server", slog.String("error", err.Error()))
		}
	}()

	runAll := func(ctx context.Context) {
		handle, err := o.RequestSync(ctx, currentUserID(), allSources)
		if err != nil {
			logger.Warn("starting sync", slog.String("error", err.Error()))

			return
		}

		if _, err := handle.Wait(ctx); err != nil {
			logger.Warn("sync interrupted", slog.String("error", err.Error()))
		}
	}

	runAll(ctx)

	if dbPath := resolvedCfg.Providers.Messages.DBPath; dbPath != "" {
		err := syncengine.Watch(ctx, dbPath, resolvedCfg.WatchDebounce(), logger, runAll)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	}

	<-ctx.Done()

	return nil
}
