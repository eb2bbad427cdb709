package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dealview/contactsync/internal/contact"
	syncengine "github.com/dealview/contactsync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	var (
		flagSources string
		flagWatch   bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize contacts from all configured sources",
		Long: `Run one sync cycle across every configured source.

Each source syncs as an independent job: a provider outage fails that job
only, and sources disabled by preference are skipped. Use --sources to
restrict the run, or --watch to keep re-syncing when the local message
store changes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sources, err := parseSources(flagSources)
			if err != nil {
				return err
			}

			if flagWatch {
				return runSyncWatch(cmd.Context(), sources)
			}

			return runSyncOnce(cmd.Context(), sources)
		},
	}

	cmd.Flags().StringVar(&flagSources, "sources", "", "comma-separated sources to sync (default: all)")
	cmd.Flags().BoolVar(&flagWatch, "watch", false, "keep running and re-sync on message store changes")

	return cmd
}

func runSyncOnce(ctx context.Context, sources []contact.Source) error {
	return withEngine(ctx, func(ctx context.Context, o *syncengine.Orchestrator) error {
		report, err := syncAndWait(ctx, o, sources)
		if err != nil {
			return err
		}

		printReport(report)

		return nil
	})
}

func runSyncWatch(ctx context.Context, sources []contact.Source) error {
	dbPath := resolvedCfg.Providers.Messages.DBPath
	if dbPath == "" {
		return errors.New("--watch requires providers.messages.db_path to be configured")
	}

	return withEngine(ctx, func(ctx context.Context, o *syncengine.Orchestrator) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Initial pass, then follow the message store.
		report, err := syncAndWait(ctx, o, sources)
		if err != nil {
			return err
		}

		printReport(report)

		logger := buildLogger()

		err = syncengine.Watch(ctx, dbPath, resolvedCfg.WatchDebounce(), logger,
			func(ctx context.Context) {
				report, err := syncAndWait(ctx, o, sources)
				if err != nil {
					logger.Warn("triggered sync failed", slog.String("error", err.Error()))

					return
				}

				printReport(report)
			})
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	})
}

// withEngine opens the store, assembles the orchestrator, runs fn, and
// tears everything down.
func withEngine(ctx context.Context, fn func(context.Context, *syncengine.Orchestrator) error) error {
	logger := buildLogger()

	s, err := openStore(resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	o, err := newOrchestrator(resolvedCfg, s, nil, logger, nil)
	if err != nil {
		return err
	}

	return fn(ctx, o)
}

func syncAndWait(ctx context.Context, o *syncengine.Orchestrator, sources []contact.Source) (*syncengine.Report, error) {
	handle, err := o.RequestSync(ctx, currentUserID(), sources)
	if err != nil {
		return nil, err
	}

	return handle.Wait(ctx)
}

// printReport renders a run summary, as JSON with --json or as a table.
func printReport(report *syncengine.Report) {
	if flagJSON {
		rows := make([]map[string]any, 0, len(report.Jobs))

		for _, j := range report.Jobs {
			row := map[string]any{
				"source":  j.Source.String(),
				"kind":    string(j.Kind),
				"status":  string(j.Status),
				"records": j.Records,
			}

			if j.Err != nil {
				row["error"] = j.Err.Error()
			}

			if j.SkipReason != "" {
				row["skip_reason"] = j.SkipReason
			}

			rows = append(rows, row)
		}

		out := map[string]any{
			"run_id":      report.RunID,
			"duration_ms": report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
			"records":     report.Records(),
			"jobs":        rows,
		}

		_ = json.NewEncoder(os.Stdout).Encode(out)

		return
	}

	headers := []string{"SOURCE", "KIND", "STATUS", "RECORDS", "DETAIL"}

	var rows [][]string

	for _, j := range report.Jobs {
		detail := ""
		if j.Err != nil {
			detail = j.Err.Error()
		} else if j.SkipReason != "" {
			detail = j.SkipReason
		}

		rows = append(rows, []string{
			j.Source.String(),
			string(j.Kind),
			string(j.Status),
			fmt.Sprintf("%d", j.Records),
			detail,
		})
	}

	printTable(os.Stdout, headers, rows)

	statusf(flagQuiet, "%d records in %s\n", report.Records(), report.FinishedAt.Sub(report.StartedAt).Round(timeRounding))
}
