package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dealview/contactsync/internal/contact"
	"github.com/dealview/contactsync/internal/prefs"
	"github.com/dealview/contactsync/internal/store"
)

// statusReport is the JSON shape of `contactsync status`.
type statusReport struct {
	StorePath   string            `json:"store_path"`
	StoreExists bool              `json:"store_exists"`
	Encrypted   bool              `json:"encrypted"`
	Contacts    map[string]int    `json:"contacts_by_partition,omitempty"`
	Sightings   map[string]int    `json:"communication_groups_by_source,omitempty"`
	Sources     map[string]bool   `json:"sources_enabled"`
	Cursors     map[string]string `json:"cursors,omitempty"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store contents and per-source sync state",
		Long: `Display the contact store's location and contents, which sources are
enabled by preference, and the saved incremental sync cursors.`,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	userID := currentUserID()

	report := statusReport{
		StorePath: resolvedCfg.Store.Path,
		Encrypted: resolvedCfg.Store.KeyFile != "",
		Sources:   map[string]bool{},
	}

	gate := buildGate(resolvedCfg, logger)
	for key, kind := range map[string]prefs.Kind{
		prefs.KeyOutlookContacts: prefs.KindDirect,
		prefs.KeyGmailContacts:   prefs.KindDirect,
		prefs.KeyMacOSContacts:   prefs.KindDirect,
		prefs.KeyOutlookEmails:   prefs.KindInferred,
		prefs.KeyGmailEmails:     prefs.KindInferred,
		prefs.KeyMessages:        prefs.KindInferred,
	} {
		report.Sources[key] = gate.IsEnabled(cmd.Context(), userID, kind, key)
	}

	if _, err := os.Stat(resolvedCfg.Store.Path); err == nil {
		report.StoreExists = true

		if err := fillStoreStats(cmd.Context(), userID, &report); err != nil {
			// An unreadable store is reported, not fatal: the rest of the
			// status is still useful for diagnosing exactly that.
			logger.Warn("reading store stats", slog.String("error", err.Error()))
		}
	}

	printStatus(&report)

	return nil
}

// fillStoreStats queries the store on the read-only worker.
func fillStoreStats(ctx context.Context, userID string, report *statusReport) error {
	runner, err := newQueryRunner(resolvedCfg, buildLogger())
	if err != nil {
		return err
	}

	return runner.Do(ctx, func(ctx context.Context, s *store.Store) error {
		contacts, err := s.ListActiveContacts(ctx, userID)
		if err != nil {
			return err
		}

		report.Contacts = map[string]int{}
		for _, c := range contacts {
			report.Contacts[string(c.Partition)]++
		}

		report.Sightings = map[string]int{}
		report.Cursors = map[string]string{}

		for _, src := range []contact.Source{contact.SourceOutlook, contact.SourceEmail, contact.SourceMessages, contact.SourceSMS} {
			groups, err := s.CommunicationGroups(ctx, userID, src)
			if err != nil {
				return err
			}

			if len(groups) > 0 {
				report.Sightings[src.String()] = len(groups)
			}
		}

		for _, src := range allSources {
			for _, kind := range []string{"direct", "inferred"} {
				cursor, err := s.GetCursor(ctx, userID, src, kind)
				if err != nil && !errors.Is(err, store.ErrUnavailable) {
					return err
				}

				if cursor != "" {
					report.Cursors[src.String()+"/"+kind] = cursor
				}
			}
		}

		return nil
	})
}

func printStatus(report *statusReport) {
	if flagJSON {
		_ = json.NewEncoder(os.Stdout).Encode(report)

		return
	}

	state := "missing"
	if report.StoreExists {
		state = "present"
	}

	encryption := "off"
	if report.Encrypted {
		encryption = "on"
	}

	fmt.Printf("Store:    %s (%s, encryption %s)\n", report.StorePath, state, encryption)

	total := 0
	for _, n := range report.Contacts {
		total += n
	}

	fmt.Printf("Contacts: %d", total)

	for _, part := range []string{"imported", "external"} {
		if n, ok := report.Contacts[part]; ok {
			fmt.Printf("  %s=%d", part, n)
		}
	}

	fmt.Printf("\nSources:\n")

	headers := []string{"PREFERENCE", "ENABLED"}

	var rows [][]string

	for _, key := range []string{
		prefs.KeyOutlookContacts, prefs.KeyGmailContacts, prefs.KeyMacOSContacts,
		prefs.KeyOutlookEmails, prefs.KeyGmailEmails, prefs.KeyMessages,
	} {
		enabled := "no"
		if report.Sources[key] {
			enabled = "yes"
		}

		rows = append(rows, []string{key, enabled})
	}

	printTable(os.Stdout, headers, rows)
}
