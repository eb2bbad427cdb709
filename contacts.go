package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/dealview/contactsync/internal/contact"
	"github.com/dealview/contactsync/internal/resolver"
	"github.com/dealview/contactsync/internal/store"
)

// defaultListLimit caps `contacts list` output; search pushes the query
// into the store so it is not subject to this window.
const defaultListLimit = 200

func newContactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Query the resolved contact list",
	}

	cmd.AddCommand(newContactsListCmd())
	cmd.AddCommand(newContactsSearchCmd())

	return cmd
}

func newContactsListCmd() *cobra.Command {
	var flagLimit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resolved contacts ordered by recent communication",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuery(cmd.Context(), func(ctx context.Context, r *resolver.Resolver) ([]contact.Contact, error) {
				return r.List(ctx, currentUserID(), flagLimit)
			})
		},
	}

	cmd.Flags().IntVar(&flagLimit, "limit", defaultListLimit, "maximum contacts to return")

	return cmd
}

func newContactsSearchCmd() *cobra.Command {
	var flagLimit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search contacts by name, email, or phone",
		Long: `Search the full resolved contact set.

The query runs inside the store, so matches are found even past the list
window. Exact matches rank first, then prefix, then substring.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), func(ctx context.Context, r *resolver.Resolver) ([]contact.Contact, error) {
				return r.Search(ctx, currentUserID(), args[0], flagLimit)
			})
		},
	}

	cmd.Flags().IntVar(&flagLimit, "limit", defaultListLimit, "maximum contacts to return")

	return cmd
}

// runQuery executes a resolver query on the read-only worker and prints
// the result.
func runQuery(ctx context.Context, query func(context.Context, *resolver.Resolver) ([]contact.Contact, error)) error {
	logger := buildLogger()

	runner, err := newQueryRunner(resolvedCfg, logger)
	if err != nil {
		return err
	}

	var contacts []contact.Contact

	err = runner.Do(ctx, func(ctx context.Context, s *store.Store) error {
		r := resolver.New(s, buildGate(resolvedCfg, logger), logger)

		var err error

		contacts, err = query(ctx, r)

		return err
	})
	if err != nil {
		return err
	}

	printContacts(contacts)

	return nil
}

func printContacts(contacts []contact.Contact) {
	if flagJSON {
		_ = json.NewEncoder(os.Stdout).Encode(contacts)

		return
	}

	headers := []string{"NAME", "EMAIL", "PHONE", "SOURCE", "LAST CONTACT"}

	var rows [][]string

	for _, c := range contacts {
		rows = append(rows, []string{
			c.DisplayName,
			c.PrimaryEmail(),
			c.PrimaryPhone(),
			c.Source.String(),
			formatTime(c.LastCommunicationAt),
		})
	}

	printTable(os.Stdout, headers, rows)

	statusf(flagQuiet, "%d contacts\n", len(contacts))
}
