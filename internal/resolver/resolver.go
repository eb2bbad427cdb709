// Package resolver merges the imported, external, and inferred contact
// partitions into the single deduplicated view callers see. It owns the
// identity rules (dedup keys), the provenance precedence that picks a
// winner per identity, and the ordering of search results.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dealview/contactsync/internal/contact"
	"github.com/dealview/contactsync/internal/prefs"
	"github.com/dealview/contactsync/internal/store"
)

// ContactReader is the read surface the resolver needs. Implemented by
// *store.Store; the query offloader hands the resolver a read-only store
// over its own connection.
type ContactReader interface {
	ListActiveContacts(ctx context.Context, userID string) ([]contact.Contact, error)
	SearchContacts(ctx context.Context, userID, query string) ([]store.SearchRow, error)
	CommunicationGroups(ctx context.Context, userID string, source contact.Source) ([]store.CommunicationGroup, error)
	SearchCommunicationGroups(ctx context.Context, userID string, source contact.Source, query string) ([]store.CommunicationGroup, error)
}

// inferredSources maps each inferred preference key to the communication
// sources it covers.
var inferredSources = map[string][]contact.Source{
	prefs.KeyOutlookEmails: {contact.SourceOutlook},
	prefs.KeyGmailEmails:   {contact.SourceEmail},
	prefs.KeyMessages:      {contact.SourceMessages, contact.SourceSMS},
}

// precedence orders partitions for winner selection: more explicit
// provenance is authoritative. Lower is stronger.
func precedence(c *contact.Contact) int {
	switch {
	case c.Provenance == contact.ProvenanceInferred:
		return 2
	case c.Partition == contact.PartitionImported:
		return 0
	default:
		return 1
	}
}

// Resolver merges partitions and answers list/search queries.
type Resolver struct {
	reader ContactReader
	gate   *prefs.Gate
	logger *slog.Logger
}

// New creates a Resolver over a contact reader and preference gate.
func New(reader ContactReader, gate *prefs.Gate, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{reader: reader, gate: gate, logger: logger}
}

// Resolve returns the deduplicated union of all three partitions. When two
// records share a dedup key, imported wins over external wins over
// inferred, and the loser is dropped entirely, never merged field by
// field, so disagreeing providers cannot produce a chimera record. Zero
// matches is an empty slice, never an error.
func (r *Resolver) Resolve(ctx context.Context, userID string) ([]contact.Contact, error) {
	stored, err := r.reader.ListActiveContacts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolver: loading stored partitions: %w", err)
	}

	inferred, err := r.inferredStream(ctx, userID, "")
	if err != nil {
		return nil, err
	}

	merged := dedupe(append(stored, inferred...))
	sortByRecency(merged)

	return merged, nil
}

// List returns up to limit contacts sorted by most recent communication.
// The cap is acceptable here because ordering is recency: it is the
// "recent contacts" view. Search never caps its pool.
func (r *Resolver) List(ctx context.Context, userID string, limit int) ([]contact.Contact, error) {
	merged, err := r.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}

	return merged, nil
}

// Search pushes the predicate down to the store over the full pool,
// synthesizes matching inferred contacts, dedupes, and orders: exact and
// prefix name matches before substring matches, then most recent
// communication first, ties broken by name ascending. Limit applies to the
// result count only.
func (r *Resolver) Search(ctx context.Context, userID, query string, limit int) ([]contact.Contact, error) {
	rows, err := r.reader.SearchContacts(ctx, userID, query)
	if err != nil {
		return nil, fmt.Errorf("resolver: searching stored partitions: %w", err)
	}

	rankByID := make(map[string]int, len(rows))
	pool := make([]contact.Contact, 0, len(rows))

	for _, row := range rows {
		rankByID[row.Contact.ID] = row.Rank
		pool = append(pool, row.Contact)
	}

	inferred, err := r.inferredStream(ctx, userID, query)
	if err != nil {
		return nil, err
	}

	fold := contact.FoldName(query)
	for i := range inferred {
		rankByID[inferred[i].ID] = matchRank(&inferred[i], fold)
	}

	merged := dedupe(append(pool, inferred...))

	sort.SliceStable(merged, func(i, j int) bool {
		ri, rj := rankByID[merged[i].ID], rankByID[merged[j].ID]
		if ri != rj {
			return ri < rj
		}

		if !merged[i].LastCommunicationAt.Equal(merged[j].LastCommunicationAt) {
			return merged[i].LastCommunicationAt.After(merged[j].LastCommunicationAt)
		}

		return contact.FoldName(merged[i].DisplayName) < contact.FoldName(merged[j].DisplayName)
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}

	return merged, nil
}

// inferredStream synthesizes the inferred partition from communication
// groups, one synthetic contact per identity, for every enabled inferred
// source. Disabled preferences contribute nothing. A non-empty query
// restricts groups to predicate matches (pushed down to the store).
func (r *Resolver) inferredStream(ctx context.Context, userID, query string) ([]contact.Contact, error) {
	var result []contact.Contact

	for key, sources := range inferredSources {
		if !r.gate.IsEnabled(ctx, userID, prefs.KindInferred, key) {
			continue
		}

		for _, src := range sources {
			var (
				groups []store.CommunicationGroup
				err    error
			)

			if query == "" {
				groups, err = r.reader.CommunicationGroups(ctx, userID, src)
			} else {
				groups, err = r.reader.SearchCommunicationGroups(ctx, userID, src, query)
			}

			if err != nil {
				return nil, fmt.Errorf("resolver: synthesizing inferred contacts: %w", err)
			}

			for _, g := range groups {
				result = append(result, synthesize(userID, g))
			}
		}
	}

	return result, nil
}

// synthesize builds the in-memory contact for one communication group.
// Never persisted; the ID is derived so repeated resolves are stable.
func synthesize(userID string, g store.CommunicationGroup) contact.Contact {
	name := g.DisplayName
	if name == "" {
		name = g.Identity
	}

	c := contact.Contact{
		ID:                  "inferred:" + g.Source.String() + ":" + g.Identity,
		UserID:              userID,
		ExternalID:          g.Identity,
		DisplayName:         name,
		Source:              g.Source,
		Provenance:          contact.ProvenanceInferred,
		LastCommunicationAt: g.LastAt,
		CreatedAt:           g.FirstAt,
	}

	if strings.Contains(g.Identity, "@") {
		c.Emails = []contact.Email{{Address: g.Identity, Primary: true}}
	} else {
		c.Phones = []contact.Phone{{E164: g.Identity, Primary: true}}
	}

	return c
}

// dedupe keeps one record per dedup key, chosen by provenance precedence.
// Equal precedence keeps the earlier-created record so the outcome is
// deterministic for a fixed snapshot regardless of input order.
func dedupe(all []contact.Contact) []contact.Contact {
	byKey := make(map[string]contact.Contact, len(all))
	order := make([]string, 0, len(all))

	for _, c := range all {
		key := c.DedupKey()

		existing, ok := byKey[key]
		if !ok {
			byKey[key] = c
			order = append(order, key)

			continue
		}

		if wins(&c, &existing) {
			byKey[key] = c
		}
	}

	result := make([]contact.Contact, 0, len(byKey))
	for _, key := range order {
		result = append(result, byKey[key])
	}

	return result
}

// wins reports whether challenger should replace incumbent for one dedup
// key. Tie-breaks beyond precedence: older creation first, then smaller ID,
// so winner selection has no dependence on stream order.
func wins(challenger, incumbent *contact.Contact) bool {
	pc, pi := precedence(challenger), precedence(incumbent)
	if pc != pi {
		return pc < pi
	}

	if !challenger.CreatedAt.Equal(incumbent.CreatedAt) {
		return challenger.CreatedAt.Before(incumbent.CreatedAt)
	}

	return challenger.ID < incumbent.ID
}

// matchRank mirrors the store's search ranking for synthesized contacts.
func matchRank(c *contact.Contact, fold string) int {
	name := contact.FoldName(c.DisplayName)

	switch {
	case name == fold:
		return 0
	case strings.HasPrefix(name, fold):
		return 1
	default:
		return 2
	}
}

// sortByRecency orders by most recent communication, then name, then ID
// for full determinism.
func sortByRecency(cs []contact.Contact) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].LastCommunicationAt.Equal(cs[j].LastCommunicationAt) {
			return cs[i].LastCommunicationAt.After(cs[j].LastCommunicationAt)
		}

		ni, nj := contact.FoldName(cs[i].DisplayName), contact.FoldName(cs[j].DisplayName)
		if ni != nj {
			return ni < nj
		}

		return cs[i].ID < cs[j].ID
	})
}
