package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dealview/contactsync/internal/contact"
)

// SearchRow pairs a contact with its match rank from the pushdown search
// query. Lower rank is a better match (0 exact, 1 prefix, 2 substring).
type SearchRow struct {
	Contact contact.Contact
	Rank    int
}

// UpsertContact inserts or updates a contact keyed by (user, source,
// external_id). The primary-flag invariant is repaired before writing, and
// a re-yielded record clears any prior soft delete. On update the stored
// row keeps its original id and created_at; last_communication_at only
// moves forward.
func (s *Store) UpsertContact(ctx context.Context, c *contact.Contact) error {
	contact.NormalizePrimaries(c)

	emailsJSON, err := json.Marshal(c.Emails)
	if err != nil {
		return fmt.Errorf("store: encoding emails for %s: %w", c.ExternalID, err)
	}

	phonesJSON, err := json.Marshal(c.Phones)
	if err != nil {
		return fmt.Errorf("store: encoding phones for %s: %w", c.ExternalID, err)
	}

	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().Unix()

	createdAt := now
	if !c.CreatedAt.IsZero() {
		createdAt = c.CreatedAt.Unix()
	}

	_, err = s.contactStmts.upsert.ExecContext(ctx,
		id, c.UserID, c.Source.String(), c.ExternalID, string(c.Partition),
		c.DisplayName, contact.FoldName(c.DisplayName),
		c.Company, contact.FoldName(c.Company),
		c.PrimaryEmail(), c.PrimaryPhone(),
		string(emailsJSON), string(phonesJSON), string(c.Provenance),
		unixOrZero(c.LastCommunicationAt), createdAt, now,
	)
	if err != nil {
		return unavailable(fmt.Sprintf("upserting contact %s/%s", c.Source, c.ExternalID), err)
	}

	return nil
}

// MarkContactDeleted soft-deletes a contact. The row stays for identity
// stability; the resolver never returns it.
func (s *Store) MarkContactDeleted(ctx context.Context, userID string, source contact.Source, externalID string) error {
	_, err := s.contactStmts.markDeleted.ExecContext(ctx,
		time.Now().Unix(), userID, source.String(), externalID)
	if err != nil {
		return unavailable(fmt.Sprintf("marking contact %s/%s deleted", source, externalID), err)
	}

	return nil
}

// GetContact returns a single contact by upsert identity, including
// soft-deleted rows. Returns (nil, nil) when no row exists.
func (s *Store) GetContact(ctx context.Context, userID string, source contact.Source, externalID string) (*contact.Contact, error) {
	row := s.contactStmts.get.QueryRowContext(ctx, userID, source.String(), externalID)

	c, err := scanContact(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, unavailable("getting contact", err)
	}

	return c, nil
}

// ListActiveContacts returns every non-deleted contact for a user across
// both stored partitions, recency-sorted. This is the resolver's input;
// no cap is applied here.
func (s *Store) ListActiveContacts(ctx context.Context, userID string) ([]contact.Contact, error) {
	rows, err := s.contactStmts.listActive.QueryContext(ctx, userID)
	if err != nil {
		return nil, unavailable("listing contacts", err)
	}

	return collectContacts(rows, "listing contacts")
}

// SearchContacts runs the pushdown predicate over the full stored pool.
// The query is case-folded and matched as a substring against name,
// company, email, and phone. No limit: callers cap after merging.
func (s *Store) SearchContacts(ctx context.Context, userID, query string) ([]SearchRow, error) {
	fold := contact.FoldName(query)
	sub := likeSubstring(fold)
	prefix := escapeLike(fold) + "%"

	rows, err := s.contactStmts.search.QueryContext(ctx,
		fold, prefix, userID, sub, sub, sub, sub, sub, sub)
	if err != nil {
		return nil, unavailable("searching contacts", err)
	}
	defer rows.Close()

	var result []SearchRow

	for rows.Next() {
		var rank int

		c, scanErr := scanContact(func(dest ...any) error {
			return rows.Scan(append(dest, &rank)...)
		})
		if scanErr != nil {
			return nil, unavailable("scanning search row", scanErr)
		}

		result = append(result, SearchRow{Contact: *c, Rank: rank})
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating search rows", err)
	}

	return result, nil
}

// collectContacts drains rows into a slice, closing them.
func collectContacts(rows *sql.Rows, desc string) ([]contact.Contact, error) {
	defer rows.Close()

	var result []contact.Contact

	for rows.Next() {
		c, err := scanContact(rows.Scan)
		if err != nil {
			return nil, unavailable("scanning "+desc, err)
		}

		result = append(result, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating "+desc, err)
	}

	return result, nil
}

// scanContact scans one row in sqlContactColumns order. The scan argument
// abstracts over *sql.Row and *sql.Rows.
func scanContact(scan func(...any) error) (*contact.Contact, error) {
	var (
		c                       contact.Contact
		source, part, prov      string
		emailsJSON, phonesJSON  string
		primaryEmail            string
		primaryPhone            string
		lastComm, created, updd int64
		deleted                 int
	)

	err := scan(&c.ID, &c.UserID, &source, &c.ExternalID, &part,
		&c.DisplayName, &c.Company, &primaryEmail, &primaryPhone,
		&emailsJSON, &phonesJSON, &prov, &lastComm, &created, &updd, &deleted)
	if err != nil {
		return nil, err
	}

	c.Source, err = contact.ParseSource(source)
	if err != nil {
		return nil, err
	}

	c.Partition, err = contact.ParsePartition(part)
	if err != nil {
		return nil, err
	}

	c.Provenance = contact.Provenance(prov)
	c.Deleted = deleted != 0
	c.CreatedAt = time.Unix(created, 0).UTC()
	c.UpdatedAt = time.Unix(updd, 0).UTC()

	if lastComm > 0 {
		c.LastCommunicationAt = time.Unix(lastComm, 0).UTC()
	}

	if err := json.Unmarshal([]byte(emailsJSON), &c.Emails); err != nil {
		return nil, fmt.Errorf("parsing emails for %s: %w", c.ID, err)
	}

	if err := json.Unmarshal([]byte(phonesJSON), &c.Phones); err != nil {
		return nil, fmt.Errorf("parsing phones for %s: %w", c.ID, err)
	}

	return &c, nil
}

// unixOrZero converts a timestamp to unix seconds, mapping the zero time
// to 0 ("no communication recorded").
func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.Unix()
}

// escapeLike escapes LIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// likeSubstring wraps an already-folded query as a substring pattern.
func likeSubstring(fold string) string {
	return "%" + escapeLike(fold) + "%"
}
