package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dealview/contactsync/internal/contact"
)

// Communication is one sighting of an identity in a message or email
// header: the normalized sender address or number, the display name the
// provider attached to it, and when it happened.
type Communication struct {
	UserID      string
	Source      contact.Source
	Identity    string
	DisplayName string
	OccurredAt  time.Time
}

// CommunicationGroup collapses all sightings of one identity within one
// source. DisplayName comes from the earliest sighting (the group's
// representative record); LastAt feeds recency sorting.
type CommunicationGroup struct {
	Identity    string
	Source      contact.Source
	DisplayName string
	FirstAt     time.Time
	LastAt      time.Time
}

// RecordCommunication stores a sighting and advances the
// last_communication_at of any stored contact carrying that identity
// (update-on-ingest, so recency sorting is correct without a resync).
// Duplicate sightings are ignored.
func (s *Store) RecordCommunication(ctx context.Context, c Communication) error {
	occurred := c.OccurredAt.Unix()

	_, err := s.commStmts.insert.ExecContext(ctx,
		c.UserID, c.Source.String(), c.Identity,
		c.DisplayName, contact.FoldName(c.DisplayName), occurred)
	if err != nil {
		return unavailable("recording communication", err)
	}

	_, err = s.commStmts.touch.ExecContext(ctx,
		occurred, time.Now().Unix(), c.UserID,
		c.Identity, c.Identity, likeSubstring(c.Identity))
	if err != nil {
		return unavailable("advancing contact recency", err)
	}

	return nil
}

// CommunicationGroups returns the per-identity groups for one source. The
// resolver calls this once per enabled inferred source and merges groups
// sharing an identity across sources.
func (s *Store) CommunicationGroups(ctx context.Context, userID string, source contact.Source) ([]CommunicationGroup, error) {
	rows, err := s.commStmts.groups.QueryContext(ctx, userID, source.String())
	if err != nil {
		return nil, unavailable("grouping communications", err)
	}

	return collectGroups(rows, source)
}

// SearchCommunicationGroups returns groups whose identity or sighted name
// matches the folded query as a substring.
func (s *Store) SearchCommunicationGroups(ctx context.Context, userID string, source contact.Source, query string) ([]CommunicationGroup, error) {
	sub := likeSubstring(contact.FoldName(query))

	rows, err := s.commStmts.searchGroups.QueryContext(ctx, userID, source.String(), sub, sub)
	if err != nil {
		return nil, unavailable("searching communications", err)
	}

	return collectGroups(rows, source)
}

func collectGroups(rows *sql.Rows, source contact.Source) ([]CommunicationGroup, error) {
	defer rows.Close()

	var result []CommunicationGroup

	for rows.Next() {
		var (
			g               CommunicationGroup
			firstAt, lastAt int64
		)

		if err := rows.Scan(&g.Identity, &g.DisplayName, &firstAt, &lastAt); err != nil {
			return nil, unavailable("scanning communication group", err)
		}

		g.Source = source
		g.FirstAt = time.Unix(firstAt, 0).UTC()
		g.LastAt = time.Unix(lastAt, 0).UTC()
		result = append(result, g)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating communication groups", err)
	}

	return result, nil
}

// GetCursor returns the saved incremental-fetch cursor for a (source,
// kind) pair, or "" when none has been saved.
func (s *Store) GetCursor(ctx context.Context, userID string, source contact.Source, kind string) (string, error) {
	var cursor string

	err := s.cursorStmts.get.QueryRowContext(ctx, userID, source.String(), kind).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", unavailable("getting cursor", err)
	}

	return cursor, nil
}

// SaveCursor persists the cursor an adapter returned from a successful
// fetch.
func (s *Store) SaveCursor(ctx context.Context, userID string, source contact.Source, kind, cursor string) error {
	_, err := s.cursorStmts.save.ExecContext(ctx,
		userID, source.String(), kind, cursor, time.Now().Unix())
	if err != nil {
		return unavailable("saving cursor", err)
	}

	return nil
}
