package provider

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // registered by the store package too; import is idempotent

	"github.com/dealview/contactsync/internal/contact"
	"github.com/dealview/contactsync/internal/prefs"
)

// appleEpoch is the Core Data reference date the message store timestamps
// count from (nanoseconds since 2001-01-01 in recent schema versions).
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// sqlMessageSightings aggregates one row per conversation handle with the
// latest message date past the cursor. Only participant identity and
// timestamps are read; message text never leaves the store.
const sqlMessageSightings = `
	SELECT h.id, COUNT(m.ROWID), MAX(m.date)
	FROM message m
	JOIN handle h ON m.handle_id = h.ROWID
	WHERE m.date > ?
	GROUP BY h.id
	ORDER BY MAX(m.date) ASC`

// MessageStore yields communication sightings from the local iMessage/SMS
// database for the inferred partition. The database belongs to another
// process, so it is opened read-only and immutable for the duration of one
// fetch.
type MessageStore struct {
	path string
}

// NewMessageStore creates the adapter over the message database path.
func NewMessageStore(path string) *MessageStore {
	return &MessageStore{path: path}
}

func (a *MessageStore) Source() contact.Source { return contact.SourceMessages }
func (a *MessageStore) Kind() prefs.Kind       { return prefs.KindInferred }
func (a *MessageStore) PrefKey() string        { return prefs.KeyMessages }
func (a *MessageStore) Incremental() bool      { return true }

// Fetch emits one record per handle with activity past the cursor (the
// raw store timestamp of the newest message previously seen).
func (a *MessageStore) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	db, err := sql.Open("sqlite", "file:"+a.path+"?mode=ro&_pragma=query_only(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("provider: opening message store: %w", err)
	}
	defer db.Close()

	var since int64
	if req.Cursor != "" {
		since, err = strconv.ParseInt(req.Cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("provider: bad message cursor %q: %w", req.Cursor, err)
		}
	}

	rows, err := db.QueryContext(ctx, sqlMessageSightings, since)
	if err != nil {
		return nil, fmt.Errorf("provider: querying message store: %w", err)
	}
	defer rows.Close()

	result := &FetchResult{NewCursor: req.Cursor}

	for rows.Next() {
		var (
			handle  string
			count   int
			rawDate int64
		)

		if err := rows.Scan(&handle, &count, &rawDate); err != nil {
			return nil, fmt.Errorf("provider: scanning message sighting: %w", err)
		}

		rec := RawRecord{
			ExternalID:     handle,
			LastActivityAt: appleTime(rawDate),
		}

		// Handles are phone numbers for SMS/iMessage and addresses
		// for email-registered accounts.
		if contact.NormalizeEmail(handle) != "" {
			rec.Emails = []string{handle}
		} else {
			rec.Phones = []string{handle}
		}

		if err := req.Emit(rec); err != nil {
			return nil, err
		}

		result.Records++
		result.NewCursor = strconv.FormatInt(rawDate, 10)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("provider: iterating message sightings: %w", err)
	}

	if req.Progress != nil {
		req.Progress(100)
	}

	return result, nil
}

// appleTime converts a raw message-store timestamp to a time.Time. Older
// schemas store seconds since the reference date, newer ones nanoseconds;
// magnitude disambiguates.
func appleTime(raw int64) time.Time {
	if raw == 0 {
		return time.Time{}
	}

	const nanosecondThreshold = int64(1e12)

	if raw > nanosecondThreshold {
		return appleEpoch.Add(time.Duration(raw)).UTC()
	}

	return appleEpoch.Add(time.Duration(raw) * time.Second).UTC()
}
