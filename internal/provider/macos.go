package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dealview/contactsync/internal/contact"
	"github.com/dealview/contactsync/internal/prefs"
)

// macosCard is one entry in the address-book bridge export. The desktop
// shell runs the bridge (it needs Contacts.framework entitlements) and
// drops a JSON snapshot at a well-known path; this adapter only reads it.
type macosCard struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Company  string   `json:"company"`
	Emails   []string `json:"emails"`
	Phones   []string `json:"phones"`
	Modified string   `json:"modified"` // RFC 3339
}

// MacOSContacts syncs the local address-book snapshot into the imported
// partition. Full fetch every run: the snapshot is local and small, and
// upsert-by-identity makes re-reading it idempotent.
type MacOSContacts struct {
	path string
}

// NewMacOSContacts creates the adapter over a snapshot file path.
func NewMacOSContacts(path string) *MacOSContacts {
	return &MacOSContacts{path: path}
}

func (a *MacOSContacts) Source() contact.Source { return contact.SourceContactsApp }
func (a *MacOSContacts) Kind() prefs.Kind       { return prefs.KindDirect }
func (a *MacOSContacts) PrefKey() string        { return prefs.KeyMacOSContacts }
func (a *MacOSContacts) Incremental() bool      { return false }

// Fetch reads and emits the whole snapshot. A missing file is an empty
// address book, not an error: the bridge may not have run yet.
func (a *MacOSContacts) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	data, err := os.ReadFile(a.path)
	if os.IsNotExist(err) {
		if req.Progress != nil {
			req.Progress(100)
		}

		return &FetchResult{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("provider: reading address book snapshot: %w", err)
	}

	var cards []macosCard
	if err := json.Unmarshal(data, &cards); err != nil {
		return nil, fmt.Errorf("provider: parsing address book snapshot: %w", err)
	}

	result := &FetchResult{}

	for i, card := range cards {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("provider: address book fetch canceled: %w", err)
		}

		rec := RawRecord{
			ExternalID: card.ID,
			Name:       card.Name,
			Company:    card.Company,
			Emails:     card.Emails,
			Phones:     card.Phones,
		}

		if ts, parseErr := time.Parse(time.RFC3339, card.Modified); parseErr == nil {
			rec.LastActivityAt = ts
		}

		if err := req.Emit(rec); err != nil {
			return nil, err
		}

		result.Records++

		if req.Progress != nil {
			req.Progress(100 * float64(i+1) / float64(len(cards)))
		}
	}

	return result, nil
}
