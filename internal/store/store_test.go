package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/dealview/contactsync/internal/contact"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore opens a read-write store on a temp file. File-backed rather
// than :memory: so read-only opens against the same path work in tests.
func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "contacts.db")

	s, err := Open(Options{Path: path}, testLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s, path
}

func TestUpsertContact_RoundTrip(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	in := &contact.Contact{
		UserID:      "u1",
		ExternalID:  "ext-1",
		DisplayName: "Jane Doe",
		Company:     "Acme",
		Source:      contact.SourceOutlook,
		Provenance:  contact.ProvenanceDirect,
		Partition:   contact.PartitionImported,
		Emails: []contact.Email{
			{Address: "jane@x.com", Primary: true},
			{Address: "jane@work.com"},
		},
		Phones: []contact.Phone{{E164: "+14155550134"}},
	}

	if err := s.UpsertContact(ctx, in); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}

	got, err := s.GetContact(ctx, "u1", contact.SourceOutlook, "ext-1")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}

	if got == nil {
		t.Fatal("GetContact returned nil")
	}

	if got.DisplayName != "Jane Doe" || got.Company != "Acme" {
		t.Errorf("fields = %q/%q, want Jane Doe/Acme", got.DisplayName, got.Company)
	}

	if got.PrimaryEmail() != "jane@x.com" {
		t.Errorf("primary email = %q, want jane@x.com", got.PrimaryEmail())
	}

	// Phone had no primary flag; first listed is promoted.
	if got.PrimaryPhone() != "+14155550134" {
		t.Errorf("primary phone = %q, want promoted first phone", got.PrimaryPhone())
	}

	if got.ID == "" {
		t.Error("stored contact has empty id")
	}
}

func TestUpsertContact_TwoPrimariesNormalized(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	in := &contact.Contact{
		UserID: "u1", ExternalID: "e", Source: contact.SourceImported,
		Partition: contact.PartitionImported, Provenance: contact.ProvenanceDirect,
		Emails: []contact.Email{
			{Address: "first@x.com", Primary: true},
			{Address: "second@x.com", Primary: true},
		},
	}

	if err := s.UpsertContact(ctx, in); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}

	got, err := s.GetContact(ctx, "u1", contact.SourceImported, "e")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}

	primaries := 0
	for _, e := range got.Emails {
		if e.Primary {
			primaries++
		}
	}

	if primaries != 1 || !got.Emails[0].Primary {
		t.Errorf("want exactly the first email primary, got %+v", got.Emails)
	}
}

func TestUpsertContact_UpdateKeepsIdentityAndRecency(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	older := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	first := &contact.Contact{
		UserID: "u1", ExternalID: "e1", Source: contact.SourceEmail,
		Partition: contact.PartitionExternal, Provenance: contact.ProvenanceDirect,
		DisplayName: "Old Name", LastCommunicationAt: newer,
	}
	if err := s.UpsertContact(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	stored, _ := s.GetContact(ctx, "u1", contact.SourceEmail, "e1")

	second := &contact.Contact{
		UserID: "u1", ExternalID: "e1", Source: contact.SourceEmail,
		Partition: contact.PartitionExternal, Provenance: contact.ProvenanceDirect,
		DisplayName: "New Name", LastCommunicationAt: older,
	}
	if err := s.UpsertContact(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetContact(ctx, "u1", contact.SourceEmail, "e1")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}

	if got.ID != stored.ID {
		t.Errorf("id changed across upserts: %q → %q", stored.ID, got.ID)
	}

	if got.DisplayName != "New Name" {
		t.Errorf("display name = %q, want updated value", got.DisplayName)
	}

	// Recency never moves backwards.
	if !got.LastCommunicationAt.Equal(newer) {
		t.Errorf("last communication = %v, want %v retained", got.LastCommunicationAt, newer)
	}
}

func TestMarkContactDeleted_UpsertRevives(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	c := &contact.Contact{
		UserID: "u1", ExternalID: "gone", Source: contact.SourceContactsApp,
		Partition: contact.PartitionImported, Provenance: contact.ProvenanceDirect,
		DisplayName: "Ghost",
	}

	if err := s.UpsertContact(ctx, c); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}

	if err := s.MarkContactDeleted(ctx, "u1", contact.SourceContactsApp, "gone"); err != nil {
		t.Fatalf("MarkContactDeleted: %v", err)
	}

	active, err := s.ListActiveContacts(ctx, "u1")
	if err != nil {
		t.Fatalf("ListActiveContacts: %v", err)
	}

	if len(active) != 0 {
		t.Fatalf("deleted contact still listed: %+v", active)
	}

	// A provider re-yielding the record clears the soft delete.
	if err := s.UpsertContact(ctx, c); err != nil {
		t.Fatalf("reviving upsert: %v", err)
	}

	active, err = s.ListActiveContacts(ctx, "u1")
	if err != nil {
		t.Fatalf("ListActiveContacts after revive: %v", err)
	}

	if len(active) != 1 {
		t.Fatalf("revived contact missing, got %d rows", len(active))
	}
}

func TestSearchContacts_RankAndEscaping(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	seed := []struct {
		name, email string
	}{
		{"Ann", "ann@x.com"},
		{"Anni Smith", "anni@x.com"},
		{"Joanne Berg", "jb@x.com"},
		{"Bob 100% Legit", "bob@x.com"},
	}

	for i, sd := range seed {
		c := &contact.Contact{
			UserID: "u1", ExternalID: fmt.Sprintf("e%d", i),
			Source: contact.SourceOutlook, Partition: contact.PartitionImported,
			Provenance:  contact.ProvenanceDirect,
			DisplayName: sd.name,
			Emails:      []contact.Email{{Address: sd.email, Primary: true}},
		}
		if err := s.UpsertContact(ctx, c); err != nil {
			t.Fatalf("seeding %q: %v", sd.name, err)
		}
	}

	rows, err := s.SearchContacts(ctx, "u1", "ann")
	if err != nil {
		t.Fatalf("SearchContacts: %v", err)
	}

	if len(rows) != 3 {
		t.Fatalf("got %d matches, want 3: %+v", len(rows), rows)
	}

	// Exact before prefix before substring.
	if rows[0].Contact.DisplayName != "Ann" || rows[0].Rank != 0 {
		t.Errorf("first = %q (rank %d), want exact match Ann", rows[0].Contact.DisplayName, rows[0].Rank)
	}

	if rows[1].Contact.DisplayName != "Anni Smith" || rows[1].Rank != 1 {
		t.Errorf("second = %q (rank %d), want prefix match", rows[1].Contact.DisplayName, rows[1].Rank)
	}

	if rows[2].Contact.DisplayName != "Joanne Berg" || rows[2].Rank != 2 {
		t.Errorf("third = %q (rank %d), want substring match", rows[2].Contact.DisplayName, rows[2].Rank)
	}

	// LIKE metacharacters in the query match literally.
	pct, err := s.SearchContacts(ctx, "u1", "100%")
	if err != nil {
		t.Fatalf("SearchContacts(100%%): %v", err)
	}

	if len(pct) != 1 || pct[0].Contact.DisplayName != "Bob 100% Legit" {
		t.Errorf("percent search = %+v, want only Bob", pct)
	}
}

func TestSearchContacts_SecondaryEmailAndPhone(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	c := &contact.Contact{
		UserID: "u1", ExternalID: "e1", Source: contact.SourceOutlook,
		Partition: contact.PartitionImported, Provenance: contact.ProvenanceDirect,
		DisplayName: "Pat Example",
		Emails: []contact.Email{
			{Address: "pat@x.com", Primary: true},
			{Address: "secondary@x.com"},
		},
		Phones: []contact.Phone{
			{E164: "+15551112222", Primary: true},
			{E164: "+15553334444"},
		},
	}
	if err := s.UpsertContact(ctx, c); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}

	for _, query := range []string{"secondary@x.com", "5553334444"} {
		rows, err := s.SearchContacts(ctx, "u1", query)
		if err != nil {
			t.Fatalf("SearchContacts(%q): %v", query, err)
		}

		if len(rows) != 1 || rows[0].Contact.DisplayName != "Pat Example" {
			t.Errorf("search %q = %+v, want Pat Example", query, rows)
		}
	}
}

func TestRecordCommunication_GroupsAndTouch(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	c := &contact.Contact{
		UserID: "u1", ExternalID: "e1", Source: contact.SourceOutlook,
		Partition: contact.PartitionImported, Provenance: contact.ProvenanceDirect,
		DisplayName: "Jane Doe",
		Emails:      []contact.Email{{Address: "jane@x.com", Primary: true}},
	}
	if err := s.UpsertContact(ctx, c); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}

	t1 := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)

	for _, comm := range []Communication{
		{UserID: "u1", Source: contact.SourceEmail, Identity: "jane@x.com", DisplayName: "Jane D", OccurredAt: t2},
		{UserID: "u1", Source: contact.SourceEmail, Identity: "jane@x.com", DisplayName: "Jane Doe", OccurredAt: t1},
		{UserID: "u1", Source: contact.SourceEmail, Identity: "other@x.com", OccurredAt: t1},
	} {
		if err := s.RecordCommunication(ctx, comm); err != nil {
			t.Fatalf("RecordCommunication: %v", err)
		}
	}

	groups, err := s.CommunicationGroups(ctx, "u1", contact.SourceEmail)
	if err != nil {
		t.Fatalf("CommunicationGroups: %v", err)
	}

	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}

	var jane *CommunicationGroup
	for i := range groups {
		if groups[i].Identity == "jane@x.com" {
			jane = &groups[i]
		}
	}

	if jane == nil {
		t.Fatal("jane@x.com group missing")
	}

	// Earliest sighting is the representative.
	if jane.DisplayName != "Jane Doe" {
		t.Errorf("representative name = %q, want earliest sighting's", jane.DisplayName)
	}

	if !jane.LastAt.Equal(t2) {
		t.Errorf("last at = %v, want %v", jane.LastAt, t2)
	}

	// Ingest advanced the stored contact's recency.
	got, err := s.GetContact(ctx, "u1", contact.SourceOutlook, "e1")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}

	if !got.LastCommunicationAt.Equal(t2) {
		t.Errorf("contact recency = %v, want advanced to %v", got.LastCommunicationAt, t2)
	}
}

func TestCursors(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetCursor(ctx, "u1", contact.SourceOutlook, "direct")
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}

	if got != "" {
		t.Errorf("fresh cursor = %q, want empty", got)
	}

	if err := s.SaveCursor(ctx, "u1", contact.SourceOutlook, "direct", "delta-123"); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}

	if err := s.SaveCursor(ctx, "u1", contact.SourceOutlook, "direct", "delta-456"); err != nil {
		t.Fatalf("SaveCursor update: %v", err)
	}

	got, err = s.GetCursor(ctx, "u1", contact.SourceOutlook, "direct")
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}

	if got != "delta-456" {
		t.Errorf("cursor = %q, want delta-456", got)
	}
}

func TestOpenReadOnly_SeesWriterRows(t *testing.T) {
	t.Parallel()

	s, path := newTestStore(t)
	ctx := context.Background()

	c := &contact.Contact{
		UserID: "u1", ExternalID: "e1", Source: contact.SourceSMS,
		Partition: contact.PartitionExternal, Provenance: contact.ProvenanceDirect,
		DisplayName: "Reader Test",
	}
	if err := s.UpsertContact(ctx, c); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}

	ro, err := Open(Options{Path: path, ReadOnly: true}, testLogger(t))
	if err != nil {
		t.Fatalf("read-only Open: %v", err)
	}
	defer ro.Close()

	rows, err := ro.ListActiveContacts(ctx, "u1")
	if err != nil {
		t.Fatalf("read-only ListActiveContacts: %v", err)
	}

	if len(rows) != 1 || rows[0].DisplayName != "Reader Test" {
		t.Errorf("read-only rows = %+v, want the writer's row", rows)
	}
}
