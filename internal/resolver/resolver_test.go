package resolver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/dealview/contactsync/internal/contact"
	"github.com/dealview/contactsync/internal/prefs"
	"github.com/dealview/contactsync/internal/store"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePrefs struct {
	doc *prefs.Document
	err error
}

func (f *fakePrefs) GetPreferences(context.Context, string) (*prefs.Document, error) {
	return f.doc, f.err
}

func allInferredOn() *fakePrefs {
	return &fakePrefs{doc: &prefs.Document{
		ContactSources: prefs.ContactSources{
			Inferred: map[string]bool{
				prefs.KeyOutlookEmails: true,
				prefs.KeyGmailEmails:   true,
				prefs.KeyMessages:      true,
			},
		},
	}}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(store.Options{
		Path: filepath.Join(t.TempDir(), "contacts.db"),
	}, testLogger(t))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

func seedContact(t *testing.T, s *store.Store, c contact.Contact) {
	t.Helper()

	c.UserID = "u1"
	if err := s.UpsertContact(context.Background(), &c); err != nil {
		t.Fatalf("seeding contact %s: %v", c.ExternalID, err)
	}
}

func TestResolve_ProvenancePrecedence(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	// Imported and external rows plus a communication history, all for
	// the same email identity.
	seedContact(t, s, contact.Contact{
		ExternalID: "imp-1", Source: contact.SourceImported,
		Partition: contact.PartitionImported, Provenance: contact.ProvenanceDirect,
		DisplayName: "Jane Doe",
		Emails:      []contact.Email{{Address: "jane@x.com", Primary: true}},
	})
	seedContact(t, s, contact.Contact{
		ExternalID: "ext-1", Source: contact.SourceOutlook,
		Partition: contact.PartitionExternal, Provenance: contact.ProvenanceDirect,
		DisplayName: "Jane D.",
		Emails:      []contact.Email{{Address: "jane@x.com", Primary: true}},
	})

	err := s.RecordCommunication(ctx, store.Communication{
		UserID: "u1", Source: contact.SourceEmail, Identity: "jane@x.com",
		DisplayName: "jane@x.com",
		OccurredAt:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RecordCommunication: %v", err)
	}

	r := New(s, prefs.NewGate(allInferredOn(), testLogger(t)), testLogger(t))

	got, err := r.Resolve(ctx, "u1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("got %d contacts, want 1 after dedup: %+v", len(got), got)
	}

	// Imported wins over external wins over inferred; losers dropped
	// entirely, so the name is the imported record's, not the raw address.
	if got[0].DisplayName != "Jane Doe" {
		t.Errorf("winner = %q, want imported record's Jane Doe", got[0].DisplayName)
	}

	if got[0].Partition != contact.PartitionImported {
		t.Errorf("winner partition = %q, want imported", got[0].Partition)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedContact(t, s, contact.Contact{
			ExternalID: fmt.Sprintf("e%d", i), Source: contact.SourceOutlook,
			Partition: contact.PartitionExternal, Provenance: contact.ProvenanceDirect,
			DisplayName: fmt.Sprintf("Person %d", i),
			Emails:      []contact.Email{{Address: fmt.Sprintf("p%d@x.com", i), Primary: true}},
		})
	}

	for _, src := range []contact.Source{contact.SourceEmail, contact.SourceMessages} {
		err := s.RecordCommunication(ctx, store.Communication{
			UserID: "u1", Source: src, Identity: "p1@x.com",
			OccurredAt: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("RecordCommunication: %v", err)
		}
	}

	r := New(s, prefs.NewGate(allInferredOn(), testLogger(t)), testLogger(t))

	first, err := r.Resolve(ctx, "u1")
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}

	second, err := r.Resolve(ctx, "u1")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("resolve not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestResolve_InferredDisabledByDefault(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	err := s.RecordCommunication(ctx, store.Communication{
		UserID: "u1", Source: contact.SourceMessages, Identity: "+14155550134",
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("RecordCommunication: %v", err)
	}

	// Preference store down: inferred fails closed, direct fails open.
	gate := prefs.NewGate(&fakePrefs{err: fmt.Errorf("settings unavailable")}, testLogger(t))
	r := New(s, gate, testLogger(t))

	got, err := r.Resolve(ctx, "u1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(got) != 0 {
		t.Errorf("inferred contacts synthesized with preferences unavailable: %+v", got)
	}
}

func TestResolve_InferredIdentityShapes(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	when := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, comm := range []store.Communication{
		{UserID: "u1", Source: contact.SourceEmail, Identity: "ada@x.com", DisplayName: "Ada", OccurredAt: when},
		{UserID: "u1", Source: contact.SourceSMS, Identity: "+14155550134", OccurredAt: when},
	} {
		if err := s.RecordCommunication(ctx, comm); err != nil {
			t.Fatalf("RecordCommunication: %v", err)
		}
	}

	r := New(s, prefs.NewGate(allInferredOn(), testLogger(t)), testLogger(t))

	got, err := r.Resolve(ctx, "u1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d inferred contacts, want 2", len(got))
	}

	for _, c := range got {
		if c.Provenance != contact.ProvenanceInferred {
			t.Errorf("contact %q provenance = %q, want inferred", c.DisplayName, c.Provenance)
		}

		switch c.ExternalID {
		case "ada@x.com":
			if c.DisplayName != "Ada" || c.PrimaryEmail() != "ada@x.com" {
				t.Errorf("email identity synthesized wrong: %+v", c)
			}
		case "+14155550134":
			// No sighted name: identity doubles as display name.
			if c.DisplayName != "+14155550134" || c.PrimaryPhone() != "+14155550134" {
				t.Errorf("phone identity synthesized wrong: %+v", c)
			}
		default:
			t.Errorf("unexpected contact %+v", c)
		}
	}
}

func TestSearch_CompletenessBeyondListCap(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// 500 contacts; the needle sits at position 300 by recency, well past
	// a 200-row listing cap.
	for i := 0; i < 500; i++ {
		name := fmt.Sprintf("Filler %03d", i)
		if i == 299 {
			name = "Zelda Needle"
		}

		seedContact(t, s, contact.Contact{
			ExternalID: fmt.Sprintf("e%d", i), Source: contact.SourceOutlook,
			Partition: contact.PartitionImported, Provenance: contact.ProvenanceDirect,
			DisplayName:         name,
			Emails:              []contact.Email{{Address: fmt.Sprintf("c%d@x.com", i), Primary: true}},
			LastCommunicationAt: base.Add(-time.Duration(i) * time.Hour),
		})
	}

	r := New(s, prefs.NewGate(&fakePrefs{doc: &prefs.Document{}}, testLogger(t)), testLogger(t))

	listed, err := r.List(ctx, "u1", 200)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(listed) != 200 {
		t.Fatalf("list returned %d rows, want capped 200", len(listed))
	}

	for _, c := range listed {
		if c.DisplayName == "Zelda Needle" {
			t.Fatal("needle unexpectedly within the list cap")
		}
	}

	found, err := r.Search(ctx, "u1", "needle", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(found) != 1 || found[0].DisplayName != "Zelda Needle" {
		t.Errorf("search = %+v, want the needle regardless of cap", found)
	}
}

func TestSearch_Ordering(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	newer := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	seedContact(t, s, contact.Contact{
		ExternalID: "sub", Source: contact.SourceOutlook,
		Partition: contact.PartitionImported, Provenance: contact.ProvenanceDirect,
		DisplayName: "Joanne Berg", LastCommunicationAt: newer,
		Emails: []contact.Email{{Address: "joanne@x.com", Primary: true}},
	})
	seedContact(t, s, contact.Contact{
		ExternalID: "prefix-old", Source: contact.SourceOutlook,
		Partition: contact.PartitionImported, Provenance: contact.ProvenanceDirect,
		DisplayName: "Ann Zimmer", LastCommunicationAt: older,
		Emails: []contact.Email{{Address: "az@x.com", Primary: true}},
	})
	seedContact(t, s, contact.Contact{
		ExternalID: "prefix-new", Source: contact.SourceOutlook,
		Partition: contact.PartitionImported, Provenance: contact.ProvenanceDirect,
		DisplayName: "Ann Baxter", LastCommunicationAt: newer,
		Emails: []contact.Email{{Address: "ab@x.com", Primary: true}},
	})

	r := New(s, prefs.NewGate(&fakePrefs{doc: &prefs.Document{}}, testLogger(t)), testLogger(t))

	got, err := r.Search(ctx, "u1", "ann", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	want := []string{"Ann Baxter", "Ann Zimmer", "Joanne Berg"}

	var names []string
	for _, c := range got {
		names = append(names, c.DisplayName)
	}

	if !reflect.DeepEqual(names, want) {
		t.Errorf("order = %v, want %v (prefix before substring, recency within rank)", names, want)
	}
}

func TestSearch_EmptyResultIsNotError(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	r := New(s, prefs.NewGate(&fakePrefs{doc: &prefs.Document{}}, testLogger(t)), testLogger(t))

	got, err := r.Search(context.Background(), "u1", "nobody", 10)
	if err != nil {
		t.Fatalf("Search on empty store: %v", err)
	}

	if len(got) != 0 {
		t.Errorf("got %d rows, want none", len(got))
	}
}
