// Package provider defines the uniform adapter contract the orchestrator
// syncs through, plus the adapters for the four external sources: the
// Outlook mailbox, the Gmail mailbox, the local macOS address book, and
// the local message store.
//
// Adapters yield loosely-shaped RawRecords; normalization to the strongly
// typed contact model happens here at the boundary (ToContact), never in
// the resolver.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dealview/contactsync/internal/contact"
	"github.com/dealview/contactsync/internal/prefs"
)

// RawRecord is the provider-shaped record before normalization. Adapters
// are not required to normalize addresses or numbers.
type RawRecord struct {
	ExternalID     string
	Name           string
	Emails         []string
	Phones         []string
	Company        string
	LastActivityAt time.Time
	Deleted        bool
}

// FetchRequest carries the per-run inputs to an adapter. Emit is called
// once per record, in provider order; returning an error from Emit aborts
// the fetch. Progress reports 0–100 and may be called at any granularity.
type FetchRequest struct {
	UserID   string
	Cursor   string
	Emit     func(RawRecord) error
	Progress func(percent float64)
}

// FetchResult summarizes a completed fetch.
type FetchResult struct {
	NewCursor string
	Records   int
}

// Adapter is one registered sync function: a (source, kind) pair with a
// fetch implementation. Kind direct yields contact records; kind inferred
// yields communication sightings.
type Adapter interface {
	Source() contact.Source
	Kind() prefs.Kind

	// PrefKey is the preference toggle gating this adapter.
	PrefKey() string

	// Incremental reports whether Fetch honors a cursor. Non-incremental
	// adapters receive an empty cursor and re-yield everything; upsert-by-
	// identity makes that idempotent.
	Incremental() bool

	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
}

// Registry holds registered adapters keyed by (source, kind).
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[registryKey]Adapter
}

type registryKey struct {
	source contact.Source
	kind   prefs.Kind
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[registryKey]Adapter)}
}

// Register adds an adapter. Registering the same (source, kind) twice is a
// programming error and fails loudly.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey{source: a.Source(), kind: a.Kind()}
	if _, exists := r.adapters[key]; exists {
		return fmt.Errorf("provider: adapter for %s/%s already registered", key.source, key.kind)
	}

	r.adapters[key] = a

	return nil
}

// ForSources returns every registered adapter whose source is in the
// requested set, in deterministic order.
func (r *Registry) ForSources(sources []contact.Source) []Adapter {
	want := make(map[contact.Source]bool, len(sources))
	for _, s := range sources {
		want[s] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Adapter

	for key, a := range r.adapters {
		if want[key.source] {
			result = append(result, a)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Source() != result[j].Source() {
			return result[i].Source() < result[j].Source()
		}

		return result[i].Kind() < result[j].Kind()
	})

	return result
}

// All returns every registered adapter in deterministic order.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	sources := make([]contact.Source, 0, len(r.adapters))

	for key := range r.adapters {
		sources = append(sources, key.source)
	}
	r.mu.RUnlock()

	return r.ForSources(sources)
}

// ToContact normalizes a raw record into the contact model: case-folded
// emails, E.164 phones, empties dropped, first entry primary. The caller
// supplies the partition the record lands in.
func ToContact(userID string, src contact.Source, part contact.Partition, rec RawRecord) contact.Contact {
	c := contact.Contact{
		UserID:              userID,
		ExternalID:          rec.ExternalID,
		DisplayName:         rec.Name,
		Company:             rec.Company,
		Source:              src,
		Provenance:          contact.ProvenanceDirect,
		Partition:           part,
		LastCommunicationAt: rec.LastActivityAt,
	}

	for _, e := range rec.Emails {
		if norm := contact.NormalizeEmail(e); norm != "" {
			c.Emails = append(c.Emails, contact.Email{Address: norm})
		}
	}

	for _, p := range rec.Phones {
		if norm := contact.NormalizePhone(p); norm != "" {
			c.Phones = append(c.Phones, contact.Phone{E164: norm})
		}
	}

	contact.NormalizePrimaries(&c)

	return c
}

// Identity extracts the normalized communication identity from a raw
// record: first usable email, else first usable phone, else "".
func Identity(rec RawRecord) string {
	for _, e := range rec.Emails {
		if norm := contact.NormalizeEmail(e); norm != "" {
			return norm
		}
	}

	for _, p := range rec.Phones {
		if norm := contact.NormalizePhone(p); norm != "" {
			return norm
		}
	}

	return ""
}
