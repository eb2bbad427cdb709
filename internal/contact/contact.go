// Package contact provides the contact model shared by the store, resolver,
// and providers: source/provenance enums, the Contact record itself, and the
// identity normalization rules applied at the provider boundary.
//
// This is a leaf package; everything downstream (store, resolver, sync)
// depends on it and it depends on nothing else in the module.
package contact

import (
	"fmt"
	"time"
)

// Source identifies the external provider a contact record originated from.
type Source string

// Known sources. Manual and Imported come from explicit user action inside
// the app; the rest are provider syncs.
const (
	SourceManual      Source = "manual"
	SourceImported    Source = "imported"
	SourceContactsApp Source = "contacts_app"
	SourceOutlook     Source = "outlook"
	SourceSMS         Source = "sms"
	SourceMessages    Source = "messages"
	SourceEmail       Source = "email"
)

// String returns the wire/database form of the source.
func (s Source) String() string {
	return string(s)
}

// ParseSource converts a database TEXT value to a Source.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceManual, SourceImported, SourceContactsApp,
		SourceOutlook, SourceSMS, SourceMessages, SourceEmail:
		return Source(s), nil
	default:
		return "", fmt.Errorf("contact: unknown source %q", s)
	}
}

// Provenance records whether a contact was explicitly imported or
// synthesized from communication history.
type Provenance string

const (
	ProvenanceDirect   Provenance = "direct"
	ProvenanceInferred Provenance = "inferred"
)

// Partition is the logical grouping a stored record belongs to. Inferred
// records are never stored as first-class rows (they are derived at query
// time), so only Imported and External appear in the database.
type Partition string

const (
	PartitionImported Partition = "imported"
	PartitionExternal Partition = "external"
)

// ParsePartition converts a database TEXT value to a Partition.
func ParsePartition(s string) (Partition, error) {
	switch Partition(s) {
	case PartitionImported, PartitionExternal:
		return Partition(s), nil
	default:
		return "", fmt.Errorf("contact: unknown partition %q", s)
	}
}

// Email is a single address on a contact. Address is stored normalized
// (case-folded, trimmed). At most one email per contact is Primary.
type Email struct {
	Address string `json:"address"`
	Primary bool   `json:"primary,omitempty"`
}

// Phone is a single phone number on a contact. E164 is stored normalized.
// At most one phone per contact is Primary.
type Phone struct {
	E164    string `json:"e164"`
	Primary bool   `json:"primary,omitempty"`
}

// Contact is a person entity as returned by the resolver and persisted by
// the store. ID is opaque and stable across syncs; identity for upserts is
// the (UserID, Source, ExternalID) triple, not ID.
type Contact struct {
	ID          string
	UserID      string
	ExternalID  string
	DisplayName string
	Company     string
	Emails      []Email
	Phones      []Phone
	Source      Source
	Provenance  Provenance
	Partition   Partition

	// LastCommunicationAt advances on every ingested communication with a
	// fresher activity timestamp. Zero means no communication recorded.
	LastCommunicationAt time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Deleted             bool
}

// PrimaryEmail returns the primary email address, or the empty string when
// the contact has no emails. Assumes the primary invariant already holds
// (see NormalizePrimaries).
func (c *Contact) PrimaryEmail() string {
	for i := range c.Emails {
		if c.Emails[i].Primary {
			return c.Emails[i].Address
		}
	}

	return ""
}

// PrimaryPhone returns the primary phone in E.164 form, or the empty string
// when the contact has no phones.
func (c *Contact) PrimaryPhone() string {
	for i := range c.Phones {
		if c.Phones[i].Primary {
			return c.Phones[i].E164
		}
	}

	return ""
}

// DedupKey returns the identity used to merge records across partitions:
// normalized primary email if present, else normalized primary phone, else
// a weak (displayName, source) fallback. Records with an empty display name
// and no identifiers return a key unique to the record so they never
// accidentally merge.
func (c *Contact) DedupKey() string {
	if e := c.PrimaryEmail(); e != "" {
		return "email:" + e
	}

	if p := c.PrimaryPhone(); p != "" {
		return "phone:" + p
	}

	if c.DisplayName != "" {
		return "name:" + FoldName(c.DisplayName) + "|" + c.Source.String()
	}

	return "row:" + c.Source.String() + "|" + c.ExternalID
}
