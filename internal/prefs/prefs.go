// Package prefs reads the user-preference document owned by the settings
// subsystem and answers "is source X enabled for sync kind Y?". The document
// is external state this engine never writes; when it cannot be read, the
// gate fails open to the documented defaults.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// Kind distinguishes the two sync categories a source can participate in.
type Kind string

const (
	// KindDirect covers explicit contact imports. Direct syncs are
	// user-visible and opt-out: a missing preference means enabled.
	KindDirect Kind = "direct"

	// KindInferred covers contacts synthesized from communication history.
	// Inference is privacy-sensitive and opt-in: a missing preference
	// means disabled.
	KindInferred Kind = "inferred"
)

// Preference keys per kind. These mirror the settings UI toggles.
const (
	KeyOutlookContacts = "outlookContacts"
	KeyGmailContacts   = "gmailContacts"
	KeyMacOSContacts   = "macosContacts"

	KeyOutlookEmails = "outlookEmails"
	KeyGmailEmails   = "gmailEmails"
	KeyMessages      = "messages"
)

// Document is the versioned preference document. Unknown keys are retained
// by the owning subsystem; this engine only reads the contactSources maps.
type Document struct {
	Version        int            `json:"version"`
	ContactSources ContactSources `json:"contactSources"`
}

// ContactSources holds the per-kind toggle maps. A key absent from a map
// takes that kind's default.
type ContactSources struct {
	Direct   map[string]bool `json:"direct"`
	Inferred map[string]bool `json:"inferred"`
}

// Reader loads the preference document for a user. Implemented by the
// settings subsystem; FileReader is the file-backed implementation used by
// the CLI, and tests substitute fakes.
type Reader interface {
	GetPreferences(ctx context.Context, userID string) (*Document, error)
}

// DefaultEnabled returns the fail-open default for a (kind, key) pair:
// true for every direct key, false for every inferred key.
func DefaultEnabled(kind Kind, _ string) bool {
	return kind == KindDirect
}

// Gate answers enablement questions against the preference document. It is
// cheap and side-effect-free: one Reader call per decision, no caching.
type Gate struct {
	reader Reader
	logger *slog.Logger
}

// NewGate creates a Gate over the given preference reader.
func NewGate(reader Reader, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{reader: reader, logger: logger}
}

// IsEnabled reports whether the given source key is enabled for the given
// sync kind. Any load failure (reader unavailable, malformed document)
// falls open to DefaultEnabled, never to an error: a missing preference
// must not silently flip the opt-in/opt-out posture of either kind.
func (g *Gate) IsEnabled(ctx context.Context, userID string, kind Kind, key string) bool {
	doc, err := g.reader.GetPreferences(ctx, userID)
	if err != nil || doc == nil {
		if err != nil {
			g.logger.Debug("preferences unavailable, using defaults",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}

		return DefaultEnabled(kind, key)
	}

	var m map[string]bool

	switch kind {
	case KindDirect:
		m = doc.ContactSources.Direct
	case KindInferred:
		m = doc.ContactSources.Inferred
	}

	if v, ok := m[key]; ok {
		return v
	}

	return DefaultEnabled(kind, key)
}

// AnyInferredEnabled reports whether at least one inferred source is on.
// The resolver uses this to decide whether to synthesize the inferred
// partition at all.
func (g *Gate) AnyInferredEnabled(ctx context.Context, userID string) bool {
	for _, key := range []string{KeyOutlookEmails, KeyGmailEmails, KeyMessages} {
		if g.IsEnabled(ctx, userID, KindInferred, key) {
			return true
		}
	}

	return false
}

// FileReader loads the preference document from a JSON file on disk. The
// settings subsystem owns the file; this reader never writes it.
type FileReader struct {
	Path string
}

// GetPreferences reads and parses the document. A missing or malformed
// file returns an error; the Gate turns that into fail-open defaults.
func (r *FileReader) GetPreferences(_ context.Context, _ string) (*Document, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("prefs: reading %s: %w", r.Path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("prefs: parsing %s: %w", r.Path, err)
	}

	return &doc, nil
}
