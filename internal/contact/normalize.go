package contact

import (
	"strings"

	"golang.org/x/text/cases"
)

// folder performs full Unicode case folding. ASCII lowercase is not enough
// here: provider payloads carry names and addresses in arbitrary scripts,
// and search matching must agree with what was stored.
var folder = cases.Fold()

// NormalizeEmail trims whitespace and case-folds an email address. Returns
// the empty string for inputs that cannot be an address (no "@").
func NormalizeEmail(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "@") {
		return ""
	}

	return folder.String(s)
}

// FoldName case-folds a display name or company for search and dedup
// comparison. The stored display form is untouched; folding only feeds the
// *_fold columns and the dedup key.
func FoldName(s string) string {
	return folder.String(strings.TrimSpace(s))
}

// NormalizePhone converts a free-form phone number to E.164. Separators and
// punctuation are stripped; a leading "+" is preserved. Bare national
// numbers default to the NANP country code because the surrounding product
// ships with US-format message stores. Returns the empty string when no
// digits remain.
func NormalizePhone(s string) string {
	var b strings.Builder

	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}

	digits := b.String()

	switch {
	case digits == "" || digits == "+":
		return ""
	case strings.HasPrefix(digits, "+"):
		return digits
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	default:
		return "+" + digits
	}
}

// NormalizePrimaries restores the at-most-one-primary invariant on a set of
// emails and phones, in place. If multiple entries are flagged primary, the
// first flagged entry wins; if none are flagged and the set is non-empty,
// the first listed entry becomes primary.
func NormalizePrimaries(c *Contact) {
	normalizeEmailPrimaries(c.Emails)
	normalizePhonePrimaries(c.Phones)
}

func normalizeEmailPrimaries(emails []Email) {
	seen := false

	for i := range emails {
		if emails[i].Primary {
			if seen {
				emails[i].Primary = false
			}

			seen = true
		}
	}

	if !seen && len(emails) > 0 {
		emails[0].Primary = true
	}
}

func normalizePhonePrimaries(phones []Phone) {
	seen := false

	for i := range phones {
		if phones[i].Primary {
			if seen {
				phones[i].Primary = false
			}

			seen = true
		}
	}

	if !seen && len(phones) > 0 {
		phones[0].Primary = true
	}
}
