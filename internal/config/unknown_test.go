package config

import "testing"

func TestLevenshtein(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"log_level", "log_level", 0},
		{"log_lvl", "log_level", 2},
	}

	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestClosestMatch(t *testing.T) {
	t.Parallel()

	known := []string{"logging.log_level", "query.timeout", "store.path"}

	if got := closestMatch("query.timeot", known); got != "query.timeout" {
		t.Errorf("closestMatch = %q", got)
	}

	// Nothing within range.
	if got := closestMatch("completely_different", known); got != "" {
		t.Errorf("closestMatch on distant key = %q, want none", got)
	}
}
