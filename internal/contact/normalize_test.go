package contact

import "testing"

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"  Jane.Doe@Example.COM ", "jane.doe@example.com"},
		{"jane@x.com", "jane@x.com"},
		{"not-an-address", ""},
		{"", ""},
	}

	for _, tc := range cases {
		if got := NormalizeEmail(tc.in); got != tc.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"(415) 555-0134", "+14155550134"},
		{"415-555-0134", "+14155550134"},
		{"14155550134", "+14155550134"},
		{"+44 20 7946 0958", "+442079460958"},
		{"+14155550134", "+14155550134"},
		{"ext.", ""},
		{"", ""},
	}

	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePrimaries_MultipleFlagged(t *testing.T) {
	t.Parallel()

	c := &Contact{
		Emails: []Email{
			{Address: "a@x.com", Primary: true},
			{Address: "b@x.com", Primary: true},
		},
	}

	NormalizePrimaries(c)

	if !c.Emails[0].Primary || c.Emails[1].Primary {
		t.Errorf("want first flagged email to win, got %+v", c.Emails)
	}
}

func TestNormalizePrimaries_NoneFlagged(t *testing.T) {
	t.Parallel()

	c := &Contact{
		Phones: []Phone{
			{E164: "+14155550134"},
			{E164: "+14155550135"},
		},
	}

	NormalizePrimaries(c)

	if !c.Phones[0].Primary || c.Phones[1].Primary {
		t.Errorf("want first listed phone promoted, got %+v", c.Phones)
	}
}

func TestDedupKey_Precedence(t *testing.T) {
	t.Parallel()

	c := &Contact{
		DisplayName: "Jane Doe",
		Source:      SourceOutlook,
		Emails:      []Email{{Address: "jane@x.com", Primary: true}},
		Phones:      []Phone{{E164: "+14155550134", Primary: true}},
	}

	if got := c.DedupKey(); got != "email:jane@x.com" {
		t.Errorf("key = %q, want email key", got)
	}

	c.Emails = nil
	if got := c.DedupKey(); got != "phone:+14155550134" {
		t.Errorf("key = %q, want phone key", got)
	}

	c.Phones = nil
	if got := c.DedupKey(); got != "name:jane doe|outlook" {
		t.Errorf("key = %q, want name+source key", got)
	}
}

func TestParseSource(t *testing.T) {
	t.Parallel()

	if _, err := ParseSource("outlook"); err != nil {
		t.Fatalf("ParseSource(outlook): %v", err)
	}

	if _, err := ParseSource("fax"); err == nil {
		t.Fatal("ParseSource(fax): want error")
	}
}
