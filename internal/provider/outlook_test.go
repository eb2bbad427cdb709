package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func staticTokens() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
}

func TestOutlookContacts_FetchPagesAndDelta(t *testing.T) {
	t.Parallel()

	var server *httptest.Server

	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("auth header = %q", got)
		}

		switch {
		case r.URL.Query().Get("page") == "2":
			fmt.Fprintf(w, `{
				"value": [{"id": "c2", "displayName": "Bea", "emailAddresses": [{"address": "bea@x.com"}]}],
				"@odata.deltaLink": %q
			}`, server.URL+"/delta-token-1")
		default:
			fmt.Fprintf(w, `{
				"value": [
					{"id": "c1", "displayName": "Al", "companyName": "Acme",
					 "emailAddresses": [{"address": "al@x.com"}], "mobilePhone": "415-555-0134"},
					{"id": "c3", "@removed": {"reason": "deleted"}}
				],
				"@odata.nextLink": %q
			}`, server.URL+"/me/contacts/delta?page=2")
		}
	}))
	defer server.Close()

	a := NewOutlookContacts(server.URL, server.Client(), staticTokens(), testLogger(t))

	var emitted []RawRecord

	res, err := a.Fetch(context.Background(), FetchRequest{
		UserID: "u1",
		Emit: func(rec RawRecord) error {
			emitted = append(emitted, rec)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if res.Records != 3 || len(emitted) != 3 {
		t.Fatalf("records = %d/%d, want 3 across both pages", res.Records, len(emitted))
	}

	if emitted[0].Name != "Al" || emitted[0].Phones[0] != "415-555-0134" {
		t.Errorf("first record = %+v", emitted[0])
	}

	if !emitted[1].Deleted {
		t.Error("@removed contact should be flagged deleted")
	}

	if res.NewCursor != server.URL+"/delta-token-1" {
		t.Errorf("cursor = %q, want final delta link", res.NewCursor)
	}
}

func TestOutlookContacts_EmitErrorAborts(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"value": [{"id": "c1"}, {"id": "c2"}], "@odata.deltaLink": "d"}`)
	}))
	defer server.Close()

	a := NewOutlookContacts(server.URL, server.Client(), staticTokens(), testLogger(t))

	calls := 0
	_, err := a.Fetch(context.Background(), FetchRequest{
		Emit: func(RawRecord) error {
			calls++
			return fmt.Errorf("store full")
		},
	})

	if err == nil || calls != 1 {
		t.Errorf("err = %v after %d emits, want abort on first emit error", err, calls)
	}
}

func TestHTTPClient_RetriesOn429(t *testing.T) {
	t.Parallel()

	attempts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		fmt.Fprint(w, `{"value": [], "@odata.deltaLink": "d"}`)
	}))
	defer server.Close()

	a := NewOutlookContacts(server.URL, server.Client(), staticTokens(), testLogger(t))
	a.client.sleepFunc = func(context.Context, time.Duration) error { return nil }

	_, err := a.Fetch(context.Background(), FetchRequest{Emit: func(RawRecord) error { return nil }})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if attempts != 2 {
		t.Errorf("attempts = %d, want retry then success", attempts)
	}
}
