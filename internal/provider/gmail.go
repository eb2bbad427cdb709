package provider

import (
	"context"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/dealview/contactsync/internal/contact"
	"github.com/dealview/contactsync/internal/prefs"
)

// Default endpoints for the Google adapters.
const (
	DefaultPeopleBaseURL = "https://people.googleapis.com/v1"
	DefaultGmailBaseURL  = "https://gmail.googleapis.com/gmail/v1"
)

// peopleConnectionsPage is the People API connections.list response shape.
type peopleConnectionsPage struct {
	Connections   []peoplePerson `json:"connections"`
	NextPageToken string         `json:"nextPageToken"`
	NextSyncToken string         `json:"nextSyncToken"`
	TotalItems    int            `json:"totalItems"`
}

type peoplePerson struct {
	ResourceName string `json:"resourceName"`
	Names        []struct {
		DisplayName string `json:"displayName"`
	} `json:"names"`
	EmailAddresses []struct {
		Value string `json:"value"`
	} `json:"emailAddresses"`
	PhoneNumbers []struct {
		Value string `json:"value"`
	} `json:"phoneNumbers"`
	Organizations []struct {
		Name string `json:"name"`
	} `json:"organizations"`
	Metadata struct {
		Deleted bool `json:"deleted"`
	} `json:"metadata"`
}

// GmailContacts syncs People API connections into the external partition.
// Incremental via sync tokens.
type GmailContacts struct {
	client *httpClient
}

// NewGmailContacts creates the direct-kind Gmail adapter.
func NewGmailContacts(baseURL string, hc *http.Client, tokens oauth2.TokenSource, logger *slog.Logger) *GmailContacts {
	return &GmailContacts{client: newHTTPClient(baseURL, hc, tokens, logger)}
}

func (a *GmailContacts) Source() contact.Source { return contact.SourceEmail }
func (a *GmailContacts) Kind() prefs.Kind       { return prefs.KindDirect }
func (a *GmailContacts) PrefKey() string        { return prefs.KeyGmailContacts }
func (a *GmailContacts) Incremental() bool      { return true }

// Fetch pages people/me/connections. The cursor is the People API sync
// token; deleted connections arrive flagged in metadata.
func (a *GmailContacts) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	base := "/people/me/connections?personFields=names,emailAddresses,phoneNumbers,organizations&requestSyncToken=true&pageSize=200"
	if req.Cursor != "" {
		base += "&syncToken=" + url.QueryEscape(req.Cursor)
	}

	result := &FetchResult{}
	pageToken := ""
	emitted := 0

	for {
		path := base
		if pageToken != "" {
			path += "&pageToken=" + url.QueryEscape(pageToken)
		}

		var body peopleConnectionsPage
		if err := a.client.getJSON(ctx, path, &body); err != nil {
			return nil, err
		}

		for _, p := range body.Connections {
			rec := RawRecord{
				ExternalID: p.ResourceName,
				Deleted:    p.Metadata.Deleted,
			}

			if len(p.Names) > 0 {
				rec.Name = p.Names[0].DisplayName
			}

			if len(p.Organizations) > 0 {
				rec.Company = p.Organizations[0].Name
			}

			for _, e := range p.EmailAddresses {
				rec.Emails = append(rec.Emails, e.Value)
			}

			for _, ph := range p.PhoneNumbers {
				rec.Phones = append(rec.Phones, ph.Value)
			}

			if err := req.Emit(rec); err != nil {
				return nil, err
			}

			result.Records++
			emitted++
		}

		if req.Progress != nil && body.TotalItems > 0 {
			req.Progress(100 * float64(emitted) / float64(body.TotalItems))
		}

		if body.NextPageToken == "" {
			result.NewCursor = body.NextSyncToken
			return result, nil
		}

		pageToken = body.NextPageToken
	}
}

// gmailMessagePage and friends are the Gmail API metadata shapes.
type gmailMessagePage struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

type gmailMessage struct {
	ID           string `json:"id"`
	InternalDate string `json:"internalDate"` // epoch millis, as string
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

// GmailMessages yields sender sightings from Gmail message metadata for
// the inferred partition.
type GmailMessages struct {
	client *httpClient
}

// NewGmailMessages creates the inferred-kind Gmail adapter.
func NewGmailMessages(baseURL string, hc *http.Client, tokens oauth2.TokenSource, logger *slog.Logger) *GmailMessages {
	return &GmailMessages{client: newHTTPClient(baseURL, hc, tokens, logger)}
}

func (a *GmailMessages) Source() contact.Source { return contact.SourceEmail }
func (a *GmailMessages) Kind() prefs.Kind       { return prefs.KindInferred }
func (a *GmailMessages) PrefKey() string        { return prefs.KeyGmailEmails }
func (a *GmailMessages) Incremental() bool      { return true }

// Fetch lists message IDs newer than the cursor (epoch seconds) and pulls
// From/Date metadata per message. Bodies are never requested.
func (a *GmailMessages) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	listPath := "/users/me/messages?maxResults=100"
	if req.Cursor != "" {
		listPath += "&q=" + url.QueryEscape("after:"+req.Cursor)
	}

	result := &FetchResult{NewCursor: req.Cursor}
	pageToken := ""

	for pageNum := 1; ; pageNum++ {
		path := listPath
		if pageToken != "" {
			path += "&pageToken=" + url.QueryEscape(pageToken)
		}

		var page gmailMessagePage
		if err := a.client.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}

		for _, m := range page.Messages {
			rec, ok, err := a.fetchMessage(ctx, m.ID)
			if err != nil {
				return nil, err
			}

			if !ok {
				continue
			}

			if err := req.Emit(rec); err != nil {
				return nil, err
			}

			result.Records++

			if ts := rec.LastActivityAt; !ts.IsZero() {
				result.NewCursor = formatEpochSeconds(ts)
			}
		}

		reportPagedProgress(req.Progress, pageNum)

		if page.NextPageToken == "" {
			return result, nil
		}

		pageToken = page.NextPageToken
	}
}

// fetchMessage loads one message's From header and timestamp. Messages
// without a parsable sender are skipped, not fatal.
func (a *GmailMessages) fetchMessage(ctx context.Context, id string) (RawRecord, bool, error) {
	var m gmailMessage

	path := "/users/me/messages/" + url.PathEscape(id) + "?format=metadata&metadataHeaders=From"
	if err := a.client.getJSON(ctx, path, &m); err != nil {
		return RawRecord{}, false, err
	}

	var from string

	for _, h := range m.Payload.Headers {
		if h.Name == "From" {
			from = h.Value
		}
	}

	name, addr := splitFromHeader(from)
	if addr == "" {
		return RawRecord{}, false, nil
	}

	rec := RawRecord{
		ExternalID:     m.ID,
		Name:           name,
		Emails:         []string{addr},
		LastActivityAt: parseEpochMillis(m.InternalDate),
	}

	return rec, true, nil
}

// splitFromHeader splits `Jane Doe <jane@x.com>` into name and address.
// A bare address yields an empty name.
func splitFromHeader(from string) (name, addr string) {
	parsed, err := mail.ParseAddress(from)
	if err != nil {
		return "", strings.TrimSpace(from)
	}

	return parsed.Name, parsed.Address
}

func parseEpochMillis(s string) time.Time {
	millis, err := strconv.ParseInt(s, 10, 64)
	if err != nil || millis <= 0 {
		return time.Time{}
	}

	return time.UnixMilli(millis).UTC()
}

func formatEpochSeconds(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
