package provider

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/dealview/contactsync/internal/contact"
	"github.com/dealview/contactsync/internal/prefs"
)

// DefaultOutlookBaseURL is the Graph API endpoint the two Outlook
// adapters page against.
const DefaultOutlookBaseURL = "https://graph.microsoft.com/v1.0"

// outlookContactPage is the Graph contacts response shape. NextLink keeps
// paging within one fetch; DeltaLink is the cursor persisted for the next
// incremental fetch.
type outlookContactPage struct {
	Value     []outlookContact `json:"value"`
	NextLink  string           `json:"@odata.nextLink"`
	DeltaLink string           `json:"@odata.deltaLink"`
}

type outlookContact struct {
	ID             string         `json:"id"`
	DisplayName    string         `json:"displayName"`
	CompanyName    string         `json:"companyName"`
	EmailAddresses []outlookEmail `json:"emailAddresses"`
	MobilePhone    string         `json:"mobilePhone"`
	BusinessPhones []string       `json:"businessPhones"`
	Removed        *struct {
		Reason string `json:"reason"`
	} `json:"@removed"`
}

type outlookEmail struct {
	Address string `json:"address"`
}

// OutlookContacts syncs the Graph contacts folder into the external
// partition. Incremental via delta links.
type OutlookContacts struct {
	client *httpClient
}

// NewOutlookContacts creates the direct-kind Outlook adapter.
func NewOutlookContacts(baseURL string, hc *http.Client, tokens oauth2.TokenSource, logger *slog.Logger) *OutlookContacts {
	return &OutlookContacts{client: newHTTPClient(baseURL, hc, tokens, logger)}
}

func (a *OutlookContacts) Source() contact.Source { return contact.SourceOutlook }
func (a *OutlookContacts) Kind() prefs.Kind       { return prefs.KindDirect }
func (a *OutlookContacts) PrefKey() string        { return prefs.KeyOutlookContacts }
func (a *OutlookContacts) Incremental() bool      { return true }

// Fetch pages /me/contacts/delta, emitting one record per contact. The
// returned cursor is the delta link of the final page.
func (a *OutlookContacts) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	page := req.Cursor
	if page == "" {
		page = "/me/contacts/delta?$top=100"
	}

	result := &FetchResult{}

	for pageNum := 1; ; pageNum++ {
		var body outlookContactPage
		if err := a.client.getJSON(ctx, page, &body); err != nil {
			return nil, err
		}

		for _, oc := range body.Value {
			rec := RawRecord{
				ExternalID: oc.ID,
				Name:       oc.DisplayName,
				Company:    oc.CompanyName,
				Deleted:    oc.Removed != nil,
			}

			for _, e := range oc.EmailAddresses {
				rec.Emails = append(rec.Emails, e.Address)
			}

			if oc.MobilePhone != "" {
				rec.Phones = append(rec.Phones, oc.MobilePhone)
			}

			rec.Phones = append(rec.Phones, oc.BusinessPhones...)

			if err := req.Emit(rec); err != nil {
				return nil, err
			}

			result.Records++
		}

		reportPagedProgress(req.Progress, pageNum)

		if body.NextLink != "" {
			page = body.NextLink
			continue
		}

		result.NewCursor = body.DeltaLink

		return result, nil
	}
}

// outlookMessagePage is the Graph messages response shape, metadata only.
type outlookMessagePage struct {
	Value    []outlookMessage `json:"value"`
	NextLink string           `json:"@odata.nextLink"`
}

type outlookMessage struct {
	ID       string `json:"id"`
	Received string `json:"receivedDateTime"`
	From     struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
}

// OutlookMessages yields communication sightings from mail headers for the
// inferred partition. Message bodies are never requested.
type OutlookMessages struct {
	client *httpClient
}

// NewOutlookMessages creates the inferred-kind Outlook adapter.
func NewOutlookMessages(baseURL string, hc *http.Client, tokens oauth2.TokenSource, logger *slog.Logger) *OutlookMessages {
	return &OutlookMessages{client: newHTTPClient(baseURL, hc, tokens, logger)}
}

func (a *OutlookMessages) Source() contact.Source { return contact.SourceOutlook }
func (a *OutlookMessages) Kind() prefs.Kind       { return prefs.KindInferred }
func (a *OutlookMessages) PrefKey() string        { return prefs.KeyOutlookEmails }
func (a *OutlookMessages) Incremental() bool      { return true }

// Fetch pages messages newer than the cursor (an RFC 3339 timestamp of the
// most recent message seen), emitting sender identities.
func (a *OutlookMessages) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	path := "/me/messages?$select=from,receivedDateTime&$orderby=receivedDateTime&$top=100"
	if req.Cursor != "" {
		path += "&$filter=" + url.QueryEscape("receivedDateTime gt "+req.Cursor)
	}

	result := &FetchResult{NewCursor: req.Cursor}

	for pageNum := 1; ; pageNum++ {
		var body outlookMessagePage
		if err := a.client.getJSON(ctx, path, &body); err != nil {
			return nil, err
		}

		for _, m := range body.Value {
			received, err := time.Parse(time.RFC3339, m.Received)
			if err != nil {
				// Malformed timestamp on one message, skip the record.
				continue
			}

			rec := RawRecord{
				ExternalID:     m.ID,
				Name:           m.From.EmailAddress.Name,
				Emails:         []string{m.From.EmailAddress.Address},
				LastActivityAt: received,
			}

			if err := req.Emit(rec); err != nil {
				return nil, err
			}

			result.Records++
			result.NewCursor = m.Received
		}

		reportPagedProgress(req.Progress, pageNum)

		if body.NextLink == "" {
			return result, nil
		}

		path = body.NextLink
	}
}

// reportPagedProgress approximates progress for cursors without a known
// total: asymptotically approaches 95%, the final 100% comes from the
// orchestrator on completion.
func reportPagedProgress(progress func(float64), pageNum int) {
	if progress == nil {
		return
	}

	pct := 95.0 * float64(pageNum) / float64(pageNum+2)
	progress(pct)
}
