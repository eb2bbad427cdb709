package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// Retry and backoff constants for the cloud mailbox clients.
const (
	maxRetries     = 4
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// httpClient is the shared HTTP plumbing for the Outlook and Gmail
// adapters: bearer auth from an oauth2.TokenSource, retry with exponential
// backoff on 429/5xx, and JSON decoding. Token acquisition and refresh
// live in the auth subsystem; this client only consumes the source.
type httpClient struct {
	baseURL string
	http    *http.Client
	tokens  oauth2.TokenSource
	logger  *slog.Logger

	// sleepFunc waits between retries. Tests override to avoid delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

func newHTTPClient(baseURL string, hc *http.Client, tokens oauth2.TokenSource, logger *slog.Logger) *httpClient {
	if hc == nil {
		hc = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &httpClient{
		baseURL:   baseURL,
		http:      hc,
		tokens:    tokens,
		logger:    logger,
		sleepFunc: sleepCtx,
	}
}

// getJSON fetches baseURL+path (or path verbatim when it is already
// absolute, as continuation links are) and decodes the response into out.
func (c *httpClient) getJSON(ctx context.Context, path string, out any) error {
	url := path
	if len(path) == 0 || path[0] == '/' {
		url = c.baseURL + path
	}

	var attempt int

	for {
		resp, err := c.doOnce(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("provider: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				if sleepErr := c.backoff(ctx, attempt, 0, url, err); sleepErr != nil {
					return sleepErr
				}

				attempt++

				continue
			}

			return fmt.Errorf("provider: GET %s: %w", url, err)
		}

		if retryable(resp.StatusCode) && attempt < maxRetries {
			after := retryAfter(resp)
			resp.Body.Close()

			if sleepErr := c.backoff(ctx, attempt, after, url, nil); sleepErr != nil {
				return sleepErr
			}

			attempt++

			continue
		}

		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("provider: GET %s: status %d: %s", url, resp.StatusCode, body)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("provider: decoding %s: %w", url, err)
		}

		return nil
	}
}

func (c *httpClient) doOnce(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}

	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	return c.http.Do(req)
}

// backoff sleeps before the next attempt. A non-zero Retry-After wins over
// the computed exponential delay.
func (c *httpClient) backoff(ctx context.Context, attempt int, after time.Duration, url string, cause error) error {
	d := after
	if d == 0 {
		d = calcBackoff(attempt)
	}

	c.logger.Warn("retrying provider request",
		slog.String("url", url),
		slog.Int("attempt", attempt+1),
		slog.Duration("backoff", d),
	)

	if cause != nil {
		c.logger.Debug("retry cause", slog.String("error", cause.Error()))
	}

	return c.sleepFunc(ctx, d)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}

	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}

	return time.Duration(secs) * time.Second
}

func calcBackoff(attempt int) time.Duration {
	d := time.Duration(float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}

	jitter := time.Duration(rand.Float64() * jitterFraction * float64(d))

	return d + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("provider: canceled during backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
