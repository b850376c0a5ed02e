// Package mailbox connects mailpilot to the mail transport: fetching unread
// messages from the mail gateway and delivering replies.
package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mailpilot/internal/model"
	"mailpilot/pkg/trace"
)

// Fetcher returns the unread emails of the watched inbox.
type Fetcher interface {
	FetchUnread(ctx context.Context) ([]model.Email, error)
}

// ReadMarker is implemented by fetchers that can flag an email as handled so
// it is not returned again.
type ReadMarker interface {
	MarkRead(ctx context.Context, emailID string) error
}

// HTTPFetcher reads the inbox through the mail gateway's REST API.
type HTTPFetcher struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFetcher) FetchUnread(ctx context.Context) ([]model.Email, error) {
	req, err := f.newRequest(ctx, http.MethodGet, "/emails/unread")
	if err != nil {
		return nil, err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch unread: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mail gateway returned %d", resp.StatusCode)
	}

	var emails []model.Email
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return nil, fmt.Errorf("decode unread emails: %w", err)
	}
	return emails, nil
}

func (f *HTTPFetcher) MarkRead(ctx context.Context, emailID string) error {
	req, err := f.newRequest(ctx, http.MethodPost, "/emails/"+url.PathEscape(emailID)+"/read")
	if err != nil {
		return err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mark %s read: %w", emailID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail gateway returned %d marking %s read", resp.StatusCode, emailID)
	}
	return nil
}

func (f *HTTPFetcher) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.HeaderName(), traceID)
	}
	return req, nil
}
