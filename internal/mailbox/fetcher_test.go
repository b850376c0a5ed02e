package mailbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher(t *testing.T) {
	var marked []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/emails/unread":
			_, _ = w.Write([]byte(`[{"id":"em-1","sender":"ada@acme.io","subject":"Hi","body":"Hello",
				"received_at":"2025-03-01T09:00:00Z"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/emails/em-1/read":
			marked = append(marked, "em-1")
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, time.Second)
	emails, err := f.FetchUnread(context.Background())
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "ada@acme.io", emails[0].Sender)
	assert.Equal(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), emails[0].ReceivedAt.UTC())

	require.NoError(t, f.MarkRead(context.Background(), "em-1"))
	assert.Equal(t, []string{"em-1"}, marked)
	assert.Error(t, f.MarkRead(context.Background(), "em-404"))
}

func TestHTTPFetcherErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(srv.URL, time.Second).FetchUnread(context.Background())
	assert.ErrorContains(t, err, "503")
}
