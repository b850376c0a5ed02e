package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/internal/model"
)

type fakeHistory map[string][]model.ActionRecord

func (f fakeHistory) History(_ context.Context, id string) ([]model.ActionRecord, error) {
	return f[id], nil
}

type fakeAnswerer struct{}

func (fakeAnswerer) Answer(_ context.Context, q string) (string, error) {
	return "answer to " + q, nil
}

type fakeReplayer struct {
	replayed []int64
}

func (f *fakeReplayer) ReplayEvent(_ context.Context, id int64) error {
	if id == 404 {
		return errors.New("event not found")
	}
	f.replayed = append(f.replayed, id)
	return nil
}

func (f *fakeReplayer) ReplayFailedEvents(_ context.Context, limit int) (int, error) {
	return limit, nil
}

func serve(t *testing.T, r *Router, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestHealthAndReadiness(t *testing.T) {
	healthy := NewRouter(Deps{Checks: map[string]Check{
		"db": func(context.Context) error { return nil },
	}})
	w, body := serve(t, healthy, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, body = serve(t, healthy, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])

	broken := NewRouter(Deps{Checks: map[string]Check{
		"db":    func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
	}})
	w, body = serve(t, broken, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, map[string]any{"redis": "dial tcp: refused"}, body["errors"])
}

func TestMetricsEndpoint(t *testing.T) {
	w, _ := serve(t, NewRouter(Deps{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestEmailRecords(t *testing.T) {
	r := NewRouter(Deps{History: fakeHistory{"e1": {
		{ID: "r1", EmailID: "e1", State: model.StateReceived},
		{ID: "r2", EmailID: "e1", State: model.StateArchived, Outcome: model.OutcomeArchived},
	}}})

	w, body := serve(t, r, http.MethodGet, "/admin/emails/e1/records", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["records"], 2)
	assert.Equal(t, "Archived", body["current"].(map[string]any)["state"])

	w, _ = serve(t, r, http.MethodGet, "/admin/emails/missing/records", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminQuery(t *testing.T) {
	r := NewRouter(Deps{Answerer: fakeAnswerer{}})

	w, body := serve(t, r, http.MethodPost, "/admin/query", `{"question":"top 3 startups by score"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "answer to top 3 startups by score", body["answer"])

	w, _ = serve(t, r, http.MethodPost, "/admin/query", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOutboxReplay(t *testing.T) {
	rep := &fakeReplayer{}
	r := NewRouter(Deps{Replayer: rep})

	w, _ := serve(t, r, http.MethodPost, "/admin/outbox/replay?event_id=7", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{7}, rep.replayed)

	w, _ = serve(t, r, http.MethodPost, "/admin/outbox/replay?event_id=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = serve(t, r, http.MethodPost, "/admin/outbox/replay?event_id=404", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w, body := serve(t, r, http.MethodPost, "/admin/outbox/replay-failed?limit=25", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(25), body["replayed"])
}

func TestAdminRoutesAbsentWithoutDeps(t *testing.T) {
	w, _ := serve(t, NewRouter(Deps{}), http.MethodPost, "/admin/query", `{"question":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
