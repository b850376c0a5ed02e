package agentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/internal/model"
	"mailpilot/pkg/circuitbreaker"
	"mailpilot/pkg/trace"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", Timeout: time.Second})
}

func TestClassify(t *testing.T) {
	var gotTrace string
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/classify", r.URL.Path)
		gotTrace = r.Header.Get(trace.HeaderName())

		var req classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "em-1", req.EmailID)
		assert.Equal(t, "ada@acme.io", req.Sender)

		_, _ = w.Write([]byte(`{"id":"an-9","category":"meeting_request","sentiment":"positive",
			"intent":"schedule a call","confidence":0.92,"entities":{"date":["Thursday"]}}`))
	})

	ctx := trace.WithContext(context.Background(), "trace-123")
	got, err := client.Classify(ctx, model.Email{ID: "em-1", Sender: "ada@acme.io", Body: "Can we talk Thursday?"})
	require.NoError(t, err)

	assert.Equal(t, "trace-123", gotTrace)
	assert.Equal(t, model.Analysis{
		ID:         "an-9",
		EmailID:    "em-1",
		Category:   model.CategoryMeetingRequest,
		Sentiment:  model.SentimentPositive,
		Intent:     "schedule a call",
		Confidence: 0.92,
		Entities:   map[string][]string{"date": {"Thursday"}},
	}, got)
}

func TestClassifyRejectsInvalidOutput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown category", `{"category":"invoice","confidence":0.9}`},
		{"confidence out of range", `{"category":"Other","confidence":1.7}`},
		{"missing confidence", `{"category":"Other"}`},
		{"unknown sentiment", `{"category":"Other","confidence":0.5,"sentiment":"sarcastic"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.Classify(context.Background(), model.Email{ID: "em-1"})
			assert.ErrorIs(t, err, model.ErrInvalidAnalysis)
		})
	}
}

func TestGenerateAndInfer(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/generate":
			_, _ = w.Write([]byte(`{"text":"Happy to help."}`))
		case "/infer-query":
			var req inferRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, []string{"startups", "pitches"}, req.Collections)
			_, _ = w.Write([]byte(`{"collection":"startups","question":"top 5 startups by score"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	text, err := client.Generate(context.Background(), "reply please")
	require.NoError(t, err)
	assert.Equal(t, "Happy to help.", text)

	inf, err := client.InferQuery(context.Background(), "best startups?", []string{"startups", "pitches"})
	require.NoError(t, err)
	assert.Equal(t, "startups", inf.Collection)
	assert.Equal(t, "top 5 startups by score", inf.Question)
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	client := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 3; i++ {
		_, err := client.Generate(context.Background(), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "agent service returned 502")
	}
	assert.Equal(t, circuitbreaker.StateOpen, client.BreakerState())
	assert.ErrorIs(t, client.Ready(context.Background()), circuitbreaker.ErrCircuitBreakerOpen)

	_, err := client.Generate(context.Background(), "x")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.Equal(t, int32(3), calls.Load())
}

func TestReadyWhileBreakerClosed(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	assert.NoError(t, client.Ready(context.Background()))
}

func TestCallHonoursContext(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Generate(ctx, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
