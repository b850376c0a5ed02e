package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/pkg/trace"
)

type fakeStore struct {
	mu      sync.Mutex
	events  map[int64]*Event
	sent    []int64
	failed  map[int64]int
	listErr error
}

func newFakeStore(events ...*Event) *fakeStore {
	s := &fakeStore{events: map[int64]*Event{}, failed: map[int64]int{}}
	for _, e := range events {
		s.events[e.ID] = e
	}
	return s
}

func (s *fakeStore) GetPendingEvents(_ context.Context, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*Event
	for id := int64(1); id <= int64(len(s.events)) && len(out) < limit; id++ {
		if e, ok := s.events[id]; ok && e.Status == StatusPending {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkAsSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[id].Status = StatusSent
	s.sent = append(s.sent, id)
	return nil
}

func (s *fakeStore) MarkAsFailed(_ context.Context, id int64, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.events[id]
	e.RetryCount++
	s.failed[id]++
	status, _ := nextAttempt(e.RetryCount, maxRetries, time.Now())
	e.Status = status
	return nil
}

func (s *fakeStore) GetEventByID(_ context.Context, id int64) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return e, nil
}

func (s *fakeStore) GetFailedEvents(_ context.Context, _ int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, e := range s.events {
		if e.Status == StatusFailed {
			out = append(out, e)
		}
	}
	return out, nil
}

type published struct {
	routingKey string
	traceID    string
	body       []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	body, _ := json.Marshal(payload)
	p.msgs = append(p.msgs, published{routingKey: routingKey, traceID: trace.FromContext(ctx), body: body})
	return nil
}

func pendingEvent(id int64, payload string) *Event {
	return &Event{ID: id, RoutingKey: "email.escalated", Payload: json.RawMessage(payload), Status: StatusPending}
}

func TestDispatchOncePublishesAndMarksSent(t *testing.T) {
	store := newFakeStore(
		pendingEvent(1, `{"email_id":"e1","trace_id":"abc"}`),
		pendingEvent(2, `{"email_id":"e2"}`),
	)
	pub := &fakePublisher{}

	sent := NewDispatcher(store, pub, nil).DispatchOnce(context.Background())

	assert.Equal(t, 2, sent)
	assert.Equal(t, []int64{1, 2}, store.sent)
	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "abc", pub.msgs[0].traceID)
	assert.JSONEq(t, `{"email_id":"e1","trace_id":"abc"}`, string(pub.msgs[0].body))
}

func TestDispatchOnceMarksFailuresForRetry(t *testing.T) {
	store := newFakeStore(pendingEvent(1, `{"email_id":"e1"}`))
	pub := &fakePublisher{err: errors.New("broker down")}
	d := NewDispatcher(store, pub, nil).WithMaxRetries(2)

	assert.Zero(t, d.DispatchOnce(context.Background()))
	assert.Equal(t, StatusPending, store.events[1].Status)

	assert.Zero(t, d.DispatchOnce(context.Background()))
	assert.Equal(t, StatusFailed, store.events[1].Status)
	assert.Equal(t, 2, store.failed[1])
}

func TestDispatchOnceRejectsInvalidPayload(t *testing.T) {
	store := newFakeStore(pendingEvent(1, `not-json`))
	pub := &fakePublisher{}

	assert.Zero(t, NewDispatcher(store, pub, nil).DispatchOnce(context.Background()))
	assert.Empty(t, pub.msgs)
	assert.Equal(t, 1, store.failed[1])
}

func TestReplayFailedEvents(t *testing.T) {
	failed := pendingEvent(1, `{"email_id":"e1"}`)
	failed.Status = StatusFailed
	store := newFakeStore(failed)
	pub := &fakePublisher{}

	n, err := NewReplayService(store, pub, nil).ReplayFailedEvents(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusSent, store.events[1].Status)
}

func TestNextAttempt(t *testing.T) {
	now := time.Unix(1000, 0)

	status, next := nextAttempt(1, 3, now)
	assert.Equal(t, StatusPending, status)
	require.NotNil(t, next)
	assert.Equal(t, now.Add(5*time.Second), *next)

	status, next = nextAttempt(3, 3, now)
	assert.Equal(t, StatusFailed, status)
	assert.Nil(t, next)
}
