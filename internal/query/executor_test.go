package query

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/pkg/util"
)

var fastRetry = util.RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxRetries: 2}

func seedStartups(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []struct {
		name   string
		score  float64
		sector string
	}{
		{"a", 70, "Fintech"},
		{"b", 95, "Health"},
		{"c", 88, "fintech"},
		{"d", 95, "Climate"},
		{"e", 60, "Health"},
		{"f", 88, "Fintech"},
		{"g", 91, "Climate"},
	}
	for i, r := range rows {
		require.NoError(t, store.StoreRecord(context.Background(), "startups", Record{
			"name":       r.name,
			"score":      r.score,
			"sector":     r.sector,
			"created_at": base.Add(time.Duration(i) * 24 * time.Hour),
		}))
	}
	return store
}

func names(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r["name"].(string)
	}
	return out
}

func TestExecuteTopNKeepsStoreOrderForTies(t *testing.T) {
	exec := NewExecutor(seedStartups(t), testSchema(), fastRetry, nil)

	got, err := exec.Execute(context.Background(), StructuredQuery{
		Collection: "startups",
		Sort:       &Sort{Field: "score", Desc: true},
		Limit:      5,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d", "g", "c", "f"}, names(got))
}

func TestExecuteFilters(t *testing.T) {
	exec := NewExecutor(seedStartups(t), testSchema(), fastRetry, nil)

	tests := []struct {
		name    string
		filters []Filter
		want    []string
	}{
		{"greater than", []Filter{{Field: "score", Op: OpGt, Value: 88.0}}, []string{"b", "d", "g"}},
		{"at least", []Filter{{Field: "score", Op: OpGte, Value: 88.0}}, []string{"b", "c", "d", "f", "g"}},
		{"case insensitive equality", []Filter{{Field: "sector", Op: OpEq, Value: "FINTECH"}}, []string{"a", "c", "f"}},
		{"conjunction", []Filter{
			{Field: "sector", Op: OpEq, Value: "fintech"},
			{Field: "score", Op: OpLt, Value: 80.0},
		}, []string{"a"}},
		{"time range", []Filter{{Field: "created_at", Op: OpGte, Value: time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)}}, []string{"f", "g"}},
		{"no match", []Filter{{Field: "score", Op: OpGt, Value: 100.0}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := exec.Execute(context.Background(), StructuredQuery{Collection: "startups", Filters: tt.filters, Limit: 50})
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}
}

func TestExecuteRejectsInvalidQuery(t *testing.T) {
	exec := NewExecutor(seedStartups(t), testSchema(), fastRetry, nil)

	_, err := exec.Execute(context.Background(), StructuredQuery{Collection: "startups", Sort: &Sort{Field: "revenue"}})
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = exec.Execute(context.Background(), StructuredQuery{Collection: "unicorns"})
	assert.ErrorIs(t, err, ErrUnparseableQuery)

	_, err = exec.Execute(context.Background(), StructuredQuery{
		Collection: "startups",
		Filters:    []Filter{{Field: "score", Op: OpGt, Value: "high"}},
	})
	assert.ErrorIs(t, err, ErrUnparseableQuery)
}

type flakyStore struct {
	failures int32
	calls    atomic.Int32
	inner    RecordStore
}

func (s *flakyStore) QueryRecords(ctx context.Context, q StructuredQuery) ([]Record, error) {
	if s.calls.Add(1) <= s.failures {
		return nil, errors.New("connection refused")
	}
	return s.inner.QueryRecords(ctx, q)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	store := &flakyStore{failures: 2, inner: seedStartups(t)}
	exec := NewExecutor(store, testSchema(), fastRetry, nil)

	got, err := exec.Execute(context.Background(), StructuredQuery{Collection: "startups", Sort: &Sort{Field: "score"}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "a"}, names(got))
	assert.Equal(t, int32(3), store.calls.Load())
}

func TestExecuteStoreUnavailable(t *testing.T) {
	store := &flakyStore{failures: 100, inner: NewMemoryStore()}
	exec := NewExecutor(store, testSchema(), fastRetry, nil)

	_, err := exec.Execute(context.Background(), StructuredQuery{Collection: "startups", Limit: 10})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, int32(3), store.calls.Load())
}

type overflowingStore struct{ inner *MemoryStore }

func (s overflowingStore) QueryRecords(ctx context.Context, q StructuredQuery) ([]Record, error) {
	q.Limit = 0
	return s.inner.QueryRecords(ctx, q)
}

func TestExecuteEnforcesLimit(t *testing.T) {
	exec := NewExecutor(overflowingStore{inner: seedStartups(t)}, testSchema(), fastRetry, nil)

	got, err := exec.Execute(context.Background(), StructuredQuery{Collection: "startups", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestCompareMissingValuesSortFirst(t *testing.T) {
	assert.Equal(t, -1, Compare(nil, 1.0))
	assert.Equal(t, 1, Compare("x", nil))
	assert.Equal(t, 0, Compare(nil, nil))
	assert.Equal(t, 0, Compare("Acme", "acme"))
	assert.Equal(t, -1, Compare(2, 10.5))
}
