package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, store RecordStore) *Service {
	t.Helper()
	schema := testSchema()
	return NewService(newTestTranslator(nil), NewExecutor(store, schema, fastRetry, nil), schema, nil)
}

func TestAnswerRendersTable(t *testing.T) {
	svc := newTestService(t, seedStartups(t))

	got, err := svc.Answer(context.Background(), "top 2 startups by score")
	require.NoError(t, err)
	assert.Equal(t, "| name | score |\n| --- | --- |\n| b | 95 |\n| d | 95 |\n\n2 record(s)", got)
}

func TestAnswerNoResults(t *testing.T) {
	svc := newTestService(t, seedStartups(t))

	got, err := svc.Answer(context.Background(), "startups with score above 99")
	require.NoError(t, err)
	assert.Equal(t, NoResults, got)
}

func TestAnswerUnknownFieldListsSchema(t *testing.T) {
	svc := newTestService(t, seedStartups(t))

	got, err := svc.Answer(context.Background(), "top 5 startups by revenue")
	require.NoError(t, err)
	assert.Contains(t, got, "revenue")
	assert.Contains(t, got, "- startups (name, sector, score, created_at)")
	assert.Contains(t, got, "- founders (name, email)")
}

func TestAnswerUnparseable(t *testing.T) {
	svc := newTestService(t, seedStartups(t))

	got, err := svc.Answer(context.Background(), "startups with score around 80")
	require.NoError(t, err)
	assert.Contains(t, got, "couldn't turn that question into a precise query")
	assert.Contains(t, got, "- founders (name, email)")
}

func TestAnswerStoreUnavailable(t *testing.T) {
	svc := newTestService(t, &flakyStore{failures: 100, inner: NewMemoryStore()})

	got, err := svc.Answer(context.Background(), "show all startups")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, got, "not reachable")
}
