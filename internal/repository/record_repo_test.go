package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/internal/query"
)

func startups() query.Collection {
	c, _ := query.DefaultSchema().Collection("startups")
	return c
}

func TestBuildRecordQuery(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sql, args, err := buildRecordQuery(startups(), query.StructuredQuery{
		Collection: "startups",
		Filters: []query.Filter{
			{Field: "score", Op: query.OpGte, Value: 80.0},
			{Field: "sector", Op: query.OpEq, Value: "FinTech"},
			{Field: "created_at", Op: query.OpGte, Value: since},
		},
		Sort:  &query.Sort{Field: "score", Desc: true},
		Limit: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, "SELECT data FROM records WHERE collection = $1"+
		" AND (data->>$2)::double precision >= $3"+
		" AND lower(data->>$4) = $5"+
		" AND (data->>$6)::timestamptz >= $7"+
		" ORDER BY (data->>$8)::double precision DESC NULLS LAST, seq ASC"+
		" LIMIT $9", sql)
	assert.Equal(t, []any{"startups", "score", 80.0, "sector", "fintech", "created_at", since, "score", 5}, args)
}

func TestBuildRecordQueryDefaults(t *testing.T) {
	sql, args, err := buildRecordQuery(startups(), query.StructuredQuery{Collection: "startups", Sort: &query.Sort{Field: "name"}})
	require.NoError(t, err)
	assert.Equal(t, "SELECT data FROM records WHERE collection = $1 ORDER BY lower(data->>$2) ASC NULLS FIRST, seq ASC", sql)
	assert.Equal(t, []any{"startups", "name"}, args)
}

func TestBuildRecordQueryRejectsUnknownFields(t *testing.T) {
	_, _, err := buildRecordQuery(startups(), query.StructuredQuery{
		Collection: "startups",
		Filters:    []query.Filter{{Field: "revenue'; DROP TABLE records; --", Op: query.OpEq, Value: "x"}},
	})
	assert.ErrorIs(t, err, query.ErrUnknownField)

	_, _, err = buildRecordQuery(startups(), query.StructuredQuery{
		Collection: "startups",
		Filters:    []query.Filter{{Field: "score", Op: "LIKE", Value: 1.0}},
	})
	assert.ErrorIs(t, err, query.ErrUnparseableQuery)
}

func TestDecodeRecordRestoresTimes(t *testing.T) {
	rec, err := decodeRecord(startups(), []byte(`{"name":"Acme","score":91,"created_at":"2025-02-03T10:00:00Z"}`))
	require.NoError(t, err)

	assert.Equal(t, "Acme", rec["name"])
	assert.Equal(t, 91.0, rec["score"])
	assert.Equal(t, time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC), rec["created_at"])
}
