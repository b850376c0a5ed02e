// Package query turns natural-language questions into StructuredQuery
// values, runs them against a record store and renders the result.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnparseableQuery = errors.New("unparseable query")
	ErrUnknownField     = errors.New("unknown field")
	ErrStoreUnavailable = errors.New("record store unavailable")
)

type Operator string

const (
	OpEq  Operator = "="
	OpGt  Operator = ">"
	OpGte Operator = ">="
	OpLt  Operator = "<"
	OpLte Operator = "<="
)

func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpGt, OpGte, OpLt, OpLte:
		return true
	default:
		return false
	}
}

type Filter struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value any      `json:"value"`
}

type Sort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// StructuredQuery is the store-agnostic form of a question. Filters are
// conjunctive. Limit 0 means unset.
type StructuredQuery struct {
	Collection string   `json:"collection"`
	Filters    []Filter `json:"filters,omitempty"`
	Sort       *Sort    `json:"sort,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

func (q StructuredQuery) String() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	for i, f := range q.Filters {
		if i == 0 {
			b.WriteString(" where ")
		} else {
			b.WriteString(" and ")
		}
		fmt.Fprintf(&b, "%s %s %v", f.Field, f.Op, f.Value)
	}
	if q.Sort != nil {
		dir := "asc"
		if q.Sort.Desc {
			dir = "desc"
		}
		fmt.Fprintf(&b, " order by %s %s", q.Sort.Field, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " limit %d", q.Limit)
	}
	return b.String()
}

// Record is one stored document.
type Record map[string]any

// RecordStore executes structured queries. Results keep the store's
// insertion order for equal sort keys.
type RecordStore interface {
	QueryRecords(ctx context.Context, q StructuredQuery) ([]Record, error)
}

// RecordWriter persists a document into a collection.
type RecordWriter interface {
	StoreRecord(ctx context.Context, collection string, record Record) error
}
