package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mailpilot/internal/query"
	"mailpilot/pkg/db"
)

// RecordRepository stores schemaless documents as JSONB rows, one
// collection column per row. Reads are built from a StructuredQuery with
// every field name and value bound as a parameter.
type RecordRepository struct {
	db     db.DBTX
	schema query.Schema
}

func NewRecordRepository(conn db.DBTX, schema query.Schema) *RecordRepository {
	return &RecordRepository{db: conn, schema: schema}
}

func (r *RecordRepository) StoreRecord(ctx context.Context, collection string, record query.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", collection, err)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO records (collection, data) VALUES ($1, $2)`, collection, data)
	return err
}

func (r *RecordRepository) QueryRecords(ctx context.Context, q query.StructuredQuery) ([]query.Record, error) {
	coll, ok := r.schema.Collection(q.Collection)
	if !ok {
		return nil, fmt.Errorf("%w: unknown collection %q", query.ErrUnparseableQuery, q.Collection)
	}
	sql, args, err := buildRecordQuery(coll, q)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []query.Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(coll, data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// buildRecordQuery renders q as SQL. Ties are broken by insertion order.
func buildRecordQuery(coll query.Collection, q query.StructuredQuery) (string, []any, error) {
	args := []any{coll.Name}
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var b strings.Builder
	b.WriteString("SELECT data FROM records WHERE collection = $1")

	for _, f := range q.Filters {
		field, ok := coll.Field(f.Field)
		if !ok {
			return "", nil, fmt.Errorf("%w: %q is not queryable on %s", query.ErrUnknownField, f.Field, coll.Name)
		}
		op, err := sqlOperator(f.Op)
		if err != nil {
			return "", nil, err
		}
		expr := fieldExpr(field, bind(field.Name))
		value := f.Value
		if field.Type == query.FieldString {
			s, _ := value.(string)
			value = strings.ToLower(s)
		}
		fmt.Fprintf(&b, " AND %s %s %s", expr, op, bind(value))
	}

	b.WriteString(" ORDER BY ")
	if q.Sort != nil {
		field, ok := coll.Field(q.Sort.Field)
		if !ok {
			return "", nil, fmt.Errorf("%w: cannot sort %s by %q", query.ErrUnknownField, coll.Name, q.Sort.Field)
		}
		dir := "ASC NULLS FIRST"
		if q.Sort.Desc {
			dir = "DESC NULLS LAST"
		}
		fmt.Fprintf(&b, "%s %s, ", fieldExpr(field, bind(field.Name)), dir)
	}
	b.WriteString("seq ASC")

	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %s", bind(q.Limit))
	}
	return b.String(), args, nil
}

func fieldExpr(f query.Field, key string) string {
	switch f.Type {
	case query.FieldNumber:
		return fmt.Sprintf("(data->>%s)::double precision", key)
	case query.FieldTime:
		return fmt.Sprintf("(data->>%s)::timestamptz", key)
	default:
		return fmt.Sprintf("lower(data->>%s)", key)
	}
}

func sqlOperator(op query.Operator) (string, error) {
	switch op {
	case query.OpEq, query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		return string(op), nil
	}
	return "", fmt.Errorf("%w: operator %q", query.ErrUnparseableQuery, op)
}

// decodeRecord restores time fields, which JSON carries as strings.
func decodeRecord(coll query.Collection, data []byte) (query.Record, error) {
	var rec query.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", coll.Name, err)
	}
	for _, f := range coll.Fields {
		if f.Type != query.FieldTime {
			continue
		}
		if s, ok := rec[f.Name].(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				rec[f.Name] = ts
			}
		}
	}
	return rec, nil
}
