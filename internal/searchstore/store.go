// Package searchstore is a query.RecordStore backed by an Elasticsearch
// index. Every document carries its collection name and an insertion
// sequence used to break sort ties.
package searchstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"mailpilot/internal/query"
	"mailpilot/pkg/config"
)

const (
	collectionField = "_collection"
	seqField        = "_seq"
	// maxHits bounds an unlimited query.
	maxHits = 10000
)

func NewClient(cfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	esCfg := elasticsearch.Config{Addresses: cfg.Addresses}
	if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}
	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return es, nil
}

type Store struct {
	client *elasticsearch.Client
	index  string
	schema query.Schema

	mu      sync.Mutex
	lastSeq int64
}

func New(client *elasticsearch.Client, index string, schema query.Schema) *Store {
	if index == "" {
		index = "mailpilot-records"
	}
	return &Store{client: client, index: index, schema: schema}
}

// Ping checks the cluster is reachable.
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping error: %s", res.Status())
	}
	return nil
}

// nextSeq is strictly increasing within this process and roughly ordered
// by wall clock across processes.
func (s *Store) nextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := time.Now().UnixNano()
	if seq <= s.lastSeq {
		seq = s.lastSeq + 1
	}
	s.lastSeq = seq
	return seq
}

func (s *Store) StoreRecord(ctx context.Context, collection string, record query.Record) error {
	doc := make(map[string]any, len(record)+2)
	for k, v := range record {
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(time.RFC3339Nano)
		}
		doc[k] = v
	}
	doc[collectionField] = collection
	doc[seqField] = s.nextSeq()

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", collection, err)
	}

	req := esapi.IndexRequest{
		Index:   s.index,
		Body:    bytes.NewReader(body),
		Refresh: "wait_for",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("index %s record: %w", collection, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index %s record failed: %s", collection, res.String())
	}
	return nil
}

func (s *Store) QueryRecords(ctx context.Context, q query.StructuredQuery) ([]query.Record, error) {
	coll, ok := s.schema.Collection(q.Collection)
	if !ok {
		return nil, fmt.Errorf("%w: unknown collection %q", query.ErrUnparseableQuery, q.Collection)
	}
	search, err := buildSearch(coll, q)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(search)
	if err != nil {
		return nil, err
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", coll.Name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search %s failed: %s", coll.Name, res.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]query.Record, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		rec := query.Record(hit.Source)
		delete(rec, collectionField)
		delete(rec, seqField)
		restoreTimes(coll, rec)
		out = append(out, rec)
	}
	return out, nil
}

// buildSearch renders q as a bool filter query sorted by the requested
// field and then by insertion sequence.
func buildSearch(coll query.Collection, q query.StructuredQuery) (map[string]any, error) {
	filters := []any{
		map[string]any{"term": map[string]any{collectionField: coll.Name}},
	}
	for _, f := range q.Filters {
		field, ok := coll.Field(f.Field)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not queryable on %s", query.ErrUnknownField, f.Field, coll.Name)
		}
		clause, err := filterClause(field, f)
		if err != nil {
			return nil, err
		}
		filters = append(filters, clause)
	}

	var sorts []any
	if q.Sort != nil {
		field, ok := coll.Field(q.Sort.Field)
		if !ok {
			return nil, fmt.Errorf("%w: cannot sort %s by %q", query.ErrUnknownField, coll.Name, q.Sort.Field)
		}
		order, missing := "asc", "_first"
		if q.Sort.Desc {
			order, missing = "desc", "_last"
		}
		sorts = append(sorts, map[string]any{
			fieldPath(field): map[string]any{"order": order, "missing": missing},
		})
	}
	sorts = append(sorts, map[string]any{seqField: map[string]any{"order": "asc"}})

	size := maxHits
	if q.Limit > 0 && q.Limit < size {
		size = q.Limit
	}

	return map[string]any{
		"query": map[string]any{"bool": map[string]any{"filter": filters}},
		"sort":  sorts,
		"size":  size,
	}, nil
}

func filterClause(field query.Field, f query.Filter) (map[string]any, error) {
	value := f.Value
	if t, ok := value.(time.Time); ok {
		value = t.UTC().Format(time.RFC3339Nano)
	}
	path := fieldPath(field)

	if f.Op == query.OpEq {
		term := map[string]any{"value": value}
		if field.Type == query.FieldString {
			term["case_insensitive"] = true
		}
		return map[string]any{"term": map[string]any{path: term}}, nil
	}

	var key string
	switch f.Op {
	case query.OpGt:
		key = "gt"
	case query.OpGte:
		key = "gte"
	case query.OpLt:
		key = "lt"
	case query.OpLte:
		key = "lte"
	default:
		return nil, fmt.Errorf("%w: operator %q", query.ErrUnparseableQuery, f.Op)
	}
	return map[string]any{"range": map[string]any{path: map[string]any{key: value}}}, nil
}

// fieldPath targets the keyword sub-field of text fields under dynamic
// mapping.
func fieldPath(f query.Field) string {
	if f.Type == query.FieldString {
		return f.Name + ".keyword"
	}
	return f.Name
}

func restoreTimes(coll query.Collection, rec query.Record) {
	for _, f := range coll.Fields {
		if f.Type != query.FieldTime {
			continue
		}
		if s, ok := rec[f.Name].(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s)); err == nil {
				rec[f.Name] = ts
			}
		}
	}
}
