package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps records in insertion order. Sorting is stable, so equal
// keys keep insertion order.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]Record)}
}

func (s *MemoryStore) StoreRecord(_ context.Context, collection string, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make(Record, len(record))
	for k, v := range record {
		cp[k] = v
	}
	s.collections[collection] = append(s.collections[collection], cp)
	return nil
}

func (s *MemoryStore) QueryRecords(_ context.Context, q StructuredQuery) ([]Record, error) {
	s.mu.RLock()
	all := s.collections[q.Collection]
	var out []Record
	for _, r := range all {
		if Matches(r, q.Filters) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	if q.Sort != nil {
		field, desc := q.Sort.Field, q.Sort.Desc
		sort.SliceStable(out, func(i, j int) bool {
			c := Compare(out[i][field], out[j][field])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Matches reports whether r satisfies every filter.
func Matches(r Record, filters []Filter) bool {
	for _, f := range filters {
		v, ok := r[f.Field]
		if !ok || v == nil {
			return false
		}
		c, comparable := compareValues(v, f.Value)
		if !comparable {
			return false
		}
		switch f.Op {
		case OpEq:
			if c != 0 {
				return false
			}
		case OpGt:
			if c <= 0 {
				return false
			}
		case OpGte:
			if c < 0 {
				return false
			}
		case OpLt:
			if c >= 0 {
				return false
			}
		case OpLte:
			if c > 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Compare orders two record values. Missing values sort first.
func Compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	c, ok := compareValues(a, b)
	if !ok {
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
	return c
}

func compareValues(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
	}
	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			return at.Compare(bt), true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(strings.ToLower(as), strings.ToLower(bs)), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		ts, err := time.Parse(time.RFC3339, t)
		return ts, err == nil
	}
	return time.Time{}, false
}
