package orchestrator

import (
	"context"
	"sync"

	"mailpilot/internal/model"
)

// MemoryLog is a RecordLog kept in process memory. Published events are
// kept alongside so callers can inspect them.
type MemoryLog struct {
	mu      sync.RWMutex
	records map[string][]model.ActionRecord
	events  []Event
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{records: make(map[string][]model.ActionRecord)}
}

func (m *MemoryLog) Append(_ context.Context, rec model.ActionRecord, events ...Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.EmailID] = append(m.records[rec.EmailID], rec)
	m.events = append(m.events, events...)
	return nil
}

func (m *MemoryLog) Latest(_ context.Context, emailID string) (*model.ActionRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.records[emailID]
	if len(recs) == 0 {
		return nil, false, nil
	}
	rec := recs[len(recs)-1]
	return &rec, true, nil
}

// History returns every record for emailID, oldest first.
func (m *MemoryLog) History(emailID string) []model.ActionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.ActionRecord(nil), m.records[emailID]...)
}

// Events returns the events appended so far.
func (m *MemoryLog) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event(nil), m.events...)
}
