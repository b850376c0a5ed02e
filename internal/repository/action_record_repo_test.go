package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mqcontracts "mailpilot/contracts/mq"
	"mailpilot/internal/model"
	"mailpilot/internal/orchestrator"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *[]byte:
			if r.values[i] != nil {
				*p = r.values[i].([]byte)
			}
		case *time.Time:
			*p = r.values[i].(time.Time)
		case *int64:
			*p = r.values[i].(int64)
		}
	}
	return nil
}

func TestScanActionRecord(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rec, err := scanActionRecord(fakeRow{values: []any{
		"r-1", "em-1", "an-1", "AutoSend", "AwaitingReview", "PendingReview", "WeakCandidate",
		[]byte(`{"text":"Hi","tools":["draft"],"confidence":0.4}`), at,
	}})
	require.NoError(t, err)

	assert.Equal(t, &model.ActionRecord{
		ID:          "r-1",
		EmailID:     "em-1",
		AnalysisID:  "an-1",
		Disposition: model.DispositionAutoSend,
		State:       model.StateAwaitingReview,
		Outcome:     model.OutcomePendingReview,
		Reason:      model.ReasonWeakCandidate,
		Candidate:   &model.ResponseCandidate{Text: "Hi", Tools: []string{"draft"}, Confidence: 0.4},
		CreatedAt:   at,
	}, rec)
}

func TestScanActionRecordWithoutCandidate(t *testing.T) {
	rec, err := scanActionRecord(fakeRow{values: []any{
		"r-2", "em-1", "", "", "Received", "", "", nil, time.Now(),
	}})
	require.NoError(t, err)
	assert.Nil(t, rec.Candidate)
	assert.False(t, rec.State.Terminal())

	_, err = scanActionRecord(fakeRow{err: errors.New("boom")})
	assert.Error(t, err)
}

func TestAppendWritesRecordAndEventsInOneTx(t *testing.T) {
	fdb := newFakeTxDB(1, nil)
	repo := NewActionRecordRepository(fdb, nil)

	rec := model.ActionRecord{
		ID:          "r-3",
		EmailID:     "em-9",
		AnalysisID:  "an-9",
		Disposition: model.DispositionEscalate,
		State:       model.StateEscalated,
		Outcome:     model.OutcomeEscalatedOpen,
		CreatedAt:   time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	ev := orchestrator.Event{
		RoutingKey: mqcontracts.RoutingKeyEscalated,
		Payload:    mqcontracts.EscalatedPayload{EmailID: "em-9", RecordID: "r-3", Urgency: "critical", UrgencyLevel: 3},
	}
	require.NoError(t, repo.Append(context.Background(), rec, ev))

	require.Len(t, fdb.tx.statements, 1)
	assert.Contains(t, fdb.tx.statements[0], "INSERT INTO action_records")
	assert.Equal(t, "Escalated", fdb.tx.args[0][4])
	assert.Nil(t, fdb.tx.args[0][7])

	require.Len(t, fdb.tx.rowQueries, 1)
	assert.Contains(t, fdb.tx.rowQueries[0].sql, "INSERT INTO outbox_events")
	assert.Equal(t, "email", fdb.tx.rowQueries[0].args[0])
	assert.Equal(t, "em-9", fdb.tx.rowQueries[0].args[1])
	assert.Equal(t, mqcontracts.RoutingKeyEscalated, fdb.tx.rowQueries[0].args[2])

	var payload mqcontracts.EscalatedPayload
	require.NoError(t, json.Unmarshal(fdb.tx.rowQueries[0].args[3].(json.RawMessage), &payload))
	assert.Equal(t, "critical", payload.Urgency)
	assert.True(t, fdb.tx.committed)
}

func TestAppendRollsBackOnInsertFailure(t *testing.T) {
	fdb := newFakeTxDB(0, errors.New("duplicate key"))
	err := NewActionRecordRepository(fdb, nil).Append(context.Background(), model.ActionRecord{ID: "r-4", EmailID: "em-1", State: model.StateReceived})

	assert.ErrorContains(t, err, "insert action record")
	assert.True(t, fdb.tx.rolledBack)
	assert.Empty(t, fdb.tx.rowQueries)
}
