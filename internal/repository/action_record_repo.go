package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mailpilot/internal/model"
	"mailpilot/internal/orchestrator"
	"mailpilot/pkg/db"
	"mailpilot/pkg/outbox"
)

// ActionRecordRepository is the postgres audit trail. Records and their
// outbox events are written in one transaction.
type ActionRecordRepository struct {
	db     db.TxStarter
	outbox *outbox.Repository
}

func NewActionRecordRepository(conn db.TxStarter, outboxRepo *outbox.Repository) *ActionRecordRepository {
	if outboxRepo == nil {
		outboxRepo = outbox.NewRepository(conn)
	}
	return &ActionRecordRepository{db: conn, outbox: outboxRepo}
}

const actionRecordColumns = `id, email_id, analysis_id, disposition, state, outcome, reason, candidate, created_at`

func (r *ActionRecordRepository) Append(ctx context.Context, rec model.ActionRecord, events ...orchestrator.Event) error {
	var candidate []byte
	if rec.Candidate != nil {
		var err error
		if candidate, err = json.Marshal(rec.Candidate); err != nil {
			return fmt.Errorf("marshal candidate: %w", err)
		}
	}

	return db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO action_records (`+actionRecordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			rec.ID,
			rec.EmailID,
			rec.AnalysisID,
			string(rec.Disposition),
			string(rec.State),
			string(rec.Outcome),
			rec.Reason,
			candidate,
			rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert action record: %w", err)
		}

		for _, ev := range events {
			if err := outbox.InsertEventInTx(ctx, tx, r.outbox, "email", rec.EmailID, ev.RoutingKey, ev.Payload); err != nil {
				return err
			}
		}
		return nil
	})
}

// Latest returns the newest record for emailID. Ties on created_at are
// broken by insertion order.
func (r *ActionRecordRepository) Latest(ctx context.Context, emailID string) (*model.ActionRecord, bool, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+actionRecordColumns+`
		FROM action_records
		WHERE email_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, emailID)

	rec, err := scanActionRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// History returns every record for emailID, oldest first.
func (r *ActionRecordRepository) History(ctx context.Context, emailID string) ([]model.ActionRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+actionRecordColumns+`
		FROM action_records
		WHERE email_id = $1
		ORDER BY seq ASC
	`, emailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ActionRecord
	for rows.Next() {
		rec, err := scanActionRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanActionRecord(row pgx.Row) (*model.ActionRecord, error) {
	var rec model.ActionRecord
	var disposition, state, outcome string
	var candidate []byte
	err := row.Scan(
		&rec.ID,
		&rec.EmailID,
		&rec.AnalysisID,
		&disposition,
		&state,
		&outcome,
		&rec.Reason,
		&candidate,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Disposition = model.Disposition(disposition)
	rec.State = model.State(state)
	rec.Outcome = model.Outcome(outcome)
	if len(candidate) > 0 {
		rec.Candidate = &model.ResponseCandidate{}
		if err := json.Unmarshal(candidate, rec.Candidate); err != nil {
			return nil, fmt.Errorf("decode candidate of %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}
