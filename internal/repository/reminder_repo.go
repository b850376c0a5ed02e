package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"mailpilot/internal/orchestrator"
	"mailpilot/pkg/db"
)

type ReminderRepository struct {
	db db.TxStarter
}

func NewReminderRepository(conn db.TxStarter) *ReminderRepository {
	return &ReminderRepository{db: conn}
}

// CreateReminder stores a pending reminder, one per email, and mirrors it
// into the "reminders" record collection so it can be queried.
func (r *ReminderRepository) CreateReminder(ctx context.Context, rem orchestrator.Reminder) error {
	doc, err := json.Marshal(map[string]any{
		"title":  rem.Title,
		"sender": rem.Sender,
		"status": "pending",
		"due":    rem.DueAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal reminder: %w", err)
	}

	return db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO reminders (email_id, sender, title, body, due_at, status, created_at)
			VALUES ($1, $2, $3, $4, $5, 'pending', NOW())
			ON CONFLICT (email_id) DO NOTHING
		`, rem.EmailID, rem.Sender, rem.Title, rem.Body, rem.DueAt)
		if err != nil {
			return fmt.Errorf("insert reminder: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `INSERT INTO records (collection, data) VALUES ('reminders', $1)`, doc)
		return err
	})
}
