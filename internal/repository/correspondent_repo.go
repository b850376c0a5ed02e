package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"mailpilot/internal/model"
	"mailpilot/pkg/db"
)

// CorrespondentRepository keeps the trust tier of known senders.
type CorrespondentRepository struct {
	db db.DBTX
}

func NewCorrespondentRepository(conn db.DBTX) *CorrespondentRepository {
	return &CorrespondentRepository{db: conn}
}

// SenderTrust returns the stored tier, or Unknown for senders never seen.
func (r *CorrespondentRepository) SenderTrust(ctx context.Context, sender string) (model.SenderTrust, error) {
	var trust string
	err := r.db.QueryRow(ctx, `
		SELECT trust FROM correspondents WHERE email = $1
	`, model.NormalizeAddress(sender)).Scan(&trust)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TrustUnknown, nil
	}
	if err != nil {
		return model.TrustUnknown, err
	}
	return model.ParseSenderTrust(trust), nil
}

// Upsert records sender with the given tier.
func (r *CorrespondentRepository) Upsert(ctx context.Context, sender, name string, trust model.SenderTrust) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO correspondents (email, name, trust, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, trust = EXCLUDED.trust, updated_at = NOW()
	`, model.NormalizeAddress(sender), name, string(trust))
	return err
}
