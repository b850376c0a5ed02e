package repository

import (
	"context"
	"strconv"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/internal/model"
)

type fakeDB struct {
	row      pgx.Row
	lastSQL  string
	lastArgs []any
	execs    int
	affected int64
	execErr  error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs++
	f.lastSQL, f.lastArgs = sql, args
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag("INSERT 0 " + strconv.FormatInt(f.affected, 10)), nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not used")
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.lastSQL, f.lastArgs = sql, args
	return f.row
}

func TestSenderTrust(t *testing.T) {
	tests := []struct {
		name string
		row  fakeRow
		want model.SenderTrust
	}{
		{"partner", fakeRow{values: []any{"Partner"}}, model.TrustPartner},
		{"founder", fakeRow{values: []any{"Founder"}}, model.TrustFounder},
		{"garbage label", fakeRow{values: []any{"VIP"}}, model.TrustUnknown},
		{"never seen", fakeRow{err: pgx.ErrNoRows}, model.TrustUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fdb := &fakeDB{row: tt.row}
			got, err := NewCorrespondentRepository(fdb).SenderTrust(context.Background(), "GP <GP@Fund.vc>")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []any{"gp@fund.vc"}, fdb.lastArgs)
		})
	}
}

func TestSenderTrustError(t *testing.T) {
	fdb := &fakeDB{row: fakeRow{err: pgx.ErrTxClosed}}
	got, err := NewCorrespondentRepository(fdb).SenderTrust(context.Background(), "a@b.c")
	assert.ErrorIs(t, err, pgx.ErrTxClosed)
	assert.Equal(t, model.TrustUnknown, got)
}

func TestUpsertNormalizesAddress(t *testing.T) {
	fdb := &fakeDB{affected: 1}
	require.NoError(t, NewCorrespondentRepository(fdb).Upsert(context.Background(), " Ada <ADA@acme.io>", "Ada", model.TrustFounder))
	assert.Equal(t, []any{"ada@acme.io", "Ada", "Founder"}, fdb.lastArgs)
}
