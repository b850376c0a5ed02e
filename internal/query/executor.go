package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailpilot/pkg/util"
)

// Executor runs validated queries against a RecordStore.
type Executor struct {
	store  RecordStore
	schema Schema
	retry  util.RetryPolicy
	logger *zap.Logger
}

func NewExecutor(store RecordStore, schema Schema, retry util.RetryPolicy, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{store: store, schema: schema, retry: retry, logger: logger}
}

// Execute validates q and returns the matching records in store order.
// Store failures are retried with bounded backoff and then reported as
// ErrStoreUnavailable.
func (e *Executor) Execute(ctx context.Context, q StructuredQuery) ([]Record, error) {
	if err := e.schema.Check(q); err != nil {
		return nil, err
	}

	var records []Record
	err := util.RetryAll(ctx, e.retry, func() error {
		var qerr error
		records, qerr = e.store.QueryRecords(ctx, q)
		return qerr
	}, func(err error, wait time.Duration) {
		e.logger.Warn("Record store query failed, retrying",
			zap.String("collection", q.Collection),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}
	return records, nil
}
