package util

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper drops redelivered messages for the same handler and message id.
type Deduper struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce reports whether this is the first delivery of id to handler.
// When redis is unavailable it allows processing; the orchestrator's own
// idempotence check covers the duplicate.
func (d *Deduper) AcquireOnce(ctx context.Context, handler, id string) bool {
	key := "dedup:" + handler + ":" + id

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("handler", handler),
			zap.String("id", id),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped duplicated event",
			zap.String("handler", handler),
			zap.String("id", id),
		)
	}
	return ok
}

// Release forgets id so a later redelivery is processed again.
func (d *Deduper) Release(ctx context.Context, handler, id string) {
	if err := d.rdb.Del(ctx, "dedup:"+handler+":"+id).Err(); err != nil {
		d.logger.Warn("Redis dedup release failed", zap.String("id", id), zap.Error(err))
	}
}
