package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailpilot/internal/model"
	"mailpilot/pkg/logger"
	"mailpilot/pkg/trace"
	"mailpilot/pkg/util"
)

// Handler processes one email. Returning an error leaves the email unread.
type Handler func(ctx context.Context, email model.Email) error

type PollerConfig struct {
	Interval    time.Duration
	Concurrency int
	Retry       util.RetryPolicy
}

// Poller fetches unread mail on an interval and hands each email to a
// Handler, at most Concurrency at a time.
type Poller struct {
	fetcher Fetcher
	handler Handler
	cfg     PollerConfig
	logger  *zap.Logger
}

func NewPoller(fetcher Fetcher, handler Handler, cfg PollerConfig, log *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Poller{fetcher: fetcher, handler: handler, cfg: cfg, logger: logger.OrNop(log)}
}

// Run polls until ctx is done. A failed poll is logged and the next tick
// tries again.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Mailbox poller started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("concurrency", p.cfg.Concurrency),
	)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("Mailbox poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("Mailbox poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce fetches once, retrying the fetch with bounded backoff, and
// dispatches every email. It returns the number handled successfully and a
// joined error for the ones that failed.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	var emails []model.Email
	err := util.RetryAll(ctx, p.cfg.Retry, func() error {
		var ferr error
		emails, ferr = p.fetcher.FetchUnread(ctx)
		return ferr
	}, func(err error, wait time.Duration) {
		p.logger.Warn("Fetching unread mail failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return 0, fmt.Errorf("fetch unread: %w", err)
	}
	if len(emails) == 0 {
		return 0, nil
	}

	marker, _ := p.fetcher.(ReadMarker)
	errs := make([]error, len(emails))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, email := range emails {
		g.Go(func() error {
			ectx := trace.WithContext(gctx, trace.GenerateTraceID())
			if err := p.handler(ectx, email); err != nil {
				errs[i] = fmt.Errorf("email %s: %w", email.ID, err)
				logger.WithTrace(ectx, p.logger).Error("Email handling failed",
					zap.String("email_id", email.ID), zap.Error(err))
				return nil
			}
			if marker != nil {
				if err := marker.MarkRead(ectx, email.ID); err != nil {
					logger.WithTrace(ectx, p.logger).Warn("Failed to mark email read",
						zap.String("email_id", email.ID), zap.Error(err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	handled := 0
	for _, err := range errs {
		if err == nil {
			handled++
		}
	}
	return handled, errors.Join(errs...)
}
