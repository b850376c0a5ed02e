package util

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds an exponential backoff.
type RetryPolicy struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxRetries      uint64        `yaml:"max_retries"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxRetries:      3,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

// Retry runs op until it succeeds, returns a non-retryable error, or the
// policy is exhausted. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, op func() error, notify func(err error, wait time.Duration)) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if retryable, _ := IsRetryableError(err); !retryable {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(wrapped, p.backOff(ctx), notify)
}

// RetryAll is Retry without error classification: every error is retried.
func RetryAll(ctx context.Context, p RetryPolicy, op func() error, notify func(err error, wait time.Duration)) error {
	return backoff.RetryNotify(op, p.backOff(ctx), notify)
}
