package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	mqcontracts "mailpilot/contracts/mq"
	"mailpilot/internal/model"
	"mailpilot/pkg/logger"
	"mailpilot/pkg/trace"
	"mailpilot/pkg/util"
)

const (
	handlerName       = "email_received"
	defaultMaxRetries = 5
)

// DispatchFunc routes one email. router.Dispatcher.Handle satisfies it.
type DispatchFunc func(ctx context.Context, email model.Email) error

// DLQPublisher parks messages that will never succeed.
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError string) error
}

// EmailReceivedHandler consumes email.received. Redeliveries are dropped by
// the deduper; failures are requeued until maxRetries and then parked.
type EmailReceivedHandler struct {
	dispatch     DispatchFunc
	deduper      *util.Deduper
	retryCounter *util.RetryCounter
	dlq          DLQPublisher
	maxRetries   int64
	logger       *zap.Logger
}

func NewEmailReceivedHandler(
	dispatch DispatchFunc,
	deduper *util.Deduper,
	retryCounter *util.RetryCounter,
	dlq DLQPublisher,
	maxRetries int,
	log *zap.Logger,
) *EmailReceivedHandler {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &EmailReceivedHandler{
		dispatch:     dispatch,
		deduper:      deduper,
		retryCounter: retryCounter,
		dlq:          dlq,
		maxRetries:   int64(maxRetries),
		logger:       logger.OrNop(log),
	}
}

// Handle returns an error only when the message should be requeued.
func (h *EmailReceivedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.EmailReceivedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Invalid EmailReceivedPayload, sending to DLQ",
			zap.String("raw", truncate(string(raw), 512)),
			zap.Error(err),
		)
		return h.park(ctx, raw, fmt.Errorf("bad_payload: %w", err))
	}
	if strings.TrimSpace(p.EmailID) == "" {
		h.logger.Error("EmailReceivedPayload without email_id, sending to DLQ")
		return h.park(ctx, raw, errors.New("bad_payload: missing email_id"))
	}

	if p.TraceID != "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger).With(zap.String("email_id", p.EmailID))

	if h.deduper != nil && !h.deduper.AcquireOnce(ctx, handlerName, p.EmailID) {
		return nil
	}

	retryKey := util.FormatRetryKey(handlerName, p.EmailID)
	var attempt int64 = 1
	if h.retryCounter != nil {
		if n, err := h.retryCounter.IncrementAndGet(ctx, retryKey); err == nil {
			attempt = n
		} else {
			log.Warn("Retry counter unavailable", zap.Error(err))
		}
	}

	email := model.Email{
		ID:         p.EmailID,
		Sender:     p.Sender,
		Subject:    p.Subject,
		Body:       p.Body,
		ReceivedAt: p.ReceivedAt,
		ThreadID:   p.ThreadID,
	}

	err := h.dispatch(ctx, email)
	if err == nil {
		h.resetRetries(ctx, retryKey)
		log.Info("Email received event processed", zap.Int64("attempt", attempt))
		return nil
	}

	if h.deduper != nil {
		h.deduper.Release(ctx, handlerName, p.EmailID)
	}

	retryable, errType := util.IsRetryableError(err)
	log.Warn("Email dispatch failed",
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Int64("attempt", attempt),
		zap.Error(err),
	)
	if util.ShouldRetry(attempt, h.maxRetries, retryable) {
		return err
	}

	h.resetRetries(ctx, retryKey)
	return h.park(ctx, raw, err)
}

func (h *EmailReceivedHandler) park(ctx context.Context, raw []byte, cause error) error {
	if h.dlq == nil {
		return nil
	}
	if err := h.dlq.PublishToDLQ(ctx, mqcontracts.RoutingKeyEmailReceived, raw, cause.Error()); err != nil {
		h.logger.Error("Failed to publish to DLQ", zap.Error(err))
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

func (h *EmailReceivedHandler) resetRetries(ctx context.Context, key string) {
	if h.retryCounter == nil {
		return
	}
	if err := h.retryCounter.Reset(ctx, key); err != nil {
		h.logger.Warn("Failed to reset retry counter", zap.String("key", key), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
