package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mailpilot/pkg/logger"
	"mailpilot/pkg/metrics"
)

// Service answers a question end to end: translate, execute, format.
type Service struct {
	translator *Translator
	executor   *Executor
	schema     Schema
	logger     *zap.Logger
}

func NewService(translator *Translator, executor *Executor, schema Schema, log *zap.Logger) *Service {
	return &Service{translator: translator, executor: executor, schema: schema, logger: logger.OrNop(log)}
}

// Answer always produces reply text for translation problems. It returns
// an error only when the store is unavailable or ctx ends, and the text is
// still a polite message in that case.
func (s *Service) Answer(ctx context.Context, question string) (string, error) {
	log := logger.WithTrace(ctx, s.logger)

	q, err := s.translator.Translate(ctx, question, s.schema)
	if err != nil {
		log.Info("Query rejected", zap.String("question", question), zap.Error(err))
		switch {
		case errors.Is(err, ErrUnknownField):
			metrics.IncrementQuery("unknown_field")
			return s.unknownFieldReply(err), nil
		case errors.Is(err, ErrUnparseableQuery):
			metrics.IncrementQuery("unparseable")
			return s.unparseableReply(), nil
		default:
			metrics.IncrementQuery("failed")
			return s.unavailableReply(), err
		}
	}

	records, err := s.executor.Execute(ctx, q)
	if err != nil {
		metrics.IncrementQuery("failed")
		log.Error("Query execution failed", zap.String("query", q.String()), zap.Error(err))
		return s.unavailableReply(), err
	}

	metrics.IncrementQuery("answered")
	log.Info("Query answered",
		zap.String("query", q.String()),
		zap.Int("records", len(records)),
	)

	coll, _ := s.schema.Collection(q.Collection)
	return Format(records, coll.DisplayColumns()), nil
}

func (s *Service) collectionsList() string {
	var b strings.Builder
	for _, c := range s.schema.Collections {
		fields := make([]string, len(c.Fields))
		for i, f := range c.Fields {
			fields[i] = f.Name
		}
		fmt.Fprintf(&b, "- %s (%s)\n", c.Name, strings.Join(fields, ", "))
	}
	return b.String()
}

func (s *Service) unparseableReply() string {
	return "I couldn't turn that question into a precise query. " +
		"Try something like \"top 5 startups by score\" or \"pitches with fit score above 7\". " +
		"Comparisons need an exact value, and only \"and\" can combine conditions.\n\n" +
		"I can answer questions about:\n" + s.collectionsList()
}

func (s *Service) unknownFieldReply(err error) string {
	return "That question refers to something I don't track (" + detail(err) + ").\n\n" +
		"These are the fields I can search:\n" + s.collectionsList()
}

func (s *Service) unavailableReply() string {
	return "The record store is not reachable right now. Please try again later."
}

// detail strips the sentinel prefix from a translation error.
func detail(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}
