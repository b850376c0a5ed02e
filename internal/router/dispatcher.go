// Package router decides whether an inbound email is a query directive
// from an authorized correspondent or ordinary mail for the orchestrator.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mailpilot/internal/model"
	"mailpilot/internal/orchestrator"
	"mailpilot/internal/query"
	"mailpilot/pkg/logger"
	"mailpilot/pkg/metrics"
)

const (
	RouteQuery       = "query"
	RouteOrchestrate = "orchestrate"
)

var defaultPrefixes = []string{"/query", "query:"}

type Processor interface {
	Process(ctx context.Context, email model.Email, cfg orchestrator.Config) (*model.ActionRecord, error)
}

type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

type Config struct {
	// Prefixes mark a directive when the subject or body starts with one
	// of them. Matching is case-insensitive.
	Prefixes []string
	// AuthorizedSenders may issue directives regardless of trust tier.
	AuthorizedSenders []string
	Orchestration     orchestrator.Config
}

// Result describes what happened to one email.
type Result struct {
	Route  string
	Record *model.ActionRecord
	Answer string
}

type Dispatcher struct {
	processor Processor
	answerer  Answerer
	sender    orchestrator.ReplySender
	trust     orchestrator.TrustLookup
	history   query.RecordWriter
	cfg       Config
	allowed   map[string]struct{}
	logger    *zap.Logger
}

type Option func(*Dispatcher)

func WithTrustLookup(t orchestrator.TrustLookup) Option {
	return func(d *Dispatcher) { d.trust = t }
}

// WithHistory stores a "communications" document for every processed
// email so that it can be queried later.
func WithHistory(w query.RecordWriter) Option {
	return func(d *Dispatcher) { d.history = w }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger.OrNop(l) }
}

func New(processor Processor, answerer Answerer, sender orchestrator.ReplySender, cfg Config, opts ...Option) *Dispatcher {
	if len(cfg.Prefixes) == 0 {
		cfg.Prefixes = defaultPrefixes
	}
	allowed := make(map[string]struct{}, len(cfg.AuthorizedSenders))
	for _, s := range cfg.AuthorizedSenders {
		allowed[model.NormalizeAddress(s)] = struct{}{}
	}
	d := &Dispatcher{
		processor: processor,
		answerer:  answerer,
		sender:    sender,
		cfg:       cfg,
		allowed:   allowed,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle adapts Dispatch to the mailbox poller and the MQ consumer.
func (d *Dispatcher) Handle(ctx context.Context, email model.Email) error {
	_, err := d.Dispatch(ctx, email)
	return err
}

func (d *Dispatcher) Dispatch(ctx context.Context, email model.Email) (Result, error) {
	log := logger.WithTrace(ctx, d.logger).With(zap.String("email_id", email.ID))

	if question, ok := d.directive(email); ok {
		if d.authorized(ctx, email.Sender, log) {
			res, err := d.answer(ctx, email, question, log)
			status := "ok"
			if err != nil {
				status = "error"
			}
			metrics.IncrementEmailProcessed(RouteQuery, status)
			return res, err
		}
		log.Info("Directive from unauthorized sender, processing as regular email",
			zap.String("sender", email.Sender))
	}

	rec, err := d.processor.Process(ctx, email, d.cfg.Orchestration)
	if err != nil {
		metrics.IncrementEmailProcessed(RouteOrchestrate, "error")
		return Result{Route: RouteOrchestrate}, err
	}
	metrics.IncrementEmailProcessed(RouteOrchestrate, string(rec.State))
	d.remember(ctx, email, string(rec.Disposition), log)
	return Result{Route: RouteOrchestrate, Record: rec}, nil
}

func (d *Dispatcher) answer(ctx context.Context, email model.Email, question string, log *zap.Logger) (Result, error) {
	res := Result{Route: RouteQuery}
	if question == "" {
		res.Answer = "Your query was empty. Put the question after the directive, for example: /query top 5 startups by score"
	} else {
		text, err := d.answerer.Answer(ctx, question)
		if err != nil {
			// Answer still returns a reply for the sender when the store is down.
			log.Warn("Query could not be answered", zap.String("question", question), zap.Error(err))
		}
		res.Answer = text
	}

	if err := d.sender.SendReply(ctx, email, res.Answer); err != nil {
		return res, fmt.Errorf("send query answer for %s: %w", email.ID, err)
	}
	d.remember(ctx, email, "Answered", log)
	log.Info("Query directive answered", zap.String("question", question))
	return res, nil
}

// directive returns the question carried by a directive email. The
// subject is checked first; a bare prefix in the subject takes the
// question from the body.
func (d *Dispatcher) directive(email model.Email) (string, bool) {
	if rest, ok := d.stripPrefix(email.Subject); ok {
		if rest == "" {
			rest = firstLine(email.Body)
		}
		return rest, true
	}
	if rest, ok := d.stripPrefix(email.Body); ok {
		return firstLine(rest), true
	}
	return "", false
}

func (d *Dispatcher) stripPrefix(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)
	for _, p := range d.cfg.Prefixes {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || !strings.HasPrefix(lower, p) {
			continue
		}
		rest := trimmed[len(p):]
		// "/queryfoo" is not a directive.
		if rest != "" && !strings.HasSuffix(p, ":") && !isSpace(rest[0]) {
			continue
		}
		return strings.TrimSpace(rest), true
	}
	return "", false
}

func (d *Dispatcher) authorized(ctx context.Context, sender string, log *zap.Logger) bool {
	if _, ok := d.allowed[model.NormalizeAddress(sender)]; ok {
		return true
	}
	if d.trust == nil {
		return false
	}
	trust, err := d.trust.SenderTrust(ctx, model.NormalizeAddress(sender))
	if err != nil {
		log.Warn("Sender trust lookup failed, directive not authorized", zap.Error(err))
		return false
	}
	return trust == model.TrustPartner
}

func (d *Dispatcher) remember(ctx context.Context, email model.Email, disposition string, log *zap.Logger) {
	if d.history == nil {
		return
	}
	doc := query.Record{
		"sender":      model.NormalizeAddress(email.Sender),
		"subject":     email.Subject,
		"disposition": disposition,
		"received_at": email.ReceivedAt,
	}
	if err := d.history.StoreRecord(ctx, "communications", doc); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("Failed to store communication record", zap.Error(err))
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
