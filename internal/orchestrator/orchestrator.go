// Package orchestrator drives one email through the triage state machine:
// Received, Analyzed, Dispositioned, then exactly one terminal state. Every
// transition is appended to a RecordLog; nothing is ever sent on an error
// path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailpilot/internal/model"
	"mailpilot/internal/policy"
	"mailpilot/internal/responder"
	"mailpilot/pkg/logger"
	"mailpilot/pkg/metrics"
)

// ErrAnalysisFailed covers classifier errors, timeouts and unusable output.
var ErrAnalysisFailed = errors.New("analysis failed")

// ReasonSendUncertain marks an email whose earlier run stopped after the
// auto-send decision, so a reply may or may not have gone out.
const ReasonSendUncertain = "SendUncertain"

type Classifier interface {
	Classify(ctx context.Context, email model.Email) (model.Analysis, error)
}

type ReplySender interface {
	SendReply(ctx context.Context, email model.Email, text string) error
}

// TrustLookup resolves the sender's tier. Errors are treated as Unknown.
type TrustLookup interface {
	SenderTrust(ctx context.Context, sender string) (model.SenderTrust, error)
}

type ReminderCreator interface {
	CreateReminder(ctx context.Context, r Reminder) error
}

// Event is published through the outbox in the same write as the record
// that produced it.
type Event struct {
	RoutingKey string
	Payload    any
}

// RecordLog is the append-only audit trail. Latest returns the most recent
// record for an email id.
type RecordLog interface {
	Append(ctx context.Context, rec model.ActionRecord, events ...Event) error
	Latest(ctx context.Context, emailID string) (*model.ActionRecord, bool, error)
}

// Locker serializes processing per email id. The returned func releases.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Config is the per-call policy. Nothing in it is cached between calls.
type Config struct {
	Thresholds policy.Thresholds
	Registry   *responder.Registry
	// SendFloor is the minimum candidate confidence for an automatic send.
	SendFloor       float64
	ClassifyTimeout time.Duration
}

const defaultClassifyTimeout = 30 * time.Second

func (c Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if !model.ValidConfidence(c.SendFloor) {
		return fmt.Errorf("send floor %v outside [0,1]", c.SendFloor)
	}
	return nil
}

type Orchestrator struct {
	classifier Classifier
	generator  *responder.Generator
	sender     ReplySender
	records    RecordLog
	trust      TrustLookup
	reminders  ReminderCreator
	locker     Locker
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*Orchestrator)

func WithTrustLookup(t TrustLookup) Option {
	return func(o *Orchestrator) { o.trust = t }
}

func WithReminders(r ReminderCreator) Option {
	return func(o *Orchestrator) { o.reminders = r }
}

// WithLocker replaces the in-process KeyedLocker, e.g. with a redis lock
// when several workers share one mailbox.
func WithLocker(l Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger.OrNop(l) }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(classifier Classifier, generator *responder.Generator, sender ReplySender, records RecordLog, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		classifier: classifier,
		generator:  generator,
		sender:     sender,
		records:    records,
		locker:     NewKeyedLocker(),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs email to a terminal state and returns the terminal record.
// An email whose latest record is already terminal is returned as is
// without calling any collaborator. An error means no terminal record was
// written and the email may be processed again.
func (o *Orchestrator) Process(ctx context.Context, email model.Email, cfg Config) (*model.ActionRecord, error) {
	if email.ID == "" {
		return nil, errors.New("orchestrator: email has no id")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = defaultClassifyTimeout
	}

	unlock, err := o.locker.Lock(ctx, email.ID)
	if err != nil {
		return nil, fmt.Errorf("lock email %s: %w", email.ID, err)
	}
	defer unlock()

	log := logger.WithTrace(ctx, o.logger).With(zap.String("email_id", email.ID))

	latest, found, err := o.records.Latest(ctx, email.ID)
	if err != nil {
		return nil, fmt.Errorf("load latest record: %w", err)
	}
	if found && latest.State.Terminal() {
		log.Debug("Email already processed, skipping", zap.String("state", string(latest.State)))
		return latest, nil
	}

	r := &run{o: o, email: email, cfg: cfg, log: log}
	if found && latest.State == model.StateDispositioned && latest.Disposition == model.DispositionAutoSend {
		log.Warn("Previous auto-send did not finish, routing to review")
		r.analysisID = latest.AnalysisID
		r.disposition = latest.Disposition
		return r.terminal(ctx, model.StateAwaitingReview, ReasonSendUncertain, latest.Candidate)
	}
	return r.execute(ctx)
}

// run carries the state of one Process call.
type run struct {
	o           *Orchestrator
	email       model.Email
	cfg         Config
	log         *zap.Logger
	analysis    model.Analysis
	analysisID  string
	disposition model.Disposition
}

func (r *run) execute(ctx context.Context) (*model.ActionRecord, error) {
	if err := r.advance(ctx, model.StateReceived); err != nil {
		return nil, err
	}

	analysis, err := r.o.classify(ctx, r.email, r.cfg.ClassifyTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.log.Warn("Classification failed, escalating", zap.Error(err))
		return r.terminal(ctx, model.StateEscalated, model.ReasonAnalysisFailed, nil)
	}
	r.analysis = analysis
	r.analysisID = analysis.ID
	r.log = r.log.With(zap.String("analysis_id", analysis.ID), zap.String("category", string(analysis.Category)))

	if err := r.advance(ctx, model.StateAnalyzed); err != nil {
		return nil, err
	}

	r.o.maybeCreateReminder(ctx, r.email, r.log)

	trust := r.o.senderTrust(ctx, r.email.Sender, r.log)
	disposition, err := policy.Decide(analysis, trust, r.cfg.Thresholds)
	if err != nil {
		r.log.Warn("Policy rejected analysis, escalating", zap.Error(err))
		return r.terminal(ctx, model.StateEscalated, model.ReasonAnalysisFailed, nil)
	}
	r.disposition = disposition
	metrics.IncrementDisposition(string(disposition), string(analysis.Category))
	r.log.Info("Email dispositioned",
		zap.String("disposition", string(disposition)),
		zap.String("trust", string(trust)),
		zap.Float64("confidence", analysis.Confidence),
	)

	if err := r.advance(ctx, model.StateDispositioned); err != nil {
		return nil, err
	}

	switch disposition {
	case model.DispositionAutoSend:
		return r.autoSend(ctx)
	case model.DispositionQueueForReview:
		best := r.draft(ctx)
		return r.terminal(ctx, model.StateAwaitingReview, "", best)
	case model.DispositionEscalate:
		return r.terminal(ctx, model.StateEscalated, "", nil)
	default:
		return r.terminal(ctx, model.StateArchived, "", nil)
	}
}

func (r *run) autoSend(ctx context.Context) (*model.ActionRecord, error) {
	best := r.draft(ctx)
	if best == nil {
		return r.terminal(ctx, model.StateAwaitingReview, model.ReasonNoCandidate, nil)
	}
	if best.Confidence < r.cfg.SendFloor {
		r.log.Info("Best candidate below send floor",
			zap.Float64("candidate_confidence", best.Confidence),
			zap.Float64("send_floor", r.cfg.SendFloor),
		)
		return r.terminal(ctx, model.StateAwaitingReview, model.ReasonWeakCandidate, best)
	}
	if err := r.o.sender.SendReply(ctx, r.email, best.Text); err != nil {
		r.log.Error("Reply send failed, routing to review", zap.Error(err))
		return r.terminal(ctx, model.StateAwaitingReview, model.ReasonSendFailed, best)
	}
	return r.terminal(ctx, model.StateSent, "", best)
}

// draft asks the registry for candidates and returns the best, or nil.
func (r *run) draft(ctx context.Context) *model.ResponseCandidate {
	if r.o.generator == nil {
		return nil
	}
	res := r.o.generator.Generate(responder.WithEmail(ctx, r.email), r.analysis, r.cfg.Registry)
	for _, w := range res.Warnings {
		r.log.Debug("Candidate dropped", zap.String("tool", w.Tool), zap.Error(w.Err))
	}
	best, ok := res.Best()
	if !ok {
		return nil
	}
	return &best
}

func (r *run) record(state model.State, reason string, candidate *model.ResponseCandidate) model.ActionRecord {
	return model.ActionRecord{
		ID:          uuid.NewString(),
		EmailID:     r.email.ID,
		AnalysisID:  r.analysisID,
		Disposition: r.disposition,
		State:       state,
		Outcome:     model.OutcomeFor(state),
		Reason:      reason,
		Candidate:   candidate,
		CreatedAt:   r.o.now().UTC(),
	}
}

func (r *run) append(ctx context.Context, rec model.ActionRecord, events ...Event) error {
	if err := r.o.records.Append(ctx, rec, events...); err != nil {
		return fmt.Errorf("append %s record for %s: %w", rec.State, r.email.ID, err)
	}
	return nil
}

func (r *run) advance(ctx context.Context, state model.State) error {
	return r.append(ctx, r.record(state, "", nil))
}

func (r *run) terminal(ctx context.Context, state model.State, reason string, candidate *model.ResponseCandidate) (*model.ActionRecord, error) {
	rec := r.record(state, reason, candidate)
	if err := r.append(ctx, rec, r.eventsFor(ctx, rec)...); err != nil {
		return nil, err
	}
	metrics.IncrementOutcome(string(state), reason)
	r.log.Info("Email reached terminal state",
		zap.String("state", string(state)),
		zap.String("reason", reason),
		zap.String("record_id", rec.ID),
	)
	return &rec, nil
}

func (o *Orchestrator) classify(ctx context.Context, email model.Email, timeout time.Duration) (model.Analysis, error) {
	if strings.TrimSpace(email.Body) == "" {
		return model.Analysis{}, fmt.Errorf("%w: empty body", ErrAnalysisFailed)
	}
	if o.classifier == nil {
		return model.Analysis{}, fmt.Errorf("%w: no classifier", ErrAnalysisFailed)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	analysis, err := o.classifier.Classify(cctx, email)
	metrics.RecordClassifyLatency(time.Since(start))
	if err != nil {
		return model.Analysis{}, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}
	if err := analysis.Validate(); err != nil {
		return model.Analysis{}, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}
	if analysis.ID == "" {
		analysis.ID = uuid.NewString()
	}
	analysis.EmailID = email.ID
	return analysis, nil
}

func (o *Orchestrator) senderTrust(ctx context.Context, sender string, log *zap.Logger) model.SenderTrust {
	if o.trust == nil {
		return model.TrustUnknown
	}
	trust, err := o.trust.SenderTrust(ctx, sender)
	if err != nil {
		log.Warn("Sender trust lookup failed, treating as unknown", zap.Error(err))
		return model.TrustUnknown
	}
	return model.ParseSenderTrust(string(trust))
}

func (o *Orchestrator) maybeCreateReminder(ctx context.Context, email model.Email, log *zap.Logger) {
	if o.reminders == nil {
		return
	}
	rem, ok := ExtractReminder(email, o.now())
	if !ok {
		return
	}
	if err := o.reminders.CreateReminder(ctx, rem); err != nil {
		log.Warn("Failed to create reminder", zap.Error(err))
		return
	}
	log.Info("Reminder created", zap.Time("due_at", rem.DueAt))
}
