package orchestrator

import (
	"context"

	contractsmq "mailpilot/contracts/mq"
	"mailpilot/internal/model"
	"mailpilot/internal/policy"
	"mailpilot/pkg/trace"
)

// eventsFor returns the outbox events a terminal record announces. Only
// states that need a human produce one.
func (r *run) eventsFor(ctx context.Context, rec model.ActionRecord) []Event {
	traceID := trace.FromContext(ctx)

	switch rec.State {
	case model.StateAwaitingReview:
		p := contractsmq.ReviewQueuedPayload{
			EmailID:    r.email.ID,
			RecordID:   rec.ID,
			AnalysisID: rec.AnalysisID,
			Category:   string(r.analysis.Category),
			Confidence: r.analysis.Confidence,
			Reason:     rec.Reason,
			Sender:     r.email.Sender,
			Subject:    r.email.Subject,
			QueuedAt:   rec.CreatedAt,
			TraceID:    traceID,
		}
		if c := rec.Candidate; c != nil {
			p.DraftText = c.Text
			p.DraftTools = c.Tools
			p.DraftConfidence = c.Confidence
		}
		return []Event{{RoutingKey: contractsmq.RoutingKeyReviewQueued, Payload: p}}

	case model.StateEscalated:
		urgency := policy.ScoreUrgency(r.email.Subject + "\n" + r.email.Body)
		return []Event{{RoutingKey: contractsmq.RoutingKeyEscalated, Payload: contractsmq.EscalatedPayload{
			EmailID:      r.email.ID,
			RecordID:     rec.ID,
			AnalysisID:   rec.AnalysisID,
			Category:     string(r.analysis.Category),
			Reason:       rec.Reason,
			Sender:       r.email.Sender,
			Subject:      r.email.Subject,
			Urgency:      urgency.String(),
			UrgencyLevel: int(urgency),
			EscalatedAt:  rec.CreatedAt,
			TraceID:      traceID,
		}}}
	}
	return nil
}
