package mq

import "time"

// Routing keys on the mailpilot.events exchange.
const (
	RoutingKeyEmailReceived = "email.received"
	RoutingKeyReviewQueued  = "email.review.queued"
	RoutingKeyEscalated     = "email.escalated"
	RoutingKeyReplySend     = "email.reply.send"
)

// EmailReceivedPayload is an inbound email pushed by the mail gateway.
type EmailReceivedPayload struct {
	EmailID    string    `json:"email_id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
	ThreadID   string    `json:"thread_id,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
}
