package mq

import "time"

// ReviewQueuedPayload announces a draft waiting for a human.
type ReviewQueuedPayload struct {
	EmailID         string    `json:"email_id"`
	RecordID        string    `json:"record_id"`
	AnalysisID      string    `json:"analysis_id,omitempty"`
	Category        string    `json:"category,omitempty"`
	Confidence      float64   `json:"confidence"`
	Reason          string    `json:"reason,omitempty"`
	Sender          string    `json:"sender"`
	Subject         string    `json:"subject"`
	DraftText       string    `json:"draft_text,omitempty"`
	DraftTools      []string  `json:"draft_tools,omitempty"`
	DraftConfidence float64   `json:"draft_confidence,omitempty"`
	QueuedAt        time.Time `json:"queued_at"`
	TraceID         string    `json:"trace_id,omitempty"`
}

// EscalatedPayload announces an email routed to the escalation queue.
// UrgencyLevel runs from 0 (backlog) to 3 (critical).
type EscalatedPayload struct {
	EmailID      string    `json:"email_id"`
	RecordID     string    `json:"record_id"`
	AnalysisID   string    `json:"analysis_id,omitempty"`
	Category     string    `json:"category,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Sender       string    `json:"sender"`
	Subject      string    `json:"subject"`
	Urgency      string    `json:"urgency"`
	UrgencyLevel int       `json:"urgency_level"`
	EscalatedAt  time.Time `json:"escalated_at"`
	TraceID      string    `json:"trace_id,omitempty"`
}
