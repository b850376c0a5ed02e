package model

import "time"

type Disposition string

const (
	DispositionAutoSend       Disposition = "AutoSend"
	DispositionQueueForReview Disposition = "QueueForReview"
	DispositionEscalate       Disposition = "Escalate"
	DispositionArchive        Disposition = "Archive"
)

// State is a step of the per-email state machine.
type State string

const (
	StateReceived       State = "Received"
	StateAnalyzed       State = "Analyzed"
	StateDispositioned  State = "Dispositioned"
	StateSent           State = "Sent"
	StateAwaitingReview State = "AwaitingReview"
	StateEscalated      State = "Escalated"
	StateArchived       State = "Archived"
)

func (s State) Terminal() bool {
	switch s {
	case StateSent, StateAwaitingReview, StateEscalated, StateArchived:
		return true
	default:
		return false
	}
}

type Outcome string

const (
	OutcomeSent          Outcome = "Sent"
	OutcomePendingReview Outcome = "PendingReview"
	OutcomeEscalatedOpen Outcome = "EscalatedOpen"
	OutcomeArchived      Outcome = "Archived"
)

// OutcomeFor maps a terminal state to its outcome; non-terminal states have none.
func OutcomeFor(s State) Outcome {
	switch s {
	case StateSent:
		return OutcomeSent
	case StateAwaitingReview:
		return OutcomePendingReview
	case StateEscalated:
		return OutcomeEscalatedOpen
	case StateArchived:
		return OutcomeArchived
	default:
		return ""
	}
}

// Reasons attached to terminal records that did not follow the plain path.
const (
	ReasonAnalysisFailed = "AnalysisFailed"
	ReasonNoCandidate    = "NoCandidate"
	ReasonWeakCandidate  = "WeakCandidate"
	ReasonSendFailed     = "SendFailed"
)

type ResponseCandidate struct {
	Text       string   `json:"text"`
	Tools      []string `json:"tools"`
	Confidence float64  `json:"confidence"`
}

// ActionRecord is one row of the append-only audit trail. The latest row
// for an email id is its current state.
type ActionRecord struct {
	ID          string             `json:"id"`
	EmailID     string             `json:"email_id"`
	AnalysisID  string             `json:"analysis_id,omitempty"`
	Disposition Disposition        `json:"disposition,omitempty"`
	State       State              `json:"state"`
	Outcome     Outcome            `json:"outcome,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Candidate   *ResponseCandidate `json:"candidate,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}
