package mq

// ReplySendPayload asks the mail gateway to deliver a reply.
type ReplySendPayload struct {
	EmailID  string `json:"email_id"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	ThreadID string `json:"thread_id,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}
