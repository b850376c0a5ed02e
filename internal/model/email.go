package model

import (
	"strings"
	"time"
)

// Email is an inbound message. It is never modified after fetch.
type Email struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
	ThreadID   string    `json:"thread_id,omitempty"`
}

type SenderTrust string

const (
	TrustFounder SenderTrust = "Founder"
	TrustPartner SenderTrust = "Partner"
	TrustUnknown SenderTrust = "Unknown"
)

// ParseSenderTrust maps a stored label to a tier. Anything unrecognised is
// Unknown.
func ParseSenderTrust(s string) SenderTrust {
	switch SenderTrust(s) {
	case TrustFounder:
		return TrustFounder
	case TrustPartner:
		return TrustPartner
	default:
		return TrustUnknown
	}
}

// NormalizeAddress reduces "Jane <Jane@X.com>" to "jane@x.com".
func NormalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "<"); i >= 0 {
		if j := strings.LastIndex(s, ">"); j > i {
			s = s[i+1 : j]
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}
