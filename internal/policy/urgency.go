package policy

import "strings"

// Urgency orders escalations. It never influences Decide.
type Urgency int

const (
	UrgencyBacklog Urgency = iota
	UrgencySoon
	UrgencyUrgent
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyCritical:
		return "critical"
	case UrgencyUrgent:
		return "urgent"
	case UrgencySoon:
		return "soon"
	default:
		return "backlog"
	}
}

var urgencyKeywords = []struct {
	level Urgency
	words []string
}{
	{UrgencyCritical, []string{"immediately", "asap", "urgent", "critical", "eod"}},
	{UrgencyUrgent, []string{"today", "tomorrow", "soon", "end of day", "next day"}},
	{UrgencySoon, []string{"this week", "upcoming"}},
}

// ScoreUrgency scores body by the highest keyword tier it contains.
func ScoreUrgency(body string) Urgency {
	lower := strings.ToLower(body)
	for _, tier := range urgencyKeywords {
		for _, w := range tier.words {
			if strings.Contains(lower, w) {
				return tier.level
			}
		}
	}
	return UrgencyBacklog
}
