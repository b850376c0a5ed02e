package orchestrator

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"mailpilot/internal/model"
)

// Reminder is a follow-up the sender asked for with "remind me ...".
type Reminder struct {
	EmailID string
	Sender  string
	Title   string
	Body    string
	DueAt   time.Time
}

const (
	minReminderDelay = 30 * time.Second
	maxReminderDelay = 7 * 24 * time.Hour
)

var (
	remindPhraseRE = regexp.MustCompile(`(?i)remind me[ \t]+([^.\n]+)`)
	relativeDueRE  = regexp.MustCompile(`(?i)\bin\s+(\d+|an?|one|two|three|four|five|six|seven|ten|thirty)\s+(minute|minutes|min|mins|hour|hours|day|days|week)\b`)
)

var reminderCounts = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "ten": 10, "thirty": 30,
}

var reminderUnits = map[string]time.Duration{
	"minute": time.Minute, "minutes": time.Minute, "min": time.Minute, "mins": time.Minute,
	"hour": time.Hour, "hours": time.Hour,
	"day": 24 * time.Hour, "days": 24 * time.Hour,
	"week": 7 * 24 * time.Hour,
}

// ExtractReminder finds a "remind me ..." request in the body. Only due
// times between 30 seconds and 7 days from now are accepted.
func ExtractReminder(email model.Email, now time.Time) (Reminder, bool) {
	m := remindPhraseRE.FindStringSubmatch(email.Body)
	if m == nil {
		return Reminder{}, false
	}
	phrase := strings.ToLower(m[1])

	var delay time.Duration
	switch {
	case relativeDueRE.MatchString(phrase):
		parts := relativeDueRE.FindStringSubmatch(phrase)
		n, ok := reminderCounts[parts[1]]
		if !ok {
			var err error
			if n, err = strconv.Atoi(parts[1]); err != nil {
				return Reminder{}, false
			}
		}
		delay = time.Duration(n) * reminderUnits[parts[2]]
	case strings.Contains(phrase, "tomorrow"):
		delay = 24 * time.Hour
	case strings.Contains(phrase, "next week"):
		delay = 7 * 24 * time.Hour
	default:
		return Reminder{}, false
	}
	if delay < minReminderDelay || delay > maxReminderDelay {
		return Reminder{}, false
	}

	title := strings.TrimSpace(email.Subject)
	if title == "" {
		title = "Follow-up requested"
	}
	return Reminder{
		EmailID: email.ID,
		Sender:  email.Sender,
		Title:   title,
		Body:    email.Body,
		DueAt:   now.Add(delay).UTC(),
	}, true
}
