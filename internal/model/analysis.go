package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidAnalysis marks classifier output that cannot be trusted, such as
// a confidence outside [0,1] or an unknown category.
var ErrInvalidAnalysis = errors.New("invalid analysis")

type Category string

const (
	CategoryNewPitch       Category = "NewPitch"
	CategoryFollowUp       Category = "FollowUp"
	CategoryMeetingRequest Category = "MeetingRequest"
	CategoryUrgentIssue    Category = "UrgentIssue"
	CategoryFeedback       Category = "Feedback"
	CategorySpam           Category = "Spam"
	CategoryOther          Category = "Other"
)

// Categories lists every category in declaration order.
var Categories = []Category{
	CategoryNewPitch,
	CategoryFollowUp,
	CategoryMeetingRequest,
	CategoryUrgentIssue,
	CategoryFeedback,
	CategorySpam,
	CategoryOther,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory accepts the canonical label case-insensitively, with or
// without separators ("new_pitch", "New Pitch").
func ParseCategory(s string) (Category, error) {
	norm := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range Categories {
		if strings.ToLower(string(c)) == norm {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown category %q", ErrInvalidAnalysis, s)
}

type Sentiment string

const (
	SentimentPositive Sentiment = "Positive"
	SentimentNegative Sentiment = "Negative"
	SentimentNeutral  Sentiment = "Neutral"
	SentimentUrgent   Sentiment = "Urgent"
)

func ParseSentiment(s string) (Sentiment, error) {
	for _, v := range []Sentiment{SentimentPositive, SentimentNegative, SentimentNeutral, SentimentUrgent} {
		if strings.EqualFold(string(v), strings.TrimSpace(s)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: unknown sentiment %q", ErrInvalidAnalysis, s)
}

// Analysis is the classifier's structured reading of one email. A new
// analysis of the same email gets a new ID.
type Analysis struct {
	ID              string              `json:"id"`
	EmailID         string              `json:"email_id"`
	Category        Category            `json:"category"`
	Entities        map[string][]string `json:"entities,omitempty"`
	Sentiment       Sentiment           `json:"sentiment"`
	Intent          string              `json:"intent"`
	Confidence      float64             `json:"confidence"`
	FieldConfidence map[string]float64  `json:"field_confidence,omitempty"`
}

// ValidConfidence reports whether c is a usable score.
func ValidConfidence(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c <= 1
}

// Validate checks the fields every downstream decision relies on.
func (a Analysis) Validate() error {
	if !ValidConfidence(a.Confidence) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidAnalysis, a.Confidence)
	}
	if !a.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidAnalysis, a.Category)
	}
	for field, c := range a.FieldConfidence {
		if !ValidConfidence(c) {
			return fmt.Errorf("%w: confidence %v for %s outside [0,1]", ErrInvalidAnalysis, c, field)
		}
	}
	return nil
}

// FirstEntity returns the first value extracted for kind.
func (a Analysis) FirstEntity(kind string) (string, bool) {
	values := a.Entities[kind]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}
