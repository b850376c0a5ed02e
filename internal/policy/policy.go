// Package policy maps an Analysis and the sender's trust tier to a
// Disposition. Everything here is a pure function of its arguments.
package policy

import (
	"errors"
	"fmt"

	"mailpilot/internal/model"
)

// Floors are the two confidence cut points of one category.
type Floors struct {
	AutoSend float64 `yaml:"auto_send"`
	Review   float64 `yaml:"review"`
}

// Thresholds is the per-category policy table.
type Thresholds struct {
	Floors       map[model.Category]Floors `yaml:"floors"`
	AutoEligible []model.Category          `yaml:"auto_eligible"`
}

// DefaultThresholds is a conservative table used when no config overrides it.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Floors: map[model.Category]Floors{
			model.CategoryNewPitch:       {AutoSend: 0.90, Review: 0.60},
			model.CategoryFollowUp:       {AutoSend: 0.85, Review: 0.55},
			model.CategoryMeetingRequest: {AutoSend: 0.85, Review: 0.55},
			model.CategoryUrgentIssue:    {AutoSend: 1.00, Review: 0.50},
			model.CategoryFeedback:       {AutoSend: 0.90, Review: 0.60},
			model.CategorySpam:           {AutoSend: 1.00, Review: 0.95},
			model.CategoryOther:          {AutoSend: 1.00, Review: 0.70},
		},
		AutoEligible: []model.Category{
			model.CategoryFollowUp,
			model.CategoryMeetingRequest,
			model.CategoryFeedback,
		},
	}
}

// Validate checks that every floor is in [0,1], that auto-send is never
// below review, and that every category named is known.
func (t Thresholds) Validate() error {
	var errs []error
	for c, f := range t.Floors {
		if !c.Valid() {
			errs = append(errs, fmt.Errorf("unknown category %q in floors", c))
			continue
		}
		if !model.ValidConfidence(f.AutoSend) || !model.ValidConfidence(f.Review) {
			errs = append(errs, fmt.Errorf("%s: floors must be within [0,1]", c))
		}
		if f.AutoSend < f.Review {
			errs = append(errs, fmt.Errorf("%s: auto-send floor %.2f below review floor %.2f", c, f.AutoSend, f.Review))
		}
	}
	for _, c := range t.AutoEligible {
		if !c.Valid() {
			errs = append(errs, fmt.Errorf("unknown category %q in auto_eligible", c))
		}
		if c == model.CategoryUrgentIssue {
			errs = append(errs, fmt.Errorf("%s cannot be auto-eligible", c))
		}
	}
	return errors.Join(errs...)
}

// floorsFor returns the category's floors and whether they came from its
// own entry. A missing entry gets the strictest floors in the table.
func (t Thresholds) floorsFor(c model.Category) (Floors, bool) {
	if f, ok := t.Floors[c]; ok {
		return f, true
	}
	if len(t.Floors) == 0 {
		return Floors{AutoSend: 1, Review: 1}, false
	}
	var strictest Floors
	for _, f := range t.Floors {
		if f.AutoSend > strictest.AutoSend {
			strictest.AutoSend = f.AutoSend
		}
		if f.Review > strictest.Review {
			strictest.Review = f.Review
		}
	}
	return strictest, false
}

func (t Thresholds) autoEligible(c model.Category) bool {
	for _, e := range t.AutoEligible {
		if e == c {
			return true
		}
	}
	return false
}

// knownSender reports whether trust is a tier that may receive an automatic
// reply. Anything else, including the zero value, counts as Unknown.
func knownSender(trust model.SenderTrust) bool {
	return trust == model.TrustFounder || trust == model.TrustPartner
}

// Decide returns the disposition for analysis. It fails with
// model.ErrInvalidAnalysis instead of clamping bad input. UrgentIssue always
// escalates whatever its confidence.
func Decide(analysis model.Analysis, trust model.SenderTrust, thresholds Thresholds) (model.Disposition, error) {
	if err := analysis.Validate(); err != nil {
		return "", err
	}
	if analysis.Category == model.CategoryUrgentIssue {
		return model.DispositionEscalate, nil
	}

	floors, own := thresholds.floorsFor(analysis.Category)

	if own &&
		analysis.Confidence >= floors.AutoSend &&
		thresholds.autoEligible(analysis.Category) &&
		knownSender(trust) {
		return model.DispositionAutoSend, nil
	}
	if analysis.Confidence >= floors.Review {
		return model.DispositionQueueForReview, nil
	}
	return model.DispositionArchive, nil
}
