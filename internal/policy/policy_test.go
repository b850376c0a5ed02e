package policy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/internal/model"
)

func testThresholds() Thresholds {
	return Thresholds{
		Floors: map[model.Category]Floors{
			model.CategoryFollowUp:    {AutoSend: 0.8, Review: 0.5},
			model.CategoryNewPitch:    {AutoSend: 0.9, Review: 0.6},
			model.CategoryUrgentIssue: {AutoSend: 0.95, Review: 0.7},
		},
		AutoEligible: []model.Category{model.CategoryFollowUp},
	}
}

func analysis(c model.Category, conf float64) model.Analysis {
	return model.Analysis{ID: "a1", EmailID: "e1", Category: c, Confidence: conf}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		analysis model.Analysis
		trust    model.SenderTrust
		want     model.Disposition
	}{
		{"auto send at floor", analysis(model.CategoryFollowUp, 0.8), model.TrustPartner, model.DispositionAutoSend},
		{"auto send founder", analysis(model.CategoryFollowUp, 0.99), model.TrustFounder, model.DispositionAutoSend},
		{"unknown sender never auto", analysis(model.CategoryFollowUp, 0.99), model.TrustUnknown, model.DispositionQueueForReview},
		{"empty trust never auto", analysis(model.CategoryFollowUp, 0.99), "", model.DispositionQueueForReview},
		{"lowercase trust never auto", analysis(model.CategoryFollowUp, 0.99), "founder", model.DispositionQueueForReview},
		{"unrecognised trust never auto", analysis(model.CategoryFollowUp, 0.99), "Stranger", model.DispositionQueueForReview},
		{"not auto eligible", analysis(model.CategoryNewPitch, 0.95), model.TrustPartner, model.DispositionQueueForReview},
		{"review at floor", analysis(model.CategoryFollowUp, 0.5), model.TrustPartner, model.DispositionQueueForReview},
		{"below review archives", analysis(model.CategoryFollowUp, 0.49), model.TrustPartner, model.DispositionArchive},
		{"urgent low confidence escalates", analysis(model.CategoryUrgentIssue, 0.1), model.TrustUnknown, model.DispositionEscalate},
		{"urgent zero confidence escalates", analysis(model.CategoryUrgentIssue, 0), model.TrustFounder, model.DispositionEscalate},
		{"urgent high confidence escalates", analysis(model.CategoryUrgentIssue, 0.96), model.TrustPartner, model.DispositionEscalate},
		{"urgent at review floor escalates", analysis(model.CategoryUrgentIssue, 0.7), model.TrustFounder, model.DispositionEscalate},
		{"missing entry uses strictest review", analysis(model.CategoryFeedback, 0.69), model.TrustPartner, model.DispositionArchive},
		{"missing entry reaches review", analysis(model.CategoryFeedback, 0.7), model.TrustPartner, model.DispositionQueueForReview},
		{"missing entry never auto", analysis(model.CategoryFeedback, 1.0), model.TrustFounder, model.DispositionQueueForReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(tt.analysis, tt.trust, testThresholds())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecideMissingEntryNotAutoEvenWhenListedEligible(t *testing.T) {
	th := testThresholds()
	th.AutoEligible = append(th.AutoEligible, model.CategoryFeedback)

	got, err := Decide(analysis(model.CategoryFeedback, 1.0), model.TrustFounder, th)
	require.NoError(t, err)
	assert.Equal(t, model.DispositionQueueForReview, got)
}

func TestDecideEmptyTable(t *testing.T) {
	got, err := Decide(analysis(model.CategoryFollowUp, 0.99), model.TrustFounder, Thresholds{})
	require.NoError(t, err)
	assert.Equal(t, model.DispositionArchive, got)

	got, err = Decide(analysis(model.CategoryFollowUp, 1.0), model.TrustFounder, Thresholds{})
	require.NoError(t, err)
	assert.Equal(t, model.DispositionQueueForReview, got)

	got, err = Decide(analysis(model.CategoryUrgentIssue, 0.2), model.TrustFounder, Thresholds{})
	require.NoError(t, err)
	assert.Equal(t, model.DispositionEscalate, got)
}

func TestDecideRejectsInvalidAnalysis(t *testing.T) {
	for _, a := range []model.Analysis{
		analysis(model.CategoryFollowUp, 1.2),
		analysis(model.CategoryFollowUp, -0.1),
		analysis(model.CategoryFollowUp, math.NaN()),
		analysis("Invoice", 0.9),
	} {
		_, err := Decide(a, model.TrustFounder, testThresholds())
		assert.ErrorIs(t, err, model.ErrInvalidAnalysis)
	}
}

// Every auto-eligible category with its own entry, any trust but Unknown and
// any confidence at or above the floor auto-sends.
func TestDecideAutoSendProperty(t *testing.T) {
	th := testThresholds()
	for _, c := range th.AutoEligible {
		floor := th.Floors[c].AutoSend
		for _, trust := range []model.SenderTrust{model.TrustFounder, model.TrustPartner} {
			for conf := floor; conf <= 1.0; conf += 0.01 {
				got, err := Decide(analysis(c, conf), trust, th)
				require.NoError(t, err)
				assert.Equal(t, model.DispositionAutoSend, got, "%s %s %.2f", c, trust, conf)
			}
		}
	}
}

func TestDecideUrgentAlwaysEscalates(t *testing.T) {
	trusts := []model.SenderTrust{model.TrustFounder, model.TrustPartner, model.TrustUnknown}
	for _, th := range []Thresholds{testThresholds(), DefaultThresholds(), {}} {
		for _, trust := range trusts {
			for i := 0; i <= 20; i++ {
				got, err := Decide(analysis(model.CategoryUrgentIssue, float64(i)/20), trust, th)
				require.NoError(t, err)
				assert.Equal(t, model.DispositionEscalate, got)
			}
		}
	}
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())
	assert.NoError(t, testThresholds().Validate())

	inverted := Thresholds{Floors: map[model.Category]Floors{model.CategoryFollowUp: {AutoSend: 0.4, Review: 0.6}}}
	assert.Error(t, inverted.Validate())

	outOfRange := Thresholds{Floors: map[model.Category]Floors{model.CategoryFollowUp: {AutoSend: 1.5, Review: 0.6}}}
	assert.Error(t, outOfRange.Validate())

	unknown := Thresholds{AutoEligible: []model.Category{"Invoice"}}
	assert.Error(t, unknown.Validate())

	urgentAuto := Thresholds{AutoEligible: []model.Category{model.CategoryUrgentIssue}}
	assert.Error(t, urgentAuto.Validate())
}

func TestScoreUrgency(t *testing.T) {
	tests := map[string]Urgency{
		"Please respond ASAP":                  UrgencyCritical,
		"Need this by EOD":                     UrgencyCritical,
		"can we talk tomorrow?":                UrgencyUrgent,
		"sometime this week works":             UrgencySoon,
		"thanks for the update":                UrgencyBacklog,
		"the upcoming board meeting is urgent": UrgencyCritical,
	}
	for body, want := range tests {
		assert.Equal(t, want, ScoreUrgency(body), body)
	}
}
