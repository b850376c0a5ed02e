package responder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/internal/model"
	"mailpilot/internal/query"
)

type fakeGen struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeGen) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func TestTemplateTool(t *testing.T) {
	tool, err := NewTemplateTool("ack", map[model.Category]string{
		model.CategoryMeetingRequest: "Thanks, {{index .Entities \"person\"}}. We'll confirm a time shortly.",
		model.CategoryNewPitch:       "Thanks for sending {{index .Entities \"company\"}} our way.",
	}, 0.6)
	require.NoError(t, err)

	assert.Equal(t, []model.Category{model.CategoryNewPitch, model.CategoryMeetingRequest}, tool.Categories())

	text, conf, err := tool.Produce(context.Background(), model.Analysis{
		Category: model.CategoryNewPitch,
		Entities: map[string][]string{"company": {"Acme", "Acme Labs"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Thanks for sending Acme our way.", text)
	assert.Equal(t, 0.6, conf)

	_, _, err = tool.Produce(context.Background(), model.Analysis{Category: model.CategorySpam})
	assert.Error(t, err)
}

func TestTemplateToolRejectsBadInput(t *testing.T) {
	_, err := NewTemplateTool("bad", map[model.Category]string{model.CategoryOther: "{{"}, 0.5)
	assert.Error(t, err)

	_, err = NewTemplateTool("bad", nil, 1.5)
	assert.Error(t, err)
}

func TestDraftTool(t *testing.T) {
	gen := &fakeGen{reply: "  Thanks, we'll take a look.  "}
	tool := NewDraftTool("draft", gen, 0.5, model.CategoryNewPitch)

	ctx := WithEmail(context.Background(), model.Email{ID: "em-1", Sender: "ada@acme.io", Subject: "Seed round", Body: "We are raising."})
	text, conf, err := tool.Produce(ctx, model.Analysis{
		Category:   model.CategoryNewPitch,
		Intent:     "request investment",
		Confidence: 0.8,
		Entities:   map[string][]string{"company": {"Acme"}, "amount": {"$2M"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Thanks, we'll take a look.", text)
	assert.InDelta(t, 0.4, conf, 1e-9)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "Intent: request investment")
	assert.Contains(t, gen.prompts[0], "amount: $2M\ncompany: Acme")
	assert.Contains(t, gen.prompts[0], "Subject: Seed round")
}

func TestDraftToolPropagatesErrors(t *testing.T) {
	tool := NewDraftTool("draft", &fakeGen{err: errors.New("model down")}, 0)
	_, _, err := tool.Produce(context.Background(), model.Analysis{Category: model.CategoryOther})
	assert.EqualError(t, err, "model down")
}

func TestRecordContextTool(t *testing.T) {
	store := query.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.StoreRecord(ctx, "pitches", query.Record{"sender": "Ada@Acme.io", "company": "Acme", "fit_score": 8.0}))
	require.NoError(t, store.StoreRecord(ctx, "pitches", query.Record{"sender": "bob@beta.io", "company": "Beta", "fit_score": 5.0}))

	gen := &fakeGen{reply: "Good to hear from you again."}
	tool := NewRecordContextTool("history", store, gen, "pitches", "sender", []string{"company", "fit_score"}, model.CategoryFollowUp)

	text, conf, err := tool.Produce(WithEmail(ctx, model.Email{ID: "em-2", Sender: "ada@acme.io"}), model.Analysis{
		Category:   model.CategoryFollowUp,
		Confidence: 0.6,
	})
	require.NoError(t, err)
	assert.Equal(t, "Good to hear from you again.", text)
	assert.InDelta(t, 0.7, conf, 1e-9)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "| Acme | 8 |")
	assert.NotContains(t, gen.prompts[0], "Beta")
}

func TestRecordContextToolWithoutHistory(t *testing.T) {
	gen := &fakeGen{reply: "x"}
	tool := NewRecordContextTool("history", query.NewMemoryStore(), gen, "pitches", "sender", nil)

	_, _, err := tool.Produce(WithEmail(context.Background(), model.Email{ID: "em-3", Sender: "new@x.io"}), model.Analysis{Confidence: 0.5})
	assert.Error(t, err)

	_, _, err = tool.Produce(context.Background(), model.Analysis{Confidence: 0.5})
	assert.Error(t, err)
	assert.Empty(t, gen.prompts)
}
