package responder

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"mailpilot/internal/model"
	"mailpilot/internal/query"
)

// TemplateTool answers from a fixed template per category. Templates are
// text/template strings executed against the Analysis.
type TemplateTool struct {
	name       string
	templates  map[model.Category]*template.Template
	order      []model.Category
	confidence float64
}

// NewTemplateTool parses templates up front so Produce cannot fail on syntax.
func NewTemplateTool(name string, templates map[model.Category]string, confidence float64) (*TemplateTool, error) {
	if !model.ValidConfidence(confidence) {
		return nil, fmt.Errorf("template tool %s: confidence %v outside [0,1]", name, confidence)
	}
	t := &TemplateTool{
		name:       name,
		templates:  make(map[model.Category]*template.Template, len(templates)),
		confidence: confidence,
	}
	for _, c := range model.Categories {
		src, ok := templates[c]
		if !ok {
			continue
		}
		tmpl, err := template.New(string(c)).Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("template tool %s: category %s: %w", name, c, err)
		}
		t.templates[c] = tmpl
		t.order = append(t.order, c)
	}
	return t, nil
}

func (t *TemplateTool) Name() string { return t.name }

func (t *TemplateTool) Categories() []model.Category { return t.order }

func (t *TemplateTool) Produce(_ context.Context, analysis model.Analysis) (string, float64, error) {
	tmpl, ok := t.templates[analysis.Category]
	if !ok {
		return "", 0, fmt.Errorf("no template for %s", analysis.Category)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, templateData(analysis)); err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(buf.String()), t.confidence, nil
}

func templateData(a model.Analysis) map[string]any {
	first := make(map[string]string, len(a.Entities))
	for k, v := range a.Entities {
		if len(v) > 0 {
			first[k] = v[0]
		}
	}
	return map[string]any{
		"Category": a.Category,
		"Intent":   a.Intent,
		"Entities": first,
	}
}

// DraftTool asks the model to write a full reply.
type DraftTool struct {
	name       string
	gen        TextGenerator
	categories []model.Category
	// weight scales the classification confidence into a draft confidence.
	weight float64
}

func NewDraftTool(name string, gen TextGenerator, weight float64, categories ...model.Category) *DraftTool {
	if weight <= 0 || weight > 1 {
		weight = 0.9
	}
	return &DraftTool{name: name, gen: gen, categories: categories, weight: weight}
}

func (t *DraftTool) Name() string { return t.name }

func (t *DraftTool) Categories() []model.Category { return t.categories }

func (t *DraftTool) Produce(ctx context.Context, analysis model.Analysis) (string, float64, error) {
	email, _ := EmailFromContext(ctx)
	text, err := t.gen.Generate(ctx, DraftPrompt(analysis, email, ""))
	if err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(text), analysis.Confidence * t.weight, nil
}

// DraftPrompt builds the reply prompt. history is optional extra context.
func DraftPrompt(analysis model.Analysis, email model.Email, history string) string {
	var b strings.Builder
	b.WriteString("Write a brief, professional reply to the email below.\n")
	b.WriteString("Do not make commitments, investment promises or schedule changes that are not stated in the email.\n\n")
	fmt.Fprintf(&b, "Category: %s\nIntent: %s\nSentiment: %s\n", analysis.Category, analysis.Intent, analysis.Sentiment)
	for _, kind := range sortedKeys(analysis.Entities) {
		fmt.Fprintf(&b, "%s: %s\n", kind, strings.Join(analysis.Entities[kind], ", "))
	}
	if email.ID != "" {
		fmt.Fprintf(&b, "\nFrom: %s\nSubject: %s\n\n%s\n", email.Sender, email.Subject, email.Body)
	}
	if history != "" {
		fmt.Fprintf(&b, "\nPrevious records for this sender:\n%s\n", history)
	}
	return b.String()
}

// RecordContextTool drafts a follow-up that references what the record store
// already knows about the sender.
type RecordContextTool struct {
	name        string
	store       query.RecordStore
	gen         TextGenerator
	collection  string
	senderField string
	columns     []string
	categories  []model.Category
}

func NewRecordContextTool(name string, store query.RecordStore, gen TextGenerator, collection, senderField string, columns []string, categories ...model.Category) *RecordContextTool {
	return &RecordContextTool{
		name:        name,
		store:       store,
		gen:         gen,
		collection:  collection,
		senderField: senderField,
		columns:     columns,
		categories:  categories,
	}
}

func (t *RecordContextTool) Name() string { return t.name }

func (t *RecordContextTool) Categories() []model.Category { return t.categories }

func (t *RecordContextTool) Produce(ctx context.Context, analysis model.Analysis) (string, float64, error) {
	email, ok := EmailFromContext(ctx)
	if !ok || email.Sender == "" {
		return "", 0, fmt.Errorf("no sender to look up")
	}

	records, err := t.store.QueryRecords(ctx, query.StructuredQuery{
		Collection: t.collection,
		Filters:    []query.Filter{{Field: t.senderField, Op: query.OpEq, Value: model.NormalizeAddress(email.Sender)}},
		Limit:      5,
	})
	if err != nil {
		return "", 0, err
	}
	if len(records) == 0 {
		return "", 0, fmt.Errorf("no prior %s for sender", t.collection)
	}

	text, err := t.gen.Generate(ctx, DraftPrompt(analysis, email, query.Format(records, t.columns)))
	if err != nil {
		return "", 0, err
	}
	// a quarter of the remaining headroom
	conf := analysis.Confidence
	if conf < 1 {
		conf += (1 - conf) * 0.25
	}
	return strings.TrimSpace(text), conf, nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
