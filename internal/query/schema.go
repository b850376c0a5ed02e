package query

import (
	"fmt"
	"strings"
	"time"
)

type FieldType string

const (
	FieldNumber FieldType = "number"
	FieldString FieldType = "string"
	FieldTime   FieldType = "time"
)

type Field struct {
	Name    string    `yaml:"name"`
	Type    FieldType `yaml:"type"`
	Aliases []string  `yaml:"aliases"`
}

type Collection struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
	Fields  []Field  `yaml:"fields"`
	// TimeField backs "in the last N days" phrasing.
	TimeField string `yaml:"time_field"`
	// Columns are the display columns, in order.
	Columns []string `yaml:"columns"`
}

// Schema declares the queryable collections and fields.
type Schema struct {
	Collections []Collection `yaml:"collections"`
}

func (s Schema) Collection(name string) (Collection, bool) {
	for _, c := range s.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

func (s Schema) CollectionNames() []string {
	names := make([]string, len(s.Collections))
	for i, c := range s.Collections {
		names[i] = c.Name
	}
	return names
}

func (c Collection) Field(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// DisplayColumns returns Columns, or every field name when none are set.
func (c Collection) DisplayColumns() []string {
	if len(c.Columns) > 0 {
		return c.Columns
	}
	cols := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		cols[i] = f.Name
	}
	return cols
}

// Validate checks the schema itself.
func (s Schema) Validate() error {
	seen := map[string]bool{}
	for _, c := range s.Collections {
		if c.Name == "" {
			return fmt.Errorf("schema: collection without name")
		}
		if seen[c.Name] {
			return fmt.Errorf("schema: duplicate collection %q", c.Name)
		}
		seen[c.Name] = true
		for _, f := range c.Fields {
			switch f.Type {
			case FieldNumber, FieldString, FieldTime:
			default:
				return fmt.Errorf("schema: %s.%s has unknown type %q", c.Name, f.Name, f.Type)
			}
		}
		if c.TimeField != "" {
			if f, ok := c.Field(c.TimeField); !ok || f.Type != FieldTime {
				return fmt.Errorf("schema: %s time_field %q is not a time field", c.Name, c.TimeField)
			}
		}
		for _, col := range c.Columns {
			if _, ok := c.Field(col); !ok {
				return fmt.Errorf("schema: %s column %q is not a field", c.Name, col)
			}
		}
	}
	return nil
}

// Check validates q against the schema: known collection, queryable fields,
// valid operators, values of the field's type, non-negative limit.
func (s Schema) Check(q StructuredQuery) error {
	c, ok := s.Collection(q.Collection)
	if !ok {
		return fmt.Errorf("%w: unknown collection %q", ErrUnparseableQuery, q.Collection)
	}
	for _, f := range q.Filters {
		field, ok := c.Field(f.Field)
		if !ok {
			return fmt.Errorf("%w: %q is not queryable on %s", ErrUnknownField, f.Field, c.Name)
		}
		if !f.Op.Valid() {
			return fmt.Errorf("%w: operator %q", ErrUnparseableQuery, f.Op)
		}
		if !valueMatchesType(f.Value, field.Type) {
			return fmt.Errorf("%w: value %v is not a %s for %s", ErrUnparseableQuery, f.Value, field.Type, field.Name)
		}
	}
	if q.Sort != nil {
		if _, ok := c.Field(q.Sort.Field); !ok {
			return fmt.Errorf("%w: cannot sort %s by %q", ErrUnknownField, c.Name, q.Sort.Field)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: limit must be positive", ErrUnparseableQuery)
	}
	return nil
}

func valueMatchesType(v any, t FieldType) bool {
	switch t {
	case FieldNumber:
		_, ok := v.(float64)
		return ok
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldTime:
		_, ok := v.(time.Time)
		return ok
	}
	return false
}

// names returns the lowercase words that refer to the collection, plural
// and singular.
func (c Collection) names() []string {
	return inflect(append([]string{c.Name}, c.Aliases...))
}

func (f Field) names() []string {
	return inflect(append([]string{f.Name, strings.ReplaceAll(f.Name, "_", " ")}, f.Aliases...))
}

func inflect(words []string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(w string) {
		if w != "" && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		add(w)
		add(singular(w))
		add(plural(w))
	}
	return out
}

func singular(w string) string {
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 3:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"), strings.HasSuffix(w, "sses"), strings.HasSuffix(w, "xes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}

func plural(w string) string {
	switch {
	case strings.HasSuffix(w, "s"):
		return w
	case strings.HasSuffix(w, "y") && len(w) > 1 && !strings.ContainsRune("aeiou", rune(w[len(w)-2])):
		return w[:len(w)-1] + "ies"
	case strings.HasSuffix(w, "ch"), strings.HasSuffix(w, "sh"), strings.HasSuffix(w, "x"):
		return w + "es"
	}
	return w + "s"
}

// DefaultSchema describes the collections the triage pipeline writes.
func DefaultSchema() Schema {
	return Schema{Collections: []Collection{
		{
			Name:      "startups",
			Aliases:   []string{"company", "companies"},
			TimeField: "created_at",
			Fields: []Field{
				{Name: "name", Type: FieldString},
				{Name: "sector", Type: FieldString, Aliases: []string{"industry"}},
				{Name: "stage", Type: FieldString},
				{Name: "score", Type: FieldNumber, Aliases: []string{"rating"}},
				{Name: "funding", Type: FieldNumber, Aliases: []string{"raise", "ask"}},
				{Name: "founder_email", Type: FieldString, Aliases: []string{"founder"}},
				{Name: "created_at", Type: FieldTime, Aliases: []string{"created", "date"}},
			},
			Columns: []string{"name", "sector", "stage", "score", "funding"},
		},
		{
			Name:      "pitches",
			Aliases:   []string{"deck", "decks"},
			TimeField: "received_at",
			Fields: []Field{
				{Name: "company", Type: FieldString},
				{Name: "sender", Type: FieldString},
				{Name: "fit_score", Type: FieldNumber, Aliases: []string{"thesis fit", "fit"}},
				{Name: "recommendation", Type: FieldString},
				{Name: "received_at", Type: FieldTime, Aliases: []string{"received", "date"}},
			},
			Columns: []string{"company", "sender", "fit_score", "recommendation", "received_at"},
		},
		{
			Name:      "founders",
			TimeField: "last_contact",
			Fields: []Field{
				{Name: "name", Type: FieldString},
				{Name: "email", Type: FieldString},
				{Name: "company", Type: FieldString},
				{Name: "emails_sent", Type: FieldNumber, Aliases: []string{"emails"}},
				{Name: "last_contact", Type: FieldTime, Aliases: []string{"contacted", "date"}},
			},
			Columns: []string{"name", "email", "company", "emails_sent", "last_contact"},
		},
		{
			Name:      "communications",
			Aliases:   []string{"email", "emails", "message", "messages"},
			TimeField: "received_at",
			Fields: []Field{
				{Name: "sender", Type: FieldString, Aliases: []string{"from"}},
				{Name: "subject", Type: FieldString},
				{Name: "category", Type: FieldString},
				{Name: "disposition", Type: FieldString},
				{Name: "confidence", Type: FieldNumber},
				{Name: "received_at", Type: FieldTime, Aliases: []string{"received", "date"}},
			},
			Columns: []string{"sender", "subject", "category", "disposition", "received_at"},
		},
		{
			Name:      "reminders",
			Aliases:   []string{"follow-up", "follow-ups"},
			TimeField: "due",
			Fields: []Field{
				{Name: "title", Type: FieldString},
				{Name: "sender", Type: FieldString},
				{Name: "status", Type: FieldString},
				{Name: "due", Type: FieldTime, Aliases: []string{"due date"}},
			},
			Columns: []string{"title", "sender", "status", "due"},
		},
		{
			Name: "partners",
			Fields: []Field{
				{Name: "name", Type: FieldString},
				{Name: "email", Type: FieldString},
				{Name: "focus", Type: FieldString},
				{Name: "deals", Type: FieldNumber},
			},
			Columns: []string{"name", "email", "focus", "deals"},
		},
	}}
}
