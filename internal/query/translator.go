package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxLimit bounds every result set.
const DefaultMaxLimit = 50

// Inference is the model's reading of a question the grammar could not
// resolve: a collection and a normalised rewording.
type Inference struct {
	Collection string `json:"collection"`
	Question   string `json:"question"`
}

// Inferrer is the model fallback used by Translate.
type Inferrer interface {
	InferQuery(ctx context.Context, question string, collections []string) (Inference, error)
}

type Translator struct {
	inferrer Inferrer
	maxLimit int
	now      func() time.Time
}

// NewTranslator returns a translator. inferrer may be nil, in which case
// questions the grammar cannot resolve are rejected.
func NewTranslator(inferrer Inferrer, maxLimit int) *Translator {
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	return &Translator{inferrer: inferrer, maxLimit: maxLimit, now: time.Now}
}

// Translate parses question against schema with the grammar, falling back
// to the Inferrer once when the grammar leaves it unresolved. It never
// invents a collection or field the schema does not declare.
func (t *Translator) Translate(ctx context.Context, question string, schema Schema) (StructuredQuery, error) {
	q, err := t.parse(question, schema, "")
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, errUnresolved) {
		return StructuredQuery{}, err
	}
	if t.inferrer == nil {
		return StructuredQuery{}, fmt.Errorf("%w: %q", ErrUnparseableQuery, question)
	}

	inf, ierr := t.inferrer.InferQuery(ctx, question, schema.CollectionNames())
	if ierr != nil {
		return StructuredQuery{}, fmt.Errorf("%w: fallback failed: %v", ErrUnparseableQuery, ierr)
	}
	if _, ok := schema.Collection(inf.Collection); !ok {
		return StructuredQuery{}, fmt.Errorf("%w: unknown collection %q", ErrUnparseableQuery, inf.Collection)
	}
	normalized := inf.Question
	if strings.TrimSpace(normalized) == "" {
		normalized = question
	}

	q, err = t.parse(normalized, schema, inf.Collection)
	if errors.Is(err, errUnresolved) {
		return StructuredQuery{}, fmt.Errorf("%w: %q", ErrUnparseableQuery, question)
	}
	return q, err
}

// errUnresolved means the grammar understood nothing wrong but not enough.
var errUnresolved = fmt.Errorf("%w: unresolved", ErrUnparseableQuery)

// Digit groups such as "$1,000" stay one token; any other comma separates.
var tokenRE = regexp.MustCompile(`"[^"]*"|>=|<=|[=<>]|\$?\p{N}{1,3}(?:,\p{N}{3})+(?:\.\p{N}+)?[%kmbKMB]?|[\p{L}\p{N}@._$%'/+-]+`)

type comparator struct {
	words []string
	op    Operator
}

// Longer phrases first so "no less than" wins over "less than". A leading
// "is" is handled by comparatorAt.
var comparators = []comparator{
	{[]string{"greater", "than", "or", "equal", "to"}, OpGte},
	{[]string{"more", "than", "or", "equal", "to"}, OpGte},
	{[]string{"less", "than", "or", "equal", "to"}, OpLte},
	{[]string{"fewer", "than", "or", "equal", "to"}, OpLte},
	{[]string{"no", "less", "than"}, OpGte},
	{[]string{"no", "more", "than"}, OpLte},
	{[]string{"greater", "than"}, OpGt},
	{[]string{"more", "than"}, OpGt},
	{[]string{"higher", "than"}, OpGt},
	{[]string{"less", "than"}, OpLt},
	{[]string{"fewer", "than"}, OpLt},
	{[]string{"lower", "than"}, OpLt},
	{[]string{"at", "least"}, OpGte},
	{[]string{"at", "most"}, OpLte},
	{[]string{"equal", "to"}, OpEq},
	{[]string{"above"}, OpGt},
	{[]string{"over"}, OpGt},
	{[]string{">"}, OpGt},
	{[]string{">="}, OpGte},
	{[]string{"below"}, OpLt},
	{[]string{"under"}, OpLt},
	{[]string{"<"}, OpLt},
	{[]string{"<="}, OpLte},
	{[]string{"before"}, OpLt},
	{[]string{"after"}, OpGt},
	{[]string{"since"}, OpGte},
	{[]string{"equals"}, OpEq},
	{[]string{"="}, OpEq},
}

var ambiguousWords = map[string]bool{
	"around": true, "about": true, "approximately": true, "roughly": true,
	"near": true, "nearly": true, "circa": true, "approx": true, "~": true,
}

var fillerWords = map[string]bool{
	"a": true, "an": true, "the": true, "me": true, "my": true, "our": true, "us": true,
	"we": true, "i": true, "you": true, "please": true, "what": true, "which": true,
	"who": true, "are": true, "were": true, "of": true, "for": true, "to": true,
	"that": true, "those": true, "these": true, "with": true, "where": true,
	"whose": true, "have": true, "has": true, "having": true, "and": true, "can": true,
	"could": true, "would": true, "results": true, "records": true, "rows": true,
	"entries": true, "there": true, "on": true, "in": true, "from": true, "is": true,
	"do": true, "did": true, "any": true, "some": true, "their": true, "its": true,
	"it": true, "them": true, "by": true, "tell": true, "find": true, "about": true,
}

var listingWords = map[string]bool{
	"list": true, "show": true, "all": true, "every": true, "display": true,
	"get": true, "give": true, "fetch": true,
}

// connectors end a value phrase.
var connectors = map[string]bool{
	"and": true, "by": true, "sorted": true, "ordered": true, "order": true,
	"sort": true, "limit": true, "top": true, "in": true, "from": true,
	"with": true, "where": true, "whose": true, "during": true,
}

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"twenty": 20, "fifty": 50, "hundred": 100, "dozen": 12,
}

var timeUnits = map[string]time.Duration{
	"day": 24 * time.Hour, "days": 24 * time.Hour,
	"week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
	"month": 30 * 24 * time.Hour, "months": 30 * 24 * time.Hour,
	"year": 365 * 24 * time.Hour, "years": 365 * 24 * time.Hour,
}

type parser struct {
	schema   Schema
	orig     []string
	toks     []string
	used     []bool
	coll     Collection
	q        StructuredQuery
	listing  bool
	maxLimit int
	now      time.Time
}

func (t *Translator) parse(question string, schema Schema, forced string) (StructuredQuery, error) {
	p := &parser{schema: schema, maxLimit: t.maxLimit, now: t.now()}
	for _, m := range tokenRE.FindAllString(question, -1) {
		m = strings.Trim(m, ".'")
		if m == "" {
			continue
		}
		p.orig = append(p.orig, m)
		p.toks = append(p.toks, strings.ToLower(m))
	}
	p.used = make([]bool, len(p.toks))

	steps := []func() error{
		p.rejectAmbiguous,
		func() error { return p.resolveCollection(forced) },
		p.parseRelativeDates,
		p.parseRanking,
		p.parseOrdering,
		p.parseLimit,
		p.parseConditions,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return StructuredQuery{}, err
		}
	}
	return p.finish()
}

func (p *parser) rejectAmbiguous() error {
	for i := 0; i < len(p.toks); i++ {
		tok := p.toks[i]
		if c, ok := p.phraseAt(i); ok && len(c.words) > 1 {
			i += len(c.words) - 1
			continue
		}
		if tok == "or" || tok == "either" {
			return fmt.Errorf("%w: disjunctions are not supported", ErrUnparseableQuery)
		}
		if !ambiguousWords[tok] {
			continue
		}
		next := i + 1
		if next < len(p.toks) && p.toks[next] == "of" {
			next++
		}
		if next < len(p.toks) {
			if _, ok := parseNumber(p.toks[next]); ok {
				return fmt.Errorf("%w: %q is not a precise comparison", ErrUnparseableQuery, tok)
			}
		}
	}
	return nil
}

func (p *parser) resolveCollection(forced string) error {
	if forced != "" {
		c, ok := p.schema.Collection(forced)
		if !ok {
			return fmt.Errorf("%w: unknown collection %q", ErrUnparseableQuery, forced)
		}
		p.coll = c
	} else {
	scan:
		for _, tok := range p.toks {
			for _, c := range p.schema.Collections {
				if contains(c.names(), tok) {
					p.coll = c
					break scan
				}
			}
		}
		if p.coll.Name == "" {
			if len(p.schema.Collections) != 1 {
				return errUnresolved
			}
			p.coll = p.schema.Collections[0]
		}
	}

	p.q.Collection = p.coll.Name
	names := p.coll.names()
	for i, tok := range p.toks {
		if contains(names, tok) && !p.fieldStartsAt(i) {
			p.used[i] = true
		}
	}
	return nil
}

// parseRelativeDates handles "[in|from|over|during] [the] last|past [N] <unit>".
func (p *parser) parseRelativeDates() error {
	for i := 0; i < len(p.toks); i++ {
		if p.used[i] || (p.toks[i] != "last" && p.toks[i] != "past") {
			continue
		}
		j := i + 1
		n := 1
		if j < len(p.toks) {
			if v, ok := parseCount(p.toks[j]); ok {
				n = v
				j++
			}
		}
		if j >= len(p.toks) {
			continue
		}
		unit, ok := timeUnits[p.toks[j]]
		if !ok {
			continue
		}
		if p.coll.TimeField == "" {
			return fmt.Errorf("%w: %s has no date to filter on", ErrUnknownField, p.coll.Name)
		}
		if n <= 0 {
			return fmt.Errorf("%w: period must be positive", ErrUnparseableQuery)
		}
		start := i
		if start > 0 && p.toks[start-1] == "the" {
			start--
		}
		if start > 0 && (p.toks[start-1] == "in" || p.toks[start-1] == "from" || p.toks[start-1] == "over" || p.toks[start-1] == "during" || p.toks[start-1] == "within" || p.toks[start-1] == "since") {
			start--
		}
		p.mark(start, j+1)
		p.q.Filters = append(p.q.Filters, Filter{
			Field: p.coll.TimeField,
			Op:    OpGte,
			Value: p.now.UTC().Add(-time.Duration(n) * unit),
		})
		i = j
	}
	return nil
}

// parseRanking handles "top|highest|best [N] ... by <field>" and
// "bottom|lowest|worst [N] ... by <field>".
func (p *parser) parseRanking() error {
	for i, tok := range p.toks {
		if p.used[i] {
			continue
		}
		var desc bool
		switch tok {
		case "top", "highest", "best":
			desc = true
		case "bottom", "lowest", "worst":
			desc = false
		default:
			continue
		}
		p.used[i] = true

		if i+1 < len(p.toks) {
			if n, ok := parseCount(p.toks[i+1]); ok {
				if n <= 0 {
					return fmt.Errorf("%w: limit must be positive", ErrUnparseableQuery)
				}
				p.used[i+1] = true
				p.setLimit(n)
			}
		}
		if p.q.Limit == 0 {
			p.setLimit(p.maxLimit)
		}

		for j := i + 1; j < len(p.toks); j++ {
			if p.toks[j] != "by" || p.used[j] {
				continue
			}
			f, n, err := p.fieldAfter(j + 1)
			if err != nil {
				return err
			}
			p.mark(j, j+1+n)
			p.q.Sort = &Sort{Field: f.Name, Desc: desc}
			break
		}
		return nil
	}
	return nil
}

// parseOrdering handles "sorted|ordered|sort|order by <field> [asc|desc]"
// and "latest|newest|oldest" on the time field.
func (p *parser) parseOrdering() error {
	for i := 0; i < len(p.toks); i++ {
		tok := p.toks[i]
		if p.used[i] {
			continue
		}
		switch tok {
		case "latest", "newest", "recent", "oldest", "earliest":
			if p.q.Sort != nil || p.coll.TimeField == "" {
				continue
			}
			p.used[i] = true
			if i > 0 && p.toks[i-1] == "most" {
				p.used[i-1] = true
			}
			p.q.Sort = &Sort{Field: p.coll.TimeField, Desc: tok != "oldest" && tok != "earliest"}
			continue
		case "sorted", "ordered", "sort", "order":
		default:
			continue
		}
		if i+1 >= len(p.toks) || p.toks[i+1] != "by" {
			continue
		}
		f, n, err := p.fieldAfter(i + 2)
		if err != nil {
			return err
		}
		end := i + 2 + n
		desc := false
		if end < len(p.toks) {
			switch p.toks[end] {
			case "desc", "descending":
				desc = true
				end++
			case "asc", "ascending":
				end++
			}
		}
		p.mark(i, end)
		p.q.Sort = &Sort{Field: f.Name, Desc: desc}
		i = end - 1
	}
	return nil
}

// parseLimit handles "limit N" and "first N".
func (p *parser) parseLimit() error {
	for i := 0; i+1 < len(p.toks); i++ {
		if p.used[i] || (p.toks[i] != "limit" && p.toks[i] != "first") {
			continue
		}
		n, ok := parseCount(p.toks[i+1])
		if !ok {
			continue
		}
		if n <= 0 {
			return fmt.Errorf("%w: limit must be positive", ErrUnparseableQuery)
		}
		p.mark(i, i+2)
		p.setLimit(n)
	}
	return nil
}

type condition struct {
	field      Field
	fieldStart int
	opStart    int
	opEnd      int
	op         Operator
}

func (p *parser) parseConditions() error {
	var conds []condition
	for i := 0; i < len(p.toks); i++ {
		if p.used[i] {
			continue
		}
		cmp, ok := p.comparatorAt(i)
		if !ok {
			continue
		}
		f, start, found := p.fieldBefore(i)
		if !found {
			if i == 0 {
				continue
			}
			prev := p.toks[i-1]
			if p.used[i-1] || fillerWords[prev] || listingWords[prev] || isNumeric(prev) {
				continue
			}
			return fmt.Errorf("%w: %q is not queryable on %s", ErrUnknownField, prev, p.coll.Name)
		}
		conds = append(conds, condition{field: f, fieldStart: start, opStart: i, opEnd: i + len(cmp.words), op: cmp.op})
		i += len(cmp.words) - 1
	}

	for k, c := range conds {
		end := len(p.toks)
		if k+1 < len(conds) {
			end = conds[k+1].fieldStart
		}
		vs := c.opEnd
		ve := vs
		for ve < end && !p.used[ve] && !connectors[p.toks[ve]] {
			ve++
		}
		if ve == vs {
			return fmt.Errorf("%w: missing value for %s", ErrUnparseableQuery, c.field.Name)
		}
		if p.toks[vs] == "not" {
			return fmt.Errorf("%w: negated conditions are not supported", ErrUnparseableQuery)
		}
		value, err := coerce(c.field, p.orig[vs:ve])
		if err != nil {
			return err
		}
		p.mark(c.fieldStart, ve)
		p.q.Filters = append(p.q.Filters, Filter{Field: c.field.Name, Op: c.op, Value: value})
	}
	return nil
}

func (p *parser) finish() (StructuredQuery, error) {
	for i, tok := range p.toks {
		if p.used[i] {
			continue
		}
		if listingWords[tok] {
			p.listing = true
			continue
		}
		if fillerWords[tok] {
			continue
		}
		return StructuredQuery{}, errUnresolved
	}
	if len(p.q.Filters) == 0 && p.q.Sort == nil && !p.listing {
		return StructuredQuery{}, errUnresolved
	}
	if p.q.Limit == 0 {
		p.q.Limit = p.maxLimit
	}
	if err := p.schema.Check(p.q); err != nil {
		return StructuredQuery{}, err
	}
	return p.q, nil
}

func (p *parser) setLimit(n int) {
	if n > p.maxLimit {
		n = p.maxLimit
	}
	p.q.Limit = n
}

func (p *parser) mark(from, to int) {
	for i := from; i < to && i < len(p.used); i++ {
		p.used[i] = true
	}
}

func (p *parser) comparatorAt(i int) (comparator, bool) {
	if i < len(p.toks) && p.toks[i] == "is" && !p.used[i] {
		if c, ok := p.phraseAt(i + 1); ok {
			return comparator{words: append([]string{"is"}, c.words...), op: c.op}, true
		}
		return comparator{words: []string{"is"}, op: OpEq}, true
	}
	return p.phraseAt(i)
}

func (p *parser) phraseAt(i int) (comparator, bool) {
	for _, c := range comparators {
		if i+len(c.words) > len(p.toks) {
			continue
		}
		match := true
		for k, w := range c.words {
			if p.toks[i+k] != w || p.used[i+k] {
				match = false
				break
			}
		}
		if match {
			return c, true
		}
	}
	return comparator{}, false
}

const maxFieldWords = 3

// fieldMatch returns the longest field phrase starting at toks[i].
func (p *parser) fieldMatch(i int) (Field, int, bool) {
	for n := maxFieldWords; n >= 1; n-- {
		if f, ok := p.fieldPhrase(i, n); ok {
			return f, n, true
		}
	}
	return Field{}, 0, false
}

// fieldPhrase reports whether toks[i:i+n] names a field.
func (p *parser) fieldPhrase(i, n int) (Field, bool) {
	if i < 0 || i+n > len(p.toks) {
		return Field{}, false
	}
	phrase := strings.Join(p.toks[i:i+n], " ")
	for _, f := range p.coll.Fields {
		if contains(f.names(), phrase) {
			return f, true
		}
	}
	return Field{}, false
}

func (p *parser) fieldStartsAt(i int) bool {
	_, _, ok := p.fieldMatch(i)
	if !ok {
		return false
	}
	for _, c := range p.schema.Collections {
		if c.Name == p.coll.Name && contains(c.names(), p.toks[i]) {
			// a collection word doubles as a field only when a comparator follows
			_, cmp := p.comparatorAt(i + 1)
			return cmp
		}
	}
	return true
}

// fieldBefore finds a field whose phrase ends right before toks[j].
func (p *parser) fieldBefore(j int) (Field, int, bool) {
	for n := maxFieldWords; n >= 1; n-- {
		if f, ok := p.fieldPhrase(j-n, n); ok {
			return f, j - n, true
		}
	}
	return Field{}, 0, false
}

// fieldAfter resolves the field named at toks[i] following "by".
func (p *parser) fieldAfter(i int) (Field, int, error) {
	if i >= len(p.toks) {
		return Field{}, 0, fmt.Errorf("%w: missing field after \"by\"", ErrUnparseableQuery)
	}
	if f, n, ok := p.fieldMatch(i); ok {
		return f, n, nil
	}
	return Field{}, 0, fmt.Errorf("%w: %q is not queryable on %s", ErrUnknownField, p.toks[i], p.coll.Name)
}

func coerce(f Field, words []string) (any, error) {
	raw := strings.Join(words, " ")
	if len(words) == 1 && strings.HasPrefix(raw, `"`) {
		raw = strings.Trim(raw, `"`)
	}
	switch f.Type {
	case FieldNumber:
		if len(words) != 1 {
			return nil, fmt.Errorf("%w: %q is not a number for %s", ErrUnparseableQuery, raw, f.Name)
		}
		v, ok := parseNumber(strings.ToLower(raw))
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a number for %s", ErrUnparseableQuery, raw, f.Name)
		}
		return v, nil
	case FieldTime:
		for _, layout := range []string{"2006-01-02", time.RFC3339, "2006/01/02", "02 Jan 2006", "Jan 2 2006"} {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("%w: %q is not a date for %s", ErrUnparseableQuery, raw, f.Name)
	default:
		return raw, nil
	}
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		mult, s = 1e3, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult, s = 1e6, strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "b"):
		mult, s = 1e9, strings.TrimSuffix(s, "b")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	v *= mult
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func isNumeric(s string) bool {
	_, ok := parseNumber(s)
	return ok
}

// parseCount parses a whole number written as digits or a word.
func parseCount(s string) (int, bool) {
	if n, ok := numberWords[s]; ok {
		return n, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
