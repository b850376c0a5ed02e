// Package responder drafts reply candidates for an analysed email by asking
// every applicable tool for one complete draft.
package responder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailpilot/internal/model"
	"mailpilot/pkg/metrics"
)

// ErrGenerationFailed wraps every per-tool failure reported as a Warning.
var ErrGenerationFailed = errors.New("generation failed")

// Tool drafts one reply for an analysis.
type Tool interface {
	Name() string
	// Categories is the tool's affinity. An empty list means every category.
	Categories() []model.Category
	Produce(ctx context.Context, analysis model.Analysis) (text string, confidence float64, err error)
}

// TextGenerator is the model's free-text generation capability.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Warning reports a tool whose candidate was dropped.
type Warning struct {
	Tool string
	Err  error
}

func (w Warning) Error() string {
	return w.Tool + ": " + w.Err.Error()
}

func (w Warning) Unwrap() error {
	return w.Err
}

type Result struct {
	Candidates []model.ResponseCandidate
	Warnings   []Warning
}

// Best returns the highest ranked candidate.
func (r Result) Best() (model.ResponseCandidate, bool) {
	if len(r.Candidates) == 0 {
		return model.ResponseCandidate{}, false
	}
	return r.Candidates[0], true
}

type Generator struct {
	toolTimeout time.Duration
	logger      *zap.Logger
}

// NewGenerator returns a generator that gives each tool at most toolTimeout.
func NewGenerator(toolTimeout time.Duration, logger *zap.Logger) *Generator {
	if toolTimeout <= 0 {
		toolTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{toolTimeout: toolTimeout, logger: logger}
}

type outcome struct {
	candidate model.ResponseCandidate
	err       error
}

// Generate queries the registry's applicable tools concurrently. Candidates
// are ordered by descending confidence with ties in registration order. A
// failing tool never fails the call.
func (g *Generator) Generate(ctx context.Context, analysis model.Analysis, registry *Registry) Result {
	tools := registry.Applicable(analysis.Category)
	if len(tools) == 0 {
		return Result{}
	}

	outcomes := make([]outcome, len(tools))
	var eg errgroup.Group
	for i, tool := range tools {
		eg.Go(func() error {
			outcomes[i] = g.produce(ctx, tool, analysis)
			return nil
		})
	}
	_ = eg.Wait()

	var res Result
	for i, o := range outcomes {
		if o.err != nil {
			name := tools[i].Name()
			metrics.IncrementToolFailure(name)
			g.logger.Warn("Response tool failed",
				zap.String("tool", name),
				zap.String("email_id", analysis.EmailID),
				zap.Error(o.err),
			)
			res.Warnings = append(res.Warnings, Warning{Tool: name, Err: o.err})
			continue
		}
		res.Candidates = append(res.Candidates, o.candidate)
	}

	sort.SliceStable(res.Candidates, func(a, b int) bool {
		return res.Candidates[a].Confidence > res.Candidates[b].Confidence
	})
	return res
}

func (g *Generator) produce(ctx context.Context, tool Tool, analysis model.Analysis) outcome {
	ctx, cancel := context.WithTimeout(ctx, g.toolTimeout)
	defer cancel()

	type produced struct {
		text       string
		confidence float64
		err        error
	}
	// buffered so a tool that ignores ctx can still finish and exit
	done := make(chan produced, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- produced{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		text, conf, err := tool.Produce(ctx, analysis)
		done <- produced{text: text, confidence: conf, err: err}
	}()

	var p produced
	select {
	case <-ctx.Done():
		return outcome{err: fmt.Errorf("%w: %w", ErrGenerationFailed, ctx.Err())}
	case p = <-done:
	}

	switch {
	case p.err != nil:
		return outcome{err: fmt.Errorf("%w: %w", ErrGenerationFailed, p.err)}
	case strings.TrimSpace(p.text) == "":
		return outcome{err: fmt.Errorf("%w: empty draft", ErrGenerationFailed)}
	case !model.ValidConfidence(p.confidence):
		return outcome{err: fmt.Errorf("%w: confidence %v outside [0,1]", ErrGenerationFailed, p.confidence)}
	}

	return outcome{candidate: model.ResponseCandidate{
		Text:       p.text,
		Tools:      []string{tool.Name()},
		Confidence: p.confidence,
	}}
}
