// Package agentclient talks to the model service: classification, free
// text drafting and query inference. Calls go through a circuit breaker so
// a failing model service fails fast instead of stalling every worker.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mailpilot/internal/model"
	"mailpilot/internal/query"
	"mailpilot/pkg/circuitbreaker"
	"mailpilot/pkg/metrics"
	"mailpilot/pkg/trace"
)

type Config struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// Breaker overrides the circuit breaker thresholds.
	Breaker circuitbreaker.Config `yaml:"breaker"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	breaker := cfg.Breaker
	if breaker.FailureThreshold == 0 {
		breaker = circuitbreaker.Config{
			FailureThreshold:    3,
			SuccessThreshold:    2,
			Timeout:             30 * time.Second,
			HalfOpenMaxRequests: 2,
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cb:         circuitbreaker.NewCircuitBreaker(breaker),
	}
}

func (c *Client) BreakerState() circuitbreaker.State {
	return c.cb.GetState()
}

// Ready is the readiness check for the model service. It fails while the
// breaker is open.
func (c *Client) Ready(context.Context) error {
	if c.BreakerState() == circuitbreaker.StateOpen {
		return fmt.Errorf("agent service: %w", circuitbreaker.ErrCircuitBreakerOpen)
	}
	return nil
}

type classifyRequest struct {
	EmailID string `json:"email_id"`
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type classifyResponse struct {
	ID              string              `json:"id"`
	Category        string              `json:"category"`
	Entities        map[string][]string `json:"entities"`
	Sentiment       string              `json:"sentiment"`
	Intent          string              `json:"intent"`
	Confidence      *float64            `json:"confidence"`
	FieldConfidence map[string]float64  `json:"field_confidence"`
}

// Classify returns the model's Analysis of email. Labels the model invents
// are reported as model.ErrInvalidAnalysis rather than guessed at.
func (c *Client) Classify(ctx context.Context, email model.Email) (model.Analysis, error) {
	var resp classifyResponse
	err := c.call(ctx, "/classify", classifyRequest{
		EmailID: email.ID,
		Sender:  email.Sender,
		Subject: email.Subject,
		Body:    email.Body,
	}, &resp)
	if err != nil {
		return model.Analysis{}, err
	}

	category, err := model.ParseCategory(resp.Category)
	if err != nil {
		return model.Analysis{}, err
	}
	sentiment := model.SentimentNeutral
	if resp.Sentiment != "" {
		if sentiment, err = model.ParseSentiment(resp.Sentiment); err != nil {
			return model.Analysis{}, err
		}
	}
	if resp.Confidence == nil {
		return model.Analysis{}, fmt.Errorf("%w: missing confidence", model.ErrInvalidAnalysis)
	}

	analysis := model.Analysis{
		ID:              resp.ID,
		EmailID:         email.ID,
		Category:        category,
		Entities:        resp.Entities,
		Sentiment:       sentiment,
		Intent:          resp.Intent,
		Confidence:      *resp.Confidence,
		FieldConfidence: resp.FieldConfidence,
	}
	return analysis, analysis.Validate()
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// Generate returns free text for prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var resp generateResponse
	if err := c.call(ctx, "/generate", generateRequest{Prompt: prompt}, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

type inferRequest struct {
	Question    string   `json:"question"`
	Collections []string `json:"collections"`
}

// InferQuery asks the model which collection a question is about and for a
// rewording the query grammar understands.
func (c *Client) InferQuery(ctx context.Context, question string, collections []string) (query.Inference, error) {
	var resp query.Inference
	err := c.call(ctx, "/infer-query", inferRequest{Question: question, Collections: collections}, &resp)
	return resp, err
}

func (c *Client) call(ctx context.Context, endpoint string, in, out any) error {
	return c.cb.Execute(func() error {
		body, err := json.Marshal(in)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if traceID := trace.FromContext(ctx); traceID != "" {
			req.Header.Set(trace.HeaderName(), traceID)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		latency := time.Since(start)
		if err != nil {
			metrics.RecordAgentCallLatency(endpoint, "error", latency)
			return fmt.Errorf("failed to call agent service %s: %w", endpoint, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			metrics.RecordAgentCallLatency(endpoint, strconv.Itoa(resp.StatusCode), latency)
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("agent service returned %d for %s: %s", resp.StatusCode, endpoint, strings.TrimSpace(string(snippet)))
		}
		metrics.RecordAgentCallLatency(endpoint, "success", latency)

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", endpoint, err)
		}
		return nil
	})
}
