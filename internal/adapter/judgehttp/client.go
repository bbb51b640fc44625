// Package judgehttp provides the HTTP client for external AI judge
// endpoints speaking the Anthropic messages API shape.
package judgehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sentinelguard/sentinel/internal/config"
	"github.com/sentinelguard/sentinel/internal/domain/verdict"
	"github.com/sentinelguard/sentinel/internal/port/judge"
	"github.com/sentinelguard/sentinel/internal/resilience"
)

const anthropicVersion = "2023-06-01"

// Client implements the judge port over an Anthropic-shaped messages
// endpoint. Evaluation runs at temperature 0 so repeated calls with the
// same prompt converge on the same verdict.
type Client struct {
	name       string
	url        string
	model      string
	apiKey     string
	maxTokens  int
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a judge client for one configured endpoint. The
// transport is instrumented so judge latency shows up in traces.
func NewClient(ep config.JudgeEndpoint, maxTokens int) *Client {
	return &Client{
		name:      ep.Name,
		url:       ep.URL,
		model:     ep.Model,
		apiKey:    ep.APIKey,
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Name identifies the judge in logs, reasons, and metrics.
func (c *Client) Name() string {
	return c.name
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Evaluate submits the prompt and parses the judge's verdict. Transport
// failures and open breakers map to judge.ErrUnavailable; responses that
// do not carry a well-formed verdict map to judge.ErrMalformed.
func (c *Client) Evaluate(ctx context.Context, prompt string) (verdict.JudgeVerdict, error) {
	body, err := json.Marshal(messagesRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: 0,
		Messages:    []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return verdict.JudgeVerdict{}, fmt.Errorf("marshal judge request: %w", err)
	}

	data, err := c.doRequest(ctx, body)
	if err != nil {
		return verdict.JudgeVerdict{}, fmt.Errorf("%w: %v", judge.ErrUnavailable, err)
	}

	var resp messagesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return verdict.JudgeVerdict{}, fmt.Errorf("%w: %v", judge.ErrMalformed, err)
	}
	if len(resp.Content) == 0 {
		return verdict.JudgeVerdict{}, fmt.Errorf("%w: empty content", judge.ErrMalformed)
	}

	return parseVerdict(resp.Content[0].Text)
}

// parseVerdict extracts the {verdict, confidence, reason} object from the
// judge's text. Models occasionally wrap the JSON in prose or code
// fences, so the first balanced object is taken.
func parseVerdict(text string) (verdict.JudgeVerdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return verdict.JudgeVerdict{}, fmt.Errorf("%w: no JSON object in %q", judge.ErrMalformed, text)
	}

	var v verdict.JudgeVerdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return verdict.JudgeVerdict{}, fmt.Errorf("%w: %v", judge.ErrMalformed, err)
	}

	v.Verdict = strings.ToUpper(strings.TrimSpace(v.Verdict))
	if v.Verdict != verdict.Approved && v.Verdict != verdict.Denied {
		return verdict.JudgeVerdict{}, fmt.Errorf("%w: unknown verdict %q", judge.ErrMalformed, v.Verdict)
	}
	if v.Confidence < 0 || v.Confidence > 100 {
		return verdict.JudgeVerdict{}, fmt.Errorf("%w: confidence %d out of range", judge.ErrMalformed, v.Confidence)
	}
	return v, nil
}

func (c *Client) doRequest(ctx context.Context, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("anthropic-version", anthropicVersion)
		if c.apiKey != "" {
			req.Header.Set("x-api-key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("judge API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
