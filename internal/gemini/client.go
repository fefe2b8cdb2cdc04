// Package gemini talks to the external structured-output model that audits
// rule-engine findings. Its responses are treated as untrusted input.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxResponseSize bounds the model response body.
const maxResponseSize = 10 * 1024 * 1024

// Typed failures the auditor degrades on. Both are non-fatal to an analysis.
var (
	ErrTimeout           = errors.New("gemini: request timed out")
	ErrMalformedResponse = errors.New("gemini: malformed response")
)

// Config contains the external model connection settings.
type Config struct {
	URL            string        `yaml:"url" mapstructure:"url"`
	APIKey         string        `yaml:"api_key" mapstructure:"api_key"`
	Model          string        `yaml:"model" mapstructure:"model"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBase    time.Duration `yaml:"backoff_base" mapstructure:"backoff_base"`
	RequestsPerSec float64       `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// analyzeRequest is the wire request to the model gateway.
type analyzeRequest struct {
	Model    string       `json:"model"`
	Document string       `json:"document"`
	Config   PromptConfig `json:"config"`
}

// analyzeResponse is the wire response: the model's raw text, which should
// contain the ViolationOutput JSON.
type analyzeResponse struct {
	Content string `json:"content"`
}

// Client calls the external model with timeout, retry, and rate limiting.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a model client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 2
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		logger:     logger,
	}
}

// Analyze sends the document and prompt config to the model and decodes the
// structured violation output. Transient upstream failures (5xx, 429,
// network errors) are retried with exponential backoff; a malformed body is
// ErrMalformedResponse and is not retried.
func (c *Client) Analyze(ctx context.Context, document string, prompt PromptConfig) (*ViolationOutput, error) {
	payload, err := json.Marshal(analyzeRequest{
		Model:    c.cfg.Model,
		Document: document,
		Config:   prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analyze request: %w", err)
	}

	var lastErr error
	backoff := c.cfg.BackoffBase
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, classifyErr(err)
		}

		output, retryable, err := c.doRequest(ctx, payload)
		if err == nil {
			return output, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}

		c.logger.Warn("Model request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, classifyErr(ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, fmt.Errorf("model request failed after %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

// doRequest performs one HTTP attempt. The bool return marks retryable errors.
func (c *Client) doRequest(ctx context.Context, payload []byte) (*ViolationOutput, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, classifyErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, true, classifyErr(err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("upstream returned HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("upstream returned HTTP %d", resp.StatusCode)
	}

	var envelope analyzeResponse
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Content == "" {
		// Some gateways return the structured output directly.
		envelope.Content = string(body)
	}

	raw := ExtractJSON(envelope.Content)
	if raw == "" {
		return nil, false, fmt.Errorf("%w: no JSON object in response", ErrMalformedResponse)
	}

	var output ViolationOutput
	if err := json.Unmarshal([]byte(raw), &output); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := output.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return &output, false, nil
}

// classifyErr folds deadline errors into ErrTimeout so callers can branch
// on the failure taxonomy.
func classifyErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
