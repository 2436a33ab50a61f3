package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/21chrisab/mailbrief/internal/instrumentation"
	"github.com/21chrisab/mailbrief/internal/logging"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.0-flash"

	// DefaultTimeout bounds one analysis call so a slow upstream cannot
	// stall a whole batch.
	DefaultTimeout = 60 * time.Second

	// maxPromptChars truncates oversized mail bodies before they are sent
	// upstream.
	maxPromptChars = 8000
)

const promptTemplate = `Analyze the following email and respond with a single JSON object with exactly these four fields:
  "summary": a one or two sentence summary of the email,
  "actionItems": a JSON array of short strings, one per action requested of the recipient (empty array if none),
  "sentiment": exactly one of "Positive", "Negative" or "Neutral",
  "docType": a short classification of the email such as "Invoice", "Newsletter", "Meeting", "Personal", "Notification".

Respond with the JSON object only, no surrounding text.

EMAIL:
---
%s
---`

// Config holds the analysis service settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Client sends message text to the generative analysis service and parses
// its constrained-schema JSON response. Analyze never fails outward: every
// failure mode substitutes the deterministic fallback record.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
}

// NewClient creates an analysis client.
func NewClient(cfg Config, logger *slog.Logger, metrics *instrumentation.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    cfg.BaseURL,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logging.WithComponent(logger, "analysis"),
		metrics:    metrics,
	}
}

// generateRequest is the generateContent request payload.
type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
}

// generateResponse is the subset of the generateContent response we read.
type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Analyze sends the message text upstream and returns the parsed result.
// On any failure (network error, non-2xx, malformed JSON, schema mismatch)
// it returns the fallback record instead; the failure is logged and counted
// but never propagated.
func (c *Client) Analyze(ctx context.Context, text string) Result {
	start := time.Now()

	result, err := c.analyze(ctx, text)
	if err != nil {
		c.metrics.RecordAnalysis(ctx, instrumentation.AnalysisFallback, time.Since(start))
		c.logger.Warn("analysis failed, substituting fallback record", logging.Err(err))
		return Fallback()
	}

	c.metrics.RecordAnalysis(ctx, instrumentation.StatusSuccess, time.Since(start))
	return result
}

func (c *Client) analyze(ctx context.Context, text string) (Result, error) {
	if c.apiKey == "" {
		return Result{}, fmt.Errorf("analysis service API key is not configured")
	}
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}

	payload := generateRequest{
		Contents: []content{
			{Parts: []part{{Text: fmt.Sprintf(promptTemplate, text)}}},
		},
		GenerationConfig: generationConfig{
			Temperature:      0,
			ResponseMimeType: "application/json",
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("analysis request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Body detail stays in the log; do not echo upstream errors to
		// callers.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("analysis service returned %d: %s", resp.StatusCode, detail)
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return Result{}, fmt.Errorf("failed to decode response envelope: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return Result{}, fmt.Errorf("analysis response carries no candidates")
	}

	return parseResult(gr.Candidates[0].Content.Parts[0].Text)
}

// parseResult validates the model's JSON against the fixed four-field
// shape. Anything off-schema is an error; the caller substitutes the
// fallback.
func parseResult(raw string) (Result, error) {
	var r Result
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Result{}, fmt.Errorf("malformed analysis JSON: %w", err)
	}

	if r.Summary == "" || r.DocType == "" {
		return Result{}, fmt.Errorf("analysis JSON is missing required fields")
	}
	if !validSentiment(r.Sentiment) {
		return Result{}, fmt.Errorf("analysis JSON carries invalid sentiment %q", r.Sentiment)
	}
	if r.ActionItems == nil {
		r.ActionItems = []string{}
	}

	return r, nil
}
