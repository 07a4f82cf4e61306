// Package vertex provides a Google Vertex AI generateContent client.
package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	// DefaultModel is the default chat model
	DefaultModel = "gemini-2.5-flash"

	// DefaultMaxRetries is the default number of retries
	DefaultMaxRetries = 3

	// DefaultBaseDelay is the base delay for exponential backoff
	DefaultBaseDelay = 100 * time.Millisecond

	// DefaultMaxDelay is the maximum delay for exponential backoff
	DefaultMaxDelay = 10 * time.Second

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 60 * time.Second

	// DefaultMaxOutputTokens is the default max output tokens
	DefaultMaxOutputTokens = 2048

	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

// Config holds the configuration for the Vertex AI client
type Config struct {
	ProjectID       string
	Location        string
	Model           string
	Timeout         time.Duration
	Temperature     float64
	MaxOutputTokens int
}

// Client is a Vertex AI generateContent client
type Client struct {
	projectID       string
	location        string
	model           string
	endpoint        string
	httpClient      *http.Client
	tokenSrc        oauth2.TokenSource
	log             *slog.Logger
	temperature     float64
	maxOutputTokens int

	// Retry configuration
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithMaxRetries sets the maximum number of retries
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBaseDelay sets the base delay for exponential backoff
func WithBaseDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.baseDelay = d
	}
}

// WithLogger sets the logger
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithTokenSource replaces application default credentials
func WithTokenSource(ts oauth2.TokenSource) ClientOption {
	return func(c *Client) {
		c.tokenSrc = ts
	}
}

// WithEndpoint overrides the API base URL (scheme and host)
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		c.endpoint = strings.TrimRight(endpoint, "/")
	}
}

// NewClient creates a new Vertex AI client. Application default credentials are
// looked up unless WithTokenSource is given.
func NewClient(ctx context.Context, cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}
	if cfg.Location == "" {
		return nil, fmt.Errorf("location is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}

	c := &Client{
		projectID:       cfg.ProjectID,
		location:        cfg.Location,
		model:           cfg.Model,
		endpoint:        defaultEndpoint(cfg.Location),
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		log:             slog.Default(),
		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
		maxRetries:      DefaultMaxRetries,
		baseDelay:       DefaultBaseDelay,
		maxDelay:        DefaultMaxDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.tokenSrc == nil {
		creds, err := google.FindDefaultCredentials(ctx, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("failed to find default credentials: %w", err)
		}
		c.tokenSrc = creds.TokenSource
	}

	return c, nil
}

func defaultEndpoint(location string) string {
	if location == "global" {
		return "https://aiplatform.googleapis.com"
	}
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com", location)
}

// GenerateRequest is the request for content generation
type GenerateRequest struct {
	// Prompt is the user prompt (required)
	Prompt string

	// SystemPrompt is an optional system prompt
	SystemPrompt string

	// JSON asks the model for an application/json response
	JSON bool
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Usage contains token usage information
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// GenerateResult contains the generation result
type GenerateResult struct {
	Content string
	Usage   *Usage
}

// Generate calls generateContent with retries on 429 and 5xx responses
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	url := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		c.endpoint, c.projectID, c.location, c.model)

	apiReq := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     c.temperature,
			MaxOutputTokens: c.maxOutputTokens,
		},
	}
	if req.JSON {
		apiReq.GenerationConfig.ResponseMimeType = "application/json"
	}
	if req.SystemPrompt != "" {
		apiReq.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			c.log.Debug("retrying generate request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.doRequest(ctx, url, body)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var rerr *retryableError
		if !errors.As(err, &rerr) {
			return nil, err
		}
		lastErr = err
		c.log.Warn("generate request failed",
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
	}

	return nil, fmt.Errorf("all retries exhausted: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, url string, body []byte) (*GenerateResult, error) {
	token, err := c.tokenSrc.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, &retryableError{statusCode: resp.StatusCode, body: string(respBody)}
		}
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp generateResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var text strings.Builder
	if len(apiResp.Candidates) > 0 {
		cand := apiResp.Candidates[0]
		switch cand.FinishReason {
		case "SAFETY":
			return nil, fmt.Errorf("response blocked due to safety filters")
		case "RECITATION":
			return nil, fmt.Errorf("response blocked due to recitation/copyright detection")
		}
		for _, p := range cand.Content.Parts {
			text.WriteString(p.Text)
		}
	}

	result := &GenerateResult{Content: text.String()}
	if u := apiResp.UsageMetadata; u != nil {
		result.Usage = &Usage{
			PromptTokens:     u.PromptTokenCount,
			CompletionTokens: u.CandidatesTokenCount,
			TotalTokens:      u.TotalTokenCount,
		}
	}
	return result, nil
}

// calculateBackoff calculates the backoff delay for a given attempt
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}
	return time.Duration(delay)
}

// retryableError is an error that can be retried
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("retryable API error %d: %s", e.statusCode, e.body)
}

// IsConfigured implements llm.Provider
func (c *Client) IsConfigured() bool {
	return c.projectID != "" && c.location != "" && c.tokenSrc != nil
}

// Complete implements llm.Provider, requesting a JSON response
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := c.Generate(ctx, GenerateRequest{Prompt: prompt, JSON: true})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.model
}
