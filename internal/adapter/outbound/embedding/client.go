// Package embedding provides the HTTP client adapter for external embedding
// providers. The client classifies provider failures into typed errors so
// the worker can route rate limits to cool-down handling instead of the
// retry budget.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"receiptqueue/internal/application/common/slogger"
	"receiptqueue/internal/port/outbound"

	"golang.org/x/time/rate"
)

const (
	DefaultTimeout           = 30 * time.Second
	DefaultRequestsPerSecond = 10
	defaultUserAgent         = "receiptqueue/1.0"
)

// ClientConfig holds the configuration for an embedding provider client.
type ClientConfig struct {
	Provider          string        `json:"provider"`
	APIKey            string        `json:"api_key"`
	BaseURL           string        `json:"base_url"`
	Model             string        `json:"model"`
	Timeout           time.Duration `json:"timeout"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	UserAgent         string        `json:"user_agent"`
}

// Validate validates the client configuration.
func (c *ClientConfig) Validate() error {
	if strings.TrimSpace(c.Provider) == "" {
		return errors.New("provider name cannot be empty")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("API key cannot be empty")
	}
	if err := c.validateBaseURL(); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return errors.New("timeout must be positive")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("requests per second cannot be negative")
	}
	return nil
}

func (c *ClientConfig) validateBaseURL() error {
	if c.BaseURL == "" {
		return errors.New("base URL cannot be empty")
	}
	parsed, err := url.Parse(c.BaseURL)
	if err != nil || !strings.HasPrefix(parsed.Scheme, "http") {
		return errors.New("invalid base URL")
	}
	return nil
}

// Client is an HTTP embedding provider. Outbound calls are paced with a
// token-bucket limiter so a burst of workers cannot blow the provider's
// request quota on its own.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	pacer      *rate.Limiter
}

// NewClient creates a provider client from the given configuration.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedding client config: %w", err)
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		pacer: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), int(config.RequestsPerSecond)+1),
	}, nil
}

var _ outbound.EmbeddingProvider = (*Client)(nil)

// Name identifies the provider for rate-limit bookkeeping.
func (c *Client) Name() string {
	return c.config.Provider
}

type embedRequestBody struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embedResponseBody struct {
	Embedding  []float64 `json:"embedding"`
	Model      string    `json:"model"`
	TokenCount int       `json:"token_count"`
}

type errorResponseBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateEmbedding turns source content into a vector via the provider's
// HTTP API. Failures come back as typed errors: RateLimitError for 429,
// TimeoutError for deadline overruns, PermanentError for other 4xx.
func (c *Client) GenerateEmbedding(
	ctx context.Context,
	request outbound.EmbeddingRequest,
) (*outbound.EmbeddingResult, error) {
	if request.Content == "" {
		return nil, &outbound.PermanentError{
			Provider:   c.config.Provider,
			StatusCode: http.StatusBadRequest,
			Message:    "content cannot be empty",
		}
	}

	if err := c.pacer.Wait(ctx); err != nil {
		return nil, fmt.Errorf("pacing wait: %w", err)
	}

	model := request.Model
	if model == "" {
		model = c.config.Model
	}

	payload, err := json.Marshal(embedRequestBody{Input: request.Content, Model: model})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	started := time.Now()
	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.config.BaseURL+"/v1/embeddings",
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, &outbound.TimeoutError{Provider: c.config.Provider, Elapsed: time.Since(started)}
		}
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slogger.Error(ctx, "Failed to close response body", slogger.Field("error", closeErr.Error()))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleHTTPError(ctx, resp)
	}

	var body embedResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(body.Embedding) == 0 {
		return nil, fmt.Errorf("provider %s returned empty embedding", c.config.Provider)
	}

	resultModel := body.Model
	if resultModel == "" {
		resultModel = model
	}

	return &outbound.EmbeddingResult{
		Vector:     body.Embedding,
		Dimensions: len(body.Embedding),
		Model:      resultModel,
		TokenCount: body.TokenCount,
		Latency:    time.Since(started),
	}, nil
}

func (c *Client) handleHTTPError(ctx context.Context, resp *http.Response) error {
	raw, readErr := io.ReadAll(resp.Body)

	var apiMessage string
	if readErr == nil && len(raw) > 0 {
		var errResp errorResponseBody
		if json.Unmarshal(raw, &errResp) == nil {
			apiMessage = errResp.Error.Message
		}
	}

	slogger.Error(ctx, "HTTP error from embedding provider", slogger.Fields3(
		"provider", c.config.Provider,
		"status_code", resp.StatusCode,
		"api_message", apiMessage,
	))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &outbound.RateLimitError{
			Provider:   c.config.Provider,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    apiMessage,
		}
	case resp.StatusCode >= http.StatusInternalServerError:
		return &outbound.ServerError{
			Provider:   c.config.Provider,
			StatusCode: resp.StatusCode,
			Message:    apiMessage,
		}
	case resp.StatusCode >= http.StatusBadRequest:
		return &outbound.PermanentError{
			Provider:   c.config.Provider,
			StatusCode: resp.StatusCode,
			Message:    apiMessage,
		}
	default:
		return fmt.Errorf("unexpected status %d from provider %s", resp.StatusCode, c.config.Provider)
	}
}

// parseRetryAfter reads an HTTP Retry-After header given in seconds or as
// an HTTP date. Unparseable values yield zero, which callers treat as
// "use the default cool-down".
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func isTimeout(err error) bool {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Timeout()
	}
	return false
}
