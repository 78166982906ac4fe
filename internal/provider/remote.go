package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/models"
)

const (
	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second)
	DefaultRateLimit = 5
)

// Client is a generation-service API client. Calls are rate limited; the
// remote service is asynchronous, so Start submits and Poll observes.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new generation-service client
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) Name() string {
	return "remote"
}

// generationRequest is the submit payload
type generationRequest struct {
	Mode      string `json:"mode"`
	Prompt    string `json:"prompt,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
}

// generationResponse is the service's view of a generation
type generationResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"` // pending, processing, succeeded, failed
	Progress int    `json:"progress"`
	ModelURL string `json:"model_url,omitempty"`
	Preview  string `json:"preview_url,omitempty"`
	Format   string `json:"format,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (c *Client) Start(ctx context.Context, job *models.Job) (*interfaces.ProviderUpdate, error) {
	body := generationRequest{
		Mode:      job.Mode,
		Prompt:    job.Prompt,
		SourceURL: job.SourceURL,
	}

	var resp generationResponse
	if err := c.do(ctx, http.MethodPost, "/v1/generations", &body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, Fatal(fmt.Errorf("service accepted the generation but returned no id"))
	}

	return toUpdate(&resp), nil
}

func (c *Client) Poll(ctx context.Context, job *models.Job) (*interfaces.ProviderUpdate, error) {
	if job.ProviderJobID == "" {
		return nil, Fatal(fmt.Errorf("job has no provider job id"))
	}

	var resp generationResponse
	path := fmt.Sprintf("/v1/generations/%s", job.ProviderJobID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	return toUpdate(&resp), nil
}

// do performs one rate-limited request and classifies HTTP failures into the
// retryability taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors and timeouts are worth retrying
		return Transient(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transient(err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Transient(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	default:
		return Fatal(fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(data), 200)))
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return Fatal(fmt.Errorf("failed to decode response: %w", err))
		}
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("Provider request")
	}

	return nil
}

func toUpdate(resp *generationResponse) *interfaces.ProviderUpdate {
	update := &interfaces.ProviderUpdate{
		ProviderJobID: resp.ID,
		Progress:      resp.Progress,
		ErrorMessage:  resp.Error,
	}

	switch resp.Status {
	case "succeeded":
		update.Status = interfaces.ProviderStatusSucceeded
		update.Progress = 100
		update.Result = &models.GenerationResult{
			ModelURL:   resp.ModelURL,
			PreviewURL: resp.Preview,
			Format:     resp.Format,
		}
	case "failed":
		update.Status = interfaces.ProviderStatusFailed
	default:
		// pending and processing both mean "keep polling"
		update.Status = interfaces.ProviderStatusPending
	}

	return update
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
