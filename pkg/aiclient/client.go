// Package aiclient provides a client for the AI prediction service: metric
// forecasts, external health scores, per-metric signals and analyst comments.
package aiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/finrisk/internal/resilience"
)

// ErrNoData is returned when the service has nothing for the stock code.
var ErrNoData = eris.New("aiclient: no data")

// Client defines the AI service operations.
type Client interface {
	// GetPrediction returns next-quarter metric forecasts keyed by metric code.
	GetPrediction(ctx context.Context, stockCode string) (*Prediction, error)
	// GetHealthScore returns the externally computed health score.
	GetHealthScore(ctx context.Context, stockCode string) (*HealthScore, error)
	// GetSignals returns a signal label per metric code.
	GetSignals(ctx context.Context, stockCode string) (*Signals, error)
	// GetAiComment returns a free-text analyst comment.
	GetAiComment(ctx context.Context, stockCode string) (*Comment, error)
}

// Prediction is the forecast payload. BasePeriod is the last actual quarter
// the model saw, in any quarter text form.
type Prediction struct {
	BasePeriod  string             `json:"basePeriod"`
	Predictions map[string]float64 `json:"predictions"`
}

// HealthScore is an external 0-100 health score.
type HealthScore struct {
	BasePeriod string   `json:"basePeriod"`
	Score      *float64 `json:"score"`
}

// Signals maps metric codes to signal labels.
type Signals struct {
	BasePeriod string            `json:"basePeriod"`
	Signals    map[string]string `json:"signals"`
}

// Comment is a generated analyst comment.
type Comment struct {
	BasePeriod string `json:"basePeriod"`
	Comment    string `json:"comment"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets the service base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithPolicy sets the retry and circuit breaker policy.
func WithPolicy(p *resilience.Policy) Option {
	return func(c *httpClient) {
		c.policy = p
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	policy  *resilience.Policy
}

// NewClient creates a new AI service client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "http://localhost:8000",
		http: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy == nil {
		c.policy = resilience.NewPolicy("ai", resilience.DefaultRetryConfig(), resilience.BreakerConfig{})
	}
	return c
}

func (c *httpClient) GetPrediction(ctx context.Context, stockCode string) (*Prediction, error) {
	var out Prediction
	if err := c.get(ctx, "predictions", stockCode, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) GetHealthScore(ctx context.Context, stockCode string) (*HealthScore, error) {
	var out HealthScore
	if err := c.get(ctx, "health-score", stockCode, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) GetSignals(ctx context.Context, stockCode string) (*Signals, error) {
	var out Signals
	if err := c.get(ctx, "signals", stockCode, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) GetAiComment(ctx context.Context, stockCode string) (*Comment, error) {
	var out Comment
	if err := c.get(ctx, "comments", stockCode, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) get(ctx context.Context, resource, stockCode string, out any) error {
	reqURL := fmt.Sprintf("%s/v1/%s/%s", c.baseURL, resource, url.PathEscape(stockCode))

	body, err := resilience.Call(ctx, c.policy, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, reqURL)
	})
	if err != nil {
		return eris.Wrapf(err, "aiclient: get %s %s", resource, stockCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "aiclient: unmarshal %s", resource)
	}
	return nil
}

// do performs one request. Retryable statuses come back as
// resilience.TransientError.
func (c *httpClient) do(ctx context.Context, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "aiclient: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "aiclient: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "aiclient: read response body")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return nil, ErrNoData
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("aiclient: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
	default:
		return nil, eris.Errorf("aiclient: unexpected status %d: %s", resp.StatusCode, string(body))
	}
}
