package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

// DefaultUserAgent identifies the crawler to providers.
const DefaultUserAgent = "econ-series-crawler/1.0"

// ClientConfig tunes the shared HTTP client.
type ClientConfig struct {
	Timeout        time.Duration
	UserAgent      string
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Client wraps resty with the crawler's retry policy and user agent.
type Client struct {
	r         *resty.Client
	userAgent string
}

// Response is the transport-level view of a provider reply.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
}

// NewClient builds a client. Throttling and 5xx replies are retried with
// exponential backoff capped at five minutes.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	policy := crawler.NewExponentialRetryPolicy(cfg.MaxRetries, cfg.RetryBaseDelay)

	r := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json").
		SetRetryCount(policy.MaxAttempts()).
		SetRetryMaxWaitTime(crawler.MaxBackoffDelay).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp == nil {
				return policy.ShouldRetry(0, err, 0)
			}
			return policy.ShouldRetry(resp.StatusCode(), err, resp.Request.Attempt-1)
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			attempt := 0
			if resp != nil && resp.Request != nil {
				attempt = resp.Request.Attempt - 1
			}
			return policy.Backoff(attempt), nil
		})

	return &Client{r: r, userAgent: cfg.UserAgent}
}

// UserAgent returns the header value sent with every request.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// Get issues a GET with query parameters.
func (c *Client) Get(ctx context.Context, url string, query map[string]string) (Response, error) {
	resp, err := c.r.R().SetContext(ctx).SetQueryParams(query).Get(url)
	return finish(url, resp, err)
}

// PostJSON issues a POST with a JSON body.
func (c *Client) PostJSON(ctx context.Context, url string, body any) (Response, error) {
	resp, err := c.r.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(url)
	return finish(url, resp, err)
}

func finish(url string, resp *resty.Response, err error) (Response, error) {
	out := Response{URL: url}
	if resp != nil {
		out.StatusCode = resp.StatusCode()
		out.Body = resp.Body()
	}
	if err != nil {
		return out, fmt.Errorf("request %s: %w", url, err)
	}
	if resp.IsError() {
		return out, &crawler.HTTPStatusError{StatusCode: out.StatusCode, URL: url}
	}
	return out, nil
}
