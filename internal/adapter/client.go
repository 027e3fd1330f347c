package adapter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/sawpanic/solroute/internal/errs"
)

// ClientConfig holds shared HTTP plumbing for one adapter.
type ClientConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	UserAgent      string        `yaml:"user_agent"`
}

// httpClient wraps the connection pool and rate limiter every adapter
// shares. One upstream attempt per call; no internal retry.
type httpClient struct {
	provider string
	client   *http.Client
	limiter  *rate.Limiter
	config   ClientConfig
}

func newHTTPClient(provider string, config ClientConfig) *httpClient {
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 3 * time.Second
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 10
	}
	if config.UserAgent == "" {
		config.UserAgent = "solroute/1.0"
	}
	return &httpClient{
		provider: provider,
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimitRPS), int(config.RateLimitRPS)+1),
		client: &http.Client{
			Timeout: config.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// do performs one attempt against the upstream and maps transport and
// status failures into the error taxonomy. headers may be nil.
func (c *httpClient) do(ctx context.Context, method, url string, body []byte, headers http.Header) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap(errs.ExternalServiceError, "rate limit wait failed", err).WithDetail("provider", c.provider)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errs.Wrap(errs.ExternalServiceError, "failed to create request", err).WithDetail("provider", c.provider)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, errs.Newf(errs.TransactionTimeout, "%s request timed out", c.provider).
				WithDetail("provider", c.provider).
				WithDetail("timeoutMs", c.config.RequestTimeout.Milliseconds())
		}
		return nil, errs.Wrap(errs.DexUnavailable, c.provider+" is unreachable", err).WithDetail("provider", c.provider)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.DexInvalidResponse, "failed to read response body", err).WithDetail("provider", c.provider)
	}

	if err := c.mapStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, errs.Newf(errs.DexInvalidResponse, "%s returned an empty payload", c.provider).WithDetail("provider", c.provider)
	}
	return payload, nil
}

// mapStatus translates HTTP status classes into the taxonomy: 429 is
// retryable rate limiting, other 4xx are non-retryable bad responses, 5xx
// means the upstream is down.
func (c *httpClient) mapStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return errs.Newf(errs.DexRateLimited, "%s rate limited the request", c.provider).
			WithDetail("provider", c.provider).
			WithDetail("status", status)
	case status >= 400 && status < 500:
		return errs.Newf(errs.DexInvalidResponse, "%s rejected the request", c.provider).
			WithDetail("provider", c.provider).
			WithDetail("status", status)
	default:
		return errs.Newf(errs.DexUnavailable, "%s is unavailable", c.provider).
			WithDetail("provider", c.provider).
			WithDetail("status", status)
	}
}
