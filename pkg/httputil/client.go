package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/charlie/backend/pkg/config"
	"github.com/wonny/charlie/backend/pkg/logger"
	"github.com/wonny/charlie/backend/pkg/redis"
)

// Client is an HTTP client wrapper with retry policy, rate limiting, response cache and logging
// ⭐ SSOT: 모든 provider HTTP 요청은 이 클라이언트를 통해서만 수행
type Client struct {
	httpClient   *http.Client
	logger       *logger.Logger
	policy       RetryPolicy
	limiter      *rate.Limiter
	rateLimiter  *redis.RateLimiter
	quota        redis.Quota
	cache        *redis.Cache
	sleep        func(ctx context.Context, d time.Duration) error
}

// StatusError is returned for non-2xx responses after retries are exhausted
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Request describes one provider GET
type Request struct {
	Provider string
	URL      string
	Query    url.Values
	CacheTTL time.Duration // 0 = no cache
}

// New creates a new HTTP client from config
// ⭐ SSOT: http.Client 인스턴스는 여기서만 생성
func New(cfg *config.Config, log *logger.Logger) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.Component("httputil"),
		policy:     DefaultRetryPolicy(),
		sleep:      sleepCtx,
	}
}

// WithPolicy replaces the retry policy
func (c *Client) WithPolicy(p RetryPolicy) *Client {
	c.policy = p
	return c
}

// WithLimiter adds an in-process token bucket (one per provider)
func (c *Client) WithLimiter(every time.Duration, burst int) *Client {
	if every > 0 {
		c.limiter = rate.NewLimiter(rate.Every(every), burst)
	}
	return c
}

// WithRateLimiter sets the shared Redis rate limiter and this provider's quota
func (c *Client) WithRateLimiter(limiter *redis.RateLimiter, q redis.Quota) *Client {
	c.rateLimiter = limiter
	c.quota = q
	return c
}

// WithCache enables response caching
func (c *Client) WithCache(cache *redis.Cache) *Client {
	c.cache = cache
	return c
}

// Policy returns the active retry policy
func (c *Client) Policy() RetryPolicy {
	return c.policy
}

// GetJSON performs a GET and decodes the JSON body into out
func (c *Client) GetJSON(ctx context.Context, req Request, out interface{}) error {
	body, err := c.GetBytes(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.Provider, err)
	}
	return nil
}

// GetBytes performs a GET and returns the body of a 2xx response
func (c *Client) GetBytes(ctx context.Context, req Request) ([]byte, error) {
	target := req.URL
	if len(req.Query) > 0 {
		target = req.URL + "?" + req.Query.Encode()
	}

	var cacheKey string
	if req.CacheTTL > 0 && c.cache != nil {
		if u, err := url.Parse(req.URL); err == nil {
			cacheKey = redis.ResponseKey(req.Provider, u.Path, req.Query)
		}
		if cacheKey != "" {
			if e, err := c.cache.Lookup(ctx, cacheKey); err == nil && e != nil {
				c.logger.WithFields(map[string]interface{}{
					"provider": req.Provider,
					"age":      e.Age(time.Now()).Round(time.Second).String(),
				}).Debug("HTTP cache hit")
				return e.Body, nil
			}
		}
	}

	body, err := c.do(ctx, req.Provider, target)
	if err != nil {
		return nil, err
	}

	if cacheKey != "" {
		if err := c.cache.Store(ctx, cacheKey, req.Provider, body, req.CacheTTL); err != nil {
			c.logger.WithError(err).Warn("HTTP cache write failed")
		}
	}
	return body, nil
}

// do executes the request under the retry policy
func (c *Client) do(ctx context.Context, provider, target string) ([]byte, error) {
	startTime := time.Now()
	attempts := c.policy.attempts()
	log := c.logger.WithFields(map[string]interface{}{
		"provider": provider,
		"url":      redactURL(target),
	})

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		status, body, err := c.once(ctx, target)
		if err == nil && status >= 200 && status < 300 {
			log.WithFields(map[string]interface{}{
				"status_code": status,
				"attempt":     attempt,
				"duration":    time.Since(startTime),
			}).Debug("HTTP request completed")
			return body, nil
		}

		if err == nil {
			lastErr = &StatusError{StatusCode: status, URL: redactURL(target), Body: truncate(string(body), 200)}
		} else {
			lastErr = err
		}

		if attempt == attempts || !c.policy.shouldRetry(status, err) {
			break
		}

		delay := c.policy.Backoff(attempt)
		log.WithFields(map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"status":  status,
		}).Warn("Retrying HTTP request")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) once(ctx context.Context, target string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create GET request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}
	}
	if c.rateLimiter != nil && c.quota.Limit > 0 {
		if err := c.rateLimiter.Wait(ctx, c.quota); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// redactURL strips credentials from query strings before logging
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for _, k := range []string{"apikey", "apiKey", "api_token", "token"} {
		if q.Has(k) {
			q.Set(k, "***")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
