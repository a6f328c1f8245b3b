package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// minWait keeps Wait from spinning when the window is about to open
const minWait = 50 * time.Millisecond

// Quota is a provider's allowance per sliding window, shared by every worker and process
type Quota struct {
	Provider string
	Limit    int
	Window   time.Duration
}

// PerMinute is the usual shape of a free-tier provider quota
func PerMinute(provider string, limit int) Quota {
	return Quota{Provider: provider, Limit: limit, Window: time.Minute}
}

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// KEYS[1] = window set, ARGV = now_ms, window_ms, limit, member
// 만료된 요청을 지우고, 남은 자리가 있으면 기록한다. 없으면 가장 오래된 요청이 빠질 때까지의 ms를 돌려준다.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, window)
	return {1, limit - count - 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local wait = window
if oldest[2] then
	wait = tonumber(oldest[2]) + window - now
end
return {0, 0, wait}
`)

// RateLimiter enforces Quotas across processes with a Redis sorted set per provider
// ⭐ SSOT: 프로세스 간 레이트 리밋은 여기서만
type RateLimiter struct {
	client *Client
	now    func() time.Time
}

// NewRateLimiter creates a limiter on client; a disabled client allows everything
func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow records one request against q if there is room
func (r *RateLimiter) Allow(ctx context.Context, q Quota) (Decision, error) {
	if r == nil || !r.client.Enabled() {
		return Decision{Allowed: true, Remaining: q.Limit}, nil
	}

	res, err := slidingWindow.Run(ctx, r.client.rdb,
		[]string{r.client.Key("ratelimit", q.Provider)},
		r.now().UnixMilli(), q.Window.Milliseconds(), q.Limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", q.Provider, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply %v", q.Provider, res)
	}

	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// Wait blocks until q admits a request or ctx is done
func (r *RateLimiter) Wait(ctx context.Context, q Quota) error {
	for {
		d, err := r.Allow(ctx, q)
		if err != nil {
			return err
		}
		if d.Allowed {
			return nil
		}

		wait := d.RetryAfter
		if wait < minWait {
			wait = minWait
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
