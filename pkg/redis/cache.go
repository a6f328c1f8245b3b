package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// TTLHistorical is how long a response for a past as-of date is kept.
// Responses for the current day are never cached.
const TTLHistorical = 7 * 24 * time.Hour

// Entry is one cached provider response
type Entry struct {
	Provider  string    `msgpack:"p"`
	FetchedAt time.Time `msgpack:"t"`
	Body      []byte    `msgpack:"b"`
}

// Age is how long ago the response was fetched
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Cache stores provider responses so reruns of the same date range do not refetch
// ⭐ SSOT: 응답 캐시는 여기서만
type Cache struct {
	client *Client
	now    func() time.Time
}

// NewCache creates a response cache on client; a disabled client always misses
func NewCache(client *Client) *Cache {
	return &Cache{client: client, now: time.Now}
}

// Lookup returns the cached entry for key, or nil on a miss
func (c *Cache) Lookup(ctx context.Context, key string) (*Entry, error) {
	if c == nil || !c.client.Enabled() {
		return nil, nil
	}

	data, err := c.client.rdb.Get(ctx, c.client.Key("cache", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}

	var e Entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		// 포맷이 바뀐 옛 엔트리는 miss 처리
		return nil, nil
	}
	return &e, nil
}

// Store caches body for ttl. A non-positive ttl is a no-op.
func (c *Cache) Store(ctx context.Context, key, provider string, body []byte, ttl time.Duration) error {
	if c == nil || !c.client.Enabled() || ttl <= 0 {
		return nil
	}

	data, err := msgpack.Marshal(&Entry{Provider: provider, FetchedAt: c.now().UTC(), Body: body})
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return c.client.rdb.Set(ctx, c.client.Key("cache", key), data, ttl).Err()
}

// ResponseKey builds a cache key for one provider request.
// API keys are dropped from the query before hashing.
func ResponseKey(provider, endpoint string, query url.Values) string {
	q := url.Values{}
	for k, v := range query {
		switch k {
		case "apikey", "apiKey", "api_token", "token":
			continue
		}
		q[k] = v
	}
	sum := sha256.Sum256([]byte(endpoint + "?" + q.Encode()))
	return "resp:" + provider + ":" + hex.EncodeToString(sum[:12])
}
