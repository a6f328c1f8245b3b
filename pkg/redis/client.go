package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wonny/charlie/backend/pkg/config"
)

const pingTimeout = 3 * time.Second

// Client is a namespaced Redis handle. A nil or disabled Client turns the
// response cache and the shared rate limiter into no-ops so a build can run
// without Redis.
// ⭐ SSOT: Redis 연결은 여기서만 관리
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New connects when REDIS_ENABLED is set and fails fast if the server does not answer
func New(cfg *config.Config) (*Client, error) {
	if !cfg.Redis.Enabled {
		return Disabled(), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	c := &Client{rdb: rdb, prefix: cfg.Redis.KeyPrefix}
	if c.prefix == "" {
		c.prefix = "charlie"
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if _, err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return c, nil
}

// Disabled returns a client that never touches the network
func Disabled() *Client {
	return &Client{prefix: "charlie"}
}

// Enabled reports whether calls reach a Redis server
func (c *Client) Enabled() bool {
	return c != nil && c.rdb != nil
}

// Key joins kind and parts under the namespace: <prefix>:<kind>:<part>...
func (c *Client) Key(kind string, parts ...string) string {
	prefix := "charlie"
	if c != nil && c.prefix != "" {
		prefix = c.prefix
	}
	return strings.Join(append([]string{prefix, kind}, parts...), ":")
}

// Ping measures one round trip
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	if !c.Enabled() {
		return 0, nil
	}
	start := time.Now()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("redis ping %s: %w", c.rdb.Options().Addr, err)
	}
	return time.Since(start), nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Close()
}
