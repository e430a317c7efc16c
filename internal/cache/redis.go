package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect opens a Redis client from a URL. An empty URL means Redis is not
// configured and returns (nil, nil).
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	redisURL = NormalizeURL(redisURL)
	if redisURL == "" {
		return nil, nil
	}
	// Accept both "redis://..." and host:port formats.
	if !strings.Contains(redisURL, "://") {
		redisURL = "redis://" + redisURL
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// NormalizeURL extracts the URL from strings pasted out of provider consoles,
// e.g. `redis-cli -u redis://default:<pass>@host:port`.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}
	if i := strings.Index(s, "rediss://"); i >= 0 {
		s = s[i:]
	} else if i := strings.Index(s, "redis://"); i >= 0 {
		s = s[i:]
	}
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	if i := strings.IndexAny(s, " \t\r\n"); i >= 0 {
		s = strings.Trim(s[:i], `"'`)
	}
	return s
}

// JSON stores values as JSON strings under a key prefix. A nil *JSON or a nil
// client turns every call into a miss.
type JSON struct {
	rdb    *redis.Client
	prefix string
}

func NewJSON(rdb *redis.Client, prefix string) *JSON {
	if rdb == nil {
		return nil
	}
	return &JSON{rdb: rdb, prefix: prefix}
}

func (c *JSON) key(k string) string { return c.prefix + k }

// Get decodes the cached value into out. It reports false on a miss.
func (c *JSON) Get(ctx context.Context, key string, out any) (bool, error) {
	if c == nil {
		return false, nil
	}
	data, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (c *JSON) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return c.rdb.Set(ctx, c.key(key), data, ttl).Err()
}
