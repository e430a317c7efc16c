package leaderboard

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/Oat2Milk/immortal-legacy/internal/cache"
)

// Cached serves rankings from the JSON cache and falls back to Source on a
// miss. Cache errors are logged and never fail the request.
type Cached struct {
	Source Source
	Cache  *cache.JSON
	TTL    time.Duration
}

func NewCached(src Source, c *cache.JSON, ttl time.Duration) Source {
	if c == nil {
		return src
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cached{Source: src, Cache: c, TTL: ttl}
}

func (c *Cached) Top(ctx context.Context, limit int) ([]Entry, error) {
	limit = ClampLimit(limit)
	key := "top:" + strconv.Itoa(limit)

	var out []Entry
	hit, err := c.Cache.Get(ctx, key, &out)
	if err != nil {
		log.Printf("leaderboard: cache read: %v", err)
	}
	if hit {
		return out, nil
	}

	out, err = c.Source.Top(ctx, limit)
	if err != nil {
		return nil, err
	}
	if err := c.Cache.Set(ctx, key, out, c.TTL); err != nil {
		log.Printf("leaderboard: cache write: %v", err)
	}
	return out, nil
}
