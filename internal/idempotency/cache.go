// Package idempotency implements the HTTP worker's duplicate-request
// short-circuit (§7, §8 scenario b): a Redis-backed cache keyed by the
// caller-supplied idempotency key, storing the first response so a retry
// of the same key replays it instead of reprocessing.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get when key has never been recorded.
var ErrNotFound = errors.New("idempotency: key not found")

// Record is what gets stored for a processed idempotency key: enough to
// replay the original HTTP response verbatim.
type Record struct {
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body"`
}

// Cache is a Redis-backed idempotent-request cache.
type Cache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// New connects to addr and returns a Cache with entries expiring after
// ttl (use 0 for no expiry).
func New(addr string, ttl time.Duration) (*Cache, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("idempotency: redis ping %s: %w", addr, err)
	}

	return &Cache{rdb: rdb, ttl: ttl}, nil
}

// Close releases the underlying Redis client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Get returns the previously stored Record for key, or ErrNotFound.
func (c *Cache) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := c.rdb.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: get %s: %w", key, err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("idempotency: decode %s: %w", key, err)
	}
	return &rec, nil
}

// Put records rec against key. A concurrent Put for the same key is a
// last-writer-wins race; callers issuing the same idempotency key from
// two in-flight requests simultaneously accept whichever write lands
// last, same as the reference worker they key off.
func (c *Cache) Put(ctx context.Context, key string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("idempotency: encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, redisKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: set %s: %w", key, err)
	}
	return nil
}

func redisKey(key string) string {
	return "fleet:idempotency:" + key
}
