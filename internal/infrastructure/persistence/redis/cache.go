// Package redis keeps derived data and coordination state in Redis.
//
// Key components:
//   - Cache: ranked class results per tenant, term and class
//   - Locker: SETNX locks serializing promotion executions across processes
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/school-portal/assessment-engine/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// Addr is the Redis server address in "host:port" form.
	Addr string

	// Password is the Redis authentication password (empty if no auth).
	Password string

	// DB is the Redis database number (0-15).
	DB int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ResultsTTL bounds how long a ranked class sheet is served from cache.
	ResultsTTL time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		ResultsTTL:   TTLClassResults,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheConnection is returned when Redis connection fails.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheSerialization is returned when serialization/deserialization fails.
	ErrCacheSerialization = errors.New("cache: serialization failed")

	// ErrCacheKeyEmpty is returned when a key part is empty.
	ErrCacheKeyEmpty = errors.New("cache: key cannot be empty")
)

// ══════════════════════════════════════════════════════════════════════════════
// KEYS AND TTLs
// ══════════════════════════════════════════════════════════════════════════════

const (
	// PrefixResults is the prefix for ranked class results.
	PrefixResults = "results:"

	// PrefixLock is the prefix for distributed lock keys.
	PrefixLock = "lock:"

	// TTLClassResults is the default lifetime of a cached class sheet.
	TTLClassResults = 10 * time.Minute

	// TTLDistributedLock is the default lock TTL.
	TTLDistributedLock = 30 * time.Second
)

// ClassResultsKey is results:{tenant}:{term}:{class}.
func ClassResultsKey(tenantID, classID, term string) (string, error) {
	if tenantID == "" || classID == "" || term == "" {
		return "", ErrCacheKeyEmpty
	}
	return PrefixResults + strings.Join([]string{tenantID, term, classID}, ":"), nil
}

// LockKey generates a key for a distributed lock.
func LockKey(resource string) string {
	return PrefixLock + resource
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// NewClient connects and pings Redis.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return client, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CLASS RESULTS CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache stores ranked class results as JSON with a TTL.
type Cache struct {
	client  redis.Cmdable
	ttl     time.Duration
	breaker *circuitbreaker.Breaker
}

// NewCache creates a cache. A non-positive ttl falls back to TTLClassResults.
func NewCache(client redis.Cmdable, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = TTLClassResults
	}
	return &Cache{client: client, ttl: ttl}
}

// WithBreaker routes loads and stores through b. Invalidations always reach
// Redis so that a recovering cache never serves a sheet older than a score.
func (c *Cache) WithBreaker(b *circuitbreaker.Breaker) *Cache {
	c.breaker = b
	return c
}

func (c *Cache) guard(ctx context.Context, fn func(context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.Execute(ctx, fn)
}

// LoadClassResults decodes a cached sheet into dst. A miss is (false, nil).
func (c *Cache) LoadClassResults(ctx context.Context, tenantID, classID, term string, dst any) (bool, error) {
	key, err := ClassResultsKey(tenantID, classID, term)
	if err != nil {
		return false, err
	}

	var data []byte
	err = c.guard(ctx, func(ctx context.Context) error {
		b, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		data = b
		return err
	})
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return true, nil
}

// StoreClassResults caches a sheet until the TTL passes or a score changes.
func (c *Cache) StoreClassResults(ctx context.Context, tenantID, classID, term string, v any) error {
	key, err := ClassResultsKey(tenantID, classID, term)
	if err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return c.guard(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, key, data, c.ttl).Err()
	})
}

// InvalidateClassResults drops a cached sheet.
func (c *Cache) InvalidateClassResults(ctx context.Context, tenantID, classID, term string) error {
	key, err := ClassResultsKey(tenantID, classID, term)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, key).Err()
}
