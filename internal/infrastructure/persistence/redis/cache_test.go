package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/school-portal/assessment-engine/internal/domain/shared"
	"github.com/school-portal/assessment-engine/pkg/circuitbreaker"
)

func TestClassResultsKey(t *testing.T) {
	key, err := ClassResultsKey("school-1", "jss1", "2025-T1")
	require.NoError(t, err)
	assert.Equal(t, "results:school-1:2025-T1:jss1", key)

	for _, parts := range [][3]string{
		{"", "jss1", "2025-T1"},
		{"school-1", "", "2025-T1"},
		{"school-1", "jss1", ""},
	} {
		_, err := ClassResultsKey(parts[0], parts[1], parts[2])
		assert.ErrorIs(t, err, ErrCacheKeyEmpty)
	}
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "lock:promotion:execute:school-1:camp-1", LockKey("promotion:execute:school-1:camp-1"))
}

func TestNewCache_DefaultTTL(t *testing.T) {
	assert.Equal(t, TTLClassResults, NewCache(nil, 0).ttl)
	assert.Equal(t, time.Minute, NewCache(nil, time.Minute).ttl)
}

func TestLocker_Held(t *testing.T) {
	var gotKey string
	var gotTTL time.Duration
	l := &Locker{set: func(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
		gotKey, gotTTL = key, ttl
		assert.NotEmpty(t, token)
		return false, nil
	}}

	release, err := l.Acquire(context.Background(), "promotion:execute:school-1:camp-1", 0)
	assert.Nil(t, release)
	assert.ErrorIs(t, err, shared.ErrLocked)
	assert.Equal(t, "lock:promotion:execute:school-1:camp-1", gotKey)
	assert.Equal(t, TTLDistributedLock, gotTTL)
}

func TestLocker_BackendError(t *testing.T) {
	boom := errors.New("connection refused")
	l := &Locker{set: func(context.Context, string, string, time.Duration) (bool, error) {
		return false, boom
	}}

	_, err := l.Acquire(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, shared.ErrLocked))
}

func TestCache_OpenBreakerSkipsRedis(t *testing.T) {
	b := circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(1))
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("timeout") })
	require.Equal(t, circuitbreaker.StateOpen, b.State())

	// A nil client would panic if the breaker let the call through.
	c := NewCache(nil, time.Minute).WithBreaker(b)

	var dst map[string]any
	hit, err := c.LoadClassResults(context.Background(), "school-1", "jss1", "2025-T1", &dst)
	assert.False(t, hit)
	assert.True(t, circuitbreaker.IsRejected(err))

	err = c.StoreClassResults(context.Background(), "school-1", "jss1", "2025-T1", map[string]int{"a": 1})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}
