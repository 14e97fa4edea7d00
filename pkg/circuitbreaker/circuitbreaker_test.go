package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("connection refused")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func fail(context.Context) error { return errBackend }
func ok(context.Context) error   { return nil }

func newTestBreaker(clock *fakeClock, opts ...Option) *Breaker {
	opts = append([]Option{
		WithFailureThreshold(2),
		WithSuccessThreshold(1),
		WithCoolDown(10 * time.Second),
		WithClock(clock.now),
	}, opts...)
	return New("test", opts...)
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()

	assert.ErrorIs(t, b.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.True(t, IsRejected(err))
	assert.False(t, called)
	assert.Equal(t, 1, b.Counts().Rejected)
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	b := newTestBreaker(&fakeClock{t: time.Unix(0, 0)})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	require.NoError(t, b.Execute(ctx, ok))
	_ = b.Execute(ctx, fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_RecoversAfterCoolDown(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	var transitions []string
	b := newTestBreaker(clock, WithOnStateChange(func(_ string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	clock.advance(10 * time.Second)

	require.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	clock.advance(11 * time.Second)

	assert.ErrorIs(t, b.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(ctx, ok), ErrOpen)
}

func TestBreaker_TrialLimit(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	clock.advance(10 * time.Second)

	err := b.Execute(ctx, func(ctx context.Context) error {
		// A second call while the trial is in flight is turned away.
		assert.ErrorIs(t, b.Execute(ctx, ok), ErrTrialLimit)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	b := newTestBreaker(&fakeClock{t: time.Unix(0, 0)})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Counts().Failures)
}

func TestBreaker_IsFailure(t *testing.T) {
	ignored := errors.New("not found")
	b := newTestBreaker(&fakeClock{t: time.Unix(0, 0)}, WithIsFailure(func(err error) bool {
		return !errors.Is(err, ignored)
	}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return ignored })
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestGuard(t *testing.T) {
	b := newTestBreaker(&fakeClock{t: time.Unix(0, 0)})

	v, err := Guard(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestReset(t *testing.T) {
	b := newTestBreaker(&fakeClock{t: time.Unix(0, 0)})
	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, Counts{}, b.Counts())
}

func TestResultsCacheBreaker(t *testing.T) {
	b := ResultsCacheBreaker(nil)
	assert.Equal(t, "results-cache", b.Name())
	assert.Equal(t, 3, b.cfg.FailureThreshold)
}
