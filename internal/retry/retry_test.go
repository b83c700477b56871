package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("rate limited")
	errFatal     = errors.New("auth failed")
)

func isTransient(err error) bool {
	return errors.Is(err, errTransient)
}

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func failTimes(n int, err error) (func(context.Context) (string, error), *int) {
	calls := 0
	return func(context.Context) (string, error) {
		calls++
		if calls <= n {
			return "", err
		}
		return "ok", nil
	}, &calls
}

func TestDelaySchedule(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 60*time.Second, p.Delay(7))
	assert.Equal(t, 60*time.Second, p.Delay(40))
	assert.Equal(t, time.Second, Policy{}.Delay(0))
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := DefaultPolicy()
	p.Sleep = sleeper.Sleep

	var notified []Attempt
	fn, calls := failTimes(2, errTransient)

	value, retries, err := Do(context.Background(), p, fn, isTransient, func(a Attempt) {
		notified = append(notified, a)
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, 2, retries)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.waits)
	require.Len(t, notified, 2)
	assert.Equal(t, 1, notified[0].Retry)
	assert.ErrorIs(t, notified[1].Err, errTransient)
}

func TestDoWaitsOnRealClock(t *testing.T) {
	p := Policy{MaxAttempts: 4, BaseDelay: 20 * time.Millisecond, MaxDelay: time.Second}
	fn, _ := failTimes(2, errTransient)

	start := time.Now()
	_, retries, err := Do(context.Background(), p, fn, isTransient, nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 2, retries)
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := DefaultPolicy()
	p.Sleep = sleeper.Sleep
	fn, calls := failTimes(100, errFatal)

	_, retries, err := Do(context.Background(), p, fn, isTransient, nil)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, 0, retries)
	assert.Equal(t, 1, failure.Attempts)
	assert.False(t, failure.Recoverable)
	assert.False(t, failure.Exhausted)
	assert.Empty(t, sleeper.waits)
	assert.ErrorIs(t, err, errFatal)
}

func TestDoExhaustsAttempts(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := DefaultPolicy()
	p.Sleep = sleeper.Sleep
	fn, calls := failTimes(100, errTransient)

	_, _, err := Do(context.Background(), p, fn, isTransient, nil)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 4, *calls)
	assert.Equal(t, 3, failure.RetryCount)
	assert.True(t, failure.Recoverable)
	assert.True(t, failure.Exhausted)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.waits)
	assert.Contains(t, failure.Error(), "failed after 4 attempts")
}

func TestDoStopsWhenCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	fn, calls := failTimes(100, errTransient)

	_, _, err := Do(ctx, p, fn, isTransient, nil)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.True(t, failure.Cancelled)
	assert.Equal(t, 1, *calls)
}

func TestDoDoesNotRetryAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fn, calls := failTimes(100, errTransient)

	_, _, err := Do(ctx, Policy{BaseDelay: time.Hour}, fn, isTransient, nil)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.True(t, failure.Cancelled)
	assert.Equal(t, 1, *calls)
}
