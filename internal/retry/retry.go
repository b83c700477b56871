// Package retry runs an operation under a bounded exponential backoff policy.
package retry

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultMaxAttempts = 4
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 60 * time.Second
)

// Policy configures attempts and backoff. The zero value is usable and
// behaves like DefaultPolicy.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy allows 4 attempts with waits of 1s, 2s and 4s between them.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

// MaxRetries is the number of retries after the first attempt.
func (p Policy) MaxRetries() int {
	return p.attempts() - 1
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return p.MaxAttempts
}

// Delay returns the wait before retry n (1-based): BaseDelay * 2^(n-1),
// capped at MaxDelay.
func (p Policy) Delay(n int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	if n < 1 {
		n = 1
	}

	delay := base
	for i := 1; i < n; i++ {
		if delay > maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Classifier reports whether err is worth retrying.
type Classifier func(err error) bool

// Attempt describes a scheduled retry.
type Attempt struct {
	// Retry is the 1-based retry number; the upcoming call is attempt Retry+1.
	Retry int
	Delay time.Duration
	Err   error
}

// Notify observes scheduled retries. It may be nil.
type Notify func(Attempt)

// Failure is the terminal error returned by Do.
type Failure struct {
	Err         error
	Attempts    int
	RetryCount  int
	Recoverable bool
	// Exhausted is set when every attempt failed with a retryable error.
	Exhausted bool
	// Cancelled is set when ctx ended while waiting to retry.
	Cancelled bool
}

func (f *Failure) Error() string {
	switch {
	case f.Cancelled:
		return fmt.Sprintf("cancelled after %d attempts: %v", f.Attempts, f.Err)
	case f.Exhausted:
		return fmt.Sprintf("failed after %d attempts: %v", f.Attempts, f.Err)
	default:
		return f.Err.Error()
	}
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Do calls fn until it succeeds, returns an error classify rejects, or the
// policy's attempts run out. It returns the value, the number of retries
// performed and, on failure, a *Failure.
//
// ctx is only consulted between attempts; fn receives it unchanged.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error), classify Classifier, notify Notify) (T, int, error) {
	var zero T
	maxAttempts := p.attempts()

	for attempt := 1; ; attempt++ {
		value, err := fn(ctx)
		if err == nil {
			return value, attempt - 1, nil
		}

		if classify == nil || !classify(err) {
			return zero, attempt - 1, &Failure{
				Err:        err,
				Attempts:   attempt,
				RetryCount: attempt - 1,
			}
		}

		if attempt >= maxAttempts {
			return zero, attempt - 1, &Failure{
				Err:         err,
				Attempts:    attempt,
				RetryCount:  attempt - 1,
				Recoverable: true,
				Exhausted:   true,
			}
		}

		delay := p.Delay(attempt)
		if notify != nil {
			notify(Attempt{Retry: attempt, Delay: delay, Err: err})
		}
		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return zero, attempt - 1, &Failure{
				Err:         err,
				Attempts:    attempt,
				RetryCount:  attempt - 1,
				Recoverable: true,
				Cancelled:   true,
			}
		}
	}
}
