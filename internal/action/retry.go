package action

import (
	"context"
	"time"
)

// Policy bounds a retry loop: at most Attempts tries, a fixed Delay between them.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultPolicy gives late-loading widgets three chances half a second apart.
var DefaultPolicy = Policy{Attempts: 3, Delay: 500 * time.Millisecond}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the wall-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// Retry calls fn until it succeeds or the policy is exhausted. It returns the
// number of attempts made and the last error. The first success stops the loop.
func Retry(ctx context.Context, p Policy, sleep SleepFunc, fn func(ctx context.Context, attempt int) error) (int, error) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return attempt, nil
		}
		if attempt == p.Attempts {
			break
		}
		if sleepErr := sleep(ctx, p.Delay); sleepErr != nil {
			return attempt, err
		}
	}
	return p.Attempts, err
}
