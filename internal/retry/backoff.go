package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes exponential retry delays:
// min(Unit * Base^attempt, Max) + uniform(0, Jitter)
type Backoff struct {
	Base   float64
	Unit   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

// DefaultBackoff returns base 2, one-second unit, 300s cap and up to one second of jitter
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   2,
		Unit:   time.Second,
		Max:    300 * time.Second,
		Jitter: time.Second,
	}
}

// Delay returns the wait before retry number attempt (zero-based)
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := b.Base
	if base < 1 {
		base = 2
	}
	unit := b.Unit
	if unit <= 0 {
		unit = time.Second
	}

	delay := time.Duration(math.Pow(base, float64(attempt)) * float64(unit))
	// math.Pow overflows into negative durations long before the cap matters
	if b.Max > 0 && (delay > b.Max || delay < 0) {
		delay = b.Max
	}

	if b.Jitter > 0 {
		delay += time.Duration(rand.Float64() * float64(b.Jitter))
	}
	return delay
}

// Sleep blocks for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// SleepFunc is the signature of Sleep, injectable for tests
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepUntil sleeps for d using sleep, waking early when done is closed.
// An early wake caused by done returns nil.
func SleepUntil(ctx context.Context, sleep SleepFunc, d time.Duration, done <-chan struct{}) error {
	if d <= 0 {
		return nil
	}
	if sleep == nil {
		sleep = Sleep
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := sleep(ctx, d)
	select {
	case <-done:
		return nil
	default:
		return err
	}
}
