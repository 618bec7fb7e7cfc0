package consumer

import (
	"context"
	"time"
)

// Clock is the time source the consumer sleeps on. Tests replace it to
// observe waits without spending them.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done, returning ctx.Err() in that case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff is a fixed-interval retry schedule with the bookkeeping needed to
// report on it.
type Backoff struct {
	Interval  time.Duration
	Attempts  int
	NextRetry time.Time

	clock Clock
}

func NewBackoff(interval time.Duration, clock Clock) *Backoff {
	return &Backoff{Interval: interval, clock: clock}
}

// Wait records a failed attempt and sleeps until the next retry is due.
func (b *Backoff) Wait(ctx context.Context) error {
	b.Attempts++
	b.NextRetry = b.clock.Now().Add(b.Interval)
	return b.clock.Sleep(ctx, b.Interval)
}

// Reset clears the attempt count after a success.
func (b *Backoff) Reset() {
	b.Attempts = 0
	b.NextRetry = time.Time{}
}
