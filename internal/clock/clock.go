package clock

import (
	"context"
	"time"
)

// Clock is the time source used for stage pacing and wait measurements.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real reads the wall clock.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// After mirrors time.After.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Or returns c, falling back to Real when c is nil.
func Or(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}

// Sleep pauses for d on c or until ctx ends, whichever happens first. A
// non-positive d returns immediately unless ctx is already done.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-Or(c).After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
