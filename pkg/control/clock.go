package control

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// LoopClock tracks the sample boundaries and the end of a run, measured as
// time elapsed since the loop started.
type LoopClock struct {
	period   time.Duration
	duration time.Duration
	next     time.Duration
}

func NewLoopClock(period, duration time.Duration) (*LoopClock, error) {
	if period <= 0 {
		return nil, errors.Errorf("sample period must be positive, got %v", period)
	}
	if duration <= 0 {
		return nil, errors.Errorf("run duration must be positive, got %v", duration)
	}
	return &LoopClock{period: period, duration: duration, next: period}, nil
}

// Due reports whether elapsed has reached the next sample boundary and, if
// so, advances the boundary by exactly one period.  A loop that falls behind
// therefore sees several consecutive due iterations.
func (c *LoopClock) Due(elapsed time.Duration) bool {
	if elapsed < c.next {
		return false
	}
	c.next += c.period
	return true
}

// Expired reports whether the run duration has been reached.
func (c *LoopClock) Expired(elapsed time.Duration) bool {
	return elapsed >= c.duration
}

// Next returns the next sample boundary.
func (c *LoopClock) Next() time.Duration {
	return c.next
}

// Pacer is called at the end of every loop iteration and decides how long
// to wait before the next poll.
type Pacer interface {
	Pace(ctx context.Context) error
}

// BusyWait returns immediately, so the loop polls as fast as it can.
type BusyWait struct{}

func (BusyWait) Pace(ctx context.Context) error {
	return ctx.Err()
}

// SleepPacer sleeps for a fixed poll interval between iterations.  The
// interval must stay well under half the shortest encoder pulse or edges
// are missed.
type SleepPacer struct {
	Clock    clock.Clock
	Interval time.Duration
}

func (p *SleepPacer) Pace(ctx context.Context) error {
	t := p.Clock.Timer(p.Interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
