package control

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestLoopClockAdvancesOnePeriodPerDue(t *testing.T) {
	lc, err := NewLoopClock(100*time.Millisecond, time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, lc.Next(), test.ShouldEqual, 100*time.Millisecond)

	test.That(t, lc.Due(99*time.Millisecond), test.ShouldBeFalse)
	test.That(t, lc.Due(100*time.Millisecond), test.ShouldBeTrue)
	test.That(t, lc.Next(), test.ShouldEqual, 200*time.Millisecond)

	// Late by more than a period: the boundary still moves one period at a
	// time, so the following calls catch up.
	test.That(t, lc.Due(450*time.Millisecond), test.ShouldBeTrue)
	test.That(t, lc.Due(450*time.Millisecond), test.ShouldBeTrue)
	test.That(t, lc.Due(450*time.Millisecond), test.ShouldBeTrue)
	test.That(t, lc.Due(450*time.Millisecond), test.ShouldBeFalse)
	test.That(t, lc.Next(), test.ShouldEqual, 500*time.Millisecond)
}

func TestLoopClockExpired(t *testing.T) {
	lc, err := NewLoopClock(100*time.Millisecond, time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, lc.Expired(999*time.Millisecond), test.ShouldBeFalse)
	test.That(t, lc.Expired(time.Second), test.ShouldBeTrue)
}

func TestLoopClockValidates(t *testing.T) {
	_, err := NewLoopClock(0, time.Second)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewLoopClock(time.Millisecond, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBusyWaitReportsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	test.That(t, BusyWait{}.Pace(ctx), test.ShouldBeNil)
	cancel()
	test.That(t, errors.Is(BusyWait{}.Pace(ctx), context.Canceled), test.ShouldBeTrue)
}

func TestSleepPacer(t *testing.T) {
	p := &SleepPacer{Clock: clock.New(), Interval: time.Millisecond}
	start := time.Now()
	test.That(t, p.Pace(context.Background()), test.ShouldBeNil)
	test.That(t, time.Since(start), test.ShouldBeGreaterThanOrEqualTo, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := &SleepPacer{Clock: clock.New(), Interval: time.Hour}
	test.That(t, errors.Is(slow.Pace(ctx), context.Canceled), test.ShouldBeTrue)
}
