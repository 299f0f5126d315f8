// Package control runs the sampled wheel speed loop: encoders are polled on
// every iteration, speeds are estimated and the motors commanded once per
// sample period, and the motors are stopped however the loop exits.
package control

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/encoder"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/hw"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/pid"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/rpm"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

// Timing is the loop timing configuration.
type Timing struct {
	SamplePeriod time.Duration
	Duration     time.Duration
}

// Components are the parts wired together by a Loop.  Odometer, Recorder
// and Pacer are optional; the default pacer busy-waits.
type Components struct {
	Clock     clock.Clock
	Counter   *encoder.Counter
	Estimator *rpm.Estimator
	Odometer  *rpm.Odometer
	Commander Commander
	Actuator  hw.Actuator
	Recorder  Recorder
	Pacer     Pacer
}

// Report summarises a run.
type Report struct {
	Polls   int64
	Samples int
	// Skipped counts sample periods whose update was dropped because no time
	// had elapsed, the command was not finite or the update panicked.
	Skipped int
	Elapsed time.Duration
	Last    Sample
}

type Loop struct {
	log    golog.Logger
	timing Timing
	c      Components
}

func NewLoop(log golog.Logger, timing Timing, c Components) (*Loop, error) {
	if _, err := NewLoopClock(timing.SamplePeriod, timing.Duration); err != nil {
		return nil, err
	}
	switch {
	case c.Clock == nil:
		return nil, errors.New("loop needs a clock")
	case c.Counter == nil:
		return nil, errors.New("loop needs an encoder counter")
	case c.Estimator == nil:
		return nil, errors.New("loop needs a speed estimator")
	case c.Commander == nil:
		return nil, errors.New("loop needs a commander")
	case c.Actuator == nil:
		return nil, errors.New("loop needs an actuator")
	}
	if c.Pacer == nil {
		c.Pacer = BusyWait{}
	}
	return &Loop{log: log, timing: timing, c: c}, nil
}

// Run executes the loop until the configured duration has elapsed, ctx is
// cancelled or an unrecoverable error occurs.  Both motors are stopped
// before Run returns, including when polling or pacing panics.
func (l *Loop) Run(ctx context.Context) (report Report, err error) {
	lc, err := NewLoopClock(l.timing.SamplePeriod, l.timing.Duration)
	if err != nil {
		return report, err
	}
	start := l.c.Clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = multierr.Append(err, errors.Errorf("control loop panicked: %v", r))
		}
		err = multierr.Append(err, l.stopMotors())
		report.Elapsed = l.c.Clock.Since(start)
	}()

	l.c.Estimator.Seed(0)
	if s, ok := l.c.Commander.(Seeder); ok {
		s.Seed(0)
	}
	if l.c.Odometer != nil {
		l.c.Odometer.Zero()
	}
	l.log.Infow("control loop starting", "period", l.timing.SamplePeriod, "duration", l.timing.Duration)

	for {
		now := l.c.Clock.Since(start)
		if lc.Expired(now) {
			l.log.Infow("control loop finished", "samples", report.Samples, "skipped", report.Skipped)
			return report, nil
		}
		if err := ctx.Err(); err != nil {
			return report, errors.Wrap(err, "control loop cancelled")
		}

		if err := l.c.Counter.Poll(); err != nil {
			return report, err
		}
		report.Polls++

		if lc.Due(now) {
			if err := l.sample(now, &report); err != nil {
				return report, err
			}
		}

		if err := l.c.Pacer.Pace(ctx); err != nil {
			return report, errors.Wrap(err, "control loop cancelled")
		}
	}
}

// sample runs one update.  A panic while sampling drops the sample and the
// loop carries on.
func (l *Loop) sample(now time.Duration, report *Report) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorw("sample panicked, skipping", "t", now, "panic", r)
			report.Skipped++
			err = nil
		}
	}()

	speeds, err := l.c.Estimator.Update(now)
	if errors.Is(err, rpm.ErrDegenerateInterval) {
		l.log.Warnw("skipping sample", "t", now, "error", err)
		report.Skipped++
		return nil
	}
	if err != nil {
		return err
	}

	cmd, err := l.c.Commander.Command(now, speeds)
	if errors.Is(err, pid.ErrDegenerateInterval) {
		l.log.Warnw("skipping sample", "t", now, "error", err)
		report.Skipped++
		return nil
	}
	if err != nil {
		return err
	}
	for _, w := range wheel.All {
		if d := cmd.Duty[w]; math.IsNaN(d) || math.IsInf(d, 0) {
			l.log.Warnw("skipping sample with non-finite command", "t", now, "wheel", w, "duty", d)
			report.Skipped++
			return nil
		}
	}

	for _, w := range wheel.All {
		if err := l.c.Actuator.SetDutyCycle(w, cmd.Duty[w]); err != nil {
			return errors.Wrapf(err, "commanding %v motor", w)
		}
	}

	s := Sample{
		Index:    report.Samples,
		Time:     now,
		Duty:     cmd.Duty,
		RPM:      speeds,
		Ticks:    l.c.Counter.Ticks(),
		Setpoint: cmd.Setpoint,
	}
	if l.c.Odometer != nil {
		s.Distance = l.c.Odometer.Distances()
	}
	if l.c.Recorder != nil {
		if err := l.c.Recorder.Record(s); err != nil {
			l.log.Warnw("failed to record sample", "t", now, "error", err)
		}
	}
	report.Samples++
	report.Last = s
	return nil
}

func (l *Loop) stopMotors() error {
	var err error
	for _, w := range wheel.All {
		if stopErr := l.c.Actuator.Stop(w); stopErr != nil {
			err = multierr.Append(err, errors.Wrapf(stopErr, "stopping %v motor", w))
		}
	}
	if err == nil {
		l.log.Debug("motors stopped")
	}
	return err
}

// IsSensorFault reports whether err was caused by a failed encoder read.
func IsSensorFault(err error) bool {
	var se *encoder.SensorError
	return errors.As(err, &se)
}
