// Package rpm turns encoder tick counts into filtered wheel speeds.
package rpm

import (
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/ringbuf"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

// ErrDegenerateInterval is returned when an update arrives with no time
// elapsed since the previous one.  The previous estimate is kept.
var ErrDegenerateInterval = errors.New("rpm: zero or negative interval since last update")

// TickSource provides monotonically increasing per-wheel tick counts.
type TickSource interface {
	Ticks() wheel.PerWheel[int64]
}

// MovingAverage is the arithmetic mean of the last N values pushed.  It
// starts zero-filled, so the first N-1 averages are biased towards zero.
type MovingAverage struct {
	window *ringbuf.Ring[float64]
	mean   float64
}

func NewMovingAverage(size int) (*MovingAverage, error) {
	if size < 1 {
		return nil, errors.Errorf("moving average size must be positive, got %d", size)
	}
	return &MovingAverage{window: ringbuf.New(size, 0.0)}, nil
}

// Push adds v, evicting the oldest value, and returns the new mean.
func (m *MovingAverage) Push(v float64) float64 {
	m.window.Push(v)
	sum := 0.0
	for i := 0; i < m.window.Len(); i++ {
		sum += m.window.At(i)
	}
	m.mean = sum / float64(m.window.Len())
	return m.mean
}

func (m *MovingAverage) Mean() float64 {
	return m.mean
}

// Values returns the window, most recent first.
func (m *MovingAverage) Values() []float64 {
	return m.window.Values()
}

// Estimator converts tick deltas into per-wheel RPM once per sample period.
type Estimator struct {
	source      TickSource
	ticksPerRev float64
	filters     wheel.PerWheel[*MovingAverage]

	prevTicks wheel.PerWheel[int64]
	prevTime  time.Duration

	instant wheel.PerWheel[float64]
	rpm     wheel.PerWheel[float64]
}

// NewEstimator creates an estimator reading ticks from source.  ticksPerRev
// is the number of counted edges per wheel revolution.
func NewEstimator(source TickSource, ticksPerRev float64, filterSize int) (*Estimator, error) {
	if ticksPerRev <= 0 {
		return nil, errors.Errorf("ticks per revolution must be positive, got %v", ticksPerRev)
	}
	e := &Estimator{
		source:      source,
		ticksPerRev: ticksPerRev,
	}
	for _, w := range wheel.All {
		f, err := NewMovingAverage(filterSize)
		if err != nil {
			return nil, err
		}
		e.filters[w] = f
	}
	return e, nil
}

// Seed records the tick and time snapshots the first Update measures from.
func (e *Estimator) Seed(now time.Duration) {
	e.prevTicks = e.source.Ticks()
	e.prevTime = now
}

// Update computes the instantaneous RPM of each wheel since the previous
// update, pushes it through the moving average and returns the averages.
// If no time has elapsed it returns the previous averages and
// ErrDegenerateInterval without touching any state.
func (e *Estimator) Update(now time.Duration) (wheel.PerWheel[float64], error) {
	dt := (now - e.prevTime).Seconds()
	if dt <= 0 {
		return e.rpm, ErrDegenerateInterval
	}
	ticks := e.source.Ticks()
	for _, w := range wheel.All {
		revs := float64(ticks[w]-e.prevTicks[w]) / e.ticksPerRev
		e.instant[w] = revs * 60 / dt
		e.rpm[w] = e.filters[w].Push(e.instant[w])
	}
	e.prevTicks = ticks
	e.prevTime = now
	return e.rpm, nil
}

// RPM returns the latest filtered speeds.
func (e *Estimator) RPM() wheel.PerWheel[float64] {
	return e.rpm
}

// Instantaneous returns the latest unfiltered speeds.
func (e *Estimator) Instantaneous() wheel.PerWheel[float64] {
	return e.instant
}
