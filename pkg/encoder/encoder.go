// Package encoder counts encoder ticks from polled digital levels.
//
// Each channel keeps a sliding window of the most recent samples and counts
// a tick when the whole window settles into one of two edge templates: the
// newest half at one polarity and the older half at the other.  A tick is
// therefore registered once per full transition, a window length after the
// transition happened, and noise shorter than half a window is rejected.
package encoder

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/hw"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/ringbuf"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

// Templates returns the two edge templates for a window of n samples, most
// recent first.  high is n-half lows followed by half highs, low is the
// inverse, with half = round(n/2) (ties to even).
func Templates(n int) (high, low []hw.Level) {
	half := int(math.RoundToEven(float64(n) / 2))
	high = make([]hw.Level, n)
	low = make([]hw.Level, n)
	for i := 0; i < n; i++ {
		if i < n-half {
			high[i], low[i] = hw.Low, hw.High
		} else {
			high[i], low[i] = hw.High, hw.Low
		}
	}
	return
}

// Channel is the edge detector of one encoder input.
type Channel struct {
	window    *ringbuf.Ring[hw.Level]
	high, low []hw.Level
	ticks     int64
}

// NewChannel creates a channel with a window of size samples, pre-filled
// with initial.
func NewChannel(size int, initial hw.Level) (*Channel, error) {
	if size < 1 {
		return nil, errors.Errorf("encoder window size must be positive, got %d", size)
	}
	high, low := Templates(size)
	return &Channel{
		window: ringbuf.New(size, initial),
		high:   high,
		low:    low,
	}, nil
}

// Push adds the newest sample, evicting the oldest, and reports whether a
// tick was counted.
func (c *Channel) Push(l hw.Level) bool {
	c.window.Push(l)
	if c.window.Equal(c.high) || c.window.Equal(c.low) {
		c.ticks++
		return true
	}
	return false
}

// Ticks returns the number of ticks counted so far.
func (c *Channel) Ticks() int64 {
	return c.ticks
}

// Window returns the current samples, most recent first.
func (c *Channel) Window() []hw.Level {
	return c.window.Values()
}

// Prime overwrites the whole window with l without counting.
func (c *Channel) Prime(l hw.Level) {
	c.window.Fill(l)
}

// SensorError reports a failed read of one wheel's encoder input.
type SensorError struct {
	Wheel wheel.Wheel
	Err   error
}

func (e *SensorError) Error() string {
	return fmt.Sprintf("reading %v encoder: %v", e.Wheel, e.Err)
}

func (e *SensorError) Unwrap() error {
	return e.Err
}

// Counter polls both wheels' encoder inputs.
type Counter struct {
	sensor   hw.Sensor
	channels wheel.PerWheel[*Channel]
}

// NewCounter creates a counter with one channel per wheel.
func NewCounter(sensor hw.Sensor, windowSize int, initial hw.Level) (*Counter, error) {
	c := &Counter{sensor: sensor}
	for _, w := range wheel.All {
		ch, err := NewChannel(windowSize, initial)
		if err != nil {
			return nil, err
		}
		c.channels[w] = ch
	}
	return c, nil
}

// Poll reads one sample from each wheel, left then right.  A failed read
// leaves that wheel's window untouched and returns a *SensorError.
func (c *Counter) Poll() error {
	for _, w := range wheel.All {
		l, err := c.sensor.ReadLevel(w)
		if err != nil {
			return &SensorError{Wheel: w, Err: err}
		}
		c.channels[w].Push(l)
	}
	return nil
}

// PrimeFromSensor fills each window with the current sensor level so a
// non-zero resting level does not register a spurious tick at start up.
func (c *Counter) PrimeFromSensor() error {
	for _, w := range wheel.All {
		l, err := c.sensor.ReadLevel(w)
		if err != nil {
			return &SensorError{Wheel: w, Err: err}
		}
		c.channels[w].Prime(l)
	}
	return nil
}

// Ticks returns the tick count of each wheel.
func (c *Counter) Ticks() wheel.PerWheel[int64] {
	var t wheel.PerWheel[int64]
	for _, w := range wheel.All {
		t[w] = c.channels[w].Ticks()
	}
	return t
}

// Channel returns the channel of one wheel.
func (c *Counter) Channel(w wheel.Wheel) *Channel {
	return c.channels[w]
}
