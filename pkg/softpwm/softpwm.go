// Package softpwm generates a PWM signal on a plain digital output by
// toggling it from a goroutine.
package softpwm

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// Pin is a digital output.
type Pin interface {
	Set(high bool) error
}

// PinFunc adapts a function to Pin.
type PinFunc func(high bool) error

func (f PinFunc) Set(high bool) error {
	return f(high)
}

// Phases splits one period into its on and off parts for a duty cycle in
// percent.
func Phases(percent float64, period time.Duration) (on, off time.Duration) {
	on = time.Duration(math.Round(float64(period) * percent / 100))
	return on, period - on
}

// Generator drives one pin.  The goroutine runs only while the duty cycle is
// strictly between 0 and 100; at the extremes the pin is held at a level.
type Generator struct {
	log    golog.Logger
	clock  clock.Clock
	pin    Pin
	period time.Duration

	lock    sync.Mutex
	duty    float64
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
}

func New(log golog.Logger, clk clock.Clock, pin Pin, frequencyHz float64) (*Generator, error) {
	if !(frequencyHz > 0) {
		return nil, errors.Errorf("pwm frequency must be positive, got %v", frequencyHz)
	}
	return &Generator{
		log:    log,
		clock:  clk,
		pin:    pin,
		period: time.Duration(float64(time.Second) / frequencyHz),
	}, nil
}

func (g *Generator) Period() time.Duration {
	return g.period
}

func (g *Generator) DutyCycle() float64 {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.duty
}

// SetDutyCycle sets the duty cycle in percent.  The new value takes effect
// at the start of the next period.
func (g *Generator) SetDutyCycle(percent float64) error {
	if percent < 0 || percent > 100 || math.IsNaN(percent) {
		return errors.Errorf("duty cycle %v outside [0, 100]", percent)
	}
	g.lock.Lock()
	if g.closed {
		g.lock.Unlock()
		return errors.New("pwm generator closed")
	}
	g.duty = percent
	if percent > 0 && percent < 100 {
		if !g.running {
			g.start()
		}
		g.lock.Unlock()
		return nil
	}
	g.lock.Unlock()

	g.halt()
	return g.pin.Set(percent == 100)
}

// Stop holds the pin low.
func (g *Generator) Stop() error {
	return g.SetDutyCycle(0)
}

// Close stops the generator and leaves the pin low.
func (g *Generator) Close() error {
	err := g.Stop()
	g.lock.Lock()
	g.closed = true
	g.lock.Unlock()
	return err
}

// start must be called with the lock held.
func (g *Generator) start() {
	ctx, cancel := context.WithCancel(context.Background())
	g.running = true
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.run(ctx, g.done)
}

// halt stops the goroutine, if any, and waits for it to exit.
func (g *Generator) halt() {
	g.lock.Lock()
	if !g.running {
		g.lock.Unlock()
		return
	}
	g.running = false
	g.cancel()
	done := g.done
	g.lock.Unlock()
	<-done
}

func (g *Generator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		on, off := Phases(g.DutyCycle(), g.period)
		if !g.phase(ctx, true, on) || !g.phase(ctx, false, off) {
			return
		}
	}
}

func (g *Generator) phase(ctx context.Context, high bool, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	if err := g.pin.Set(high); err != nil {
		g.log.Warnw("error setting pwm pin", "high", high, "error", err)
	}
	t := g.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
