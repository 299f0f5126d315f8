// Package pid implements the discrete wheel speed PID controller.
package pid

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrDegenerateInterval is returned when Update is called with no time
// elapsed since the previous update.  The previous output is kept.
var ErrDegenerateInterval = errors.New("pid: zero or negative interval since last update")

// Gains in the standard (ideal) form: Kc is the proportional gain, Ti the
// integral time in seconds and Td the derivative time in seconds.  Ti == 0
// disables integral action.
type Gains struct {
	Kc float64 `yaml:"kc"`
	Ti float64 `yaml:"ti"`
	Td float64 `yaml:"td"`
}

func (g Gains) String() string {
	return fmt.Sprintf("Kc=%.4f Ti=%.4fs Td=%.4fs", g.Kc, g.Ti, g.Td)
}

// Config is the fixed configuration of one controller.
type Config struct {
	Gains
	Setpoint  float64
	Bias      float64
	MinOutput float64
	MaxOutput float64
}

// Terms holds the individual contributions of the last update.
type Terms struct {
	P, I, D float64
}

// Controller is a PID with conditional integral action and a hard output
// clamp.  The integral is never reset or limited; clamping the output is the
// only protection against windup.
type Controller struct {
	cfg Config

	integral  float64
	prevError float64
	prevTime  time.Duration

	terms  Terms
	output float64
}

// New validates cfg and returns a fresh controller.  Until the first update
// the output is the clamped bias.
func New(cfg Config) (*Controller, error) {
	if cfg.Ti < 0 {
		return nil, errors.Errorf("integral time must not be negative, got %v", cfg.Ti)
	}
	if cfg.Td < 0 {
		return nil, errors.Errorf("derivative time must not be negative, got %v", cfg.Td)
	}
	if cfg.MinOutput >= cfg.MaxOutput {
		return nil, errors.Errorf("output bounds [%v, %v] are empty", cfg.MinOutput, cfg.MaxOutput)
	}
	c := &Controller{cfg: cfg}
	c.output = c.clamp(cfg.Bias)
	return c, nil
}

// Seed sets the time the first update measures its interval from.
func (c *Controller) Seed(now time.Duration) {
	c.prevTime = now
}

// Update computes the output for the measured value at time now.
func (c *Controller) Update(now time.Duration, measured float64) (float64, error) {
	dt := (now - c.prevTime).Seconds()
	if dt <= 0 {
		return c.output, ErrDegenerateInterval
	}
	g := c.cfg.Gains
	e := c.cfg.Setpoint - measured

	c.terms.P = g.Kc * e
	if g.Ti != 0 {
		c.integral += g.Kc * e * dt / g.Ti
		c.terms.I = c.integral
	} else {
		c.terms.I = 0
	}
	c.terms.D = g.Kc * g.Td * (e - c.prevError) / dt

	c.output = c.clamp(c.cfg.Bias + c.terms.P + c.terms.I + c.terms.D)

	c.prevError = e
	c.prevTime = now
	return c.output, nil
}

func (c *Controller) clamp(v float64) float64 {
	if v > c.cfg.MaxOutput {
		return c.cfg.MaxOutput
	}
	if v < c.cfg.MinOutput {
		return c.cfg.MinOutput
	}
	return v
}

// Output returns the last computed output.
func (c *Controller) Output() float64 {
	return c.output
}

// Terms returns the P, I and D contributions of the last update.
func (c *Controller) Terms() Terms {
	return c.terms
}

// Integral returns the accumulated integral term.
func (c *Controller) Integral() float64 {
	return c.integral
}

func (c *Controller) Setpoint() float64 {
	return c.cfg.Setpoint
}
