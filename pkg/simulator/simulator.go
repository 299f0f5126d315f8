// Package simulator provides a software drive train for dry runs and tests.
//
// Each wheel is a first-order-plus-dead-time plant from duty cycle to RPM
// driving a slotted encoder disc.  The plant is advanced lazily to the
// clock's current time whenever it is read or commanded.
package simulator

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/fopdt"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/hw"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

const maxStep = time.Millisecond

type Config struct {
	Models wheel.PerWheel[fopdt.Model]
	// TicksPerRev is the number of level transitions per revolution.
	TicksPerRev float64
	// GlitchProbability is the chance that a read returns the wrong level.
	GlitchProbability float64
	Seed              int64
}

type dutyChange struct {
	at   time.Time
	duty float64
}

type plantState struct {
	model   fopdt.Model
	history []dutyChange
	rpm     float64
	revs    float64
}

// Plant simulates both wheels.
type Plant struct {
	clock clock.Clock
	cfg   Config

	lock   sync.Mutex
	rng    *rand.Rand
	last   time.Time
	wheels wheel.PerWheel[*plantState]
	closed bool
}

var _ hw.Board = (*Plant)(nil)

func New(clk clock.Clock, cfg Config) (*Plant, error) {
	if cfg.TicksPerRev <= 0 {
		return nil, errors.Errorf("ticks per revolution must be positive, got %v", cfg.TicksPerRev)
	}
	if cfg.GlitchProbability < 0 || cfg.GlitchProbability >= 1 {
		return nil, errors.Errorf("glitch probability must be in [0, 1), got %v", cfg.GlitchProbability)
	}
	p := &Plant{
		clock: clk,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		last:  clk.Now(),
	}
	for _, w := range wheel.All {
		m := cfg.Models[w]
		if !(m.TimeConstant > 0) || m.DeadTime < 0 {
			return nil, errors.Errorf("%v wheel model %v is not simulable", w, m)
		}
		p.wheels[w] = &plantState{
			model:   m,
			history: []dutyChange{{at: p.last}},
		}
	}
	return p, nil
}

func (p *Plant) ReadLevel(w wheel.Wheel) (hw.Level, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return hw.Low, errors.New("simulator closed")
	}
	p.advance(p.clock.Now())

	// Two transitions per slot.
	phase := p.wheels[w].revs * p.cfg.TicksPerRev / 2
	level := hw.Low
	if phase-math.Floor(phase) >= 0.5 {
		level = hw.High
	}
	if p.cfg.GlitchProbability > 0 && p.rng.Float64() < p.cfg.GlitchProbability {
		level ^= 1
	}
	return level, nil
}

func (p *Plant) SetDutyCycle(w wheel.Wheel, percent float64) error {
	if percent < 0 || percent > 100 || math.IsNaN(percent) {
		return errors.Errorf("duty cycle %v outside [0, 100]", percent)
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return errors.New("simulator closed")
	}
	now := p.clock.Now()
	p.advance(now)
	s := p.wheels[w]
	s.history = append(s.history, dutyChange{at: now, duty: percent})
	return nil
}

func (p *Plant) Stop(w wheel.Wheel) error {
	return p.SetDutyCycle(w, 0)
}

func (p *Plant) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.closed = true
	return nil
}

// RPM returns the true current speed of a wheel.
func (p *Plant) RPM(w wheel.Wheel) float64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.advance(p.clock.Now())
	return p.wheels[w].rpm
}

// Revolutions returns the total revolutions turned by a wheel.
func (p *Plant) Revolutions(w wheel.Wheel) float64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.advance(p.clock.Now())
	return p.wheels[w].revs
}

// advance integrates both wheels up to now.  Input is piecewise constant
// over each sub-step, so the first-order update is exact.
func (p *Plant) advance(now time.Time) {
	for p.last.Before(now) {
		h := now.Sub(p.last)
		if h > maxStep {
			h = maxStep
		}
		end := p.last.Add(h)
		for _, w := range wheel.All {
			s := p.wheels[w]
			delay := time.Duration(s.model.DeadTime * float64(time.Second))
			u := s.dutyAt(end.Add(-delay))
			target := s.model.Gain * u
			prev := s.rpm
			s.rpm += (target - s.rpm) * (1 - math.Exp(-h.Seconds()/s.model.TimeConstant))
			s.revs += (prev + s.rpm) / 2 / 60 * h.Seconds()
			s.prune(end.Add(-delay))
		}
		p.last = end
	}
}

func (s *plantState) dutyAt(t time.Time) float64 {
	duty := 0.0
	for _, c := range s.history {
		if c.at.After(t) {
			break
		}
		duty = c.duty
	}
	return duty
}

// prune drops changes that can no longer take effect, keeping the one in
// force at t.
func (s *plantState) prune(t time.Time) {
	i := 0
	for i+1 < len(s.history) && !s.history[i+1].at.After(t) {
		i++
	}
	if i > 0 {
		s.history = append(s.history[:0], s.history[i:]...)
	}
}

// Pacer advances a mock clock by Step on every loop iteration, so a
// simulated run is not tied to wall time.
type Pacer struct {
	Clock *clock.Mock
	Step  time.Duration
}

func (p *Pacer) Pace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Clock.Add(p.Step)
	return nil
}
