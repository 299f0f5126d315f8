// Package periphgpio reads the encoders and drives the motors through
// periph GPIO pins.
package periphgpio

import (
	"math"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/hw"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/softpwm"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

// Init loads the periph host drivers.  It is safe to call more than once.
func Init() error {
	if _, err := host.Init(); err != nil {
		return errors.Wrap(err, "initialising periph host drivers")
	}
	return nil
}

func lookup(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("no gpio pin named %q", name)
	}
	return p, nil
}

// Inputs reads one encoder pin per wheel.
type Inputs struct {
	pins wheel.PerWheel[gpio.PinIO]
}

var _ hw.Sensor = (*Inputs)(nil)

func OpenInputs(names wheel.PerWheel[string]) (_ *Inputs, err error) {
	in := &Inputs{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, in.Close())
		}
	}()
	for _, w := range wheel.All {
		p, err := lookup(names[w])
		if err != nil {
			return nil, errors.Wrapf(err, "%v encoder", w)
		}
		if err := p.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return nil, errors.Wrapf(err, "configuring %v encoder pin %s", w, p)
		}
		in.pins[w] = p
	}
	return in, nil
}

func (in *Inputs) ReadLevel(w wheel.Wheel) (hw.Level, error) {
	if in.pins[w].Read() == gpio.High {
		return hw.High, nil
	}
	return hw.Low, nil
}

func (in *Inputs) Close() error {
	var err error
	for _, p := range in.pins {
		if p != nil {
			err = multierr.Append(err, p.Halt())
		}
	}
	return err
}

// Outputs drives one motor pin per wheel.  Pins with hardware PWM use it;
// the others get a software generator.
type Outputs struct {
	log  golog.Logger
	pins wheel.PerWheel[gpio.PinIO]
	freq physic.Frequency
	soft wheel.PerWheel[*softpwm.Generator]
}

var _ hw.Actuator = (*Outputs)(nil)

func OpenOutputs(log golog.Logger, names wheel.PerWheel[string], frequencyHz float64) (_ *Outputs, err error) {
	if !(frequencyHz > 0) {
		return nil, errors.Errorf("pwm frequency must be positive, got %v", frequencyHz)
	}
	out := &Outputs{
		log:  log,
		freq: physic.Frequency(math.Round(frequencyHz * float64(physic.Hertz))),
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, out.Close())
		}
	}()
	for _, w := range wheel.All {
		p, err := lookup(names[w])
		if err != nil {
			return nil, errors.Wrapf(err, "%v motor", w)
		}
		if err := p.Out(gpio.Low); err != nil {
			return nil, errors.Wrapf(err, "configuring %v motor pin %s", w, p)
		}
		out.pins[w] = p
		if err := p.PWM(0, out.freq); err == nil {
			continue
		}
		log.Infow("no hardware pwm, using software pwm", "wheel", w, "pin", p.Name())
		g, err := softpwm.New(log, clock.New(), softpwm.PinFunc(func(high bool) error {
			return p.Out(gpio.Level(high))
		}), frequencyHz)
		if err != nil {
			return nil, err
		}
		out.soft[w] = g
	}
	return out, nil
}

func (o *Outputs) SetDutyCycle(w wheel.Wheel, percent float64) error {
	if percent < 0 || percent > 100 || math.IsNaN(percent) {
		return errors.Errorf("duty cycle %v outside [0, 100]", percent)
	}
	if g := o.soft[w]; g != nil {
		return g.SetDutyCycle(percent)
	}
	duty := gpio.Duty(math.Round(percent / 100 * float64(gpio.DutyMax)))
	return errors.Wrapf(o.pins[w].PWM(duty, o.freq), "setting %v motor pwm", w)
}

func (o *Outputs) Stop(w wheel.Wheel) error {
	if g := o.soft[w]; g != nil {
		return g.Stop()
	}
	return errors.Wrapf(o.pins[w].Out(gpio.Low), "stopping %v motor", w)
}

// Close stops and releases the pins that were opened.
func (o *Outputs) Close() error {
	var err error
	for _, w := range wheel.All {
		if o.pins[w] == nil {
			continue
		}
		if g := o.soft[w]; g != nil {
			err = multierr.Append(err, g.Close())
		} else {
			err = multierr.Append(err, o.Stop(w))
		}
		err = multierr.Append(err, o.pins[w].Halt())
	}
	return err
}
