//go:build linux

// Package chardevgpio reads the encoders and drives the motors through the
// Linux GPIO character device.  The motor lines have no hardware PWM, so
// each gets a software generator.
package chardevgpio

import (
	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/mkch/gpio"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/hw"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/softpwm"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

const consumer = "speedctl"

type Board struct {
	inputs  wheel.PerWheel[*gpio.Line]
	outputs wheel.PerWheel[*gpio.Line]
	pwm     wheel.PerWheel[*softpwm.Generator]
}

var _ hw.Board = (*Board)(nil)

// Open requests the lines from chip, a device name under /dev such as
// "gpiochip0".
func Open(log golog.Logger, chip string, inputs, outputs wheel.PerWheel[int], frequencyHz float64) (_ *Board, err error) {
	c, err := gpio.OpenChip(chip)
	if err != nil {
		return nil, errors.Wrap(err, "opening gpio chip")
	}
	defer func() {
		err = multierr.Append(err, c.Close())
	}()

	b := &Board{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, b.closeLines())
		}
	}()
	for _, w := range wheel.All {
		if b.inputs[w], err = c.OpenLine(uint32(inputs[w]), 0, gpio.Input, consumer); err != nil {
			return nil, errors.Wrapf(err, "opening %v encoder line %d", w, inputs[w])
		}
		if b.outputs[w], err = c.OpenLine(uint32(outputs[w]), 0, gpio.Output, consumer); err != nil {
			return nil, errors.Wrapf(err, "opening %v motor line %d", w, outputs[w])
		}
		line := b.outputs[w]
		b.pwm[w], err = softpwm.New(log, clock.New(), softpwm.PinFunc(func(high bool) error {
			var v byte
			if high {
				v = 1
			}
			return line.SetValue(v)
		}), frequencyHz)
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Board) ReadLevel(w wheel.Wheel) (hw.Level, error) {
	v, err := b.inputs[w].Value()
	if err != nil {
		return hw.Low, errors.Wrapf(err, "reading %v encoder", w)
	}
	if v != 0 {
		return hw.High, nil
	}
	return hw.Low, nil
}

func (b *Board) SetDutyCycle(w wheel.Wheel, percent float64) error {
	return b.pwm[w].SetDutyCycle(percent)
}

func (b *Board) Stop(w wheel.Wheel) error {
	return b.pwm[w].Stop()
}

func (b *Board) Close() error {
	var err error
	for _, g := range b.pwm {
		if g != nil {
			err = multierr.Append(err, g.Close())
		}
	}
	return multierr.Append(err, b.closeLines())
}

func (b *Board) closeLines() error {
	var err error
	for _, w := range wheel.All {
		for _, l := range []*gpio.Line{b.inputs[w], b.outputs[w]} {
			if l != nil {
				err = multierr.Append(err, l.Close())
			}
		}
	}
	b.inputs, b.outputs = wheel.PerWheel[*gpio.Line]{}, wheel.PerWheel[*gpio.Line]{}
	return err
}
