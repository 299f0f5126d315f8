// Package hardware opens the drive train selected by the configuration.
package hardware

import (
	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/chardevgpio"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/config"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/hw"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/pca9685"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/periphgpio"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/simulator"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

type closer interface {
	Close() error
}

// Hardware joins an encoder source and a motor driver into one board.
type Hardware struct {
	hw.Sensor
	hw.Actuator

	log     golog.Logger
	closers []closer
}

var _ hw.Board = (*Hardware)(nil)

// Compose builds a board from separate parts.  Closers are closed in order
// by Close, after both motors are stopped.
func Compose(log golog.Logger, s hw.Sensor, a hw.Actuator, closers ...closer) *Hardware {
	return &Hardware{Sensor: s, Actuator: a, log: log, closers: closers}
}

// New opens the backend named in cfg.  The clock is used by the simulator.
func New(log golog.Logger, cfg config.Config, clk clock.Clock) (*Hardware, error) {
	hc := cfg.Hardware
	log.Infow("opening hardware", "backend", hc.Backend)
	switch hc.Backend {
	case config.BackendSimulator:
		return NewSimulated(log, cfg, clk)
	case config.BackendDummy:
		d := NewDummy(log)
		return Compose(log, d, d), nil
	case config.BackendChardev:
		b, err := chardevgpio.Open(log, hc.Chip, hc.InputLines.PerWheel(), hc.OutputLines.PerWheel(), hc.PWMFrequency)
		if err != nil {
			return nil, err
		}
		return Compose(log, b, b, b), nil
	}

	if err := periphgpio.Init(); err != nil {
		return nil, err
	}
	in, err := periphgpio.OpenInputs(hc.InputPins.PerWheel())
	if err != nil {
		return nil, err
	}
	switch hc.Backend {
	case config.BackendPeriph:
		out, err := periphgpio.OpenOutputs(log, hc.OutputPins.PerWheel(), hc.PWMFrequency)
		if err != nil {
			return nil, multierr.Append(err, in.Close())
		}
		return Compose(log, in, out, out, in), nil
	case config.BackendPCA9685:
		chip, err := pca9685.New(hc.I2CDevice, hc.PCA9685Address)
		if err != nil {
			return nil, multierr.Append(err, in.Close())
		}
		if err := chip.Configure(hc.PWMFrequency); err != nil {
			return nil, multierr.Combine(errors.Wrap(err, "configuring pca9685"), chip.Close(), in.Close())
		}
		motors, err := pca9685.NewMotors(chip, hc.PCA9685Channels.PerWheel())
		if err != nil {
			return nil, multierr.Combine(err, chip.Close(), in.Close())
		}
		return Compose(log, in, motors, motors, in), nil
	}
	return nil, multierr.Append(errors.Errorf("unknown hardware backend %q", hc.Backend), in.Close())
}

// NewSimulated builds the software drive train from the controller's models.
func NewSimulated(log golog.Logger, cfg config.Config, clk clock.Clock) (*Hardware, error) {
	plant, err := simulator.New(clk, simulator.Config{
		Models:            cfg.Controller.Models.PerWheel(),
		TicksPerRev:       cfg.Estimator.TicksPerRev,
		GlitchProbability: cfg.Simulator.GlitchProbability,
		Seed:              cfg.Simulator.Seed,
	})
	if err != nil {
		return nil, err
	}
	return Compose(log, plant, plant, plant), nil
}

// Shutdown stops both motors and releases the hardware.
func (h *Hardware) Shutdown() error {
	var err error
	for _, w := range wheel.All {
		err = multierr.Append(err, h.Stop(w))
	}
	return multierr.Append(err, h.Close())
}

func (h *Hardware) Close() error {
	var err error
	for _, c := range h.closers {
		err = multierr.Append(err, c.Close())
	}
	h.closers = nil
	if err != nil {
		h.log.Warnw("error closing hardware", "error", err)
	}
	return err
}
