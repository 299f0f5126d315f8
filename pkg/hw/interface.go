package hw

import (
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

// Level is the instantaneous binary level of a digital input.
type Level uint8

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	if l == High {
		return "1"
	}
	return "0"
}

// Sensor reads the encoder input of each wheel.  Reads must not block.
type Sensor interface {
	ReadLevel(w wheel.Wheel) (Level, error)
}

// Actuator drives the motor of each wheel with a PWM duty cycle.
type Actuator interface {
	// SetDutyCycle sets the duty cycle as a percentage in [0, 100].
	SetDutyCycle(w wheel.Wheel, percent float64) error
	// Stop disables the output (zero duty).
	Stop(w wheel.Wheel) error
}

// Board is a device providing both encoder inputs and motor outputs.
type Board interface {
	Sensor
	Actuator
	Close() error
}
