package pca9685

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/exp/io/i2c"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/hw"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

const (
	DefaultAddr = 0x40

	RegMode1 = 0x00
	RegMode2 = 0x01

	// Each PWM output has two 16-bit (low byte first) registers.
	// First register is the on time, second is the off time.
	RegLEDBase = 0x06

	RegPreScale = 0xfe // Pre-scaler for PWM frequency.
	RegTestMode = 0xff

	NumPorts = 16
	PWMMax   = 4095

	oscillatorHz = 25e6
)

// Registers is the register access the driver needs; *i2c.Device provides it.
type Registers interface {
	WriteReg(reg byte, buf []byte) error
	Close() error
}

type PCA9685 struct {
	dev   Registers
	sleep func(time.Duration)
}

func New(deviceFile string, addr int) (*PCA9685, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "opening pca9685 at %s 0x%02x", deviceFile, addr)
	}
	return NewWithDevice(dev), nil
}

func NewWithDevice(dev Registers) *PCA9685 {
	return &PCA9685{dev: dev, sleep: time.Sleep}
}

// Prescale returns the pre-scaler value for the given output frequency.
func Prescale(frequencyHz float64) (byte, error) {
	v := math.Round(oscillatorHz/(4096*frequencyHz)) - 1
	if math.IsNaN(v) || v < 3 || v > 255 {
		return 0, errors.Errorf("pwm frequency %v Hz out of range", frequencyHz)
	}
	return byte(v), nil
}

func (p *PCA9685) Configure(frequencyHz float64) (err error) {
	prescale, err := Prescale(frequencyHz)
	if err != nil {
		return err
	}
	// Put device to sleep.
	err = p.dev.WriteReg(RegMode1, []byte{0x11})
	if err != nil {
		return
	}
	err = p.dev.WriteReg(RegPreScale, []byte{prescale})
	if err != nil {
		return
	}
	// Trigger a reset
	err = p.dev.WriteReg(RegMode1, []byte{0x01})
	if err != nil {
		return
	}
	// Required delay after reset.
	p.sleep(1 * time.Millisecond)
	// Enable.
	err = p.dev.WriteReg(RegMode1, []byte{0x81})
	return
}

// SetPWM sets the fraction of each period a port is on, clamped to [0, 1].
func (p *PCA9685) SetPWM(port int, value float64) error {
	if port < 0 || port >= NumPorts {
		return errors.Errorf("pwm port %d out of range", port)
	}
	if value < 0 {
		value = 0
	} else if value > 1 {
		value = 1
	}

	pwmValue := uint16(math.Round(PWMMax * value))
	addr := RegLEDBase + port*4

	return p.dev.WriteReg(byte(addr), []byte{0, 0, byte(pwmValue & 0xff), byte(pwmValue >> 8)})
}

func (p *PCA9685) Close() error {
	return p.dev.Close()
}

// Motors drives one port per wheel.
type Motors struct {
	chip  *PCA9685
	ports wheel.PerWheel[int]
}

var _ hw.Actuator = (*Motors)(nil)

func NewMotors(chip *PCA9685, ports wheel.PerWheel[int]) (*Motors, error) {
	for _, w := range wheel.All {
		if ports[w] < 0 || ports[w] >= NumPorts {
			return nil, errors.Errorf("%v motor port %d out of range", w, ports[w])
		}
	}
	if ports[wheel.Left] == ports[wheel.Right] {
		return nil, errors.Errorf("both motors on port %d", ports[wheel.Left])
	}
	return &Motors{chip: chip, ports: ports}, nil
}

func (m *Motors) SetDutyCycle(w wheel.Wheel, percent float64) error {
	if percent < 0 || percent > 100 || math.IsNaN(percent) {
		return errors.Errorf("duty cycle %v outside [0, 100]", percent)
	}
	return m.chip.SetPWM(m.ports[w], percent/100)
}

func (m *Motors) Stop(w wheel.Wheel) error {
	return m.chip.SetPWM(m.ports[w], 0)
}

// Close stops both motors and releases the device.
func (m *Motors) Close() error {
	var err error
	for _, w := range wheel.All {
		err = multierr.Append(err, m.Stop(w))
	}
	return multierr.Append(err, m.chip.Close())
}
