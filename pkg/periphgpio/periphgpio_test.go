package periphgpio

import (
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/hw"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

// noPWMPin is a pin without hardware PWM.
type noPWMPin struct {
	*gpiotest.Pin
}

func (p noPWMPin) PWM(gpio.Duty, physic.Frequency) error {
	return errors.New("pwm not supported")
}

// haltedPin records whether it was halted.
type haltedPin struct {
	gpio.PinIO
	mu     sync.Mutex
	halted bool
}

func (p *haltedPin) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.halted = true
	return p.PinIO.Halt()
}

func (p *haltedPin) wasHalted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

func register(t *testing.T, p gpio.PinIO) {
	t.Helper()
	test.That(t, gpioreg.Register(p), test.ShouldBeNil)
	t.Cleanup(func() { _ = gpioreg.Unregister(p.Name()) })
}

func TestInputs(t *testing.T) {
	left := &gpiotest.Pin{N: "TEST_ENC_L", Num: 901}
	right := &gpiotest.Pin{N: "TEST_ENC_R", Num: 902}
	register(t, left)
	register(t, right)

	in, err := OpenInputs(wheel.PerWheel[string]{"TEST_ENC_L", "TEST_ENC_R"})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, right.Out(gpio.High), test.ShouldBeNil)
	l, err := in.ReadLevel(wheel.Left)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l, test.ShouldEqual, hw.Low)
	l, err = in.ReadLevel(wheel.Right)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l, test.ShouldEqual, hw.High)
	test.That(t, in.Close(), test.ShouldBeNil)

	_, err = OpenInputs(wheel.PerWheel[string]{"TEST_ENC_L", "NO_SUCH_PIN"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOutputsHardwarePWM(t *testing.T) {
	left := &gpiotest.Pin{N: "TEST_MOT_L", Num: 911}
	right := &gpiotest.Pin{N: "TEST_MOT_R", Num: 912}
	register(t, left)
	register(t, right)

	out, err := OpenOutputs(golog.NewTestLogger(t), wheel.PerWheel[string]{"TEST_MOT_L", "TEST_MOT_R"}, 100)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, out.SetDutyCycle(wheel.Left, 25), test.ShouldBeNil)
	left.Lock()
	test.That(t, left.D, test.ShouldEqual, gpio.DutyMax/4)
	test.That(t, left.F, test.ShouldEqual, 100*physic.Hertz)
	left.Unlock()

	test.That(t, out.SetDutyCycle(wheel.Right, 101), test.ShouldNotBeNil)
	test.That(t, out.Stop(wheel.Left), test.ShouldBeNil)
	test.That(t, left.Read(), test.ShouldEqual, gpio.Low)
	test.That(t, out.Close(), test.ShouldBeNil)

	_, err = OpenOutputs(golog.NewTestLogger(t), wheel.PerWheel[string]{"TEST_MOT_L", "TEST_MOT_R"}, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOutputsSoftwarePWM(t *testing.T) {
	left := noPWMPin{&gpiotest.Pin{N: "TEST_SOFT_L", Num: 921}}
	right := noPWMPin{&gpiotest.Pin{N: "TEST_SOFT_R", Num: 922}}
	register(t, left)
	register(t, right)

	out, err := OpenOutputs(golog.NewTestLogger(t), wheel.PerWheel[string]{"TEST_SOFT_L", "TEST_SOFT_R"}, 1000)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.soft[wheel.Left], test.ShouldNotBeNil)

	test.That(t, out.SetDutyCycle(wheel.Left, 100), test.ShouldBeNil)
	test.That(t, left.Read(), test.ShouldEqual, gpio.High)

	// The generator toggles the pin in the background.
	test.That(t, out.SetDutyCycle(wheel.Right, 50), test.ShouldBeNil)
	sawHigh, sawLow := false, false
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !(sawHigh && sawLow) {
		if right.Read() == gpio.High {
			sawHigh = true
		} else {
			sawLow = true
		}
		time.Sleep(50 * time.Microsecond)
	}
	test.That(t, sawHigh, test.ShouldBeTrue)
	test.That(t, sawLow, test.ShouldBeTrue)

	test.That(t, out.Close(), test.ShouldBeNil)
	test.That(t, left.Read(), test.ShouldEqual, gpio.Low)
	test.That(t, right.Read(), test.ShouldEqual, gpio.Low)
}

func TestOpenInputsReleasesPinsOnError(t *testing.T) {
	left := &haltedPin{PinIO: &gpiotest.Pin{N: "TEST_ENC_HALT_L", Num: 931}}
	register(t, left)

	_, err := OpenInputs(wheel.PerWheel[string]{"TEST_ENC_HALT_L", "NO_SUCH_PIN"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "right encoder")
	test.That(t, left.wasHalted(), test.ShouldBeTrue)
}

func TestOpenOutputsReleasesPinsOnError(t *testing.T) {
	left := &haltedPin{PinIO: noPWMPin{&gpiotest.Pin{N: "TEST_MOT_HALT_L", Num: 941}}}
	register(t, left)

	_, err := OpenOutputs(golog.NewTestLogger(t), wheel.PerWheel[string]{"TEST_MOT_HALT_L", "NO_SUCH_PIN"}, 1000)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "right motor")
	test.That(t, left.wasHalted(), test.ShouldBeTrue)
	test.That(t, left.Read(), test.ShouldEqual, gpio.Low)

	// The left pin is free to be opened again.
	right := noPWMPin{&gpiotest.Pin{N: "TEST_MOT_HALT_R", Num: 942}}
	register(t, right)
	out, err := OpenOutputs(golog.NewTestLogger(t), wheel.PerWheel[string]{"TEST_MOT_HALT_L", "TEST_MOT_HALT_R"}, 1000)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.SetDutyCycle(wheel.Left, 100), test.ShouldBeNil)
	test.That(t, left.Read(), test.ShouldEqual, gpio.High)
	test.That(t, out.Close(), test.ShouldBeNil)
}
