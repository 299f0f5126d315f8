package pca9685

import (
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

type write struct {
	reg byte
	buf []byte
}

type fakeDevice struct {
	writes []write
	closed bool
}

func (d *fakeDevice) WriteReg(reg byte, buf []byte) error {
	d.writes = append(d.writes, write{reg, append([]byte(nil), buf...)})
	return nil
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

func newFake() (*PCA9685, *fakeDevice) {
	dev := &fakeDevice{}
	p := NewWithDevice(dev)
	p.sleep = func(time.Duration) {}
	return p, dev
}

func TestPrescale(t *testing.T) {
	v, err := Prescale(50)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 0x79)

	v, err = Prescale(100)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 60)

	_, err = Prescale(10)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Prescale(5000)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConfigure(t *testing.T) {
	p, dev := newFake()
	test.That(t, p.Configure(100), test.ShouldBeNil)
	test.That(t, dev.writes, test.ShouldResemble, []write{
		{RegMode1, []byte{0x11}},
		{RegPreScale, []byte{60}},
		{RegMode1, []byte{0x01}},
		{RegMode1, []byte{0x81}},
	})
}

func TestMotors(t *testing.T) {
	p, dev := newFake()
	m, err := NewMotors(p, wheel.PerWheel[int]{2, 3})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, m.SetDutyCycle(wheel.Left, 50), test.ShouldBeNil)
	test.That(t, m.SetDutyCycle(wheel.Right, 100), test.ShouldBeNil)
	test.That(t, m.SetDutyCycle(wheel.Right, 100.1), test.ShouldNotBeNil)
	test.That(t, dev.writes, test.ShouldResemble, []write{
		{RegLEDBase + 8, []byte{0, 0, 0x00, 0x08}},
		{RegLEDBase + 12, []byte{0, 0, 0xff, 0x0f}},
	})

	test.That(t, m.Close(), test.ShouldBeNil)
	test.That(t, dev.writes[2:], test.ShouldResemble, []write{
		{RegLEDBase + 8, []byte{0, 0, 0, 0}},
		{RegLEDBase + 12, []byte{0, 0, 0, 0}},
	})
	test.That(t, dev.closed, test.ShouldBeTrue)

	_, err = NewMotors(p, wheel.PerWheel[int]{1, 1})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewMotors(p, wheel.PerWheel[int]{0, 16})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, p.SetPWM(-1, 0), test.ShouldNotBeNil)
}
