package pid

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

const sample = 100 * time.Millisecond

func newController(t *testing.T, g Gains, bias, setpoint float64) *Controller {
	t.Helper()
	c, err := New(Config{Gains: g, Bias: bias, Setpoint: setpoint, MinOutput: 0, MaxOutput: 100})
	test.That(t, err, test.ShouldBeNil)
	c.Seed(0)
	return c
}

func TestAtSetpointOutputsBias(t *testing.T) {
	c := newController(t, Gains{Kc: 1}, 40, 80)
	out, err := c.Update(sample, 80)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, 40)
	test.That(t, c.Terms(), test.ShouldResemble, Terms{})
}

func TestLargeErrorSaturates(t *testing.T) {
	c := newController(t, Gains{Kc: 1}, 40, 80)
	out, err := c.Update(sample, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Terms().P, test.ShouldEqual, 80)
	test.That(t, out, test.ShouldEqual, 100)

	// Far above the setpoint the output bottoms out.
	out, err = c.Update(2*sample, 500)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, 0)
}

func TestOutputAlwaysClamped(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := newController(t, Gains{Kc: 3.7, Ti: 0.4, Td: 0.2}, 40, 80)
	now := time.Duration(0)
	for i := 0; i < 5000; i++ {
		now += time.Duration(1+rng.Intn(200)) * time.Millisecond
		out, err := c.Update(now, rng.Float64()*400-100)
		test.That(t, err, test.ShouldBeNil)
		if out < 0 || out > 100 {
			t.Fatalf("output %v out of range at step %d", out, i)
		}
	}
}

func TestZeroTiNeverIntegrates(t *testing.T) {
	c := newController(t, Gains{Kc: 2, Ti: 0, Td: 0.1}, 40, 80)
	now := time.Duration(0)
	for _, m := range []float64{0, 10, 200, 79, 80, -50} {
		now += sample
		_, err := c.Update(now, m)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, c.Integral(), test.ShouldEqual, 0)
		test.That(t, c.Terms().I, test.ShouldEqual, 0)
	}
}

func TestIntegralAccumulates(t *testing.T) {
	c := newController(t, Gains{Kc: 0.5, Ti: 2}, 0, 10)
	_, err := c.Update(sample, 6)
	test.That(t, err, test.ShouldBeNil)
	// P = 0.5*4, I = 0.5*4*0.1/2
	test.That(t, c.Terms().P, test.ShouldAlmostEqual, 2)
	test.That(t, c.Integral(), test.ShouldAlmostEqual, 0.1)
	test.That(t, c.Output(), test.ShouldAlmostEqual, 2.1)

	_, err = c.Update(2*sample, 6)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Integral(), test.ShouldAlmostEqual, 0.2)
}

func TestDerivativeUsesErrorChange(t *testing.T) {
	c := newController(t, Gains{Kc: 1, Td: 0.5}, 50, 80)
	_, err := c.Update(sample, 80)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Terms().D, test.ShouldEqual, 0)

	// Error jumps from 0 to 10 in 0.1s: D = 1 * 0.5 * 10 / 0.1.
	_, err = c.Update(2*sample, 70)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Terms().D, test.ShouldAlmostEqual, 50)
}

func TestSteadyStatePlateausAtBiasPlusIntegral(t *testing.T) {
	c := newController(t, Gains{Kc: 1, Ti: 1, Td: 0.1}, 40, 80)
	now := time.Duration(0)
	// Build up some integral below the setpoint, then sit exactly on it.
	for i := 0; i < 5; i++ {
		now += sample
		_, err := c.Update(now, 75)
		test.That(t, err, test.ShouldBeNil)
	}
	integral := c.Integral()
	test.That(t, integral, test.ShouldBeGreaterThan, 0)
	var out float64
	for i := 0; i < 10; i++ {
		now += sample
		var err error
		out, err = c.Update(now, 80)
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, c.Terms().P, test.ShouldEqual, 0)
	test.That(t, c.Terms().D, test.ShouldEqual, 0)
	test.That(t, c.Integral(), test.ShouldEqual, integral)
	test.That(t, out, test.ShouldAlmostEqual, 40+integral)
}

func TestDegenerateIntervalKeepsState(t *testing.T) {
	c := newController(t, Gains{Kc: 1, Ti: 1, Td: 1}, 40, 80)
	before, err := c.Update(sample, 70)
	test.That(t, err, test.ShouldBeNil)
	integral := c.Integral()

	out, err := c.Update(sample, 0)
	test.That(t, errors.Is(err, ErrDegenerateInterval), test.ShouldBeTrue)
	test.That(t, out, test.ShouldEqual, before)
	test.That(t, c.Integral(), test.ShouldEqual, integral)
	test.That(t, math.IsInf(out, 0) || math.IsNaN(out), test.ShouldBeFalse)
}

func TestFreshOutputIsBias(t *testing.T) {
	c, err := New(Config{Gains: Gains{Kc: 1}, Bias: 40, MinOutput: 0, MaxOutput: 100})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Output(), test.ShouldEqual, 40)

	// Seeding is what protects the first update: without it the interval is
	// measured from zero.
	c.Seed(5 * time.Second)
	_, err = c.Update(5*time.Second, 0)
	test.That(t, errors.Is(err, ErrDegenerateInterval), test.ShouldBeTrue)
}

func TestNewValidates(t *testing.T) {
	for _, cfg := range []Config{
		{Gains: Gains{Ti: -1}, MaxOutput: 100},
		{Gains: Gains{Td: -1}, MaxOutput: 100},
		{MinOutput: 100, MaxOutput: 0},
	} {
		_, err := New(cfg)
		test.That(t, err, test.ShouldNotBeNil)
	}
}
