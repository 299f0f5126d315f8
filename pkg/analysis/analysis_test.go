package analysis

import (
	"fmt"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/control"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/datalog"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

func TestSummarize(t *testing.T) {
	samples := []control.Sample{
		{Time: 500 * time.Millisecond, RPM: wheel.PerWheel[float64]{0, 0}, Duty: wheel.Both(100.0), Setpoint: 80},
		{Time: time.Second, RPM: wheel.PerWheel[float64]{70, 90}, Duty: wheel.PerWheel[float64]{60, 40}, Setpoint: 80},
		{Time: 2 * time.Second, RPM: wheel.PerWheel[float64]{90, 80}, Duty: wheel.PerWheel[float64]{40, 50}, Setpoint: 80},
	}
	sum, err := Summarize(samples, time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sum.Samples, test.ShouldEqual, 2)

	l := sum.Wheels.Left()
	test.That(t, l.MeanRPM, test.ShouldEqual, 80)
	test.That(t, l.StdDevRPM, test.ShouldEqual, 10)
	test.That(t, l.MinRPM, test.ShouldEqual, 70)
	test.That(t, l.MaxRPM, test.ShouldEqual, 90)
	test.That(t, l.MeanAbsError, test.ShouldEqual, 10)
	test.That(t, l.MeanDuty, test.ShouldEqual, 50)

	r := sum.Wheels.Right()
	test.That(t, r.MeanRPM, test.ShouldEqual, 85)
	test.That(t, r.MeanAbsError, test.ShouldEqual, 5)
	test.That(t, r.MeanDuty, test.ShouldEqual, 45)

	_, err = Summarize(samples, time.Minute)
	test.That(t, err, test.ShouldNotBeNil)
}

// sweepRows builds a sweep log where each wheel settles at gain*(power-dead)
// after the first second of each trial.
func sweepRows(levels []float64, trials int) []datalog.Row {
	var rows []datalog.Row
	now := 0.0
	for _, p := range levels {
		for trial := 1; trial <= trials; trial++ {
			for i := 0; i < 20; i++ {
				var rpm wheel.PerWheel[float64]
				if i >= 10 {
					rpm = wheel.PerWheel[float64]{1.2 * (p - 5), 1.1 * (p - 10)}
					// Noise that cancels between trials.
					if trial%2 == 0 {
						rpm[wheel.Left] += 1
					} else {
						rpm[wheel.Left] -= 1
					}
				}
				rows = append(rows, datalog.Row{
					Time:  now,
					Power: wheel.Both(p),
					RPM:   rpm,
					Extra: map[string]string{
						TrialColumn: fmt.Sprint(trial),
						LevelColumn: fmt.Sprint(p),
					},
				})
				now += 0.1
			}
		}
	}
	return rows
}

func TestAnalyzeSweep(t *testing.T) {
	res, err := AnalyzeSweep(sweepRows([]float64{60, 20, 40}, 2), 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(res.Levels), test.ShouldEqual, 3)
	test.That(t, res.Levels[0].Power, test.ShouldEqual, 20)
	test.That(t, res.Levels[2].Power, test.ShouldEqual, 60)
	test.That(t, res.Levels[0].Trials, test.ShouldEqual, 2)
	test.That(t, res.Levels[0].RPM.Left(), test.ShouldAlmostEqual, 18)
	test.That(t, res.Levels[0].Spread.Left(), test.ShouldAlmostEqual, 1)
	test.That(t, res.Levels[0].Spread.Right(), test.ShouldAlmostEqual, 0)

	left := res.Fits.Left()
	test.That(t, left.Gain, test.ShouldAlmostEqual, 1.2)
	test.That(t, left.Deadband, test.ShouldAlmostEqual, 5)
	test.That(t, left.RSquared, test.ShouldAlmostEqual, 1)
	right := res.Fits.Right()
	test.That(t, right.Gain, test.ShouldAlmostEqual, 1.1)
	test.That(t, right.Intercept, test.ShouldAlmostEqual, -11)
	test.That(t, right.Deadband, test.ShouldAlmostEqual, 10)
}

func TestAnalyzeSweepErrors(t *testing.T) {
	_, err := AnalyzeSweep([]datalog.Row{{Extra: map[string]string{}}}, 0)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = AnalyzeSweep([]datalog.Row{{Extra: map[string]string{LevelColumn: "high"}}}, 0)
	test.That(t, err, test.ShouldNotBeNil)

	// One level cannot give a line.
	_, err = AnalyzeSweep(sweepRows([]float64{50}, 3), 1)
	test.That(t, err, test.ShouldNotBeNil)

	// Nothing settles.
	_, err = AnalyzeSweep(sweepRows([]float64{50, 60}, 1), 100)
	test.That(t, err, test.ShouldNotBeNil)
}
