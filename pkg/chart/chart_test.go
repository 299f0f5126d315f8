package chart

import (
	"bytes"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/analysis"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/datalog"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

func runRows() []datalog.Row {
	var rows []datalog.Row
	for i := 0; i < 50; i++ {
		rows = append(rows, datalog.Row{
			Time:     float64(i) * 0.1,
			Power:    wheel.PerWheel[float64]{40 + float64(i%5), 45},
			RPM:      wheel.PerWheel[float64]{float64(i) * 1.5, float64(i)},
			Setpoint: 80,
			Extra: map[string]string{
				analysis.LevelColumn: fmt.Sprint(10 + 10*(i/25)),
				analysis.TrialColumn: "1",
			},
		})
	}
	return rows
}

func TestWritePNG(t *testing.T) {
	rows := runRows()
	speed, err := Speed(rows, "tuning run")
	test.That(t, err, test.ShouldBeNil)
	power, err := Power(rows, "")
	test.That(t, err, test.ShouldBeNil)

	var buf bytes.Buffer
	test.That(t, WritePNG(&buf, speed, power), test.ShouldBeNil)
	img, err := png.Decode(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 800)
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, 800)
}

func TestSweepAndSave(t *testing.T) {
	p, err := Sweep(runRows(), wheel.Left)
	test.That(t, err, test.ShouldBeNil)

	path := filepath.Join(t.TempDir(), "plots", "sweep.png")
	test.That(t, SavePNG(path, p), test.ShouldBeNil)
	fi, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fi.Size(), test.ShouldBeGreaterThan, 0)
}

func TestNothingToPlot(t *testing.T) {
	_, err := Speed(nil, "")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Power(nil, "")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Sweep(nil, wheel.Right)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, WritePNG(&bytes.Buffer{}), test.ShouldNotBeNil)
}
