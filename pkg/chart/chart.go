// Package chart renders run logs as PNG charts.
package chart

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/analysis"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/datalog"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

const (
	widthIn  = 8.0
	heightIn = 4.0
	dpi      = 100
)

func newPlot(title, ylabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = ylabel
	p.Legend.Top = true
	p.Add(plotter.NewGrid())
	return p
}

func addLine(p *plot.Plot, name string, idx int, xs, ys []float64) error {
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i].X = xs[i]
		pts[i].Y = ys[i]
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrapf(err, "plotting %s", name)
	}
	l.LineStyle.Width = vg.Points(1.5)
	l.LineStyle.Color = plotutil.Color(idx)
	p.Add(l)
	p.Legend.Add(name, l)
	return nil
}

// Speed plots both wheel speeds against time, with the setpoint when the log
// has a non-zero one.
func Speed(rows []datalog.Row, title string) (*plot.Plot, error) {
	if len(rows) == 0 {
		return nil, errors.New("nothing to plot")
	}
	p := newPlot(title, "speed (RPM)")
	for _, w := range wheel.All {
		t, rpm, _ := datalog.Series(rows, w)
		if err := addLine(p, fmt.Sprintf("%v RPM", w), int(w), t, rpm); err != nil {
			return nil, err
		}
	}
	t := make([]float64, len(rows))
	sp := make([]float64, len(rows))
	hasSetpoint := false
	for i, r := range rows {
		t[i], sp[i] = r.Time, r.Setpoint
		hasSetpoint = hasSetpoint || r.Setpoint != 0
	}
	if hasSetpoint {
		if err := addLine(p, "setpoint", wheel.NumWheels, t, sp); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Power plots both wheel duty cycles against time.
func Power(rows []datalog.Row, title string) (*plot.Plot, error) {
	if len(rows) == 0 {
		return nil, errors.New("nothing to plot")
	}
	p := newPlot(title, "duty (%)")
	p.Y.Min, p.Y.Max = 0, 100
	for _, w := range wheel.All {
		t, _, power := datalog.Series(rows, w)
		if err := addLine(p, fmt.Sprintf("%v power", w), int(w), t, power); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Sweep overlays one wheel's speed for every power level and trial of a
// sweep log, each trial starting at time zero.
func Sweep(rows []datalog.Row, w wheel.Wheel) (*plot.Plot, error) {
	type key struct{ level, trial string }
	groups := map[key][]datalog.Row{}
	var keys []key
	for _, r := range rows {
		k := key{r.Extra[analysis.LevelColumn], r.Extra[analysis.TrialColumn]}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}
	if len(keys) == 0 {
		return nil, errors.New("nothing to plot")
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, _ := strconv.ParseFloat(keys[i].level, 64)
		b, _ := strconv.ParseFloat(keys[j].level, 64)
		return a < b
	})

	p := newPlot(fmt.Sprintf("%v wheel power sweep", w), "speed (RPM)")
	for i, k := range keys {
		g := groups[k]
		t, rpm, _ := datalog.Series(g, w)
		for j := range t {
			t[j] -= g[0].Time
		}
		if err := addLine(p, fmt.Sprintf("%s%% trial %s", k.level, k.trial), i, t, rpm); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// WritePNG renders the plots stacked vertically.
func WritePNG(out io.Writer, plots ...*plot.Plot) error {
	if len(plots) == 0 {
		return errors.New("no plots")
	}
	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn*float64(len(plots)))*vg.Inch),
		vgimg.UseDPI(dpi),
	)
	dc := draw.New(c)
	rows := make([][]*plot.Plot, len(plots))
	for i, p := range plots {
		rows[i] = []*plot.Plot{p}
	}
	canvases := plot.Align(rows, draw.Tiles{Rows: len(plots), Cols: 1, PadY: vg.Points(8)}, dc)
	for i, p := range plots {
		p.Draw(canvases[i][0])
	}

	bw := bufio.NewWriter(out)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return errors.Wrap(err, "writing png")
	}
	return bw.Flush()
}

// SavePNG writes the plots to path, creating its directory if needed.
func SavePNG(path string, plots ...*plot.Plot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating plot directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating plot file")
	}
	if err := WritePNG(f, plots...); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
