package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/analysis"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/fopdt"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

func f2(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func f4(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

// newTable returns a writer mirrored to out that prints headers as given.
func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.Style().Format.Header = text.FormatDefault
	return t
}

func writeSummary(out io.Writer, sum analysis.Summary) {
	t := newTable(out)
	t.SetTitle(fmt.Sprintf("%d settled samples", sum.Samples))
	t.AppendHeader(table.Row{"Wheel", "Mean RPM", "Std dev", "Min", "Max", "Mean |error|", "Mean duty %"})
	for _, w := range wheel.All {
		ws := sum.Wheels[w]
		t.AppendRow(table.Row{w, f2(ws.MeanRPM), f2(ws.StdDevRPM), f2(ws.MinRPM), f2(ws.MaxRPM), f2(ws.MeanAbsError), f2(ws.MeanDuty)})
	}
	t.Render()
}

func writeSweep(out io.Writer, res analysis.SweepResult) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Power %", "Trials", "Left RPM", "Left spread", "Right RPM", "Right spread"})
	for _, l := range res.Levels {
		t.AppendRow(table.Row{l.Power, l.Trials,
			f2(l.RPM.Left()), f2(l.Spread.Left()), f2(l.RPM.Right()), f2(l.Spread.Right())})
	}
	t.Render()

	fits := newTable(out)
	fits.AppendHeader(table.Row{"Wheel", "RPM per %", "Intercept", "Deadband %", "R²"})
	for _, w := range wheel.All {
		f := res.Fits[w]
		fits.AppendRow(table.Row{w, f4(f.Gain), f2(f.Intercept), f2(f.Deadband), f4(f.RSquared)})
	}
	fits.Render()
}

func writeModels(out io.Writer, models wheel.PerWheel[fopdt.Model]) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Wheel", "K (RPM per %)", "Tau (s)", "t0 (s)"})
	for _, w := range wheel.All {
		m := models[w]
		t.AppendRow(table.Row{w, f4(m.Gain), f4(m.TimeConstant), f4(m.DeadTime)})
	}
	t.Render()
}

// noGains fills the row of a model the tuning rules cannot use.
const noGains = "n/a (needs t0 > 0)"

// writeTuning prints the gains every tuning rule gives for the models.  A
// rule that cannot tune a model gets an n/a row.
func writeTuning(out io.Writer, models wheel.PerWheel[fopdt.Model]) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Rule", "Wheel", "Kc", "Ti (s)", "Td (s)"})
	for _, rule := range fopdt.Rules {
		for _, w := range wheel.All {
			g, err := models[w].Gains(rule)
			if err != nil {
				reason := noGains
				if models[w].DeadTime > 0 {
					reason = "n/a (" + err.Error() + ")"
				}
				t.AppendRow(table.Row{rule, w, reason, "", ""})
				continue
			}
			t.AppendRow(table.Row{rule, w, f4(g.Kc), f4(g.Ti), f4(g.Td)})
		}
	}
	t.Render()
}
