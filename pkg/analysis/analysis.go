// Package analysis reduces run logs to the numbers used when tuning.
package analysis

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/control"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/datalog"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

// WheelSummary describes one wheel over the settled part of a run.
type WheelSummary struct {
	MeanRPM   float64
	StdDevRPM float64
	MinRPM    float64
	MaxRPM    float64
	// MeanAbsError is measured against the setpoint of each sample.
	MeanAbsError float64
	MeanDuty     float64
}

type Summary struct {
	Samples int
	Wheels  wheel.PerWheel[WheelSummary]
}

// Summarize describes the samples taken at or after settleAfter.
func Summarize(samples []control.Sample, settleAfter time.Duration) (Summary, error) {
	var (
		rpms, duties, errs wheel.PerWheel[stats.Float64Data]
		n                  int
	)
	for _, s := range samples {
		if s.Time < settleAfter {
			continue
		}
		n++
		for _, w := range wheel.All {
			rpms[w] = append(rpms[w], s.RPM[w])
			duties[w] = append(duties[w], s.Duty[w])
			errs[w] = append(errs[w], math.Abs(s.Setpoint-s.RPM[w]))
		}
	}
	if n == 0 {
		return Summary{}, errors.Errorf("no samples at or after %v", settleAfter)
	}

	sum := Summary{Samples: n}
	for _, w := range wheel.All {
		ws, err := describe(rpms[w])
		if err != nil {
			return Summary{}, errors.Wrapf(err, "%v wheel", w)
		}
		ws.MeanAbsError, _ = errs[w].Mean()
		ws.MeanDuty, _ = duties[w].Mean()
		sum.Wheels[w] = ws
	}
	return sum, nil
}

func describe(data stats.Float64Data) (WheelSummary, error) {
	var (
		ws  WheelSummary
		err error
	)
	if ws.MeanRPM, err = stats.Mean(data); err != nil {
		return ws, err
	}
	if ws.StdDevRPM, err = stats.StandardDeviationPopulation(data); err != nil {
		return ws, err
	}
	if ws.MinRPM, err = stats.Min(data); err != nil {
		return ws, err
	}
	ws.MaxRPM, err = stats.Max(data)
	return ws, err
}

// Sweep log columns.
const (
	TrialColumn = "trial"
	LevelColumn = "power_level"
)

// Level is the steady-state response to one power level, averaged over
// trials.
type Level struct {
	Power  float64
	Trials int
	RPM    wheel.PerWheel[float64]
	// Spread is the standard deviation of the per-trial means.
	Spread wheel.PerWheel[float64]
}

// Fit is a straight line through the steady-state points of one wheel.
type Fit struct {
	// Gain is RPM per percent of duty.
	Gain      float64
	Intercept float64
	// Deadband is the duty at which the line crosses zero RPM.
	Deadband float64
	RSquared float64
}

type SweepResult struct {
	Levels []Level
	Fits   wheel.PerWheel[Fit]
}

type trialKey struct {
	level float64
	trial string
}

// AnalyzeSweep reduces a sweep log.  Rows are grouped by the power level and
// trial columns; within each trial only rows at least settle seconds after the
// trial's first row count toward the steady state.
func AnalyzeSweep(rows []datalog.Row, settle float64) (SweepResult, error) {
	groups := map[trialKey][]datalog.Row{}
	var order []trialKey
	for i, r := range rows {
		lv, ok := r.Extra[LevelColumn]
		if !ok {
			return SweepResult{}, errors.Errorf("row %d has no %s column", i+1, LevelColumn)
		}
		level, err := strconv.ParseFloat(lv, 64)
		if err != nil {
			return SweepResult{}, errors.Wrapf(err, "row %d %s", i+1, LevelColumn)
		}
		k := trialKey{level: level, trial: r.Extra[TrialColumn]}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	trialMeans := map[float64][]wheel.PerWheel[float64]{}
	for _, k := range order {
		g := groups[k]
		start := g[0].Time
		var tail wheel.PerWheel[stats.Float64Data]
		for _, r := range g {
			if r.Time-start < settle {
				continue
			}
			for _, w := range wheel.All {
				tail[w] = append(tail[w], r.RPM[w])
			}
		}
		if len(tail[wheel.Left]) == 0 {
			continue
		}
		var m wheel.PerWheel[float64]
		for _, w := range wheel.All {
			m[w], _ = tail[w].Mean()
		}
		trialMeans[k.level] = append(trialMeans[k.level], m)
	}
	if len(trialMeans) < 2 {
		return SweepResult{}, errors.Errorf("need settled data at two power levels or more, got %d", len(trialMeans))
	}

	var res SweepResult
	for power, means := range trialMeans {
		lvl := Level{Power: power, Trials: len(means)}
		for _, w := range wheel.All {
			vals := make(stats.Float64Data, len(means))
			for i, m := range means {
				vals[i] = m[w]
			}
			lvl.RPM[w], _ = vals.Mean()
			lvl.Spread[w], _ = vals.StandardDeviationPopulation()
		}
		res.Levels = append(res.Levels, lvl)
	}
	sort.Slice(res.Levels, func(i, j int) bool { return res.Levels[i].Power < res.Levels[j].Power })

	xs := make([]float64, len(res.Levels))
	for i, l := range res.Levels {
		xs[i] = l.Power
	}
	for _, w := range wheel.All {
		ys := make([]float64, len(res.Levels))
		for i, l := range res.Levels {
			ys[i] = l.RPM[w]
		}
		res.Fits[w] = fitLine(xs, ys)
	}
	return res, nil
}

func fitLine(xs, ys []float64) Fit {
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	f := Fit{
		Gain:      beta,
		Intercept: alpha,
		RSquared:  stat.RSquared(xs, ys, nil, alpha, beta),
	}
	if beta != 0 {
		f.Deadband = -alpha / beta
	}
	return f
}
