package main

import (
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gonum.org/v1/plot"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/analysis"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/chart"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/config"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/control"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/datalog"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/fopdt"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

func (e *env) runAction(c *cli.Context) (err error) {
	s, err := e.openSession(c, func(cfg *config.Config) {
		if c.IsSet(flagSetpoint) {
			cfg.Controller.Setpoint = c.Float64(flagSetpoint)
		}
		if c.IsSet(flagDuration) {
			cfg.Loop.Duration = c.Duration(flagDuration)
		}
	})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()

	cfgs, err := s.cfg.Controller.PIDConfigs()
	if err != nil {
		return err
	}
	for _, w := range wheel.All {
		s.log.Infow("controller", "wheel", w, "gains", cfgs[w].Gains, "setpoint", cfgs[w].Setpoint)
	}
	pair, err := control.NewPIDPairFromConfigs(cfgs)
	if err != nil {
		return err
	}

	out, err := s.openOutputs(e.ctx, "run")
	if err != nil {
		return err
	}
	_, runErr := s.drive(e.ctx, pair, s.cfg.Loop.Duration, out.recorders)
	if err := multierr.Append(runErr, out.Close()); err != nil {
		return err
	}

	sum, err := analysis.Summarize(out.samples.Samples(), c.Duration(flagSettle))
	if err != nil {
		s.log.Warnw("no summary", "error", err)
	} else {
		writeSummary(c.App.Writer, sum)
	}
	return s.plotLog(out.path)
}

func (e *env) stepAction(c *cli.Context) (err error) {
	s, err := e.openSession(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()

	sched, err := control.NewSchedule(s.cfg.Step.Steps...)
	if err != nil {
		return err
	}
	for _, st := range sched.Steps() {
		s.log.Infow("step schedule", "at", st.At, "duty", st.Duty)
	}
	out, err := s.openOutputs(e.ctx, "step")
	if err != nil {
		return err
	}
	_, runErr := s.drive(e.ctx, sched, s.cfg.Step.Duration, out.recorders)
	if err := multierr.Append(runErr, out.Close()); err != nil {
		return err
	}

	rows, err := datalog.ReadFile(out.path)
	if err != nil {
		return err
	}
	if err := identifyRows(c, rows, c.Float64(flagTail)); err != nil {
		s.log.Warnw("could not identify a model", "error", err)
	}
	return s.plotLog(out.path)
}

func (e *env) sweepAction(c *cli.Context) (err error) {
	s, err := e.openSession(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()

	out, err := s.openOutputs(e.ctx, "sweep", analysis.TrialColumn, analysis.LevelColumn)
	if err != nil {
		return err
	}
	sw := s.cfg.Sweep
	runErr := func() error {
		for trial := 1; trial <= sw.Trials; trial++ {
			for _, level := range sw.Levels {
				s.log.Infow("sweep trial", "trial", trial, "power", level)
				if err := out.csv.SetExtra(strconv.Itoa(trial), strconv.FormatFloat(level, 'g', -1, 64)); err != nil {
					return err
				}
				sched, err := control.NewSchedule(control.ScheduleStep{Duty: level})
				if err != nil {
					return err
				}
				if _, err := s.drive(e.ctx, sched, sw.TrialDuration, out.recorders); err != nil {
					return err
				}
				if err := s.rest(e.ctx, sw.Rest); err != nil {
					return err
				}
			}
		}
		return nil
	}()
	if err := multierr.Append(runErr, out.Close()); err != nil {
		return err
	}

	rows, err := datalog.ReadFile(out.path)
	if err != nil {
		return err
	}
	res, err := analysis.AnalyzeSweep(rows, c.Duration(flagSettle).Seconds())
	if err != nil {
		return err
	}
	writeSweep(c.App.Writer, res)
	return s.plotLog(out.path)
}

func (e *env) tuneAction(c *cli.Context) error {
	cfg, err := e.loadConfig(c)
	if err != nil {
		return err
	}
	writeTuning(c.App.Writer, cfg.Controller.Models.PerWheel())
	return nil
}

func (e *env) identifyAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("identify needs exactly one log")
	}
	rows, err := datalog.ReadFile(c.Args().First())
	if err != nil {
		return err
	}
	return identifyRows(c, rows, c.Float64(flagTail))
}

func (e *env) plotAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("plot needs at least one log")
	}
	if c.IsSet(flagOut) && c.NArg() > 1 {
		return errors.New("--out needs a single log")
	}
	var err error
	for _, path := range c.Args().Slice() {
		dest := c.String(flagOut)
		if dest == "" {
			dest = pngPath(path)
		}
		if perr := plotFile(path, dest); perr != nil {
			err = multierr.Append(err, errors.Wrap(perr, path))
			continue
		}
		e.log.Infow("chart written", "log", path, "chart", dest)
	}
	return err
}

// identifyRows fits a model per wheel to the last duty step in rows and
// prints it with the gains it gives.
func identifyRows(c *cli.Context, rows []datalog.Row, tail float64) error {
	var models wheel.PerWheel[fopdt.Model]
	for _, w := range wheel.All {
		t, speed, power := datalog.Series(rows, w)
		step, from, err := lastStep(t, power)
		if err != nil {
			return errors.Wrapf(err, "%v wheel", w)
		}
		var pts []fopdt.Point
		for i := range t {
			if t[i] >= from {
				pts = append(pts, fopdt.Point{Time: t[i], Output: speed[i]})
			}
		}
		models[w], err = fopdt.Identify(pts, step, tail)
		if err != nil {
			return errors.Wrapf(err, "%v wheel", w)
		}
	}
	writeModels(c.App.Writer, models)
	writeTuning(c.App.Writer, models)
	return nil
}

// lastStep finds the last change of the power column.  Points from halfway
// through the previous level onwards are used, so the baseline is settled.
func lastStep(t, power []float64) (step fopdt.Step, from float64, err error) {
	last := -1
	for i := 1; i < len(power); i++ {
		if power[i] != power[i-1] {
			last = i
		}
	}
	switch {
	case last > 0:
	case len(power) > 0 && power[0] != 0:
		// Stepped from rest at the first sample.
		return fopdt.Step{At: 0, From: 0, To: power[0]}, math.Inf(-1), nil
	default:
		return step, 0, errors.New("log has no power step")
	}
	prev := 0
	for i := last - 1; i > 0; i-- {
		if power[i] != power[i-1] {
			prev = i
			break
		}
	}
	step = fopdt.Step{At: t[last], From: power[last-1], To: power[last]}
	return step, t[prev] + (t[last]-t[prev])/2, nil
}

func (s *session) plotLog(path string) error {
	if !s.cfg.Output.Plot {
		return nil
	}
	dest := pngPath(path)
	if err := plotFile(path, dest); err != nil {
		return err
	}
	s.log.Infow("chart written", "chart", dest)
	return nil
}

func pngPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".png"
}

// plotFile charts the log at path: speed and power for a single run, one
// speed chart per wheel for a sweep.
func plotFile(path, dest string) error {
	rows, err := datalog.ReadFile(path)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errors.Errorf("%s has no samples", path)
	}
	var plots []*plot.Plot
	if _, ok := rows[0].Extra[analysis.LevelColumn]; ok {
		for _, w := range wheel.All {
			p, err := chart.Sweep(rows, w)
			if err != nil {
				return err
			}
			plots = append(plots, p)
		}
	} else {
		title := filepath.Base(path)
		speed, err := chart.Speed(rows, title)
		if err != nil {
			return err
		}
		power, err := chart.Power(rows, title)
		if err != nil {
			return err
		}
		plots = append(plots, speed, power)
	}
	return chart.SavePNG(dest, plots...)
}
