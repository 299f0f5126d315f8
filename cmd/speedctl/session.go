package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/config"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/control"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/datalog"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/encoder"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/rpm"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/screen"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/simulator"
)

// loadConfig loads the configuration named on the command line, applies
// the command's overrides and records what will be used.
func (e *env) loadConfig(c *cli.Context, overrides ...func(*config.Config)) (config.Config, error) {
	path := c.String(flagConfig)
	cfg, err := config.Load(e.log, path)
	if err != nil {
		return cfg, err
	}
	if c.Bool(flagSim) {
		cfg.Hardware.Backend = config.BackendSimulator
	}
	for _, o := range overrides {
		o(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if path != "" {
		if err := config.WriteInUse(cfg, path); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// session is one command's use of the drive train.
type session struct {
	log golog.Logger
	cfg config.Config
	clk clock.Clock
	// mock is set when the simulator runs on simulated time.
	mock *clock.Mock
	hw   *hardware.Hardware
}

func (e *env) openSession(c *cli.Context, overrides ...func(*config.Config)) (*session, error) {
	cfg, err := e.loadConfig(c, overrides...)
	if err != nil {
		return nil, err
	}
	s := &session{log: e.log, cfg: cfg, clk: clock.New()}
	if cfg.Hardware.Backend == config.BackendSimulator && cfg.Simulator.TimeStep > 0 {
		s.mock = clock.NewMock()
		s.clk = s.mock
	}
	s.hw, err = hardware.New(e.log, cfg, s.clk)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Close stops the motors and releases the hardware.
func (s *session) Close() error {
	s.log.Info("zeroing motors for shut down")
	return s.hw.Shutdown()
}

func (s *session) pacer() control.Pacer {
	switch {
	case s.mock != nil:
		return &simulator.Pacer{Clock: s.mock, Step: s.cfg.Simulator.TimeStep}
	case s.cfg.Loop.Pacer == config.PacerSleep:
		return &control.SleepPacer{Clock: s.clk, Interval: s.cfg.Loop.PollInterval}
	}
	return control.BusyWait{}
}

// drive runs one loop of the given duration with a fresh encoder counter
// and speed estimate.
func (s *session) drive(ctx context.Context, cmd control.Commander, duration time.Duration, rec control.Recorder) (control.Report, error) {
	level, err := s.cfg.Encoder.Level()
	if err != nil {
		return control.Report{}, err
	}
	counter, err := encoder.NewCounter(s.hw, s.cfg.Encoder.WindowSize, level)
	if err != nil {
		return control.Report{}, err
	}
	if s.cfg.Encoder.PrimeFromSensor {
		if err := counter.PrimeFromSensor(); err != nil {
			return control.Report{}, err
		}
	}
	est, err := rpm.NewEstimator(counter, s.cfg.Estimator.TicksPerRev, s.cfg.Estimator.FilterSize)
	if err != nil {
		return control.Report{}, err
	}
	timing := s.cfg.Loop.Timing()
	timing.Duration = duration
	loop, err := control.NewLoop(s.log, timing, control.Components{
		Clock:     s.clk,
		Counter:   counter,
		Estimator: est,
		Odometer:  rpm.NewOdometer(counter, s.cfg.Estimator.TicksPerRev, s.cfg.Chassis.WheelDiameter),
		Commander: cmd,
		Actuator:  s.hw,
		Recorder:  rec,
		Pacer:     s.pacer(),
	})
	if err != nil {
		return control.Report{}, err
	}
	report, err := loop.Run(ctx)
	s.log.Infow("loop report",
		"samples", report.Samples,
		"skipped", report.Skipped,
		"polls", report.Polls,
		"elapsed", report.Elapsed,
		"distance_l", report.Last.Distance.Left(),
		"distance_r", report.Last.Distance.Right(),
	)
	return report, err
}

// rest keeps the motors stopped for d.
func (s *session) rest(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if s.mock != nil {
		s.mock.Add(d)
		return ctx.Err()
	}
	t := s.clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// outputs are the recorders attached to a run: the CSV log, the console,
// an in-memory copy and optionally the screen.
type outputs struct {
	path      string
	csv       *datalog.CSVRecorder
	samples   *control.SampleBuffer
	recorders control.Recorders

	stopScreen context.CancelFunc
	screenDone chan error
}

func (s *session) openOutputs(ctx context.Context, kind string, extraColumns ...string) (*outputs, error) {
	name := fmt.Sprintf("%s-%s.csv", kind, time.Now().Format("20060102-150405"))
	o := &outputs{
		path:    filepath.Join(s.cfg.Output.Dir, name),
		samples: &control.SampleBuffer{},
	}
	var err error
	o.csv, err = datalog.Create(o.path, extraColumns...)
	if err != nil {
		return nil, err
	}
	o.recorders = control.Recorders{o.csv, o.samples, control.LogRecorder{Logger: s.log}}

	if sc := s.cfg.Screen; sc.Enabled {
		scr, err := screen.New(s.log, sc.Width, sc.Height)
		if err != nil {
			return nil, multierr.Append(err, o.csv.Close())
		}
		o.recorders = append(o.recorders, scr)
		screenCtx, cancel := context.WithCancel(ctx)
		o.stopScreen = cancel
		o.screenDone = make(chan error, 1)
		go func() {
			o.screenDone <- scr.Loop(screenCtx, clock.New(), sc.Device, sc.Interval)
		}()
	}
	s.log.Infow("logging samples", "path", o.path)
	return o, nil
}

func (o *outputs) Close() error {
	err := o.csv.Close()
	if o.stopScreen != nil {
		o.stopScreen()
		err = multierr.Append(err, errors.Wrap(<-o.screenDone, "screen"))
	}
	return err
}
