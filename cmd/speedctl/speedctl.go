// speedctl drives both wheels at a commanded speed with one PID controller
// per wheel, and runs the open-loop tests used to tune them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edaniels/golog"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	flagConfig  = "config"
	flagSim     = "sim"
	flagDebug   = "debug"
	flagLogFile = "log-file"

	flagSetpoint = "setpoint"
	flagDuration = "duration"
	flagSettle   = "settle"
	flagTail     = "tail"
	flagOut      = "out"

	// How long a signalled run gets to stop the motors before exiting.
	shutdownGrace = 2 * time.Second
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "speedctl:", err)
		os.Exit(1)
	}
}

// env is the state shared by every command.
type env struct {
	log        golog.Logger
	ctx        context.Context
	stop       func()
	rotatedLog *lumberjack.Logger
}

func newApp() *cli.App {
	e := &env{}
	return &cli.App{
		Name:  "speedctl",
		Usage: "closed-loop wheel speed control and motor calibration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   "speed.yaml",
				Usage:   "load configuration from `FILE`; the configuration used is written next to it",
			},
			&cli.BoolFlag{
				Name:  flagSim,
				Usage: "use the simulated drive train instead of the configured hardware",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write JSON logs to `FILE`, rotated",
			},
		},
		Before: e.before,
		After:  e.after,
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "hold both wheels at the setpoint with the PID controllers",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: flagSetpoint, Usage: "override the setpoint in RPM"},
					&cli.DurationFlag{Name: flagDuration, Usage: "override the run duration"},
					&cli.DurationFlag{Name: flagSettle, Value: 10 * time.Second, Usage: "ignore samples before this in the summary"},
				},
				Action: e.runAction,
			},
			{
				Name:  "step",
				Usage: "apply the configured open-loop duty steps and fit a process model to the response",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: flagTail, Value: 0.25, Usage: "fraction of the response averaged for the final value"},
				},
				Action: e.stepAction,
			},
			{
				Name:  "sweep",
				Usage: "measure the steady-state speed at each configured power level",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: flagSettle, Value: 5 * time.Second, Usage: "ignore the start of each trial"},
				},
				Action: e.sweepAction,
			},
			{
				Name:   "tune",
				Usage:  "print the controller gains each tuning rule gives for the configured models",
				Action: e.tuneAction,
			},
			{
				Name:      "identify",
				Usage:     "fit a process model to the last duty step in a step test log",
				ArgsUsage: "LOG",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: flagTail, Value: 0.25, Usage: "fraction of the response averaged for the final value"},
				},
				Action: e.identifyAction,
			},
			{
				Name:      "plot",
				Usage:     "render speed and power charts of logs",
				ArgsUsage: "LOG...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagOut, Usage: "write the chart to `FILE` (single log only)"},
				},
				Action: e.plotAction,
			},
		},
	}
}

func (e *env) before(c *cli.Context) error {
	e.log = e.newLogger(c.Bool(flagDebug), c.String(flagLogFile))
	ctx, cancel := context.WithCancel(c.Context)
	e.ctx = ctx
	stopSignals := registerSignalHandlers(e.log, cancel)
	e.stop = func() {
		stopSignals()
		cancel()
	}
	return nil
}

func (e *env) after(c *cli.Context) error {
	if e.stop != nil {
		e.stop()
	}
	if e.log != nil {
		_ = e.log.Sync()
	}
	if e.rotatedLog != nil {
		return e.rotatedLog.Close()
	}
	return nil
}

// newLogger returns the console logger, teed into a rotated JSON file when
// logFile is set.
func (e *env) newLogger(debug bool, logFile string) golog.Logger {
	logger := golog.NewDevelopmentLogger("speedctl")
	level := zapcore.InfoLevel
	if debug {
		logger = golog.NewDebugLogger("speedctl")
		level = zapcore.DebugLevel
	}
	if logFile == "" {
		return logger
	}

	e.rotatedLog = &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		Compress:   true,
	}
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(e.rotatedLog),
		level,
	)
	l := logger.Desugar()
	l = l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	return l.Sugar()
}

// registerSignalHandlers cancels the run on SIGINT or SIGTERM.  If the run
// has not returned shutdownGrace later, the process exits anyway.
func registerSignalHandlers(log golog.Logger, cancelFunc context.CancelFunc) (stop func()) {
	signals := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case sig := <-signals:
			log.Infow("signal received, stopping", "signal", sig)
			cancelFunc()
		case <-done:
			return
		}
		select {
		case <-done:
		case <-time.After(shutdownGrace):
			log.Warn("run did not stop in time, exiting")
			os.Exit(1)
		}
	}()
	return func() {
		signal.Stop(signals)
		close(done)
	}
}
