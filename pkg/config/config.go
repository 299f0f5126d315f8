// Package config holds the speed controller configuration.  A YAML file is
// unmarshalled over the defaults, and the configuration actually used is
// written back out next to it.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	yaml "gopkg.in/yaml.v2"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/chassis"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/control"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/fopdt"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/hw"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/pid"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

// Pair is a per-wheel value as it appears in the file.
type Pair[T any] struct {
	Left  T `yaml:"left"`
	Right T `yaml:"right"`
}

func (p Pair[T]) PerWheel() wheel.PerWheel[T] {
	return wheel.PerWheel[T]{p.Left, p.Right}
}

// Hardware backends.
const (
	BackendPeriph    = "periph"
	BackendChardev   = "chardev"
	BackendPCA9685   = "pca9685"
	BackendSimulator = "sim"
	BackendDummy     = "dummy"
)

var Backends = []string{BackendPeriph, BackendChardev, BackendPCA9685, BackendSimulator, BackendDummy}

type Hardware struct {
	Backend string `yaml:"backend"`
	// Pin names as registered with periph, e.g. "GPIO3" for header pin 5.
	InputPins  Pair[string] `yaml:"input_pins"`
	OutputPins Pair[string] `yaml:"output_pins"`
	// Line offsets for the GPIO character device backend.
	Chip        string    `yaml:"chip"`
	InputLines  Pair[int] `yaml:"input_lines"`
	OutputLines Pair[int] `yaml:"output_lines"`
	// PWMFrequency is in Hz.
	PWMFrequency float64 `yaml:"pwm_frequency"`
	// PCA9685 motor outputs; encoders are still read with periph.
	I2CDevice       string    `yaml:"i2c_device"`
	PCA9685Address  int       `yaml:"pca9685_address"`
	PCA9685Channels Pair[int] `yaml:"pca9685_channels"`
}

type Encoder struct {
	WindowSize int `yaml:"window_size"`
	// InitialLevel fills the window before the first read: "low" or "high".
	InitialLevel string `yaml:"initial_level"`
	// PrimeFromSensor fills the window from a first read instead.
	PrimeFromSensor bool `yaml:"prime_from_sensor"`
}

func (e Encoder) Level() (hw.Level, error) {
	switch strings.ToLower(e.InitialLevel) {
	case "", "low", "0":
		return hw.Low, nil
	case "high", "1":
		return hw.High, nil
	}
	return hw.Low, errors.Errorf("initial level must be low or high, got %q", e.InitialLevel)
}

type Estimator struct {
	TicksPerRev float64 `yaml:"ticks_per_rev"`
	FilterSize  int     `yaml:"filter_size"`
}

// Pacers.
const (
	PacerBusy  = "busy"
	PacerSleep = "sleep"
)

type Loop struct {
	SamplePeriod time.Duration `yaml:"sample_period"`
	Duration     time.Duration `yaml:"duration"`
	Pacer        string        `yaml:"pacer"`
	// PollInterval is the sleep between polls with the sleep pacer.
	PollInterval time.Duration `yaml:"poll_interval"`
}

func (l Loop) Timing() control.Timing {
	return control.Timing{SamplePeriod: l.SamplePeriod, Duration: l.Duration}
}

type Controller struct {
	Setpoint   float64 `yaml:"setpoint_rpm"`
	Bias       float64 `yaml:"bias"`
	MinOutput  float64 `yaml:"min_output"`
	MaxOutput  float64 `yaml:"max_output"`
	TuningRule string  `yaml:"tuning_rule"`
	// Models are the identified process models the gains are derived from.
	Models Pair[fopdt.Model] `yaml:"fopdt"`
	// Gains, when set for a wheel, override the derived gains.
	Gains Pair[*pid.Gains] `yaml:"gains,omitempty"`
}

// WheelGains returns the gains for each wheel.
func (c Controller) WheelGains() (wheel.PerWheel[pid.Gains], error) {
	var out wheel.PerWheel[pid.Gains]
	rule, err := fopdt.ParseRule(c.TuningRule)
	if err != nil {
		return out, err
	}
	models := c.Models.PerWheel()
	overrides := c.Gains.PerWheel()
	for _, w := range wheel.All {
		if overrides[w] != nil {
			out[w] = *overrides[w]
			continue
		}
		g, err := models[w].Gains(rule)
		if err != nil {
			return out, errors.Wrapf(err, "%v wheel", w)
		}
		out[w] = g
	}
	return out, nil
}

// PIDConfigs returns the full controller configuration for each wheel.
func (c Controller) PIDConfigs() (wheel.PerWheel[pid.Config], error) {
	var out wheel.PerWheel[pid.Config]
	gains, err := c.WheelGains()
	if err != nil {
		return out, err
	}
	for _, w := range wheel.All {
		out[w] = pid.Config{
			Gains:     gains[w],
			Setpoint:  c.Setpoint,
			Bias:      c.Bias,
			MinOutput: c.MinOutput,
			MaxOutput: c.MaxOutput,
		}
	}
	return out, nil
}

type Chassis struct {
	// WheelDiameter is in metres.
	WheelDiameter float64 `yaml:"wheel_diameter"`
}

// Step is the open-loop step test.
type Step struct {
	Steps    []control.ScheduleStep `yaml:"steps"`
	Duration time.Duration          `yaml:"duration"`
}

// Sweep is the open-loop power sweep.
type Sweep struct {
	Levels        []float64     `yaml:"levels"`
	Trials        int           `yaml:"trials"`
	TrialDuration time.Duration `yaml:"trial_duration"`
	// Rest is how long the motors stay stopped between trials.
	Rest time.Duration `yaml:"rest"`
}

type Output struct {
	Dir string `yaml:"dir"`
	// Plot renders a PNG next to each CSV log.
	Plot bool `yaml:"plot"`
}

type Screen struct {
	Enabled  bool          `yaml:"enabled"`
	Device   string        `yaml:"device"`
	Width    int           `yaml:"width"`
	Height   int           `yaml:"height"`
	Interval time.Duration `yaml:"interval"`
}

type Simulator struct {
	GlitchProbability float64 `yaml:"glitch_probability"`
	Seed              int64   `yaml:"seed"`
	// TimeStep, when set, runs the simulator on a mock clock advanced by
	// this much per poll instead of on the wall clock.
	TimeStep time.Duration `yaml:"time_step"`
}

type Config struct {
	Hardware   Hardware   `yaml:"hardware"`
	Encoder    Encoder    `yaml:"encoder"`
	Estimator  Estimator  `yaml:"estimator"`
	Loop       Loop       `yaml:"loop"`
	Controller Controller `yaml:"controller"`
	Chassis    Chassis    `yaml:"chassis"`
	Step       Step       `yaml:"step"`
	Sweep      Sweep      `yaml:"sweep"`
	Output     Output     `yaml:"output"`
	Screen     Screen     `yaml:"screen"`
	Simulator  Simulator  `yaml:"simulator"`
}

// Default returns the tuned configuration of the robot.
func Default() Config {
	return Config{
		Hardware: Hardware{
			Backend: BackendPeriph,
			// Header pins 5, 3, 21 and 19.
			InputPins:       Pair[string]{"GPIO3", "GPIO2"},
			OutputPins:      Pair[string]{"GPIO9", "GPIO10"},
			Chip:            "gpiochip0",
			InputLines:      Pair[int]{3, 2},
			OutputLines:     Pair[int]{9, 10},
			PWMFrequency:    100,
			I2CDevice:       "/dev/i2c-1",
			PCA9685Address:  0x40,
			PCA9685Channels: Pair[int]{0, 1},
		},
		Encoder: Encoder{
			WindowSize:   4,
			InitialLevel: "low",
		},
		Estimator: Estimator{
			TicksPerRev: chassis.EncoderTicksPerRev,
			FilterSize:  20,
		},
		Loop: Loop{
			SamplePeriod: 100 * time.Millisecond,
			Duration:     40 * time.Second,
			Pacer:        PacerBusy,
			PollInterval: time.Millisecond,
		},
		Controller: Controller{
			Setpoint:   80,
			Bias:       40,
			MinOutput:  0,
			MaxOutput:  100,
			TuningRule: string(fopdt.ITAE),
			Models: Pair[fopdt.Model]{
				Left:  fopdt.Model{Gain: 1.16, TimeConstant: 0.982, DeadTime: 0.346},
				Right: fopdt.Model{Gain: 1.094, TimeConstant: 1.07, DeadTime: 0.171},
			},
		},
		Chassis: Chassis{WheelDiameter: chassis.WheelDiameterM},
		Step: Step{
			Steps: []control.ScheduleStep{
				{At: 0, Duty: 50},
				{At: 10 * time.Second, Duty: 70},
			},
			Duration: 20 * time.Second,
		},
		Sweep: Sweep{
			Levels:        []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			Trials:        3,
			TrialDuration: 10 * time.Second,
		},
		Output: Output{Dir: "logs"},
		Screen: Screen{
			Device:   "/dev/fb1",
			Width:    128,
			Height:   128,
			Interval: 500 * time.Millisecond,
		},
	}
}

// Validate rejects configurations the loop cannot run with.
func (c *Config) Validate() error {
	var err error
	fail := func(format string, args ...interface{}) {
		err = multierr.Append(err, errors.Errorf(format, args...))
	}

	known := false
	for _, b := range Backends {
		known = known || c.Hardware.Backend == b
	}
	if !known {
		fail("hardware.backend must be one of %s, got %q", strings.Join(Backends, ", "), c.Hardware.Backend)
	}
	if c.Hardware.PWMFrequency <= 0 {
		fail("hardware.pwm_frequency must be positive, got %v", c.Hardware.PWMFrequency)
	}

	if c.Encoder.WindowSize < 2 {
		fail("encoder.window_size must be at least 2, got %d", c.Encoder.WindowSize)
	}
	if _, lerr := c.Encoder.Level(); lerr != nil {
		fail("encoder.%v", lerr)
	}
	if c.Estimator.TicksPerRev <= 0 {
		fail("estimator.ticks_per_rev must be positive, got %v", c.Estimator.TicksPerRev)
	}
	if c.Estimator.FilterSize < 1 {
		fail("estimator.filter_size must be at least 1, got %d", c.Estimator.FilterSize)
	}

	if c.Loop.SamplePeriod <= 0 {
		fail("loop.sample_period must be positive, got %v", c.Loop.SamplePeriod)
	}
	if c.Loop.Duration <= 0 {
		fail("loop.duration must be positive, got %v", c.Loop.Duration)
	}
	switch c.Loop.Pacer {
	case PacerBusy:
	case PacerSleep:
		if c.Loop.PollInterval <= 0 {
			fail("loop.poll_interval must be positive with the sleep pacer, got %v", c.Loop.PollInterval)
		}
	default:
		fail("loop.pacer must be %s or %s, got %q", PacerBusy, PacerSleep, c.Loop.Pacer)
	}

	ctl := c.Controller
	if ctl.MinOutput >= ctl.MaxOutput {
		fail("controller output bounds [%v, %v] are empty", ctl.MinOutput, ctl.MaxOutput)
	}
	if ctl.Bias < ctl.MinOutput || ctl.Bias > ctl.MaxOutput {
		fail("controller.bias %v outside [%v, %v]", ctl.Bias, ctl.MinOutput, ctl.MaxOutput)
	}
	if ctl.MinOutput < 0 || ctl.MaxOutput > 100 {
		fail("controller output bounds [%v, %v] exceed the duty cycle range [0, 100]", ctl.MinOutput, ctl.MaxOutput)
	}
	if gains, gerr := ctl.WheelGains(); gerr != nil {
		fail("controller: %v", gerr)
	} else {
		for _, w := range wheel.All {
			if gains[w].Ti < 0 || gains[w].Td < 0 {
				fail("controller %v gains must not have negative times: %v", w, gains[w])
			}
		}
	}

	if c.Chassis.WheelDiameter <= 0 {
		fail("chassis.wheel_diameter must be positive, got %v", c.Chassis.WheelDiameter)
	}
	if _, serr := control.NewSchedule(c.Step.Steps...); serr != nil {
		fail("step: %v", serr)
	}
	if c.Step.Duration <= 0 {
		fail("step.duration must be positive, got %v", c.Step.Duration)
	}
	if len(c.Sweep.Levels) == 0 {
		fail("sweep.levels is empty")
	}
	for _, l := range c.Sweep.Levels {
		if l < 0 || l > 100 {
			fail("sweep level %v outside [0, 100]", l)
		}
	}
	if c.Sweep.Trials < 1 {
		fail("sweep.trials must be at least 1, got %d", c.Sweep.Trials)
	}
	if c.Sweep.TrialDuration <= 0 {
		fail("sweep.trial_duration must be positive, got %v", c.Sweep.TrialDuration)
	}
	if c.Sweep.Rest < 0 {
		fail("sweep.rest must not be negative, got %v", c.Sweep.Rest)
	}
	if c.Screen.Enabled && (c.Screen.Width <= 0 || c.Screen.Height <= 0 || c.Screen.Interval <= 0) {
		fail("screen size and interval must be positive")
	}
	if c.Simulator.GlitchProbability < 0 || c.Simulator.GlitchProbability >= 1 {
		fail("simulator.glitch_probability must be in [0, 1), got %v", c.Simulator.GlitchProbability)
	}
	if c.Simulator.TimeStep < 0 || c.Simulator.TimeStep >= c.Loop.SamplePeriod {
		fail("simulator.time_step must be in [0, sample_period), got %v", c.Simulator.TimeStep)
	}
	return err
}

// Load reads path over the defaults and validates the result.  A missing
// file gives the defaults.
func Load(log golog.Logger, path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Infow("config file not found, using defaults", "path", path)
	case err != nil:
		return cfg, errors.Wrap(err, "reading config")
	default:
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parsing %s", path)
		}
	}
	return cfg, cfg.Validate()
}

// InUsePath returns where WriteInUse writes the configuration loaded from
// path: "speed.yaml" becomes "speed-in-use.yaml".
func InUsePath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-in-use" + ext
}

// WriteInUse writes the configuration in use next to the file it was loaded
// from.
func WriteInUse(cfg Config, path string) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return errors.Wrap(err, "marshalling config")
	}
	if err := os.WriteFile(InUsePath(path), data, 0o666); err != nil {
		return errors.Wrap(err, "writing config in use")
	}
	return nil
}
