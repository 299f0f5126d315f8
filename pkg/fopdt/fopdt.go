// Package fopdt derives PID gains from first-order-plus-dead-time process
// models and identifies such models from step response data.
package fopdt

import (
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/pid"
)

// Model is a first-order-plus-dead-time process: steady-state gain K (RPM
// per % duty), time constant Tau and dead time T0, both in seconds.
type Model struct {
	Gain         float64 `yaml:"gain"`
	TimeConstant float64 `yaml:"time_constant"`
	DeadTime     float64 `yaml:"dead_time"`
}

func (m Model) String() string {
	return fmt.Sprintf("K=%.4f Tau=%.4fs t0=%.4fs", m.Gain, m.TimeConstant, m.DeadTime)
}

// Validate checks that the model can be used by the tuning rules.
func (m Model) Validate() error {
	if m.Gain == 0 || math.IsNaN(m.Gain) || math.IsInf(m.Gain, 0) {
		return errors.Errorf("process gain must be finite and non-zero, got %v", m.Gain)
	}
	if !(m.TimeConstant > 0) {
		return errors.Errorf("time constant must be positive, got %v", m.TimeConstant)
	}
	if !(m.DeadTime > 0) {
		return errors.Errorf("dead time must be positive, got %v", m.DeadTime)
	}
	return nil
}

// Rule is a tuning correlation.
type Rule string

const (
	// ITAE is the ITAE set-point tracking correlation for PID.
	ITAE Rule = "itae"
	// CohenCoon is the Cohen-Coon PID correlation.
	CohenCoon Rule = "cohen-coon"
)

// Rules lists the supported correlations.
var Rules = []Rule{ITAE, CohenCoon}

// ParseRule returns the rule with the given name; the empty name is ITAE.
func ParseRule(s string) (Rule, error) {
	if s == "" {
		return ITAE, nil
	}
	for _, r := range Rules {
		if string(r) == s {
			return r, nil
		}
	}
	return "", errors.Errorf("unknown tuning rule %q", s)
}

// Gains applies the rule to the model.
func (m Model) Gains(rule Rule) (pid.Gains, error) {
	if err := m.Validate(); err != nil {
		return pid.Gains{}, err
	}
	k, tau, t0 := m.Gain, m.TimeConstant, m.DeadTime
	r := t0 / tau
	var g pid.Gains
	switch rule {
	case ITAE, "":
		g.Kc = (0.965 / k) * math.Pow(r, -0.85)
		g.Ti = tau / (0.796 - 0.1465*r)
		g.Td = 0.308 * tau * math.Pow(r, 0.929)
		if g.Ti <= 0 {
			return pid.Gains{}, errors.Errorf("itae rule needs t0/Tau < 5.43, got %.3f", r)
		}
	case CohenCoon:
		g.Kc = (1 / k) * (1 / r) * (4.0/3 + r/4)
		g.Ti = t0 * (32 + 6*r) / (13 + 8*r)
		g.Td = 4 * t0 / (11 + 2*r)
	default:
		return pid.Gains{}, errors.Errorf("unknown tuning rule %q", rule)
	}
	return g, nil
}

// Point is one sample of a step response.
type Point struct {
	Time   float64 // seconds
	Output float64
}

// Step describes the input change applied during a step test.
type Step struct {
	At       float64 // seconds
	From, To float64
}

const (
	fraction28 = 0.283
	fraction63 = 0.632
)

// Identify fits a model to a step response with the two-point method.  The
// baseline is the mean output before the step, the final value the mean of
// the last tailFraction of the samples.
func Identify(points []Point, step Step, tailFraction float64) (Model, error) {
	if step.To == step.From {
		return Model{}, errors.New("step input change is zero")
	}
	if tailFraction <= 0 || tailFraction > 1 {
		return Model{}, errors.Errorf("tail fraction must be in (0, 1], got %v", tailFraction)
	}
	pts := append([]Point(nil), points...)
	sort.Slice(pts, func(i, j int) bool { return pts[i].Time < pts[j].Time })

	var before, after []Point
	for _, p := range pts {
		if p.Time < step.At {
			before = append(before, p)
		} else {
			after = append(after, p)
		}
	}
	if len(after) < 3 {
		return Model{}, errors.Errorf("need at least 3 samples after the step, got %d", len(after))
	}

	baseline := 0.0
	if len(before) > 0 {
		baseline = meanOutput(before)
	}
	tail := int(math.Ceil(float64(len(after)) * tailFraction))
	final := meanOutput(after[len(after)-tail:])
	dy := final - baseline
	if dy == 0 {
		return Model{}, errors.New("output did not change after the step")
	}

	t28, err := crossing(after, baseline+fraction28*dy, dy > 0)
	if err != nil {
		return Model{}, errors.Wrap(err, "28.3% point")
	}
	t63, err := crossing(after, baseline+fraction63*dy, dy > 0)
	if err != nil {
		return Model{}, errors.Wrap(err, "63.2% point")
	}

	tau := 1.5 * (t63 - t28)
	t0 := math.Max(0, t63-step.At-tau)
	return Model{
		Gain:         dy / (step.To - step.From),
		TimeConstant: tau,
		DeadTime:     t0,
	}, nil
}

// crossing returns the interpolated time at which the response first
// reaches level.
func crossing(pts []Point, level float64, rising bool) (float64, error) {
	reached := func(v float64) bool {
		if rising {
			return v >= level
		}
		return v <= level
	}
	for i, p := range pts {
		if !reached(p.Output) {
			continue
		}
		if i == 0 {
			return p.Time, nil
		}
		prev := pts[i-1]
		if p.Output == prev.Output {
			return p.Time, nil
		}
		frac := (level - prev.Output) / (p.Output - prev.Output)
		return prev.Time + frac*(p.Time-prev.Time), nil
	}
	return 0, errors.Errorf("response never reached %.3f", level)
}

func meanOutput(pts []Point) float64 {
	ys := make([]float64, len(pts))
	for i, p := range pts {
		ys[i] = p.Output
	}
	return stat.Mean(ys, nil)
}
