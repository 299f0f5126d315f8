package control

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/pid"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

// Command is what a Commander wants the motors to do for one sample period.
type Command struct {
	Duty     wheel.PerWheel[float64]
	Setpoint float64
}

// Commander turns the latest speed estimate into motor duty cycles.  It is
// called once per sample period with the time elapsed since the loop
// started.
type Commander interface {
	Command(now time.Duration, rpm wheel.PerWheel[float64]) (Command, error)
}

// Seeder is implemented by commanders that need the loop start time before
// their first Command.
type Seeder interface {
	Seed(now time.Duration)
}

// PIDPair runs one speed controller per wheel, left then right.
type PIDPair struct {
	controllers wheel.PerWheel[*pid.Controller]
}

// NewPIDPairFromConfigs builds both controllers.
func NewPIDPairFromConfigs(cfgs wheel.PerWheel[pid.Config]) (*PIDPair, error) {
	p := &PIDPair{}
	for _, w := range wheel.All {
		c, err := pid.New(cfgs[w])
		if err != nil {
			return nil, errors.Wrapf(err, "%v controller", w)
		}
		p.controllers[w] = c
	}
	return p, nil
}

func (p *PIDPair) Seed(now time.Duration) {
	for _, w := range wheel.All {
		p.controllers[w].Seed(now)
	}
}

func (p *PIDPair) Command(now time.Duration, rpm wheel.PerWheel[float64]) (Command, error) {
	var cmd Command
	for _, w := range wheel.All {
		out, err := p.controllers[w].Update(now, rpm[w])
		if err != nil {
			return cmd, errors.Wrapf(err, "%v controller", w)
		}
		cmd.Duty[w] = out
	}
	cmd.Setpoint = p.controllers[wheel.Left].Setpoint()
	return cmd, nil
}

// Controller returns the controller of one wheel.
func (p *PIDPair) Controller(w wheel.Wheel) *pid.Controller {
	return p.controllers[w]
}

// ScheduleStep sets both wheels to Duty from time At onwards.
type ScheduleStep struct {
	At   time.Duration `yaml:"at"`
	Duty float64       `yaml:"duty"`
}

// Schedule is an open-loop commander that applies a piecewise constant duty
// cycle to both wheels.  Before the first step the duty is zero.  It reports
// a setpoint of zero since there is no speed target.
type Schedule struct {
	steps []ScheduleStep
}

func NewSchedule(steps ...ScheduleStep) (*Schedule, error) {
	if len(steps) == 0 {
		return nil, errors.New("schedule has no steps")
	}
	s := &Schedule{steps: append([]ScheduleStep(nil), steps...)}
	sort.SliceStable(s.steps, func(i, j int) bool { return s.steps[i].At < s.steps[j].At })
	for _, st := range s.steps {
		if st.At < 0 {
			return nil, errors.Errorf("schedule step at negative time %v", st.At)
		}
		if st.Duty < 0 || st.Duty > 100 {
			return nil, errors.Errorf("schedule duty %v outside [0, 100]", st.Duty)
		}
	}
	return s, nil
}

// DutyAt returns the scheduled duty cycle at elapsed time now.
func (s *Schedule) DutyAt(now time.Duration) float64 {
	duty := 0.0
	for _, st := range s.steps {
		if now < st.At {
			break
		}
		duty = st.Duty
	}
	return duty
}

func (s *Schedule) Command(now time.Duration, _ wheel.PerWheel[float64]) (Command, error) {
	return Command{Duty: wheel.Both(s.DutyAt(now))}, nil
}

// Steps returns a copy of the steps in time order.
func (s *Schedule) Steps() []ScheduleStep {
	return append([]ScheduleStep(nil), s.steps...)
}
