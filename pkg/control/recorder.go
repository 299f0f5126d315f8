package control

import (
	"sync"
	"time"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

// Sample is the state of the loop at one sample boundary.
type Sample struct {
	Index    int
	Time     time.Duration
	Duty     wheel.PerWheel[float64]
	RPM      wheel.PerWheel[float64]
	Ticks    wheel.PerWheel[int64]
	Distance wheel.PerWheel[float64] // metres
	Setpoint float64
}

// Recorder receives one Sample per sample period.
type Recorder interface {
	Record(s Sample) error
}

// Recorders fans a sample out to several recorders.
type Recorders []Recorder

func (rs Recorders) Record(s Sample) error {
	var err error
	for _, r := range rs {
		err = multierr.Append(err, r.Record(s))
	}
	return err
}

// LogRecorder logs one line per sample.
type LogRecorder struct {
	Logger golog.Logger
}

func (r LogRecorder) Record(s Sample) error {
	r.Logger.Infow("sample",
		"t", s.Time.Seconds(),
		"power_l", s.Duty.Left(),
		"rpm_l", s.RPM.Left(),
		"power_r", s.Duty.Right(),
		"rpm_r", s.RPM.Right(),
		"setpoint", s.Setpoint,
	)
	return nil
}

// SampleBuffer keeps every sample in memory.
type SampleBuffer struct {
	lock    sync.Mutex
	samples []Sample
}

func (b *SampleBuffer) Record(s Sample) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.samples = append(b.samples, s)
	return nil
}

// Samples returns a copy of the recorded samples.
func (b *SampleBuffer) Samples() []Sample {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]Sample(nil), b.samples...)
}
