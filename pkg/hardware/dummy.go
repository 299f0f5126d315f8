package hardware

import (
	"sync"

	"github.com/edaniels/golog"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/hw"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

// Dummy logs what it would do.  Its encoders never move.
type Dummy struct {
	log golog.Logger

	lock sync.Mutex
	duty wheel.PerWheel[float64]
}

var _ hw.Board = (*Dummy)(nil)

func NewDummy(log golog.Logger) *Dummy {
	return &Dummy{log: log}
}

func (d *Dummy) ReadLevel(w wheel.Wheel) (hw.Level, error) {
	return hw.Low, nil
}

func (d *Dummy) SetDutyCycle(w wheel.Wheel, percent float64) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.duty[w] != percent {
		d.log.Debugw("DHW: SetDutyCycle", "wheel", w, "percent", percent)
	}
	d.duty[w] = percent
	return nil
}

func (d *Dummy) Stop(w wheel.Wheel) error {
	d.log.Debugw("DHW: Stop", "wheel", w)
	return d.SetDutyCycle(w, 0)
}

// DutyCycle returns the last duty cycle set for a wheel.
func (d *Dummy) DutyCycle(w wheel.Wheel) float64 {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.duty[w]
}

func (d *Dummy) Close() error {
	d.log.Debug("DHW: Close")
	return nil
}
