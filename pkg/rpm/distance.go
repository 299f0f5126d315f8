package rpm

import (
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/chassis"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

// Odometer converts accumulated ticks into distance travelled per wheel.
type Odometer struct {
	source        TickSource
	metresPerTick float64
	zero          wheel.PerWheel[int64]
}

// NewOdometer creates an odometer for wheels of the given diameter in metres.
func NewOdometer(source TickSource, ticksPerRev, wheelDiameter float64) *Odometer {
	return &Odometer{
		source:        source,
		metresPerTick: chassis.MetresPerTick(wheelDiameter, ticksPerRev),
	}
}

// Distances returns metres travelled by each wheel since the last Zero.
func (o *Odometer) Distances() (d wheel.PerWheel[float64]) {
	ticks := o.source.Ticks()
	for _, w := range wheel.All {
		d[w] = float64(ticks[w]-o.zero[w]) * o.metresPerTick
	}
	return
}

func (o *Odometer) Zero() {
	o.zero = o.source.Ticks()
}
