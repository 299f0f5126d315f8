package chassis

import "math"

const (
	MetresPerInch = 0.0254

	WheelDiameterIn float64 = 2.5
	WheelDiameterM          = WheelDiameterIn * MetresPerInch
	WheelCircumM            = WheelDiameterM * math.Pi

	// EncoderSlots is the number of slots in each encoder disc.  Every slot
	// gives a rising and a falling edge.
	EncoderSlots       = 20
	EncoderTicksPerRev = 2 * EncoderSlots
)

// MetresPerTick is the distance a wheel of the given diameter covers between
// encoder ticks.
func MetresPerTick(diameterM, ticksPerRev float64) float64 {
	return math.Pi * diameterM / ticksPerRev
}
