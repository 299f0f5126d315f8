package wheel

import "fmt"

// Wheel identifies one side of the differential drive.
type Wheel int

const (
	Left Wheel = iota
	Right

	NumWheels = 2
)

// All is the fixed processing order: left then right.
var All = [NumWheels]Wheel{Left, Right}

func (w Wheel) String() string {
	switch w {
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return fmt.Sprintf("wheel(%d)", int(w))
}

// PerWheel holds one value per wheel, indexed by Wheel.
type PerWheel[T any] [NumWheels]T

func Both[T any](v T) PerWheel[T] {
	return PerWheel[T]{v, v}
}

func (p PerWheel[T]) Left() T {
	return p[Left]
}

func (p PerWheel[T]) Right() T {
	return p[Right]
}
