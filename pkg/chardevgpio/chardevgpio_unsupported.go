//go:build !linux

package chardevgpio

import (
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/hw"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

type Board struct {
	hw.Board
}

func Open(golog.Logger, string, wheel.PerWheel[int], wheel.PerWheel[int], float64) (*Board, error) {
	return nil, errors.New("the gpio character device is only available on linux")
}
