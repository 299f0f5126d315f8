package screen

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/fogleman/gg"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/control"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

// Screen shows the latest sample on a small RGB565 framebuffer display.
// It is a control.Recorder; Loop redraws the display periodically.
type Screen struct {
	log           golog.Logger
	width, height int

	lock   sync.Mutex
	latest control.Sample
	have   bool
}

var _ control.Recorder = (*Screen)(nil)

func New(log golog.Logger, width, height int) (*Screen, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("screen size %dx%d is empty", width, height)
	}
	return &Screen{log: log, width: width, height: height}, nil
}

func (s *Screen) Record(sample control.Sample) error {
	s.lock.Lock()
	s.latest = sample
	s.have = true
	s.lock.Unlock()
	return nil
}

// Render draws the latest sample.
func (s *Screen) Render() image.Image {
	s.lock.Lock()
	sample, have := s.latest, s.have
	s.lock.Unlock()

	dc := gg.NewContext(s.width, s.height)
	dc.SetRGBA(1, 0.9, 0, 1)
	if !have {
		dc.DrawString("WAITING", 4, 14)
		return dc.Image()
	}

	dc.DrawString(fmt.Sprintf("T %.1fs", sample.Time.Seconds()), 4, 14)
	if sample.Setpoint > 0 {
		dc.DrawString(fmt.Sprintf("SP %.0f", sample.Setpoint), 4, 28)
	}

	full := 1.5 * sample.Setpoint
	if full <= 0 {
		full = 150
	}
	barWidth := float64(s.width) / 4
	for i, w := range wheel.All {
		dc.Push()
		dc.Translate(float64(s.width)/2+float64(i)*(barWidth+4), 5)
		drawSpeedBar(dc, w, sample.RPM[w], sample.Duty[w], full, barWidth, float64(s.height)-30)
		dc.Pop()
	}
	return dc.Image()
}

// drawSpeedBar draws one wheel's speed as a segmented bar of the given size,
// full scale at full RPM.
func drawSpeedBar(dc *gg.Context, w wheel.Wheel, rpm, duty, full, width, height float64) {
	fraction := rpm / full
	const segments = 13
	segment := height / segments

	dc.SetRGBA(1, 0.9, 0, 1)
	if duty >= 100 {
		// Saturated.
		dc.SetRGBA(1, 0.2, 0, 1)
	}
	dc.DrawRectangle(0, height-segment, width, segment)
	for n := 2; n <= segments; n++ {
		if fraction >= float64(n)/segments {
			dc.DrawRectangle(2, height-float64(n)*segment, width-4, segment*0.6)
		}
	}
	dc.Fill()
	dc.DrawString(w.String()[:1], width/2-3, height+12)
	dc.DrawString(fmt.Sprintf("%.0f", rpm), -2, height+24)
}

// Encode converts img to the display's RGB565 layout: the panel is mounted
// rotated, so each image column is one framebuffer row, bottom to top.
func Encode(img image.Image) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	buf := make([]byte, w*h*2)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA() // 16-bit pre-multiplied

			rb := byte(r >> (16 - 5))
			gb := byte(g >> (16 - 6)) // Green has 6 bits
			bb := byte(bl >> (16 - 5))

			i := (h-1-y)*2 + x*h*2
			buf[i+1] = (rb << 3) | (gb >> 3)
			buf[i] = bb | (gb << 5)
		}
	}
	return buf
}

// Loop redraws the display every interval until ctx is done, then blanks it.
func (s *Screen) Loop(ctx context.Context, clk clock.Clock, device string, interval time.Duration) error {
	f, err := os.OpenFile(device, os.O_RDWR, 0o666)
	if err != nil {
		return errors.Wrap(err, "opening screen")
	}
	defer f.Close()
	return s.loop(ctx, clk, f, interval)
}

func (s *Screen) loop(ctx context.Context, clk clock.Clock, f io.WriteSeeker, interval time.Duration) error {
	ticker := clk.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			blank := make([]byte, s.width*s.height*2)
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return errors.Wrap(err, "blanking screen")
			}
			_, err := f.Write(blank)
			return errors.Wrap(err, "blanking screen")
		case <-ticker.C:
		}
		buf := Encode(s.Render())
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return errors.Wrap(err, "screen failure")
		}
		if _, err := f.Write(buf); err != nil {
			return errors.Wrap(err, "screen failure")
		}
	}
}
