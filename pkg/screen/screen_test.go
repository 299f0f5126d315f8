package screen

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/control"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

func TestEncode(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 3))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 2, color.RGBA{G: 255, A: 255})
	img.Set(1, 0, color.RGBA{B: 255, A: 255})

	buf := Encode(img)
	test.That(t, len(buf), test.ShouldEqual, 12)
	// Pixel (0, 0) lands at the end of the first row.
	test.That(t, buf[4:6], test.ShouldResemble, []byte{0x00, 0xf8})
	// Pixel (1, 2) starts the second row.
	test.That(t, buf[6:8], test.ShouldResemble, []byte{0xe0, 0x07})
	test.That(t, buf[10:12], test.ShouldResemble, []byte{0x1f, 0x00})
}

func TestRender(t *testing.T) {
	s, err := New(golog.NewTestLogger(t), 128, 128)
	test.That(t, err, test.ShouldBeNil)
	blank := s.Render()
	test.That(t, blank.Bounds().Dx(), test.ShouldEqual, 128)

	test.That(t, s.Record(control.Sample{
		Time:     3 * time.Second,
		RPM:      wheel.PerWheel[float64]{80, 40},
		Duty:     wheel.PerWheel[float64]{50, 100},
		Setpoint: 80,
	}), test.ShouldBeNil)
	img := s.Render()
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, 128)
	test.That(t, Encode(img), test.ShouldNotResemble, Encode(blank))

	_, err = New(golog.NewTestLogger(t), 0, 10)
	test.That(t, err, test.ShouldNotBeNil)
}

type fakeDisplay struct {
	lock   sync.Mutex
	writes [][]byte
}

func (d *fakeDisplay) Write(p []byte) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.writes = append(d.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (d *fakeDisplay) Seek(int64, int) (int64, error) {
	return 0, nil
}

func (d *fakeDisplay) Writes() [][]byte {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.writes
}

func TestLoopBlanksOnExit(t *testing.T) {
	s, err := New(golog.NewTestLogger(t), 16, 16)
	test.That(t, err, test.ShouldBeNil)
	mock := clock.NewMock()
	disp := &fakeDisplay{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.loop(ctx, mock, disp, 500*time.Millisecond) }()

	for len(disp.Writes()) < 2 {
		mock.Add(500 * time.Millisecond)
	}
	cancel()
	test.That(t, <-done, test.ShouldBeNil)

	writes := disp.Writes()
	last := writes[len(writes)-1]
	test.That(t, len(last), test.ShouldEqual, 16*16*2)
	test.That(t, last, test.ShouldResemble, make([]byte, 16*16*2))
}
