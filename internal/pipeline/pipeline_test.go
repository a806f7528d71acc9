package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemshal/DungeonCompanion/internal/capture"
)

type fakeSource struct {
	mu  sync.Mutex
	err error
}

func (s *fakeSource) Start() error     { return nil }
func (s *fakeSource) Stop() error      { return nil }
func (s *fakeSource) Size() (int, int) { return 8, 4 }
func (s *fakeSource) Name() string     { return "fake" }

func (s *fakeSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeSource) Frame() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return image.NewRGBA(image.Rect(0, 0, 8, 4)), nil
}

// dot marks pixel 0,0 so outputs can see the overlay ran first
type dot struct{}

func (dot) Render(img *image.RGBA) error {
	img.SetRGBA(0, 0, color.RGBA{255, 0, 0, 255})
	return nil
}

type sink struct {
	mu      sync.Mutex
	running bool
	err     error
	frames  []*image.RGBA
}

func (s *sink) Start() error    { return nil }
func (s *sink) Stop() error     { return nil }
func (s *sink) Name() string    { return "sink" }
func (s *sink) IsRunning() bool { return s.running }
func (s *sink) WriteFrame(f *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return s.err
}
func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, nil, 30)
	assert.Error(t, err)
	_, err = New(&fakeSource{}, nil, 0)
	assert.Error(t, err)

	p, err := New(&fakeSource{}, nil, 25)
	require.NoError(t, err)
	assert.Equal(t, 40*time.Millisecond, p.Interval())
}

func TestTickRendersOverlayBeforeOutputs(t *testing.T) {
	running := &sink{running: true}
	stopped := &sink{}
	p, err := New(&fakeSource{}, dot{}, 30, running, stopped)
	require.NoError(t, err)

	require.NoError(t, p.Tick())
	require.Equal(t, 1, running.count())
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, running.frames[0].RGBAAt(0, 0))
	assert.Zero(t, stopped.count(), "stopped outputs are skipped")
	assert.Equal(t, Stats{Frames: 1}, p.Stats())
}

func TestTickSkipsMissingFrame(t *testing.T) {
	src := &fakeSource{err: capture.ErrNoFrame}
	out := &sink{running: true}
	p, err := New(src, nil, 30, out)
	require.NoError(t, err)

	require.NoError(t, p.Tick())
	assert.Zero(t, out.count())
	assert.Equal(t, Stats{Skipped: 1}, p.Stats())

	src.setErr(errors.New("device unplugged"))
	assert.ErrorContains(t, p.Tick(), "device unplugged")
	assert.Equal(t, uint64(1), p.Stats().Errors)
}

func TestTickOutputErrorDoesNotStarveOthers(t *testing.T) {
	bad := &sink{running: true, err: errors.New("full")}
	good := &sink{running: true}
	p, err := New(&fakeSource{}, nil, 30, bad)
	require.NoError(t, err)
	p.AddOutput(good)

	assert.ErrorContains(t, p.Tick(), "sink: full")
	assert.Equal(t, 1, good.count())
	assert.Len(t, p.Outputs(), 2)
}

func TestRunStopsOnCancel(t *testing.T) {
	out := &sink{running: true}
	p, err := New(&fakeSource{}, nil, 200, out)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return out.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
