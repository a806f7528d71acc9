package vcam

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/artemshal/DungeonCompanion/internal/convert"
	"github.com/artemshal/DungeonCompanion/internal/shmqueue"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	freq    int64
	counter int64
	step    int64
	freqs   int
}

func (c *fakeClock) Frequency() int64 {
	c.freqs++
	return c.freq
}

func (c *fakeClock) Counter() int64 {
	v := c.counter
	c.counter += c.step
	return v
}

func queueOptions(t *testing.T) []shmqueue.Option {
	t.Helper()
	return []shmqueue.Option{
		shmqueue.WithName("dc-vcam-" + uuid.NewString()),
		shmqueue.WithDirectory(t.TempDir()),
	}
}

func newTestSession(t *testing.T, extra ...Option) (*Session, []shmqueue.Option) {
	t.Helper()
	qopts := queueOptions(t)
	opts := append([]Option{
		WithQueueOptions(qopts...),
		WithDriverCheck(func() error { return nil }),
	}, extra...)
	s := New(opts...)
	t.Cleanup(s.Stop)
	return s, qopts
}

func solidFrame(width, height int, r, g, b byte) []byte {
	frame := make([]byte, width*height*4)
	for i := 0; i < len(frame); i += 4 {
		frame[i+0] = b
		frame[i+1] = g
		frame[i+2] = r
		frame[i+3] = 0xff
	}
	return frame
}

func ticksNow(c Clock) uint64 {
	f := c.Frequency()
	n := c.Counter()
	return uint64(n/f*TicksPerSecond + n%f*TicksPerSecond/f)
}

func TestInterval(t *testing.T) {
	assert.Equal(t, uint64(333333), Interval(30))
	assert.Equal(t, uint64(166667), Interval(60))
	assert.Equal(t, uint64(400000), Interval(25))
	assert.Equal(t, uint64(333667), Interval(29.97))
	assert.Equal(t, uint64(TicksPerSecond), Interval(1))
}

func TestEndToEnd(t *testing.T) {
	s, qopts := newTestSession(t)

	created := ticksNow(NewMonotonicClock())
	require.NoError(t, s.Start(1280, 720, 30))
	assert.True(t, s.IsRunning())

	r, err := shmqueue.Open(qopts...)
	require.NoError(t, err)
	defer r.Close()

	h := r.Header()
	assert.Equal(t, uint32(1280), h.Width)
	assert.Equal(t, uint32(720), h.Height)
	assert.Equal(t, uint64(333333), h.Interval)
	assert.Equal(t, shmqueue.StateStarting, h.State)

	require.NoError(t, s.Send(solidFrame(1280, 720, 128, 128, 128), 1280*4))

	h = r.Header()
	assert.Equal(t, uint32(1), h.WriteIndex)
	assert.Equal(t, uint32(1), h.ReadIndex)
	assert.Equal(t, shmqueue.StateReady, h.State)

	ts := r.SlotTimestamp(1)
	assert.NotZero(t, ts)
	assert.Greater(t, ts, created)

	payload := make([]byte, r.Layout().PayloadSize)
	frame, ok := r.Latest(payload)
	require.True(t, ok)
	assert.Equal(t, ts, frame.Timestamp)
	assert.Equal(t, byte(126), payload[0], "mid gray luma")
	assert.Equal(t, byte(126), payload[1280*720-1])
	assert.Equal(t, byte(128), payload[1280*720], "neutral chroma")
	assert.Equal(t, byte(128), payload[len(payload)-1])

	st := s.Status()
	assert.True(t, st.Running)
	assert.Equal(t, uint64(1), st.Frames)
	assert.NotEmpty(t, st.ID)
	firstID := st.ID

	s.Stop()
	assert.False(t, s.IsRunning())
	assert.Equal(t, shmqueue.StateStopping, r.Header().State)

	require.NoError(t, s.Start(640, 480, 60))
	require.Len(t, s.nv12, convert.NV12Size(640, 480))
	require.Len(t, s.i420, convert.I420Size(640, 480))

	r2, err := shmqueue.Open(qopts...)
	require.NoError(t, err)
	defer r2.Close()

	h = r2.Header()
	assert.Equal(t, uint32(640), h.Width)
	assert.Equal(t, uint32(480), h.Height)
	assert.Equal(t, uint64(166667), h.Interval)

	require.NoError(t, s.Send(solidFrame(640, 480, 0, 0, 0), 640*4))
	assert.Equal(t, uint32(1), r2.Header().WriteIndex)
	assert.NotEqual(t, firstID, s.Status().ID)
}

func TestStartWhileRunningRestarts(t *testing.T) {
	s, qopts := newTestSession(t)

	require.NoError(t, s.Start(320, 240, 30))
	require.NoError(t, s.Start(640, 360, 30))

	r, err := shmqueue.Open(qopts...)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, uint32(640), r.Header().Width)
}

func TestTimestampUsesCachedFrequency(t *testing.T) {
	clock := &fakeClock{freq: 3_000_000, counter: 9_000_001, step: 100_000}
	s, qopts := newTestSession(t, WithClock(clock))

	require.NoError(t, s.Start(4, 4, 30))
	r, err := shmqueue.Open(qopts...)
	require.NoError(t, err)
	defer r.Close()

	frame := solidFrame(4, 4, 10, 20, 30)
	require.NoError(t, s.Send(frame, 16))
	require.NoError(t, s.Send(frame, 16))

	// 9000001 ticks at 3MHz = 3s + 1/3us
	assert.Equal(t, uint64(30_000_003), r.SlotTimestamp(1))
	// +100000 ticks = +1/30s
	assert.Equal(t, uint64(30_333_336), r.SlotTimestamp(2))
	assert.Equal(t, 1, clock.freqs)
}

func TestTimestampLargeCounterDoesNotOverflow(t *testing.T) {
	// ~292 years of nanoseconds would overflow counter*1e7
	clock := &fakeClock{freq: 1_000_000_000, counter: 1 << 62}
	s, qopts := newTestSession(t, WithClock(clock))

	require.NoError(t, s.Start(2, 2, 30))
	r, err := shmqueue.Open(qopts...)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, s.Send(solidFrame(2, 2, 0, 0, 0), 8))
	assert.Equal(t, uint64((1<<62)/100), r.SlotTimestamp(1))
}

func TestStopIsIdempotent(t *testing.T) {
	s, _ := newTestSession(t)

	s.Stop()
	require.NoError(t, s.Start(16, 16, 30))
	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestSendWhileIdleIsIgnored(t *testing.T) {
	s, _ := newTestSession(t)

	assert.NoError(t, s.Send(nil, 0))
	assert.NoError(t, s.SendRGBA(image.NewRGBA(image.Rect(0, 0, 2, 2))))
	assert.Zero(t, s.Status().Frames)
}

func TestDriverMissing(t *testing.T) {
	s, qopts := newTestSession(t, WithDriverCheck(func() error {
		return errors.New("class not registered")
	}))

	err := s.Start(1280, 720, 30)
	assert.ErrorIs(t, err, ErrDriverNotFound)
	assert.False(t, s.IsRunning())

	_, err = shmqueue.Open(qopts...)
	assert.Error(t, err, "no segment created")
}

func TestInvalidGeometry(t *testing.T) {
	s, _ := newTestSession(t)

	cases := []struct {
		width, height int
		fps           float64
	}{
		{0, 720, 30},
		{1280, 0, 30},
		{1281, 720, 30},
		{1280, 721, 30},
		{-2, 2, 30},
		{1280, 720, 0},
		{1280, 720, -30},
	}
	for _, c := range cases {
		err := s.Start(c.width, c.height, c.fps)
		assert.ErrorIs(t, err, ErrInvalidGeometry, "%dx%d@%v", c.width, c.height, c.fps)
		assert.False(t, s.IsRunning())
	}
}

func TestNegativeHeightFlipsUpright(t *testing.T) {
	s, qopts := newTestSession(t)

	const width, height = 4, 4
	frame := make([]byte, width*height*4)
	// bottom-up source: first two rows in memory are the bottom of the image
	for i := 0; i < len(frame); i += 4 {
		v := byte(0xff)
		if i < len(frame)/2 {
			v = 0
		}
		frame[i], frame[i+1], frame[i+2], frame[i+3] = v, v, v, 0xff
	}

	require.NoError(t, s.Start(width, -height, 30))
	assert.Equal(t, height, s.Status().Height)

	r, err := shmqueue.Open(qopts...)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, uint32(height), r.Header().Height)

	require.NoError(t, s.Send(frame, width*4))

	payload := make([]byte, r.Layout().PayloadSize)
	_, ok := r.Latest(payload)
	require.True(t, ok)
	assert.Equal(t, byte(235), payload[0], "top row is white")
	assert.Equal(t, byte(16), payload[width*height-1], "bottom row is black")
}

func TestSendRGBA(t *testing.T) {
	s, qopts := newTestSession(t)
	require.NoError(t, s.Start(8, 8, 30))

	r, err := shmqueue.Open(qopts...)
	require.NoError(t, err)
	defer r.Close()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	require.NoError(t, s.SendRGBA(img))

	payload := make([]byte, r.Layout().PayloadSize)
	_, ok := r.Latest(payload)
	require.True(t, ok)
	assert.Equal(t, byte(82), payload[0], "red luma")
	assert.Equal(t, byte(90), payload[64], "red Cb")
	assert.Equal(t, byte(240), payload[65], "red Cr")

	err = s.SendRGBA(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	assert.Error(t, err)
	assert.Equal(t, uint64(1), s.Status().Dropped)
}

func TestSendRGBAIgnoresBottomUpHeight(t *testing.T) {
	s, qopts := newTestSession(t)

	const width, height = 4, 4
	require.NoError(t, s.Start(width, -height, 30))

	r, err := shmqueue.Open(qopts...)
	require.NoError(t, err)
	defer r.Close()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		v := byte(0)
		if y < height/2 {
			v = 0xff
		}
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 0xff})
		}
	}
	require.NoError(t, s.SendRGBA(img))

	payload := make([]byte, r.Layout().PayloadSize)
	_, ok := r.Latest(payload)
	require.True(t, ok)
	assert.Equal(t, byte(235), payload[0], "top row stays white")
	assert.Equal(t, byte(16), payload[width*height-1], "bottom row stays black")
}

func TestStartRejectsOversizedGeometry(t *testing.T) {
	s, _ := newTestSession(t)

	err := s.Start(65536, 65536, 30)
	assert.Error(t, err)
	assert.False(t, s.IsRunning())
	assert.Empty(t, s.i420)
}

func TestSendShortFrame(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Start(8, 8, 30))

	err := s.Send(make([]byte, 10), 32)
	assert.ErrorIs(t, err, convert.ErrShortBuffer)
	assert.Equal(t, uint64(1), s.Status().Dropped)
	assert.Zero(t, s.Status().Frames)
}

func TestStatusWhenIdle(t *testing.T) {
	s, _ := newTestSession(t)

	st := s.Status()
	assert.False(t, st.Running)
	assert.Empty(t, st.ID)
	assert.NotEmpty(t, st.Segment)
}
