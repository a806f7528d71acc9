package output

import (
	"bufio"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/artemshal/DungeonCompanion/internal/shmqueue"
	"github.com/artemshal/DungeonCompanion/internal/vcam"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// recorder is an Output that keeps the frames written to it
type recorder struct {
	mu     sync.Mutex
	frames []*image.RGBA
	got    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16)}
}

func (r *recorder) Start() error    { return nil }
func (r *recorder) Stop() error     { return nil }
func (r *recorder) Name() string    { return "recorder" }
func (r *recorder) IsRunning() bool { return true }

func (r *recorder) WriteFrame(frame *image.RGBA) error {
	cp := image.NewRGBA(frame.Bounds())
	copy(cp.Pix, frame.Pix)
	r.mu.Lock()
	r.frames = append(r.frames, cp)
	r.mu.Unlock()
	select {
	case r.got <- struct{}{}:
	default:
	}
	return nil
}

func (r *recorder) last() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}

func testSession(t *testing.T) (*vcam.Session, []shmqueue.Option) {
	t.Helper()
	qopts := []shmqueue.Option{
		shmqueue.WithName("dc-output-" + uuid.NewString()),
		shmqueue.WithDirectory(t.TempDir()),
	}
	s := vcam.New(
		vcam.WithQueueOptions(qopts...),
		vcam.WithDriverCheck(nil),
	)
	t.Cleanup(s.Stop)
	return s, qopts
}

func TestMJPEGRequiresStart(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 8, Height: 8, FPS: 10})

	assert.Error(t, m.WriteFrame(solid(8, 8, color.RGBA{A: 255})))

	rec := httptest.NewRecorder()
	m.GetHTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, m.Start())
	assert.Error(t, m.Start(), "already running")
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
}

func TestMJPEGStream(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 16, Height: 16, FPS: 10})
	require.NoError(t, m.Start())
	defer m.Stop()

	require.NoError(t, m.WriteFrame(solid(16, 16, color.RGBA{R: 200, A: 255})))

	srv := httptest.NewServer(m.GetHTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	br := bufio.NewReader(resp.Body)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)
	line, err = br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Content-Type: image/jpeg\r\n", line)
	line, err = br.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "Content-Length: "))
	_, err = br.ReadString('\n')
	require.NoError(t, err)

	img, err := jpeg.Decode(br)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())

	stats := m.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, uint64(1), stats.Frames)
}

func TestVirtualCameraOutput(t *testing.T) {
	s, qopts := testSession(t)
	out := NewVirtualCameraOutput(s, Config{Width: 32, Height: 16, FPS: 30})

	assert.Equal(t, "OBS Virtual Camera", out.Name())
	assert.False(t, out.IsRunning())
	assert.NoError(t, out.WriteFrame(solid(32, 16, color.RGBA{A: 255})), "ignored while stopped")

	require.NoError(t, out.Start())
	assert.True(t, out.IsRunning())
	require.NoError(t, out.WriteFrame(solid(32, 16, color.RGBA{G: 255, A: 255})))

	r, err := shmqueue.Open(qopts...)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, uint32(32), r.Header().Width)
	assert.Equal(t, uint32(1), r.Header().ReadIndex)
	assert.Equal(t, uint64(1), out.Status().Frames)

	require.NoError(t, out.StartWith(Config{Width: 64, Height: 32, FPS: 15}))
	assert.Equal(t, Config{Width: 64, Height: 32, FPS: 15}, out.Config())
	assert.Equal(t, 64, out.Status().Width, "restarted with the new geometry")

	require.NoError(t, out.Stop())
	assert.False(t, out.IsRunning())
}

func TestVirtualCameraOutputRejectsBadGeometry(t *testing.T) {
	s, _ := testSession(t)
	out := NewVirtualCameraOutput(s, Config{Width: 33, Height: 16, FPS: 30})

	err := out.Start()
	assert.ErrorIs(t, err, vcam.ErrInvalidGeometry)

	out = NewVirtualCameraOutput(s, Config{Width: 32, Height: 16, FPS: 30})
	err = out.StartWith(Config{Width: 33, Height: 16, FPS: 30})
	assert.ErrorIs(t, err, vcam.ErrInvalidGeometry)
	assert.Equal(t, Config{Width: 32, Height: 16, FPS: 30}, out.Config(), "rejected geometry is not kept")
	require.NoError(t, out.Start())
	assert.Equal(t, 32, out.Status().Width)
}

func TestSegmentPreview(t *testing.T) {
	s, qopts := testSession(t)
	require.NoError(t, s.Start(16, 16, 30))

	rec := newRecorder()
	preview := NewSegmentPreview(rec, 5*time.Millisecond, qopts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- preview.Run(ctx) }()

	require.NoError(t, s.SendRGBA(solid(16, 16, color.RGBA{R: 255, G: 255, B: 255, A: 255})))

	select {
	case <-rec.got:
	case <-time.After(5 * time.Second):
		t.Fatal("preview never forwarded a frame")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	frame := rec.last()
	require.NotNil(t, frame)
	assert.Equal(t, image.Rect(0, 0, 16, 16), frame.Bounds())
	c := frame.RGBAAt(8, 8)
	assert.InDelta(t, 255, int(c.R), 4)
	assert.InDelta(t, 255, int(c.G), 4)
	assert.InDelta(t, 255, int(c.B), 4)
}
