// Package vcam publishes composited frames to the OBS virtual camera.
//
// A Session converts packed 4-byte frames to NV12, stamps them with a
// monotonic timestamp in 100ns ticks and writes them to the shared frame
// queue the camera driver reads from.
package vcam

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/artemshal/DungeonCompanion/internal/convert"
	"github.com/artemshal/DungeonCompanion/internal/logger"
	"github.com/artemshal/DungeonCompanion/internal/shmqueue"
	"github.com/google/uuid"
)

// TicksPerSecond is the timestamp and interval unit of the queue (100ns)
const TicksPerSecond = 10_000_000

// DriverMissingMessage is shown to the user when the camera driver is absent
const DriverMissingMessage = "OBS Virtual Camera device not found! Did you install OBS?"

var (
	// ErrDriverNotFound is returned by Start when the driver check fails
	ErrDriverNotFound = errors.New("virtual camera driver not found")

	// ErrInvalidGeometry is returned by Start for non-positive or odd sizes
	// and non-positive frame rates
	ErrInvalidGeometry = errors.New("invalid virtual camera geometry")
)

// DriverCheck reports whether the consumer side of the camera is installed
type DriverCheck func() error

// Status describes the session for the API and the CLI
type Status struct {
	ID        string    `json:"id,omitempty"`
	Running   bool      `json:"running"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	FPS       float64   `json:"fps,omitempty"`
	Interval  uint64    `json:"interval,omitempty"`
	Frames    uint64    `json:"frames"`
	Dropped   uint64    `json:"dropped"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Segment   string    `json:"segment"`
}

// Session is the virtual camera output. Start, Stop and Send may be called
// from different goroutines.
type Session struct {
	mu sync.Mutex

	clock       Clock
	driverCheck DriverCheck
	queueOpts   []shmqueue.Option
	queue       *shmqueue.Queue

	id        string
	width     int
	height    int // signed; negative means bottom-up source rows
	fps       float64
	interval  uint64
	i420      []byte
	nv12      []byte
	freq      int64
	running   bool
	frames    uint64
	dropped   uint64
	startedAt time.Time
}

// Option configures a Session
type Option func(*Session)

// WithClock replaces the monotonic clock used for timestamps
func WithClock(c Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithDriverCheck replaces the host driver check. nil disables the check.
func WithDriverCheck(check DriverCheck) Option {
	return func(s *Session) {
		s.driverCheck = check
	}
}

// WithQueueOptions passes options through to the shared frame queue
func WithQueueOptions(opts ...shmqueue.Option) Option {
	return func(s *Session) {
		s.queueOpts = append(s.queueOpts, opts...)
	}
}

// New creates an idle session
func New(opts ...Option) *Session {
	s := &Session{
		clock:       NewMonotonicClock(),
		driverCheck: DefaultDriverCheck(shmqueue.DefaultDirectory),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = shmqueue.NewQueue(s.queueOpts...)
	return s
}

// Interval returns the frame duration in 100ns ticks for fps
func Interval(fps float64) uint64 {
	return uint64(math.Round(TicksPerSecond / fps))
}

// Start opens the shared frame queue for width x height frames at fps. A
// negative height marks a bottom-up source; the output is flipped upright.
// Starting a running session restarts it with the new geometry.
func (s *Session) Start(width, height int, fps float64) error {
	log := logger.WithComponent("vcam")

	absHeight := height
	if absHeight < 0 {
		absHeight = -absHeight
	}
	if width <= 0 || absHeight == 0 || width%2 != 0 || absHeight%2 != 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, width, height)
	}
	if math.IsNaN(fps) || math.IsInf(fps, 0) || fps <= 0 {
		return fmt.Errorf("%w: fps %v", ErrInvalidGeometry, fps)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		log.Info().Str("session", s.id).Msg("Restarting virtual camera with new geometry")
		s.stopLocked()
	}

	if s.driverCheck != nil {
		if err := s.driverCheck(); err != nil {
			log.Error().Err(err).Msg(DriverMissingMessage)
			if errors.Is(err, ErrDriverNotFound) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrDriverNotFound, err)
		}
	}

	interval := Interval(fps)
	if err := s.queue.Create(uint32(width), uint32(absHeight), interval); err != nil {
		return fmt.Errorf("failed to start virtual camera: %w", err)
	}

	size := convert.I420Size(width, absHeight)
	if cap(s.i420) < size {
		s.i420 = make([]byte, size)
		s.nv12 = make([]byte, size)
	}
	s.i420 = s.i420[:size]
	s.nv12 = s.nv12[:size]

	s.id = uuid.NewString()
	s.width = width
	s.height = height
	s.fps = fps
	s.interval = interval
	s.frames = 0
	s.dropped = 0
	s.startedAt = time.Now()
	s.running = true

	log.Info().
		Str("session", s.id).
		Int("width", width).
		Int("height", absHeight).
		Float64("fps", fps).
		Uint64("interval", interval).
		Str("segment", s.queue.Name()).
		Msg("Virtual camera started")

	return nil
}

// Stop closes the queue. Safe to call when idle.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	if !s.running {
		return
	}

	log := logger.WithComponent("vcam")
	if err := s.queue.Close(); err != nil {
		log.Warn().Err(err).Str("session", s.id).Msg("Failed to release shared frame queue")
	}
	s.running = false

	log.Info().
		Str("session", s.id).
		Uint64("frames", s.frames).
		Uint64("dropped", s.dropped).
		Msg("Virtual camera stopped")
}

// Send converts one packed BGRA frame and publishes it. stride is the source
// row pitch in bytes. Frames sent while idle are ignored.
func (s *Session) Send(frame []byte, stride int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	return s.sendLocked(frame, stride, convert.OrderBGRA, s.height)
}

// SendRGBA publishes an image whose bounds match the running geometry
func (s *Session) SendRGBA(img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	b := img.Bounds()
	if b.Dx() != s.width || b.Dy() != abs(s.height) {
		s.dropped++
		return fmt.Errorf("frame is %dx%d, virtual camera runs at %dx%d", b.Dx(), b.Dy(), s.width, abs(s.height))
	}
	// An image is always top-down, so it is never flipped.
	return s.sendLocked(img.Pix[img.PixOffset(b.Min.X, b.Min.Y):], img.Stride, convert.OrderRGBA, abs(s.height))
}

// sendLocked publishes frame; a negative height reads its rows bottom-up
func (s *Session) sendLocked(frame []byte, stride int, order convert.PixelOrder, height int) error {
	if err := convert.PackedToI420(frame, stride, order, s.i420, s.width, height); err != nil {
		s.dropped++
		return fmt.Errorf("failed to convert frame: %w", err)
	}
	if err := convert.I420ToNV12(s.i420, s.nv12, s.width, height); err != nil {
		s.dropped++
		return fmt.Errorf("failed to convert frame: %w", err)
	}

	luma, _ := convert.PlaneSizes(s.width, abs(height))
	planes := [2][]byte{s.nv12[:luma], s.nv12[luma:]}
	linesize := [2]uint32{uint32(s.width), uint32(s.width / 2)}

	if err := s.queue.Write(planes, linesize, s.timestamp()); err != nil {
		s.dropped++
		return fmt.Errorf("failed to publish frame: %w", err)
	}
	s.frames++
	return nil
}

// timestamp converts the clock counter to 100ns ticks without overflowing
// for long uptimes
func (s *Session) timestamp() uint64 {
	if s.freq == 0 {
		s.freq = s.clock.Frequency()
	}
	counter := s.clock.Counter()
	return uint64(counter/s.freq*TicksPerSecond + counter%s.freq*TicksPerSecond/s.freq)
}

// IsRunning reports whether the session is started
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running: s.running,
		Segment: s.queue.Name(),
		Frames:  s.frames,
		Dropped: s.dropped,
	}
	if s.running {
		st.ID = s.id
		st.Width = s.width
		st.Height = abs(s.height)
		st.FPS = s.fps
		st.Interval = s.interval
		st.StartedAt = s.startedAt
	}
	return st
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
