package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/artemshal/DungeonCompanion/internal/logger"
)

var errNotStarted = errors.New("capture source not started")

// ErrNoFrame is returned by WebcamSource.Frame before the first frame arrives
var ErrNoFrame = errors.New("no frame captured yet")

// CommandFunc builds the process that writes raw RGBA frames to stdout
type CommandFunc func(ctx context.Context, pipeline string) *exec.Cmd

// GstLaunch runs pipeline with gst-launch-1.0
func GstLaunch(ctx context.Context, pipeline string) *exec.Cmd {
	args := append([]string{"-q"}, strings.Fields(pipeline)...)
	return exec.CommandContext(ctx, "gst-launch-1.0", args...)
}

// WebcamSource reads a camera through a gst-launch subprocess. Running
// GStreamer out of process keeps cgo out of the frame path.
type WebcamSource struct {
	device  string
	width   int
	height  int
	command CommandFunc

	mu          sync.RWMutex
	cmd         *exec.Cmd
	cancel      context.CancelFunc
	done        chan struct{}
	latestFrame *image.RGBA
	running     bool
}

// NewWebcamSource captures device scaled to width x height. command may be
// nil to use gst-launch-1.0.
func NewWebcamSource(device string, width, height int, command CommandFunc) *WebcamSource {
	if command == nil {
		command = GstLaunch
	}
	return &WebcamSource{
		device:  device,
		width:   width,
		height:  height,
		command: command,
	}
}

// webcamPipeline builds a pipeline that emits fixed-size RGBA frames on fd 1
func webcamPipeline(goos, device string, width, height int) string {
	var src string
	switch goos {
	case "windows":
		src = "mfvideosrc"
		if device != "" {
			src += " device-index=" + device
		}
	case "darwin":
		src = "avfvideosrc"
		if device != "" {
			src += " device-index=" + device
		}
	default:
		src = "v4l2src"
		if device != "" {
			src += " device=" + device
		}
	}

	return fmt.Sprintf(
		"%s ! videoconvert ! videoscale ! video/x-raw,format=RGBA,width=%d,height=%d ! fdsink fd=1 sync=false",
		src, width, height,
	)
}

// Start launches the subprocess and begins reading frames
func (g *WebcamSource) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return fmt.Errorf("pipeline already running")
	}

	log := logger.WithComponent("capture")

	pipeline := webcamPipeline(runtime.GOOS, g.device, g.width, g.height)
	log.Debug().Str("pipeline", pipeline).Msg("Starting GStreamer subprocess")

	ctx, cancel := context.WithCancel(context.Background())
	cmd := g.command(ctx, pipeline)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	g.cmd = cmd
	g.cancel = cancel
	g.done = make(chan struct{})
	g.running = true
	g.latestFrame = nil

	go g.logStderr(stderr)
	go func() {
		defer close(g.done)
		g.readFrames(stdout)
		cmd.Wait()
	}()

	log.Info().
		Str("device", g.device).
		Int("pid", cmd.Process.Pid).
		Msg("Webcam capture started")

	return nil
}

// readFrames stores each complete width*height*4 chunk of r as the latest frame
func (g *WebcamSource) readFrames(r io.Reader) {
	log := logger.WithComponent("capture")

	frameSize := g.width * g.height * 4
	reader := bufio.NewReaderSize(r, frameSize)
	frames := 0

	for {
		img := image.NewRGBA(image.Rect(0, 0, g.width, g.height))
		if _, err := io.ReadFull(reader, img.Pix); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				log.Error().Err(err).Msg("Error reading frame")
			}
			log.Debug().Int("frames", frames).Msg("Webcam stream ended")
			return
		}

		g.mu.Lock()
		g.latestFrame = img
		g.mu.Unlock()
		frames++
	}
}

// logStderr forwards GStreamer messages to the log
func (g *WebcamSource) logStderr(r io.Reader) {
	log := logger.WithComponent("capture")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}

// Stop kills the subprocess and waits for the reader to finish
func (g *WebcamSource) Stop() error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	cancel, done := g.cancel, g.done
	g.mu.Unlock()

	cancel()
	<-done

	logger.WithComponent("capture").Info().Msg("Webcam capture stopped")
	return nil
}

// Frame returns a copy of the most recent frame
func (g *WebcamSource) Frame() (*image.RGBA, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.running {
		return nil, errNotStarted
	}
	if g.latestFrame == nil {
		return nil, ErrNoFrame
	}

	img := image.NewRGBA(g.latestFrame.Bounds())
	copy(img.Pix, g.latestFrame.Pix)
	return img, nil
}

// Size returns the frame dimensions
func (g *WebcamSource) Size() (int, int) {
	return g.width, g.height
}

// Name returns the source name
func (g *WebcamSource) Name() string {
	return "Webcam"
}

// IsRunning returns whether the subprocess is running
func (g *WebcamSource) IsRunning() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.running
}
