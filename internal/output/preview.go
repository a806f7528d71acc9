package output

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/artemshal/DungeonCompanion/internal/convert"
	"github.com/artemshal/DungeonCompanion/internal/logger"
	"github.com/artemshal/DungeonCompanion/internal/shmqueue"
)

// SegmentPreview reads the shared frame queue the way the camera driver
// does and forwards what it finds to another output, typically MJPEG. It
// shows exactly what consumers receive, after NV12 conversion.
type SegmentPreview struct {
	target   Output
	opts     []shmqueue.Option
	interval time.Duration
}

// NewSegmentPreview polls the segment named by opts every interval
func NewSegmentPreview(target Output, interval time.Duration, opts ...shmqueue.Option) *SegmentPreview {
	if interval <= 0 {
		interval = time.Second / 10
	}
	return &SegmentPreview{target: target, opts: opts, interval: interval}
}

// Run polls until ctx is cancelled. The segment is reopened whenever the
// writer stops, changes geometry or is replaced by another writer.
func (p *SegmentPreview) Run(ctx context.Context) error {
	log := logger.WithComponent("output")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var (
		reader  *shmqueue.Reader
		payload []byte
		frame   *image.RGBA
		last    uint32
	)
	closeReader := func() {
		if reader != nil {
			reader.Close()
			reader = nil
		}
	}
	defer closeReader()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if reader == nil {
			r, err := shmqueue.Open(p.opts...)
			if err != nil {
				continue
			}
			reader = r
			l := reader.Layout()
			payload = make([]byte, l.PayloadSize)
			frame = image.NewRGBA(image.Rect(0, 0, int(l.Width), int(l.Height)))
			last = 0
			log.Debug().Uint32("width", l.Width).Uint32("height", l.Height).Msg("Preview attached to segment")
		}

		h := reader.Header()
		if reader.Replaced() || h.State == shmqueue.StateStopping || h.Width != reader.Layout().Width || h.Height != reader.Layout().Height {
			closeReader()
			continue
		}

		f, ok := reader.Latest(payload)
		if !ok || f.Counter == last {
			continue
		}
		last = f.Counter

		if err := p.publish(payload, frame); err != nil {
			log.Debug().Err(err).Msg("Preview frame dropped")
		}
	}
}

func (p *SegmentPreview) publish(payload []byte, frame *image.RGBA) error {
	b := frame.Bounds()
	if err := convert.NV12ToRGBA(payload, b.Dx(), b.Dy(), frame); err != nil {
		return fmt.Errorf("failed to decode NV12: %w", err)
	}
	if !p.target.IsRunning() {
		return nil
	}
	return p.target.WriteFrame(frame)
}
