// Package pipeline runs the frame loop: capture, overlay, outputs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artemshal/DungeonCompanion/internal/capture"
	"github.com/artemshal/DungeonCompanion/internal/logger"
	"github.com/artemshal/DungeonCompanion/internal/output"
)

// Renderer draws onto a frame in place
type Renderer interface {
	Render(img *image.RGBA) error
}

// Stats counts what the loop has done since it was created
type Stats struct {
	Frames  uint64 `json:"frames"`
	Skipped uint64 `json:"skipped"`
	Errors  uint64 `json:"errors"`
}

// Pipeline pulls frames from a source at a fixed rate, renders the overlay
// and hands the result to every running output
type Pipeline struct {
	source   capture.Source
	overlay  Renderer
	interval time.Duration

	mu      sync.RWMutex
	outputs []output.Output

	frames  atomic.Uint64
	skipped atomic.Uint64
	errs    atomic.Uint64
}

// New creates a pipeline ticking at fps. overlay may be nil.
func New(source capture.Source, overlay Renderer, fps float64, outputs ...output.Output) (*Pipeline, error) {
	if source == nil {
		return nil, fmt.Errorf("pipeline requires a capture source")
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %v", fps)
	}
	return &Pipeline{
		source:   source,
		overlay:  overlay,
		interval: time.Duration(float64(time.Second) / fps),
		outputs:  outputs,
	}, nil
}

// AddOutput attaches another sink
func (p *Pipeline) AddOutput(out output.Output) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputs = append(p.outputs, out)
}

// Outputs returns the attached sinks
func (p *Pipeline) Outputs() []output.Output {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]output.Output(nil), p.outputs...)
}

// Size returns the geometry of captured frames
func (p *Pipeline) Size() (width, height int) {
	return p.source.Size()
}

// Interval returns the time between frames
func (p *Pipeline) Interval() time.Duration {
	return p.interval
}

// Stats returns the loop counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:  p.frames.Load(),
		Skipped: p.skipped.Load(),
		Errors:  p.errs.Load(),
	}
}

// Tick processes one frame. A source with no frame yet counts as skipped
// and is not an error.
func (p *Pipeline) Tick() error {
	frame, err := p.source.Frame()
	if err != nil {
		if errors.Is(err, capture.ErrNoFrame) {
			p.skipped.Add(1)
			return nil
		}
		p.errs.Add(1)
		return fmt.Errorf("capture %s: %w", p.source.Name(), err)
	}

	if p.overlay != nil {
		if err := p.overlay.Render(frame); err != nil {
			p.errs.Add(1)
			return fmt.Errorf("overlay: %w", err)
		}
	}

	var firstErr error
	for _, out := range p.Outputs() {
		if !out.IsRunning() {
			continue
		}
		if err := out.WriteFrame(frame); err != nil {
			p.errs.Add(1)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", out.Name(), err)
			}
		}
	}
	p.frames.Add(1)
	return firstErr
}

// Run ticks until ctx is done. Frame errors are logged at debug level; the
// loop only logs at warn when a run of failures starts and when it ends.
func (p *Pipeline) Run(ctx context.Context) error {
	log := logger.WithComponent("pipeline")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Info().
		Str("source", p.source.Name()).
		Dur("interval", p.interval).
		Int("outputs", len(p.Outputs())).
		Msg("Frame loop started")

	failing := false
	for {
		select {
		case <-ctx.Done():
			st := p.Stats()
			log.Info().
				Uint64("frames", st.Frames).
				Uint64("skipped", st.Skipped).
				Uint64("errors", st.Errors).
				Msg("Frame loop stopped")
			return nil
		case <-ticker.C:
			err := p.Tick()
			switch {
			case err != nil && !failing:
				log.Warn().Err(err).Msg("Frame failed")
				failing = true
			case err != nil:
				log.Debug().Err(err).Msg("Frame failed")
			case failing:
				log.Info().Msg("Frames recovered")
				failing = false
			}
		}
	}
}
