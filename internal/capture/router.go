package capture

import (
	"fmt"

	"github.com/artemshal/DungeonCompanion/internal/config"
	"github.com/artemshal/DungeonCompanion/internal/logger"
)

// New builds the source selected by cfg without starting it
func New(cfg config.CaptureConfig, width, height int) (Source, error) {
	switch cfg.Source {
	case config.SourceWebcam:
		return NewWebcamSource(cfg.Device, width, height, nil), nil
	case config.SourceX11:
		return NewX11Source(cfg.X, cfg.Y, width, height), nil
	case config.SourcePattern, "":
		return NewPatternSource(width, height), nil
	default:
		return nil, fmt.Errorf("unknown capture source: %s", cfg.Source)
	}
}

// Open builds and starts the configured source. When it cannot start, the
// test pattern is used instead so the camera still shows the overlay.
func Open(cfg config.CaptureConfig, width, height int) (Source, error) {
	log := logger.WithComponent("capture")

	src, err := New(cfg, width, height)
	if err != nil {
		return nil, err
	}

	if err := src.Start(); err != nil {
		if _, isPattern := src.(*PatternSource); isPattern {
			return nil, fmt.Errorf("failed to start %s: %w", src.Name(), err)
		}
		log.Warn().
			Err(err).
			Str("source", src.Name()).
			Msg("Capture source not available, falling back to test pattern")

		src = NewPatternSource(width, height)
		if err := src.Start(); err != nil {
			return nil, fmt.Errorf("failed to start %s: %w", src.Name(), err)
		}
	}

	log.Info().
		Str("source", src.Name()).
		Int("width", width).
		Int("height", height).
		Msg("Capture source started")
	return src, nil
}
