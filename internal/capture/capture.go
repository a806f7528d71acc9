package capture

import (
	"image"
)

// Source defines the interface for frame producers feeding the pipeline
type Source interface {
	// Start initializes the source and any required resources
	Start() error

	// Stop releases resources and stops any background processes
	Stop() error

	// Frame returns the latest frame. The image is owned by the caller and
	// always has the size reported by Size.
	Frame() (*image.RGBA, error)

	// Size returns the frame dimensions
	Size() (width, height int)

	// Name returns a human-readable name for this source
	Name() string
}
