package capture

import (
	"image"
	"image/color"
	"sync"
)

// SMPTE-style bars, left to right
var patternBars = []color.RGBA{
	{R: 192, G: 192, B: 192, A: 255},
	{R: 192, G: 192, B: 0, A: 255},
	{R: 0, G: 192, B: 192, A: 255},
	{R: 0, G: 192, B: 0, A: 255},
	{R: 192, G: 0, B: 192, A: 255},
	{R: 192, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 192, A: 255},
}

// PatternSource renders color bars with a sweeping marker so motion is
// visible on the consumer side. Used when no camera is configured.
type PatternSource struct {
	width  int
	height int

	mu    sync.Mutex
	base  *image.RGBA
	frame int
}

// NewPatternSource creates a test pattern of the given size
func NewPatternSource(width, height int) *PatternSource {
	return &PatternSource{width: width, height: height}
}

// Start renders the static part of the pattern
func (p *PatternSource) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.base = image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	barWidth := (p.width + len(patternBars) - 1) / len(patternBars)
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			p.base.SetRGBA(x, y, patternBars[x/barWidth])
		}
	}
	p.frame = 0
	return nil
}

// Stop is a no-op
func (p *PatternSource) Stop() error {
	return nil
}

// Frame returns the bars with a white marker column that advances each call
func (p *PatternSource) Frame() (*image.RGBA, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.base == nil {
		return nil, errNotStarted
	}

	img := image.NewRGBA(p.base.Rect)
	copy(img.Pix, p.base.Pix)

	if p.width > 0 {
		x := (p.frame * 4) % p.width
		for y := 0; y < p.height; y++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	p.frame++
	return img, nil
}

// Size returns the frame dimensions
func (p *PatternSource) Size() (int, int) {
	return p.width, p.height
}

// Name returns the source name
func (p *PatternSource) Name() string {
	return "Test Pattern"
}
