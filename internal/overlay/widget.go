// Package overlay draws widgets over captured frames before they are sent to
// the outputs.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Widget is one element drawn on the overlay
type Widget interface {
	// ID is unique within a Manager
	ID() string

	// Type is the name used in the widgets config list
	Type() string

	// Render draws the widget onto img
	Render(img *image.RGBA) error

	// GetConfig returns the widget's settings in config form
	GetConfig() map[string]interface{}

	// UpdateConfig applies the keys present in config
	UpdateConfig(config map[string]interface{}) error

	IsEnabled() bool
	SetEnabled(enabled bool)
}

// lineHeight is the basicfont glyph height
const lineHeight = 13

// BaseWidget holds the settings every widget shares
type BaseWidget struct {
	mu      sync.RWMutex
	id      string
	enabled bool
	x       int
	y       int
	opacity float64
}

// NewBaseWidget creates an enabled widget at x, y
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	w := &BaseWidget{id: id, enabled: true, x: x, y: y}
	w.SetOpacity(opacity)
	return w
}

// ID returns the widget's identifier
func (w *BaseWidget) ID() string {
	return w.id
}

// IsEnabled returns whether the widget is drawn
func (w *BaseWidget) IsEnabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.enabled
}

// SetEnabled shows or hides the widget
func (w *BaseWidget) SetEnabled(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enabled = enabled
}

// GetPosition returns the top-left corner
func (w *BaseWidget) GetPosition() (int, int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.x, w.y
}

// SetPosition moves the widget
func (w *BaseWidget) SetPosition(x, y int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.x, w.y = x, y
}

// GetOpacity returns the opacity in [0, 1]
func (w *BaseWidget) GetOpacity() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.opacity
}

// SetOpacity sets the opacity, clamped to [0, 1]
func (w *BaseWidget) SetOpacity(opacity float64) {
	if opacity < 0 {
		opacity = 0
	}
	if opacity > 1 {
		opacity = 1
	}
	w.mu.Lock()
	w.opacity = opacity
	w.mu.Unlock()
}

// baseConfig returns the shared keys for GetConfig
func (w *BaseWidget) baseConfig(widgetType string) map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return map[string]interface{}{
		"id":      w.id,
		"type":    widgetType,
		"enabled": w.enabled,
		"x":       w.x,
		"y":       w.y,
		"opacity": w.opacity,
	}
}

// applyBaseConfig reads the shared keys from config
func (w *BaseWidget) applyBaseConfig(config map[string]interface{}) {
	if x, ok := intValue(config["x"]); ok {
		w.mu.Lock()
		w.x = x
		w.mu.Unlock()
	}
	if y, ok := intValue(config["y"]); ok {
		w.mu.Lock()
		w.y = y
		w.mu.Unlock()
	}
	if opacity, ok := floatValue(config["opacity"]); ok {
		w.SetOpacity(opacity)
	}
	if enabled, ok := config["enabled"].(bool); ok {
		w.SetEnabled(enabled)
	}
}

// intValue accepts the numeric types produced by the JSON and YAML decoders
func intValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func floatValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// colorValue reads an {r, g, b, a} map; a missing alpha is opaque
func colorValue(v interface{}) (color.RGBA, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return color.RGBA{}, false
	}
	channel := func(key string, def int) uint8 {
		n, ok := intValue(m[key])
		if !ok {
			n = def
		}
		if n < 0 {
			n = 0
		}
		if n > 255 {
			n = 255
		}
		return uint8(n)
	}
	return color.RGBA{R: channel("r", 0), G: channel("g", 0), B: channel("b", 0), A: channel("a", 255)}, true
}

func colorConfig(c color.RGBA) map[string]interface{} {
	return map[string]interface{}{"r": int(c.R), "g": int(c.G), "b": int(c.B), "a": int(c.A)}
}

// BlendImage composites src over dst with its top-left at x, y, scaling
// src alpha by opacity. Pixels outside dst are clipped.
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	if opacity <= 0 {
		return
	}
	sb := src.Bounds()
	r := image.Rect(x, y, x+sb.Dx(), y+sb.Dy())
	if opacity >= 1 {
		draw.Draw(dst, r, src, sb.Min, draw.Over)
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(dst, r, src, sb.Min, mask, image.Point{}, draw.Over)
}

// DrawRectangle fills a rectangle with c at the given opacity
func DrawRectangle(dst *image.RGBA, x, y, width, height int, c color.Color, opacity float64) {
	if opacity <= 0 || width <= 0 || height <= 0 {
		return
	}
	r := image.Rect(x, y, x+width, y+height)
	src := image.NewUniform(c)
	if opacity >= 1 {
		draw.Draw(dst, r, src, image.Point{}, draw.Over)
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(dst, r, src, image.Point{}, mask, image.Point{}, draw.Over)
}

// measureText returns the pixel width of s in the overlay font
func measureText(s string) int {
	d := &font.Drawer{Face: basicfont.Face7x13}
	return d.MeasureString(s).Ceil()
}

// drawText draws s with its top-left at x, y
func drawText(dst *image.RGBA, s string, x, y int, c color.Color, opacity float64) {
	if s == "" {
		return
	}
	face := basicfont.Face7x13
	textImg := image.NewRGBA(image.Rect(0, 0, measureText(s), lineHeight))
	d := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{Y: fixed.I(face.Ascent)},
	}
	d.DrawString(s)
	BlendImage(dst, textImg, x, y, opacity)
}
