package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strings"
)

// TextWidget draws one or more lines of fixed text
type TextWidget struct {
	*BaseWidget
	text      string
	textColor color.RGBA
	bgColor   *color.RGBA
	padding   int
}

// NewTextWidget creates a text widget from its config entry
func NewTextWidget(id string, config map[string]interface{}) (*TextWidget, error) {
	w := &TextWidget{
		BaseWidget: NewBaseWidget(id, 0, 0, 1.0),
		textColor:  color.RGBA{255, 255, 255, 255},
		padding:    5,
	}
	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// Type returns "text"
func (w *TextWidget) Type() string {
	return "text"
}

// Render draws the text box
func (w *TextWidget) Render(img *image.RGBA) error {
	w.mu.RLock()
	text, fg, bg, pad := w.text, w.textColor, w.bgColor, w.padding
	x, y, opacity := w.x, w.y, w.opacity
	w.mu.RUnlock()

	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	width := 0
	for _, line := range lines {
		if lw := measureText(line); lw > width {
			width = lw
		}
	}

	if bg != nil {
		DrawRectangle(img, x, y, width+pad*2, len(lines)*lineHeight+pad*2, *bg, opacity)
	}
	for i, line := range lines {
		drawText(img, line, x+pad, y+pad+i*lineHeight, fg, opacity)
	}
	return nil
}

// GetConfig returns the widget configuration
func (w *TextWidget) GetConfig() map[string]interface{} {
	config := w.baseConfig(w.Type())

	w.mu.RLock()
	defer w.mu.RUnlock()
	config["text"] = w.text
	config["padding"] = w.padding
	config["color"] = colorConfig(w.textColor)
	if w.bgColor != nil {
		config["background"] = colorConfig(*w.bgColor)
	}
	return config
}

// UpdateConfig applies text, padding, color and background
func (w *TextWidget) UpdateConfig(config map[string]interface{}) error {
	w.applyBaseConfig(config)

	w.mu.Lock()
	defer w.mu.Unlock()
	if text, ok := config["text"].(string); ok {
		w.text = text
	}
	if padding, ok := intValue(config["padding"]); ok {
		if padding < 0 {
			return fmt.Errorf("padding must not be negative")
		}
		w.padding = padding
	}
	if c, ok := colorValue(config["color"]); ok {
		w.textColor = c
	}
	if c, ok := colorValue(config["background"]); ok {
		w.bgColor = &c
	}
	return nil
}

// SetText replaces the text
func (w *TextWidget) SetText(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.text = text
}

// GetText returns the text
func (w *TextWidget) GetText() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.text
}

// Validate checks the widget has something to draw
func (w *TextWidget) Validate() error {
	if w.GetText() == "" {
		return fmt.Errorf("text widget requires non-empty text")
	}
	return nil
}
