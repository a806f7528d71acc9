package overlay

import (
	"fmt"
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"

	"github.com/artemshal/DungeonCompanion/internal/character"
)

// CharacterSource provides the character shown by CharacterWidget
type CharacterSource interface {
	Snapshot() character.Snapshot
}

const hpBarHeight = 6

var (
	nameColor   = color.RGBA{255, 255, 255, 255}
	detailColor = color.RGBA{200, 200, 200, 255}
	hpHigh      = color.RGBA{46, 160, 67, 255}
	hpMid       = color.RGBA{219, 154, 4, 255}
	hpLow       = color.RGBA{203, 36, 49, 255}
	hpTrack     = color.RGBA{60, 60, 70, 255}
)

// CharacterWidget draws a card with the portrait, name, level, armor class
// and hit points of the current character
type CharacterWidget struct {
	*BaseWidget
	source       CharacterSource
	portraitSize int
	bgColor      color.RGBA
	padding      int

	// scaled portrait, rebuilt when the source image changes
	portraitSrc image.Image
	portrait    *image.RGBA
}

// NewCharacterWidget creates a character card reading from source
func NewCharacterWidget(id string, source CharacterSource, config map[string]interface{}) (*CharacterWidget, error) {
	if source == nil {
		return nil, fmt.Errorf("character widget requires a character source")
	}
	w := &CharacterWidget{
		BaseWidget:   NewBaseWidget(id, 16, 16, 1.0),
		source:       source,
		portraitSize: 64,
		bgColor:      color.RGBA{30, 30, 40, 220},
		padding:      8,
	}
	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	return w, nil
}

// Type returns "character"
func (w *CharacterWidget) Type() string {
	return "character"
}

// Render draws the card, or a placeholder before a character is loaded
func (w *CharacterWidget) Render(img *image.RGBA) error {
	snap := w.source.Snapshot()

	w.mu.Lock()
	x, y, opacity := w.x, w.y, w.opacity
	pad, size, bg := w.padding, w.portraitSize, w.bgColor
	portrait := w.scaledPortrait(snap.Portrait, size)
	w.mu.Unlock()

	if snap.Character == nil {
		const placeholder = "No character loaded"
		DrawRectangle(img, x, y, measureText(placeholder)+pad*2, lineHeight+pad*2, bg, opacity)
		drawText(img, placeholder, x+pad, y+pad, detailColor, opacity)
		return nil
	}

	s := snap.Character.Summary()
	lines := []struct {
		text string
		c    color.Color
	}{
		{s.Name, nameColor},
		{fmt.Sprintf("Level %d %s %s", s.Level, s.Race, s.Class), detailColor},
		{fmt.Sprintf("AC %d   HP %d/%d", s.ArmorClass, s.HitPoints, s.MaxHitPoints), nameColor},
	}

	textWidth := 0
	for _, l := range lines {
		if lw := measureText(l.text); lw > textWidth {
			textWidth = lw
		}
	}
	textHeight := len(lines)*lineHeight + pad/2 + hpBarHeight

	textX := x + pad
	innerHeight := textHeight
	if portrait != nil {
		textX += size + pad
		if size > innerHeight {
			innerHeight = size
		}
	}
	width := textX - x + textWidth + pad
	DrawRectangle(img, x, y, width, innerHeight+pad*2, bg, opacity)

	if portrait != nil {
		BlendImage(img, portrait, x+pad, y+pad, opacity)
	}
	for i, l := range lines {
		drawText(img, l.text, textX, y+pad+i*lineHeight, l.c, opacity)
	}

	barY := y + pad + len(lines)*lineHeight + pad/2
	DrawRectangle(img, textX, barY, textWidth, hpBarHeight, hpTrack, opacity)
	if s.MaxHitPoints > 0 && s.HitPoints > 0 {
		fill := textWidth * s.HitPoints / s.MaxHitPoints
		if fill > textWidth {
			fill = textWidth
		}
		DrawRectangle(img, textX, barY, fill, hpBarHeight, hpColor(s.HitPoints, s.MaxHitPoints), opacity)
	}
	return nil
}

// hpColor is green above half, amber above a quarter, otherwise red
func hpColor(hp, max int) color.RGBA {
	switch {
	case hp*2 > max:
		return hpHigh
	case hp*4 > max:
		return hpMid
	default:
		return hpLow
	}
}

// scaledPortrait returns src scaled to size x size. Callers hold w.mu.
func (w *CharacterWidget) scaledPortrait(src image.Image, size int) *image.RGBA {
	if src == nil || size <= 0 {
		return nil
	}
	if src == w.portraitSrc && w.portrait != nil && w.portrait.Bounds().Dx() == size {
		return w.portrait
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	w.portraitSrc = src
	w.portrait = dst
	return dst
}

// GetConfig returns the widget configuration
func (w *CharacterWidget) GetConfig() map[string]interface{} {
	config := w.baseConfig(w.Type())

	w.mu.RLock()
	defer w.mu.RUnlock()
	config["portrait_size"] = w.portraitSize
	config["padding"] = w.padding
	config["background"] = colorConfig(w.bgColor)
	return config
}

// UpdateConfig applies portrait_size, padding and background
func (w *CharacterWidget) UpdateConfig(config map[string]interface{}) error {
	w.applyBaseConfig(config)

	w.mu.Lock()
	defer w.mu.Unlock()
	if size, ok := intValue(config["portrait_size"]); ok {
		if size < 0 || size > 512 {
			return fmt.Errorf("portrait_size must be between 0 and 512, got %d", size)
		}
		w.portraitSize = size
	}
	if padding, ok := intValue(config["padding"]); ok {
		if padding < 0 {
			return fmt.Errorf("padding must not be negative")
		}
		w.padding = padding
	}
	if c, ok := colorValue(config["background"]); ok {
		w.bgColor = c
	}
	return nil
}
