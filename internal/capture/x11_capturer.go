package capture

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/artemshal/DungeonCompanion/internal/logger"
)

// X11Source captures a fixed region of the X11 root window
type X11Source struct {
	x, y          int
	width, height int

	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo
	mu     sync.Mutex
}

// NewX11Source captures width x height pixels at (x, y) of the root window
func NewX11Source(x, y, width, height int) *X11Source {
	return &X11Source{x: x, y: y, width: width, height: height}
}

// Start connects to the X server named by $DISPLAY
func (c *X11Source) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	if screen.RootDepth != 24 && screen.RootDepth != 32 {
		conn.Close()
		return fmt.Errorf("unsupported root depth %d", screen.RootDepth)
	}
	if c.x+c.width > int(screen.WidthInPixels) || c.y+c.height > int(screen.HeightInPixels) {
		logger.WithComponent("capture").Warn().
			Int("screen_width", int(screen.WidthInPixels)).
			Int("screen_height", int(screen.HeightInPixels)).
			Msg("Capture region extends past the screen; GetImage will fail")
	}

	c.conn = conn
	c.screen = screen
	c.root = screen.Root

	logger.WithComponent("capture").Info().
		Int("x", c.x).
		Int("y", c.y).
		Int("width", c.width).
		Int("height", c.height).
		Msg("X11 capture connected")
	return nil
}

// Stop closes the X11 connection
func (c *X11Source) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

// Frame captures the configured region of the root window
func (c *X11Source) Frame() (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, errNotStarted
	}

	reply, err := xproto.GetImage(
		c.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(c.root),
		int16(c.x), int16(c.y),
		uint16(c.width), uint16(c.height),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	return zpixmapToRGBA(reply.Data, c.width, c.height), nil
}

// Size returns the frame dimensions
func (c *X11Source) Size() (int, int) {
	return c.width, c.height
}

// Name returns the source name
func (c *X11Source) Name() string {
	return "X11"
}

// zpixmapToRGBA converts 24/32-bit ZPixmap data (BGRX in memory) to RGBA
func zpixmapToRGBA(data []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := len(img.Pix)
	if len(data) < n {
		n = len(data) &^ 3
	}
	for i := 0; i < n; i += 4 {
		img.Pix[i+0] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i+0]
		img.Pix[i+3] = 255
	}
	return img
}
