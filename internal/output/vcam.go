package output

import (
	"fmt"
	"image"
	"sync"

	"github.com/artemshal/DungeonCompanion/internal/vcam"
)

// VirtualCameraOutput publishes frames to the OBS virtual camera
type VirtualCameraOutput struct {
	session *vcam.Session

	mu     sync.RWMutex
	config Config
}

// NewVirtualCameraOutput wraps session. The session is started with config's
// geometry on Start.
func NewVirtualCameraOutput(session *vcam.Session, config Config) *VirtualCameraOutput {
	return &VirtualCameraOutput{session: session, config: config}
}

// Start opens the shared frame queue with the configured geometry
func (v *VirtualCameraOutput) Start() error {
	return v.StartWith(v.Config())
}

// StartWith starts, or restarts, the camera with cfg. cfg becomes the
// configured geometry only once the camera is running.
func (v *VirtualCameraOutput) StartWith(cfg Config) error {
	if err := v.session.Start(cfg.Width, cfg.Height, cfg.FPS); err != nil {
		return fmt.Errorf("failed to start virtual camera: %w", err)
	}
	v.mu.Lock()
	v.config = cfg
	v.mu.Unlock()
	return nil
}

// Stop closes the shared frame queue
func (v *VirtualCameraOutput) Stop() error {
	v.session.Stop()
	return nil
}

// WriteFrame publishes frame; ignored while stopped
func (v *VirtualCameraOutput) WriteFrame(frame *image.RGBA) error {
	return v.session.SendRGBA(frame)
}

// Name returns the output type name
func (v *VirtualCameraOutput) Name() string {
	return "OBS Virtual Camera"
}

// IsRunning returns true if the camera session is started
func (v *VirtualCameraOutput) IsRunning() bool {
	return v.session.IsRunning()
}

// Config returns the configured geometry
func (v *VirtualCameraOutput) Config() Config {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.config
}

// Status returns the camera session status
func (v *VirtualCameraOutput) Status() vcam.Status {
	return v.session.Status()
}

// Session returns the underlying camera session
func (v *VirtualCameraOutput) Session() *vcam.Session {
	return v.session
}
