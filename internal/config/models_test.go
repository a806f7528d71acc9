package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	return m
}

func TestNewManagerCreatesDefaults(t *testing.T) {
	m := newTestManager(t)

	_, err := os.Stat(m.GetConfigPath())
	require.NoError(t, err, "default config written")

	cfg := m.Get()
	assert.Equal(t, 1280, cfg.VirtualCamera.Width)
	assert.Equal(t, 720, cfg.VirtualCamera.Height)
	assert.Equal(t, 30.0, cfg.VirtualCamera.FPS)
	assert.Equal(t, "OBSVirtualCamVideo", cfg.VirtualCamera.ShmName)
	assert.Equal(t, SourcePattern, cfg.Capture.Source)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.NoError(t, cfg.Validate())
}

func TestLoadKeepsDefaultsForMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
virtual_camera:
  width: 1920
  height: 1080
  fps: 29.97
capture:
  source: webcam
character:
  id: "12345678"
  poll_interval: 5m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	m, err := NewManager(path)
	require.NoError(t, err)

	cfg := m.Get()
	assert.Equal(t, 1920, cfg.VirtualCamera.Width)
	assert.Equal(t, 29.97, cfg.VirtualCamera.FPS)
	assert.Equal(t, "OBSVirtualCamVideo", cfg.VirtualCamera.ShmName)
	assert.Equal(t, SourceWebcam, cfg.Capture.Source)
	assert.Equal(t, "12345678", cfg.Character.ID)
	assert.Equal(t, 5*time.Minute, cfg.Character.PollInterval)
	assert.Equal(t, 8080, cfg.ServerPort)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("virtual_camera:\n  width: 1281\n"), 0644))

	_, err := NewManager(path)
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	m := newTestManager(t)

	v, err := m.Lookup("server_port")
	require.NoError(t, err)
	assert.EqualValues(t, 8080, v)

	v, err = m.Lookup("virtual_camera.shm_name")
	require.NoError(t, err)
	assert.Equal(t, "OBSVirtualCamVideo", v)

	_, err = m.Lookup("virtual_display.width")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestSetValue(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.SetValue("server_port", "9090"))
	require.NoError(t, m.SetValue("virtual_camera.fps", "29.97"))
	require.NoError(t, m.SetValue("virtual_camera.autostart", "true"))
	require.NoError(t, m.SetValue("character.poll_interval", "30s"))
	require.NoError(t, m.SetValue("capture.device", "/dev/video2"))

	reloaded, err := NewManager(m.GetConfigPath())
	require.NoError(t, err)

	cfg := reloaded.Get()
	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, 29.97, cfg.VirtualCamera.FPS)
	assert.True(t, cfg.VirtualCamera.Autostart)
	assert.Equal(t, 30*time.Second, cfg.Character.PollInterval)
	assert.Equal(t, "/dev/video2", cfg.Capture.Device)
	assert.Len(t, cfg.Overlay.Widgets, 1, "unrelated fields survive")
}

func TestSetValueRejectsBadInput(t *testing.T) {
	m := newTestManager(t)

	assert.ErrorIs(t, m.SetValue("nope", "1"), ErrUnknownKey)
	assert.Error(t, m.SetValue("server_port", "eighty"))
	assert.Error(t, m.SetValue("virtual_camera.width", "641"))
	assert.Error(t, m.SetValue("capture.source", "v4l2"))
	assert.Error(t, m.SetValue("log_level", "loud"))

	assert.Equal(t, 8080, m.Get().ServerPort, "failed updates leave config unchanged")
}

func TestOverrideIsNotSaved(t *testing.T) {
	m := newTestManager(t)

	m.Override(func(c *Config) { c.ServerPort = 7000 })
	assert.Equal(t, 7000, m.Get().ServerPort)

	reloaded, err := NewManager(m.GetConfigPath())
	require.NoError(t, err)
	assert.Equal(t, 8080, reloaded.Get().ServerPort)
}

func TestOverrideSurvivesUpdate(t *testing.T) {
	m := newTestManager(t)

	m.Override(func(c *Config) {
		c.ServerPort = 7000
		c.VirtualCamera.Autostart = true
		c.Capture.Source = SourceWebcam
	})

	cfg := m.Get()
	cfg.Character.ID = "42"
	cfg.Capture.Device = "/dev/video2"
	require.NoError(t, m.Update(cfg))

	current := m.Get()
	assert.Equal(t, 7000, current.ServerPort, "override still applies")
	assert.True(t, current.VirtualCamera.Autostart)
	assert.Equal(t, "42", current.Character.ID)

	reloaded, err := NewManager(m.GetConfigPath())
	require.NoError(t, err)
	saved := reloaded.Get()
	assert.Equal(t, 8080, saved.ServerPort)
	assert.False(t, saved.VirtualCamera.Autostart)
	assert.Equal(t, SourcePattern, saved.Capture.Source)
	assert.Equal(t, "42", saved.Character.ID)
	assert.Equal(t, "/dev/video2", saved.Capture.Device)
	assert.NotEmpty(t, saved.Overlay.Widgets)
}

func TestOverrideSurvivesSetValue(t *testing.T) {
	m := newTestManager(t)
	m.Override(func(c *Config) { c.ServerPort = 7000 })

	require.NoError(t, m.SetValue("character.poll_interval", "1m"))
	assert.Equal(t, 7000, m.Get().ServerPort)

	reloaded, err := NewManager(m.GetConfigPath())
	require.NoError(t, err)
	assert.Equal(t, 8080, reloaded.Get().ServerPort)
	assert.Equal(t, time.Minute, reloaded.Get().Character.PollInterval)
}

func TestUpdateCanChangeOverriddenField(t *testing.T) {
	m := newTestManager(t)
	m.Override(func(c *Config) { c.ServerPort = 7000 })

	cfg := m.Get()
	cfg.ServerPort = 9000
	require.NoError(t, m.Update(cfg))

	reloaded, err := NewManager(m.GetConfigPath())
	require.NoError(t, err)
	assert.Equal(t, 9000, reloaded.Get().ServerPort)
	assert.Equal(t, 7000, m.Get().ServerPort, "the override is reapplied in memory")
}

func TestResolvePath(t *testing.T) {
	m := newTestManager(t)

	assert.Equal(t, filepath.Join(m.GetConfigDir(), "data.json"), m.ResolvePath("data.json"))
	assert.Equal(t, "/tmp/x.json", m.ResolvePath("/tmp/x.json"))
	assert.Equal(t, "", m.ResolvePath(""))
}
