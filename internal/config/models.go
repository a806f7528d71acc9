package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/artemshal/DungeonCompanion/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Capture source names
const (
	SourceWebcam  = "webcam"
	SourceX11     = "x11"
	SourcePattern = "pattern"
)

// ErrUnknownKey is returned by Lookup and SetValue for keys not in Config
var ErrUnknownKey = errors.New("configuration key not found")

// Config represents the application configuration
type Config struct {
	VirtualCamera VirtualCameraConfig `json:"virtual_camera" yaml:"virtual_camera" mapstructure:"virtual_camera"`
	Capture       CaptureConfig       `json:"capture" yaml:"capture" mapstructure:"capture"`
	Character     CharacterConfig     `json:"character" yaml:"character" mapstructure:"character"`
	Overlay       OverlayConfig       `json:"overlay" yaml:"overlay" mapstructure:"overlay"`
	ServerPort    int                 `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	LogLevel      string              `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
}

// VirtualCameraConfig configures the shared-memory camera output
type VirtualCameraConfig struct {
	Width           int     `json:"width" yaml:"width" mapstructure:"width"`
	Height          int     `json:"height" yaml:"height" mapstructure:"height"`
	FPS             float64 `json:"fps" yaml:"fps" mapstructure:"fps"`
	ShmName         string  `json:"shm_name" yaml:"shm_name" mapstructure:"shm_name"`
	ShmDir          string  `json:"shm_dir" yaml:"shm_dir" mapstructure:"shm_dir"`
	ExclusiveWriter bool    `json:"exclusive_writer" yaml:"exclusive_writer" mapstructure:"exclusive_writer"`
	RequireDriver   bool    `json:"require_driver" yaml:"require_driver" mapstructure:"require_driver"`
	Autostart       bool    `json:"autostart" yaml:"autostart" mapstructure:"autostart"`
}

// CaptureConfig selects and configures the frame source
type CaptureConfig struct {
	Source string `json:"source" yaml:"source" mapstructure:"source"`
	Device string `json:"device" yaml:"device" mapstructure:"device"`
	X      int    `json:"x" yaml:"x" mapstructure:"x"`
	Y      int    `json:"y" yaml:"y" mapstructure:"y"`
}

// CharacterConfig says where character data comes from
type CharacterConfig struct {
	ID           string        `json:"id" yaml:"id" mapstructure:"id"`
	DataFile     string        `json:"data_file" yaml:"data_file" mapstructure:"data_file"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`
}

// OverlayConfig represents overlay configuration
type OverlayConfig struct {
	Enabled bool                     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Widgets []map[string]interface{} `json:"widgets" yaml:"widgets" mapstructure:"widgets"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		VirtualCamera: VirtualCameraConfig{
			Width:         1280,
			Height:        720,
			FPS:           30,
			ShmName:       "OBSVirtualCamVideo",
			ShmDir:        "/dev/shm",
			RequireDriver: true,
		},
		Capture: CaptureConfig{
			Source: SourcePattern,
			Device: "/dev/video0",
		},
		Character: CharacterConfig{
			DataFile:     "data.json",
			PollInterval: 0,
		},
		Overlay: OverlayConfig{
			Enabled: true,
			Widgets: []map[string]interface{}{
				{
					"id":      "character",
					"type":    "character",
					"enabled": true,
					"x":       16,
					"y":       16,
				},
			},
		},
	}
}

// Validate checks values the rest of the program relies on
func (c *Config) Validate() error {
	vc := c.VirtualCamera
	if vc.Width <= 0 || vc.Height <= 0 || vc.Width%2 != 0 || vc.Height%2 != 0 {
		return fmt.Errorf("virtual_camera size %dx%d must be positive and even", vc.Width, vc.Height)
	}
	if vc.FPS <= 0 {
		return fmt.Errorf("virtual_camera.fps must be positive, got %v", vc.FPS)
	}
	if vc.ShmName == "" {
		return fmt.Errorf("virtual_camera.shm_name must not be empty")
	}
	switch c.Capture.Source {
	case SourceWebcam, SourceX11, SourcePattern:
	default:
		return fmt.Errorf("capture.source %q is not one of %s, %s, %s", c.Capture.Source, SourceWebcam, SourceX11, SourcePattern)
	}
	if c.Character.PollInterval < 0 {
		return fmt.Errorf("character.poll_interval must not be negative")
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("server_port %d out of range", c.ServerPort)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "disabled":
	default:
		return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", c.LogLevel)
	}
	return nil
}

// Manager handles configuration. config is what the file holds; overrides
// are applied on top by Get and never saved.
type Manager struct {
	configPath string
	config     *Config
	overrides  []func(*Config)
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/dungeoncompanion/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "dungeoncompanion", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty. A missing
// file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	m := &Manager{configPath: path}
	log := logger.WithComponent("config")

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	log.Info().
		Str("path", m.configPath).
		Str("capture", m.config.Capture.Source).
		Int("width", m.config.VirtualCamera.Width).
		Int("height", m.config.VirtualCamera.Height).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk. Fields missing from the file keep
// their defaults.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Overlay.Widgets == nil {
		cfg.Overlay.Widgets = []map[string]interface{}{}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration with overrides applied
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effective()
}

func (m *Manager) effective() *Config {
	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	cfg.Overlay.Widgets = append([]map[string]interface{}(nil), m.config.Overlay.Widgets...)
	for _, apply := range m.overrides {
		apply(&cfg)
	}
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	log := logger.WithComponent("config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	log.Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update validates and replaces the entire configuration. cfg is usually a
// modified copy from Get: fields still holding an overridden value keep the
// saved value, so overrides never reach the file.
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	saved := cfg
	if len(m.overrides) > 0 && m.config != nil {
		var err error
		saved, err = withoutOverrides(m.config, m.effective(), cfg)
		if err == nil {
			err = saved.Validate()
		}
		if err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.config = saved
	m.mu.Unlock()
	return m.Save()
}

// Override applies a change in memory without saving, for flag overrides
// that should not be persisted
func (m *Manager) Override(apply func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config == nil {
		m.config = Defaults()
	}
	m.overrides = append(m.overrides, apply)
}

// withoutOverrides returns next with every field that was left at its
// overridden value put back to its saved value
func withoutOverrides(saved, overridden, next *Config) (*Config, error) {
	savedTree, err := configTree(saved)
	if err != nil {
		return nil, err
	}
	overriddenTree, err := configTree(overridden)
	if err != nil {
		return nil, err
	}
	nextTree, err := configTree(next)
	if err != nil {
		return nil, err
	}
	restoreSaved(nextTree, savedTree, overriddenTree)

	data, err := yaml.Marshal(nextTree)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Overlay.Widgets == nil {
		cfg.Overlay.Widgets = []map[string]interface{}{}
	}
	return cfg, nil
}

func configTree(cfg *Config) (map[string]interface{}, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	tree := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to index config: %w", err)
	}
	return tree, nil
}

// restoreSaved walks nested sections; lists are compared whole
func restoreSaved(next, saved, overridden map[string]interface{}) {
	for key, value := range next {
		savedValue, ok := saved[key]
		if !ok {
			continue
		}
		overriddenValue := overridden[key]

		nextSection, isSection := value.(map[string]interface{})
		savedSection, savedIsSection := savedValue.(map[string]interface{})
		overriddenSection, overriddenIsSection := overriddenValue.(map[string]interface{})
		if isSection && savedIsSection && overriddenIsSection {
			restoreSaved(nextSection, savedSection, overriddenSection)
			continue
		}

		if reflect.DeepEqual(value, overriddenValue) && !reflect.DeepEqual(value, savedValue) {
			next[key] = savedValue
		}
	}
}

// viper returns the configuration as a viper tree so dotted keys like
// virtual_camera.fps can be looked up and set
func (m *Manager) viper() (*viper.Viper, error) {
	data, err := yaml.Marshal(m.Get())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to index config: %w", err)
	}
	return v, nil
}

// Lookup returns the value of a dotted configuration key
func (m *Manager) Lookup(key string) (interface{}, error) {
	v, err := m.viper()
	if err != nil {
		return nil, err
	}
	if !v.IsSet(key) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return v.Get(key), nil
}

// SetValue parses raw for the type of key, validates the result and saves it
func (m *Manager) SetValue(key, raw string) error {
	v, err := m.viper()
	if err != nil {
		return err
	}
	if !v.IsSet(key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	var value interface{} = raw
	if _, isString := v.Get(key).(string); !isString {
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	v.Set(key, value)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := m.Update(cfg); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	logger.WithComponent("config").Info().
		Str("key", key).
		Str("value", raw).
		Msg("Config value updated")
	return nil
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

// ResolvePath resolves p against the config directory unless absolute
func (m *Manager) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.GetConfigDir(), p)
}
