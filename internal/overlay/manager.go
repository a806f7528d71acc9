package overlay

import (
	"fmt"
	"image"
	"sync"

	"github.com/artemshal/DungeonCompanion/internal/logger"
)

// Manager holds the overlay widgets. Widgets are drawn in the order they
// were added, so later widgets appear on top.
type Manager struct {
	mu         sync.RWMutex
	widgets    []Widget
	enabled    bool
	characters CharacterSource
}

// NewManager creates an enabled manager. characters backs "character"
// widgets and may be nil when none are configured.
func NewManager(characters CharacterSource) *Manager {
	return &Manager{
		enabled:    true,
		characters: characters,
	}
}

func (m *Manager) indexOf(id string) int {
	for i, w := range m.widgets {
		if w.ID() == id {
			return i
		}
	}
	return -1
}

// AddWidget appends a widget on top of the existing ones
func (m *Manager) AddWidget(widget Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(widget.ID()) >= 0 {
		return fmt.Errorf("widget with ID %s already exists", widget.ID())
	}
	m.widgets = append(m.widgets, widget)

	logger.WithComponent("overlay").Info().
		Str("id", widget.ID()).
		Str("type", widget.Type()).
		Msg("Added widget")
	return nil
}

// RemoveWidget removes a widget by ID
func (m *Manager) RemoveWidget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return fmt.Errorf("widget with ID %s not found", id)
	}
	m.widgets = append(m.widgets[:i], m.widgets[i+1:]...)

	logger.WithComponent("overlay").Info().Str("id", id).Msg("Removed widget")
	return nil
}

// GetWidget returns a widget by ID
func (m *Manager) GetWidget(id string) (Widget, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if i := m.indexOf(id); i >= 0 {
		return m.widgets[i], true
	}
	return nil, false
}

// GetAllWidgets returns the widgets in drawing order
func (m *Manager) GetAllWidgets() []Widget {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Widget(nil), m.widgets...)
}

// UpdateWidget applies config to the widget with the given ID
func (m *Manager) UpdateWidget(id string, config map[string]interface{}) error {
	widget, ok := m.GetWidget(id)
	if !ok {
		return fmt.Errorf("widget with ID %s not found", id)
	}
	if err := widget.UpdateConfig(config); err != nil {
		return fmt.Errorf("failed to update widget config: %w", err)
	}
	logger.WithComponent("overlay").Debug().Str("id", id).Msg("Updated widget")
	return nil
}

// SetEnabled turns the whole overlay on or off
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
	logger.WithComponent("overlay").Info().Bool("enabled", enabled).Msg("Overlay toggled")
}

// IsEnabled returns whether the overlay is drawn
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Render draws every enabled widget onto img. A failing widget is logged
// and skipped.
func (m *Manager) Render(img *image.RGBA) error {
	if !m.IsEnabled() {
		return nil
	}
	for _, widget := range m.GetAllWidgets() {
		if !widget.IsEnabled() {
			continue
		}
		if err := widget.Render(img); err != nil {
			logger.WithComponent("overlay").Warn().Err(err).Str("id", widget.ID()).Msg("Failed to render widget")
		}
	}
	return nil
}

// CreateWidget builds a widget of the given type from its config entry
func (m *Manager) CreateWidget(widgetType string, id string, config map[string]interface{}) (Widget, error) {
	var widget Widget
	var err error

	switch widgetType {
	case "text":
		widget, err = NewTextWidget(id, config)
	case "character":
		widget, err = NewCharacterWidget(id, m.characters, config)
	default:
		return nil, fmt.Errorf("unknown widget type: %s", widgetType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s widget: %w", widgetType, err)
	}
	return widget, nil
}

// LoadFromConfig creates and adds the configured widgets. Invalid entries
// are logged and skipped; the count of widgets added is returned.
func (m *Manager) LoadFromConfig(configs []map[string]interface{}) int {
	log := logger.WithComponent("overlay")
	added := 0

	for i, config := range configs {
		widgetType, _ := config["type"].(string)
		id, _ := config["id"].(string)
		if widgetType == "" || id == "" {
			log.Warn().Int("index", i).Msg("Skipping widget without type or id")
			continue
		}

		widget, err := m.CreateWidget(widgetType, id, config)
		if err != nil {
			log.Warn().Err(err).Str("id", id).Msg("Skipping widget")
			continue
		}
		if err := m.AddWidget(widget); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("Skipping widget")
			continue
		}
		added++
	}
	return added
}

// ExportConfig returns the widget configs in drawing order
func (m *Manager) ExportConfig() []map[string]interface{} {
	widgets := m.GetAllWidgets()
	configs := make([]map[string]interface{}, 0, len(widgets))
	for _, widget := range widgets {
		configs = append(configs, widget.GetConfig())
	}
	return configs
}

// Clear removes all widgets
func (m *Manager) Clear() {
	m.mu.Lock()
	m.widgets = nil
	m.mu.Unlock()
	logger.WithComponent("overlay").Info().Msg("Cleared all widgets")
}

// GetAvailableWidgetTypes describes the widget types and their settings
func (m *Manager) GetAvailableWidgetTypes() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"type":        "text",
			"name":        "Text Label",
			"description": "Fixed text, one line per newline",
			"config_schema": map[string]interface{}{
				"text":       "string (required)",
				"x":          "int (position)",
				"y":          "int (position)",
				"opacity":    "float (0.0-1.0)",
				"enabled":    "bool",
				"color":      "object {r, g, b, a}",
				"background": "object {r, g, b, a} (optional)",
				"padding":    "int",
			},
		},
		{
			"type":        "character",
			"name":        "Character Card",
			"description": "Portrait, level, armor class and hit points of the loaded character",
			"config_schema": map[string]interface{}{
				"x":             "int (position)",
				"y":             "int (position)",
				"opacity":       "float (0.0-1.0)",
				"enabled":       "bool",
				"portrait_size": "int (pixels, 0 hides the portrait)",
				"padding":       "int",
				"background":    "object {r, g, b, a}",
			},
		},
	}
}
