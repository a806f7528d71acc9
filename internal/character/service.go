package character

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/artemshal/DungeonCompanion/internal/logger"
)

// Snapshot is the current character with its portrait
type Snapshot struct {
	Character *Character
	Portrait  image.Image
	UpdatedAt time.Time
}

// Service keeps the displayed character current. The document is cached in
// dataFile so the overlay comes up without network access.
type Service struct {
	client   *Client
	dataFile string

	mu        sync.RWMutex
	character *Character
	portrait  image.Image
	updatedAt time.Time
	listeners []func(Snapshot)
}

// NewService creates a service backed by client and dataFile
func NewService(client *Client, dataFile string) *Service {
	return &Service{
		client:   client,
		dataFile: dataFile,
	}
}

// Subscribe registers fn to be called after every successful load
func (s *Service) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Snapshot returns the current character; Character is nil before the
// first load
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Character: s.character,
		Portrait:  s.portrait,
		UpdatedAt: s.updatedAt,
	}
}

// Load reads the cached document from dataFile
func (s *Service) Load(ctx context.Context) error {
	data, err := os.ReadFile(s.dataFile)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.dataFile, err)
	}
	c, err := Parse(data)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", s.dataFile, err)
	}
	s.publish(ctx, c)
	return nil
}

// Reload fetches character id from the service, caches it and publishes it
func (s *Service) Reload(ctx context.Context, id int) error {
	data, err := s.client.Fetch(ctx, id)
	if err != nil {
		return err
	}
	c, err := Parse(data)
	if err != nil {
		return fmt.Errorf("character %d: %w", id, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.dataFile), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(s.dataFile, data, 0644); err != nil {
		return fmt.Errorf("failed to save %s: %w", s.dataFile, err)
	}

	s.publish(ctx, c)
	return nil
}

// Poll reloads id every interval until ctx is done. Failures are logged and
// the previous character stays on screen.
func (s *Service) Poll(ctx context.Context, id int, interval time.Duration) {
	log := logger.WithComponent("character")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reload(ctx, id); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Int("id", id).Msg("Character refresh failed")
			}
		}
	}
}

// publish swaps in c, fetching its portrait when the URL changed
func (s *Service) publish(ctx context.Context, c *Character) {
	log := logger.WithComponent("character")

	s.mu.RLock()
	portrait := s.portrait
	samePortrait := s.character != nil && s.character.PortraitURL == c.PortraitURL
	s.mu.RUnlock()

	if !samePortrait {
		portrait = nil
		if c.PortraitURL != "" {
			img, err := s.client.FetchPortrait(ctx, c.PortraitURL)
			if err != nil {
				log.Warn().Err(err).Str("url", c.PortraitURL).Msg("Portrait not loaded")
			} else {
				portrait = img
			}
		}
	}

	s.mu.Lock()
	s.character = c
	s.portrait = portrait
	s.updatedAt = time.Now()
	snap := Snapshot{Character: c, Portrait: portrait, UpdatedAt: s.updatedAt}
	listeners := append([]func(Snapshot){}, s.listeners...)
	s.mu.Unlock()

	sum := c.Summary()
	log.Info().
		Int("id", sum.ID).
		Str("name", sum.Name).
		Int("level", sum.Level).
		Int("ac", sum.ArmorClass).
		Int("hp", sum.HitPoints).
		Int("max_hp", sum.MaxHitPoints).
		Msg("Character updated")

	for _, fn := range listeners {
		fn(snap)
	}
}
