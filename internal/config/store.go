package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const watchDebounce = 200 * time.Millisecond

// SettingsStore owns the live Settings. Updates are validated as a whole and either
// replace the current section or are rejected leaving it untouched.
type SettingsStore struct {
	mu        sync.RWMutex
	path      string
	settings  Settings
	listeners []func(Settings)
	watching  bool
	logger    zerolog.Logger
}

// NewSettingsStore loads settings from path, writing the defaults there when the file is missing.
// An empty path keeps the settings in memory only.
func NewSettingsStore(path string) (*SettingsStore, error) {
	s := &SettingsStore{
		path:     path,
		settings: DefaultSettings(),
		logger:   log.With().Str("component", "settings").Logger(),
	}
	if path == "" {
		return s, nil
	}

	loaded, err := readSettingsFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := writeSettingsFile(path, s.settings); err != nil {
			return nil, fmt.Errorf("failed to write default settings: %w", err)
		}
		return s, nil
	case err != nil:
		return nil, err
	}
	if err := loaded.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load settings %s: %w", path, err)
	}
	s.settings = loaded
	return s, nil
}

// Path returns the backing file, empty when in memory
func (s *SettingsStore) Path() string {
	return s.path
}

// Get returns a copy of all settings
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Clone()
}

// Risk returns a copy of the current RiskConfig
func (s *SettingsStore) Risk() RiskConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Risk.Clone()
}

// AI returns a copy of the current AISettings
func (s *SettingsStore) AI() AISettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.AI.Clone()
}

// StopLoss returns the current StopLossSettings
func (s *SettingsStore) StopLoss() StopLossSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.StopLoss
}

// UpdateRisk replaces the RiskConfig or rejects it
func (s *SettingsStore) UpdateRisk(cfg RiskConfig) error {
	return s.update(func(next *Settings) { next.Risk = cfg.Clone() })
}

// UpdateAI replaces the AISettings or rejects them
func (s *SettingsStore) UpdateAI(cfg AISettings) error {
	if cfg.SectorLimits == nil {
		cfg.SectorLimits = map[string]float64{}
	}
	return s.update(func(next *Settings) { next.AI = cfg.Clone() })
}

// UpdateStopLoss replaces the StopLossSettings or rejects them
func (s *SettingsStore) UpdateStopLoss(cfg StopLossSettings) error {
	return s.update(func(next *Settings) { next.StopLoss = cfg })
}

// OnChange registers fn to run after every applied change
func (s *SettingsStore) OnChange(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *SettingsStore) update(mutate func(*Settings)) error {
	s.mu.Lock()
	next := s.settings.Clone()
	mutate(&next)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		s.logger.Warn().Err(err).Msg("rejected settings update")
		return err
	}
	if s.path != "" {
		if err := writeSettingsFile(s.path, next); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to persist settings: %w", err)
		}
	}
	s.settings = next
	listeners := append([]func(Settings){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next.Clone())
	}
	return nil
}

// Reload re-reads the settings file. An invalid file is rejected and the current settings stay.
func (s *SettingsStore) Reload() error {
	if s.path == "" {
		return nil
	}
	loaded, err := readSettingsFile(s.path)
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("rejected settings file")
		return err
	}

	s.mu.Lock()
	if reflect.DeepEqual(s.settings, loaded) {
		s.mu.Unlock()
		return nil
	}
	s.settings = loaded
	listeners := append([]func(Settings){}, s.listeners...)
	s.mu.Unlock()

	s.logger.Info().Str("path", s.path).Msg("settings reloaded")
	for _, fn := range listeners {
		fn(loaded.Clone())
	}
	return nil
}

// Watch reloads the settings whenever the file changes, until ctx is done
func (s *SettingsStore) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	if s.watching {
		s.mu.Unlock()
		return nil
	}
	s.watching = true
	s.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create settings watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch settings dir: %w", err)
	}

	go s.watchLoop(ctx, watcher)
	return nil
}

func (s *SettingsStore) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	defer func() {
		s.mu.Lock()
		s.watching = false
		s.mu.Unlock()
	}()

	var timerMu sync.Mutex
	var timer *time.Timer
	trigger := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			if err := s.Reload(); err != nil {
				s.logger.Error().Err(err).Msg("settings reload failed")
			}
		})
	}

	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != filepath.Clean(s.path) {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				trigger()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("settings watcher error")
		case <-ctx.Done():
			return
		}
	}
}

func readSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	settings := DefaultSettings()
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings %s: %w", path, &ValidationError{Section: "file", Field: filepath.Base(path), Reason: err.Error()})
	}
	if settings.AI.SectorLimits == nil {
		settings.AI.SectorLimits = map[string]float64{}
	}
	return settings, nil
}

func writeSettingsFile(path string, settings Settings) error {
	data, err := yaml.Marshal(&settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "settings-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp settings: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp settings: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
