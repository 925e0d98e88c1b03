// Package settings holds the user-editable persona and voice preferences.
package settings

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const DefaultPersonality = "You are Danzar, an elemental mage with sharp wit. " +
	"Wrap private reasoning in <think>…</think>."

// Settings is the persisted document. JSON is valid YAML, so settings.json
// written by older tools loads unchanged.
type Settings struct {
	Voice           string  `yaml:"voice" json:"voice"`
	Volume          float64 `yaml:"volume" json:"volume"`
	Personality     string  `yaml:"personality" json:"personality"`
	AutoJoinChannel *string `yaml:"auto_join_channel" json:"auto_join_channel"`
}

func Defaults() Settings {
	return Settings{
		Voice:       "p231",
		Volume:      4,
		Personality: DefaultPersonality,
	}
}

// Manager owns the settings file. It is safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	path   string
	cur    Settings
	logger *slog.Logger
}

// Open reads path and merges it over Defaults. A missing or unreadable file
// leaves the defaults in place.
func Open(path string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{path: path, cur: Defaults(), logger: logger.With("component", "settings")}
	m.load()
	return m
}

func (m *Manager) load() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("read settings", "path", m.path, "error", err)
		}
		return
	}
	merged := Defaults()
	if err := yaml.Unmarshal(data, &merged); err != nil {
		m.logger.Warn("parse settings", "path", m.path, "error", err)
		return
	}
	if strings.TrimSpace(merged.Personality) == "" {
		merged.Personality = DefaultPersonality
	}
	m.cur = merged
}

func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Personality implements the persona source used by the prompt builders.
func (m *Manager) Personality() string {
	return m.Get().Personality
}

func (m *Manager) Update(fn func(*Settings)) {
	m.mu.Lock()
	fn(&m.cur)
	m.mu.Unlock()
}

// Set updates one key by name from its string form.
func (m *Manager) Set(key, value string) error {
	var err error
	m.Update(func(s *Settings) {
		switch key {
		case "voice":
			s.Voice = value
		case "volume":
			var v float64
			v, err = strconv.ParseFloat(value, 64)
			if err != nil {
				err = fmt.Errorf("settings: volume must be a number: %w", err)
				return
			}
			s.Volume = v
		case "personality":
			s.Personality = value
		case "auto_join_channel", "autoJoinChannel":
			if value == "" || value == "none" {
				s.AutoJoinChannel = nil
				return
			}
			s.AutoJoinChannel = &value
		default:
			err = fmt.Errorf("settings: unknown key %q (valid: %s)", key, strings.Join(Keys(), ", "))
		}
	})
	return err
}

func Keys() []string {
	keys := []string{"voice", "volume", "personality", "auto_join_channel"}
	sort.Strings(keys)
	return keys
}

// Save writes the current settings. Failures are logged, never returned,
// so it is safe to call from shutdown paths.
func (m *Manager) Save() {
	s := m.Get()
	data, err := yaml.Marshal(s)
	if err != nil {
		m.logger.Error("encode settings", "error", err)
		return
	}
	if dir := filepath.Dir(m.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			m.logger.Error("create settings dir", "path", dir, "error", err)
			return
		}
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		m.logger.Error("write settings", "path", m.path, "error", err)
		return
	}
	m.logger.Info("settings saved", "path", m.path)
}

// YAML renders the current settings for display.
func (m *Manager) YAML() (string, error) {
	data, err := yaml.Marshal(m.Get())
	if err != nil {
		return "", err
	}
	return string(data), nil
}
