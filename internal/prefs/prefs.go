// Package prefs keeps per-device presentation preferences in a TOML file.
package prefs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

const keyTheme = "ui.theme"

type Theme string

func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark
}

// Store reads and writes the preferences file. Env vars prefixed THEBOX_ override file values.
type Store struct {
	mu   sync.Mutex
	path string
	v    *viper.Viper
}

// Open loads preferences from path; a missing file yields defaults.
func Open(path string) (*Store, error) {
	v := viper.New()
	v.SetDefault(keyTheme, string(ThemeLight))
	v.SetConfigType("toml")
	v.SetConfigFile(path)
	v.SetEnvPrefix("THEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read preferences: %w", err)
		}
	}
	return &Store{path: path, v: v}, nil
}

// Theme returns the stored theme, falling back to light on garbage.
func (s *Store) Theme() Theme {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := Theme(s.v.GetString(keyTheme))
	if !t.Valid() {
		return ThemeLight
	}
	return t
}

func (s *Store) SetTheme(t Theme) error {
	if !t.Valid() {
		return fmt.Errorf("invalid theme %q", t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(keyTheme, string(t))
	return s.save()
}

// ToggleTheme flips between light and dark and persists the result.
func (s *Store) ToggleTheme() (Theme, error) {
	next := ThemeDark
	if s.Theme() == ThemeDark {
		next = ThemeLight
	}
	return next, s.SetTheme(next)
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir preferences dir: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}
