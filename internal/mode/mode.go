// Package mode holds the process-wide text/audio toggle that decides which
// kind of host content the router accepts.
package mode

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// state is the on-disk form, {"isTextMode": bool}.
type state struct {
	IsTextMode bool `json:"isTextMode"`
}

// Store keeps the current mode in memory and mirrors every change to a JSON
// file so the toggle survives restarts.
type Store struct {
	path   string
	logger zerolog.Logger

	mu       sync.RWMutex
	textMode bool
}

// Open loads the mode from path. A missing or unreadable file starts in
// audio mode; an empty path disables persistence.
func Open(path string, logger zerolog.Logger) *Store {
	s := &Store{
		path:   path,
		logger: logger.With().Str("component", "mode").Logger(),
	}
	if path == "" {
		return s
	}

	textMode, err := load(path)
	switch {
	case err == nil:
		s.textMode = textMode
		s.logger.Info().Bool("text_mode", textMode).Str("path", path).Msg("mode loaded from disk")
	case errors.Is(err, os.ErrNotExist):
		s.logger.Debug().Str("path", path).Msg("no mode file, starting in audio mode")
	default:
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to read mode file, starting in audio mode")
	}
	return s
}

func load(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return false, fmt.Errorf("invalid mode file: %w", err)
	}
	return st.IsTextMode, nil
}

// IsTextMode reports the current toggle.
func (s *Store) IsTextMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.textMode
}

// SetTextMode switches the toggle. The in-memory value changes even when the
// file cannot be written; the write error is returned for the caller to log.
func (s *Store) SetTextMode(textMode bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.textMode = textMode
	if s.path == "" {
		return nil
	}
	if err := save(s.path, textMode); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("failed to save mode file")
		return err
	}
	s.logger.Info().Bool("text_mode", textMode).Msg("mode changed")
	return nil
}

// save writes through a temp file and rename so a crash never leaves a
// truncated file behind.
func save(path string, textMode bool) error {
	data, err := json.Marshal(state{IsTextMode: textMode})
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create mode directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mode-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp mode file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write mode file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write mode file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace mode file: %w", err)
	}
	return nil
}
