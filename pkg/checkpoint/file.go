package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FileStore keeps one JSON file per crawl name in a directory. Saves write a
// temporary file in the same directory and rename it over the target, so a
// reader never sees a half-written checkpoint.
type FileStore struct {
	dir    string
	logger zerolog.Logger
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{
		dir:    dir,
		logger: log.With().Str("component", "checkpoint").Str("backend", "file").Logger(),
	}, nil
}

// Path returns the checkpoint file for name.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, name string) (State, error) {
	if err := validateName(name); err != nil {
		return State{}, err
	}

	data, err := os.ReadFile(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		errorsTotal.WithLabelValues("file", "load").Inc()
		return State{}, fmt.Errorf("read checkpoint %s: %w", name, err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		errorsTotal.WithLabelValues("file", "load").Inc()
		return State{}, fmt.Errorf("decode checkpoint %s: %w", name, err)
	}

	s.logger.Debug().Str("name", name).Int("last_page", state.LastPage).Int("records", state.Count).Msg("Checkpoint loaded")
	return state, nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, name string, state State) error {
	if err := validateName(name); err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", name, err)
	}

	if err := s.writeAtomic(s.Path(name), data); err != nil {
		errorsTotal.WithLabelValues("file", "save").Inc()
		return fmt.Errorf("write checkpoint %s: %w", name, err)
	}

	savesTotal.WithLabelValues("file").Inc()
	s.logger.Debug().Str("name", name).Int("last_page", state.LastPage).Int("records", state.Count).Msg("Checkpoint saved")
	return nil
}

func (s *FileStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Clear implements Store. Clearing a missing checkpoint is not an error.
func (s *FileStore) Clear(_ context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		errorsTotal.WithLabelValues("file", "clear").Inc()
		return fmt.Errorf("remove checkpoint %s: %w", name, err)
	}
	s.logger.Debug().Str("name", name).Msg("Checkpoint cleared")
	return nil
}
