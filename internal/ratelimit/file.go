package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	// StateFile is the rate-limit document name under the state root.
	StateFile = "nudge_rate_limit.json"
	lockFile  = "nudge_rate_limit.lock"
)

// #region file-store

// FileStore keeps State as one JSON document under root.
type FileStore struct {
	root   string
	logger *zap.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store rooted at root. The directory is created on first save.
func NewFileStore(root string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{root: root, logger: logger.Named("ratelimit")}
}

// Path returns the location of the state document.
func (s *FileStore) Path() string {
	return filepath.Join(s.root, StateFile)
}

// #endregion file-store

// #region load

// Load reads the state document, falling back to Empty() on any failure.
func (s *FileStore) Load(_ context.Context) State {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("rate-limit state unreadable, starting empty", zap.String("path", s.Path()), zap.Error(err))
		}
		return Empty()
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("rate-limit state corrupt, starting empty", zap.String("path", s.Path()), zap.Error(err))
		return Empty()
	}
	st.fill()
	return st
}

// #endregion load

// #region save

// Save replaces the state document. It writes a temp file in the same
// directory and renames it over the target.
func (s *FileStore) Save(_ context.Context, st State) error {
	st.fill()
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create state root: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rate-limit state: %w", err)
	}
	tmp, err := os.CreateTemp(s.root, StateFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// #endregion save

// #region update

// Update holds an exclusive lock file across load, fn and save so that
// concurrent processes sharing root serialize their read-modify-write.
func (s *FileStore) Update(ctx context.Context, fn func(*State) error) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create state root: %w", err)
	}
	unlock, err := lockPath(ctx, filepath.Join(s.root, lockFile))
	if err != nil {
		return err
	}
	defer unlock()

	st := s.Load(ctx)
	if err := fn(&st); err != nil {
		return err
	}
	return s.Save(ctx, st)
}

// #endregion update
