package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"frontpipe/internal/models"
	"frontpipe/pkg/errors"
)

// FileStore persists one JSON snapshot file per target date under a state
// directory. Writes go through a temp file and rename so a crash mid-save
// never leaves a torn snapshot.
type FileStore struct {
	dir string
}

// NewFileStore creates the state directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.StateError(errors.CodeStateLoadFailed, dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(targetDate string) string {
	return filepath.Join(s.dir, fmt.Sprintf("master_%s.json", targetDate))
}

// Load reads the snapshot for the date. A missing file means the date has
// not been processed yet and is not an error.
func (s *FileStore) Load(targetDate string) ([]*models.FeedRow, bool, error) {
	data, err := os.ReadFile(s.path(targetDate))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.StateError(errors.CodeStateLoadFailed, targetDate, err)
	}

	var rows []*models.FeedRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, false, errors.StateError(errors.CodeStateLoadFailed, targetDate, err)
	}
	return rows, true, nil
}

// Save writes the snapshot atomically.
func (s *FileStore) Save(targetDate string, rows []*models.FeedRow) error {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return errors.StateError(errors.CodeStateSaveFailed, targetDate, err)
	}

	final := s.path(targetDate)
	tmp, err := os.CreateTemp(s.dir, "master_*.tmp")
	if err != nil {
		return errors.StateError(errors.CodeStateSaveFailed, targetDate, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.StateError(errors.CodeStateSaveFailed, targetDate, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.StateError(errors.CodeStateSaveFailed, targetDate, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return errors.StateError(errors.CodeStateSaveFailed, targetDate, err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }
