package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/archivemergeflow/internal/models"
)

// StatusFileName is the record file inside each run's status directory.
const StatusFileName = "status.json"

// FileStore writes Root/<run>/status.json. Writes go through a temporary file and a
// rename, so a poller never reads a half-written record.
type FileStore struct {
	Root string
}

// NewFileStore returns a store rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

// Dir returns the status directory of a run.
func (s *FileStore) Dir(runID string) (string, error) {
	if err := ValidateRunID(runID); err != nil {
		return "", err
	}
	return filepath.Join(s.Root, runID), nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, rec models.StatusRecord) error {
	dir, err := s.Dir(rec.RunID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create status dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp status file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close status file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, StatusFileName)); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	return nil
}

// Load reads the current record of a run.
func (s *FileStore) Load(runID string) (models.StatusRecord, error) {
	var rec models.StatusRecord
	dir, err := s.Dir(runID)
	if err != nil {
		return rec, err
	}
	data, err := os.ReadFile(filepath.Join(dir, StatusFileName))
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to parse status for run %s: %w", runID, err)
	}
	return rec, nil
}

// ValidateRunID rejects ids that could escape the store root.
func ValidateRunID(runID string) error {
	if runID == "" || runID == "." || runID == ".." || strings.ContainsAny(runID, `/\`) {
		return fmt.Errorf("invalid run id %q", runID)
	}
	return nil
}
