package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/0xPuncker/flow-scheduler/pkg/types"
	"github.com/sirupsen/logrus"
)

// DefaultPath is the record location relative to the working directory.
const DefaultPath = "data/cron-jobs.json"

// FileStore keeps the definitions as a JSON array in a single file that is
// replaced atomically on every save.
type FileStore struct {
	path   string
	logger *logrus.Logger
	mu     sync.Mutex
}

func NewFileStore(path string, logger *logrus.Logger) (*FileStore, error) {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	return &FileStore{
		path:   absPath,
		logger: logger,
	}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) LoadAll() []types.JobDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.read()
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"path":  s.path,
			"error": err.Error(),
		}).Error("Failed to load cron jobs, starting with an empty set")
		return []types.JobDefinition{}
	}
	return jobs
}

func (s *FileStore) read() ([]types.JobDefinition, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []types.JobDefinition{}, nil
		}
		return nil, &ReadError{Path: s.path, Err: err}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return []types.JobDefinition{}, nil
	}

	var jobs []types.JobDefinition
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, &ReadError{Path: s.path, Err: err}
	}
	if jobs == nil {
		jobs = []types.JobDefinition{}
	}
	return jobs, nil
}

func (s *FileStore) SaveAll(jobs []types.JobDefinition) error {
	if jobs == nil {
		jobs = []types.JobDefinition{}
	}

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.path, data); err != nil {
		return &WriteError{Path: s.path, Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"path": s.path,
		"jobs": len(jobs),
	}).Debug("Saved cron jobs")
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

// writeFileAtomic writes data next to path and renames it into place, so
// readers observe either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace jobs file: %w", err)
	}
	return nil
}
