package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/0xPuncker/flow-scheduler/pkg/types"
	"github.com/sirupsen/logrus"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("store: unknown driver")

// Store persists the full set of job definitions as one unit.
type Store interface {
	// LoadAll returns every persisted definition. A missing record yields an
	// empty slice; an unreadable one is logged and also yields an empty slice.
	LoadAll() []types.JobDefinition

	// SaveAll replaces the durable record with exactly jobs.
	SaveAll(jobs []types.JobDefinition) error

	Close() error
}

// Config selects and configures a Store driver.
type Config struct {
	Driver string `json:"driver" yaml:"driver"`
	Path   string `json:"path" yaml:"path"`
}

// ReadError reports a durable record that exists but could not be read.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read job store %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// WriteError reports a failed replacement of the durable record.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write job store %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Open initializes the configured store. An empty driver selects "file".
func Open(cfg Config, logger *logrus.Logger) (Store, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file", "json":
		return NewFileStore(cfg.Path, logger)
	case "sqlite", "sqlite3":
		return OpenSQLite(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}

// Without removes every definition whose key equals key.
func Without(jobs []types.JobDefinition, key types.JobKey) ([]types.JobDefinition, bool) {
	out := make([]types.JobDefinition, 0, len(jobs))
	removed := false
	for _, job := range jobs {
		if job.Key() == key {
			removed = true
			continue
		}
		out = append(out, job)
	}
	return out, removed
}
