package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/0xPuncker/flow-scheduler/pkg/types"
	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const (
	defaultSQLitePath  = "data/cron-jobs.db"
	sqliteBusyTimeout  = 5000
	sqliteQueryTimeout = 10 * time.Second
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cron_jobs (
	position      INTEGER PRIMARY KEY,
	job_key       TEXT NOT NULL,
	workflow_id   TEXT NOT NULL,
	engine        TEXT NOT NULL,
	schedule      TEXT NOT NULL,
	input_payload TEXT
);
CREATE INDEX IF NOT EXISTS idx_cron_jobs_key ON cron_jobs(job_key);
`

// SQLiteStore keeps the definitions in a SQLite table. SaveAll replaces the
// table contents inside a single transaction.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *logrus.Logger
}

func OpenSQLite(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	if path == "" {
		path = defaultSQLitePath
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), sqliteQueryTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", sqliteBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger,
	}, nil
}

func (s *SQLiteStore) LoadAll() []types.JobDefinition {
	jobs, err := s.load()
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"path":  s.path,
			"error": err.Error(),
		}).Error("Failed to load cron jobs, starting with an empty set")
		return []types.JobDefinition{}
	}
	return jobs
}

func (s *SQLiteStore) load() ([]types.JobDefinition, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteQueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT workflow_id, engine, schedule, input_payload FROM cron_jobs ORDER BY position`)
	if err != nil {
		return nil, &ReadError{Path: s.path, Err: err}
	}
	defer rows.Close()

	jobs := []types.JobDefinition{}
	for rows.Next() {
		var (
			job     types.JobDefinition
			engine  string
			payload sql.NullString
		)
		if err := rows.Scan(&job.WorkflowID, &engine, &job.Schedule, &payload); err != nil {
			return nil, &ReadError{Path: s.path, Err: err}
		}
		job.Engine = types.Engine(engine)
		if payload.Valid {
			if !json.Valid([]byte(payload.String)) {
				return nil, &ReadError{Path: s.path, Err: fmt.Errorf("invalid payload for %s", job.Key())}
			}
			job.InputPayload = json.RawMessage(payload.String)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, &ReadError{Path: s.path, Err: err}
	}
	return jobs, nil
}

func (s *SQLiteStore) SaveAll(jobs []types.JobDefinition) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteQueryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cron_jobs`); err != nil {
		return &WriteError{Path: s.path, Err: err}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cron_jobs(position, job_key, workflow_id, engine, schedule, input_payload) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	defer stmt.Close()

	for i, job := range jobs {
		var payload sql.NullString
		if job.InputPayload != nil {
			payload = sql.NullString{String: string(job.InputPayload), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, i, job.Key().String(), job.WorkflowID, job.Engine.String(), job.Schedule, payload); err != nil {
			return &WriteError{Path: s.path, Err: fmt.Errorf("insert %s: %w", job.Key(), err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
