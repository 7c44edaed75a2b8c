// Package history keeps a durable record of finished runs and daily usage totals in
// SQLite. It subscribes to run completion; the pipeline never calls it directly.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Lllllllleong/archivemergeflow/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS processing_jobs (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id            TEXT NOT NULL UNIQUE,
	status            TEXT NOT NULL,
	outcome           TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	completed_at      INTEGER,
	file_count        INTEGER NOT NULL DEFAULT 0,
	failed_count      INTEGER NOT NULL DEFAULT 0,
	original_filename TEXT NOT NULL DEFAULT '',
	processing_time   INTEGER NOT NULL DEFAULT 0,
	rendition_tier    TEXT NOT NULL DEFAULT '',
	error             TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_processing_jobs_created ON processing_jobs(created_at);

CREATE TABLE IF NOT EXISTS usage_stats (
	date                  TEXT PRIMARY KEY,
	total_jobs            INTEGER NOT NULL DEFAULT 0,
	total_files_processed INTEGER NOT NULL DEFAULT 0,
	total_processing_time INTEGER NOT NULL DEFAULT 0
);`

// Job is one row of processing_jobs.
type Job struct {
	JobID            string     `json:"job_id"`
	Status           string     `json:"status"`
	Outcome          string     `json:"outcome"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	FileCount        int        `json:"file_count"`
	FailedCount      int        `json:"failed_count"`
	OriginalFilename string     `json:"original_filename"`
	ProcessingTime   int64      `json:"processing_time"`
	RenditionTier    string     `json:"rendition_tier,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// Usage is one row of usage_stats.
type Usage struct {
	Date                string `json:"date"`
	TotalJobs           int    `json:"total_jobs"`
	TotalFilesProcessed int    `json:"total_files_processed"`
	TotalProcessingTime int64  `json:"total_processing_time"`
}

// Store is the job history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path with WAL journaling, a busy
// timeout and NORMAL synchronous mode. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("history: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	for _, p := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: exec schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunFinished records a terminal run and adds it to the usage totals of the day it
// started. Recording the same run twice updates the job row but counts it once.
func (s *Store) RunFinished(ctx context.Context, run *models.Run) error {
	if !run.Stage.Terminal() {
		return fmt.Errorf("history: run %s is not finished (stage %s)", run.ID, run.Stage)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM processing_jobs WHERE job_id = ?`, run.ID).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("history: lookup %s: %w", run.ID, err)
	}

	var completedAt sql.NullInt64
	if run.EndedAt != nil {
		completedAt = sql.NullInt64{Int64: run.EndedAt.Unix(), Valid: true}
	}
	seconds := int64(run.Elapsed().Seconds())

	_, err = tx.ExecContext(ctx, `
		INSERT INTO processing_jobs
			(job_id, status, outcome, created_at, completed_at, file_count, failed_count,
			 original_filename, processing_time, rendition_tier, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			outcome = excluded.outcome,
			completed_at = excluded.completed_at,
			file_count = excluded.file_count,
			failed_count = excluded.failed_count,
			processing_time = excluded.processing_time,
			rendition_tier = excluded.rendition_tier,
			error = excluded.error`,
		run.ID, string(run.Stage), string(run.Outcome), run.StartedAt.Unix(), completedAt,
		run.Total, run.Failed, run.ArchiveName, seconds, string(run.RenditionTier), run.LastError,
	)
	if err != nil {
		return fmt.Errorf("history: record job %s: %w", run.ID, err)
	}

	if exists == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO usage_stats (date, total_jobs, total_files_processed, total_processing_time)
			VALUES (?, 1, ?, ?)
			ON CONFLICT(date) DO UPDATE SET
				total_jobs = total_jobs + 1,
				total_files_processed = total_files_processed + excluded.total_files_processed,
				total_processing_time = total_processing_time + excluded.total_processing_time`,
			run.StartedAt.UTC().Format(time.DateOnly), run.Total, seconds,
		)
		if err != nil {
			return fmt.Errorf("history: update usage: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns the most recently created jobs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, status, outcome, created_at, completed_at, file_count, failed_count,
		       original_filename, processing_time, rendition_tier, error
		FROM processing_jobs
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		var (
			j           Job
			created     int64
			completedAt sql.NullInt64
		)
		if err := rows.Scan(&j.JobID, &j.Status, &j.Outcome, &created, &completedAt, &j.FileCount,
			&j.FailedCount, &j.OriginalFilename, &j.ProcessingTime, &j.RenditionTier, &j.Error); err != nil {
			return nil, fmt.Errorf("history: scan job: %w", err)
		}
		j.CreatedAt = time.Unix(created, 0).UTC()
		if completedAt.Valid {
			t := time.Unix(completedAt.Int64, 0).UTC()
			j.CompletedAt = &t
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UsageSince returns the daily totals from since onwards, oldest first.
func (s *Store) UsageSince(ctx context.Context, since time.Time) ([]Usage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, total_jobs, total_files_processed, total_processing_time
		FROM usage_stats
		WHERE date >= ?
		ORDER BY date`, since.UTC().Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("history: query usage: %w", err)
	}
	defer rows.Close()

	usage := []Usage{}
	for rows.Next() {
		var u Usage
		if err := rows.Scan(&u.Date, &u.TotalJobs, &u.TotalFilesProcessed, &u.TotalProcessingTime); err != nil {
			return nil, fmt.Errorf("history: scan usage: %w", err)
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}
