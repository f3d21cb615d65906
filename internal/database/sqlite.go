package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pibackup/internal/backup"
	"pibackup/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DefaultHistoryLimit caps ListJobs when no positive limit is given.
const DefaultHistoryLimit = 50

// SQLiteDatabase stores job history in SQLite. It implements backup.JobHistory.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the database at path, or ":memory:", and brings
// its schema up to date.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection.
// path can be a file path or ":memory:" for an in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// RecordStart inserts a running row for job.
func (s *SQLiteDatabase) RecordStart(job *backup.Job) error {
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO jobs (id, source_root, destination_root, started_at, status)
		VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.Roots.Source, job.Roots.Destination, job.StartTime.UTC(), backup.StatusRunning)
	if err != nil {
		return fmt.Errorf("recording job start: %w", err)
	}
	return nil
}

// RecordFinish stores the terminal result of job.
func (s *SQLiteDatabase) RecordFinish(job *backup.Job) error {
	r := job.Result
	if r == nil {
		return fmt.Errorf("recording job finish: job %s has no result", job.ID)
	}

	res, err := s.db.ExecContext(context.Background(), `
		UPDATE jobs SET
			snapshot_name = ?,
			snapshot_path = ?,
			finished_at = ?,
			status = ?,
			source_hash = ?,
			destination_hash = ?,
			hash_match = ?,
			hash_algorithm = ?,
			error = ?
		WHERE id = ?`,
		r.SnapshotName, r.SnapshotPath, job.EndTime.UTC(), r.Status,
		r.SourceHash, r.DestinationHash, r.HashMatch, r.HashAlgorithm, r.Error,
		job.ID)
	if err != nil {
		return fmt.Errorf("recording job finish: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("recording job finish: no job with id %s", job.ID)
	}
	return nil
}

// ListJobs returns up to limit jobs, newest first.
func (s *SQLiteDatabase) ListJobs(limit int) ([]*backup.JobRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(context.Background(), `
		SELECT id, snapshot_name, snapshot_path, source_root, destination_root,
			started_at, finished_at, status, source_hash, destination_hash,
			hash_match, hash_algorithm, error
		FROM jobs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var records []*backup.JobRecord
	for rows.Next() {
		var (
			rec      backup.JobRecord
			started  time.Time
			finished sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.SnapshotName, &rec.SnapshotPath, &rec.SourceRoot,
			&rec.DestinationRoot, &started, &finished, &rec.Status, &rec.SourceHash,
			&rec.DestinationHash, &rec.HashMatch, &rec.HashAlgorithm, &rec.Error); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		rec.StartedAt = started
		if finished.Valid {
			t := finished.Time
			rec.FinishedAt = &t
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return records, nil
}

// MarkInterrupted fails every job still recorded as running. Jobs cannot
// outlive the process, so such rows come from a previous crash.
func (s *SQLiteDatabase) MarkInterrupted(now time.Time) (int64, error) {
	res, err := s.db.ExecContext(context.Background(), `
		UPDATE jobs SET status = ?, finished_at = ?, error = ?
		WHERE status = ?`,
		backup.StatusFailed, now.UTC(), "interrupted before completion", backup.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("marking interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("marking interrupted jobs: %w", err)
	}
	return n, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements backup.JobHistory.
var _ backup.JobHistory = (*SQLiteDatabase)(nil)
