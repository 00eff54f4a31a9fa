package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/autolyrix/aligntrack/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id            TEXT PRIMARY KEY,
    state         TEXT NOT NULL,
    format        TEXT NOT NULL,
    song_title    TEXT,
    lyrics_chars  INTEGER NOT NULL DEFAULT 0,
    audio_name    TEXT,
    audio_size    INTEGER,
    run_id        INTEGER,
    run_url       TEXT,
    conclusion    TEXT,
    error         TEXT,
    progress      INTEGER NOT NULL DEFAULT 0,
    created_at    DATETIME NOT NULL,
    dispatched_at DATETIME,
    correlated_at DATETIME,
    finished_at   DATETIME
)`

const createArtifactsTable = `
CREATE TABLE IF NOT EXISTS artifacts (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id               TEXT NOT NULL REFERENCES jobs(id),
    name                 TEXT NOT NULL,
    archive_download_url TEXT NOT NULL,
    size_bytes           INTEGER NOT NULL DEFAULT 0,
    expired              INTEGER NOT NULL DEFAULT 0,
    created_at           DATETIME NOT NULL
)`

// ErrNotFound is returned when a job is not found.
var ErrNotFound = errors.New("job not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createJobsTable, createArtifactsTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migration: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (
			id, state, format, song_title, lyrics_chars, audio_name, audio_size,
			run_id, run_url, conclusion, error, progress,
			created_at, dispatched_at, correlated_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.State, j.Format, j.SongTitle, j.LyricsChars, j.AudioName, j.AudioSize,
		j.RunID, j.RunURL, j.Conclusion, j.Error, j.Progress,
		j.CreatedAt, j.DispatchedAt, j.CorrelatedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j := &model.Job{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, state, format, song_title, lyrics_chars, audio_name, audio_size,
			run_id, run_url, conclusion, error, progress,
			created_at, dispatched_at, correlated_at, finished_at
		FROM jobs WHERE id = ?`, id,
	).Scan(
		&j.ID, &j.State, &j.Format, &j.SongTitle, &j.LyricsChars, &j.AudioName, &j.AudioSize,
		&j.RunID, &j.RunURL, &j.Conclusion, &j.Error, &j.Progress,
		&j.CreatedAt, &j.DispatchedAt, &j.CorrelatedAt, &j.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a paginated list of jobs ordered by created_at DESC,
// along with the total count of all jobs.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, state, format, song_title, lyrics_chars, audio_name, audio_size,
			run_id, run_url, conclusion, error, progress,
			created_at, dispatched_at, correlated_at, finished_at
		FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j := &model.Job{}
		if err := rows.Scan(
			&j.ID, &j.State, &j.Format, &j.SongTitle, &j.LyricsChars, &j.AudioName, &j.AudioSize,
			&j.RunID, &j.RunURL, &j.Conclusion, &j.Error, &j.Progress,
			&j.CreatedAt, &j.DispatchedAt, &j.CorrelatedAt, &j.FinishedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// UpdateJobState updates the state of a job after checking the transition is
// allowed. Terminal states are sticky: moving out of one returns
// ErrInvalidTransition. Terminal transitions also set finished_at.
func (s *SQLiteStore) UpdateJobState(ctx context.Context, id, state string) error {
	current, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if current.State == state {
		return nil
	}
	if !model.ValidTransition(current.State, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.State, state)
	}

	switch {
	case model.IsTerminal(state):
		_, err = s.db.ExecContext(ctx,
			"UPDATE jobs SET state = ?, finished_at = ? WHERE id = ?",
			state, time.Now().UTC(), id,
		)
	case state == model.StateDispatched:
		_, err = s.db.ExecContext(ctx,
			"UPDATE jobs SET state = ?, dispatched_at = ? WHERE id = ?",
			state, time.Now().UTC(), id,
		)
	default:
		_, err = s.db.ExecContext(ctx,
			"UPDATE jobs SET state = ? WHERE id = ?",
			state, id,
		)
	}
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	return nil
}

// UpdateJobRun records which remote run was attributed to the job and when
// the correlation resolved.
func (s *SQLiteStore) UpdateJobRun(ctx context.Context, id string, runID int64, runURL string, correlatedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET run_id = ?, run_url = ?, correlated_at = ? WHERE id = ?",
		runID, runURL, correlatedAt, id,
	)
	if err != nil {
		return fmt.Errorf("update job run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateJobProgress records the displayed progress for a job. Progress never
// decreases; stale lower values are ignored.
func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET progress = ? WHERE id = ? AND progress <= ?",
		progress, id, progress,
	)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}

	// Distinguish "no such job" from "stale progress dropped".
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// UpdateJob applies a full job update (run linkage, conclusion, error,
// progress, lifecycle timestamps). Used by the engine when recording
// correlation results and terminal outcomes.
func (s *SQLiteStore) UpdateJob(ctx context.Context, j *model.Job) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET
			state = ?, run_id = ?, run_url = ?, conclusion = ?, error = ?,
			progress = ?, dispatched_at = ?, correlated_at = ?, finished_at = ?
		WHERE id = ?`,
		j.State, j.RunID, j.RunURL, j.Conclusion, j.Error,
		j.Progress, j.DispatchedAt, j.CorrelatedAt, j.FinishedAt, j.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJobStats computes aggregate statistics across all jobs.
func (s *SQLiteStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{
		CountByState:  make(map[string]int),
		CountByFormat: make(map[string]int),
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx, "SELECT state, COUNT(*) FROM jobs GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		stats.CountByState[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state counts: %w", err)
	}

	formatRows, err := tx.QueryContext(ctx, "SELECT format, COUNT(*) FROM jobs GROUP BY format")
	if err != nil {
		return nil, fmt.Errorf("count by format: %w", err)
	}
	defer formatRows.Close()
	for formatRows.Next() {
		var format string
		var count int
		if err := formatRows.Scan(&format, &count); err != nil {
			return nil, fmt.Errorf("scan format count: %w", err)
		}
		stats.CountByFormat[format] = count
	}
	if err := formatRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate format counts: %w", err)
	}

	var avg sql.NullFloat64
	err = tx.QueryRowContext(ctx,
		`SELECT AVG((julianday(finished_at) - julianday(dispatched_at)) * 86400000.0)
		FROM jobs WHERE finished_at IS NOT NULL AND dispatched_at IS NOT NULL`,
	).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

// InsertArtifact records artifact metadata for a job.
func (s *SQLiteStore) InsertArtifact(ctx context.Context, a *model.Artifact) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (job_id, name, archive_download_url, size_bytes, expired, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.JobID, a.Name, a.ArchiveDownloadURL, a.SizeBytes, a.Expired, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

// GetArtifacts returns the artifacts recorded for a job, oldest first.
func (s *SQLiteStore) GetArtifacts(ctx context.Context, jobID string) ([]model.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, name, archive_download_url, size_bytes, expired, created_at
		FROM artifacts WHERE job_id = ? ORDER BY id ASC`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("get artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []model.Artifact
	for rows.Next() {
		var a model.Artifact
		if err := rows.Scan(&a.ID, &a.JobID, &a.Name, &a.ArchiveDownloadURL, &a.SizeBytes, &a.Expired, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}

	return artifacts, nil
}
