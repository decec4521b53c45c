// Package regionjobs persists asynchronous region-query jobs so a large
// query (a wide radius at a fine zoom level) can be submitted, polled, and
// fetched later instead of blocking one HTTP request for its whole
// duration. Backed by SQLite: one job row plus one result blob per
// submitted query.
package regionjobs

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// JobStatus is a region job's lifecycle state.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Params is a region job's request parameters, matching engine.Region
// plus the wire-form selector it was submitted with.
type Params struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Radius   float64 `json:"radius"`
	Units    string  `json:"units"`
	Selector string  `json:"selector"`
}

// Job is one submitted region query's persisted state.
type Job struct {
	ID         string     `json:"job_id"`
	Status     JobStatus  `json:"status"`
	Params     Params     `json:"params"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	PointCount int        `json:"point_count"`
	Error      string     `json:"error,omitempty"`
}

// Store provides persistent storage for region jobs using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-backed region job store.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("regionjobs: creating directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("regionjobs: opening sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("regionjobs: enabling WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("regionjobs: migrating schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS region_jobs (
		job_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		point_count INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_region_jobs_status ON region_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_region_jobs_finished ON region_jobs(finished_at);

	CREATE TABLE IF NOT EXISTS region_results (
		job_id TEXT PRIMARY KEY,
		result_json TEXT NOT NULL,
		FOREIGN KEY (job_id) REFERENCES region_jobs(job_id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateJob inserts a new job row with the job's current status.
func (s *Store) CreateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("regionjobs: marshaling params: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO region_jobs (job_id, status, params_json, point_count, error, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, string(job.Status), string(paramsJSON), job.PointCount, job.Error,
		job.CreatedAt.Format(time.RFC3339), nil, nil,
	)
	return err
}

// GetJob retrieves a job by ID, returning (nil, nil) if not found.
func (s *Store) GetJob(jobID string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT job_id, status, params_json, point_count, error, created_at, started_at, finished_at
		FROM region_jobs WHERE job_id = ?
	`, jobID)

	var job Job
	var paramsJSON, createdAtStr string
	var startedAtStr, finishedAtStr sql.NullString

	err := row.Scan(&job.ID, &job.Status, &paramsJSON, &job.PointCount, &job.Error,
		&createdAtStr, &startedAtStr, &finishedAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
		return nil, fmt.Errorf("regionjobs: unmarshaling params: %w", err)
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	if startedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, startedAtStr.String)
		job.StartedAt = &t
	}
	if finishedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAtStr.String)
		job.FinishedAt = &t
	}
	return &job, nil
}

// UpdateJobStarted marks a job running with a start time.
func (s *Store) UpdateJobStarted(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE region_jobs SET status = ?, started_at = ? WHERE job_id = ?`,
		string(JobStatusRunning), time.Now().Format(time.RFC3339), jobID)
	return err
}

// UpdateJobStatus updates status/error and stamps finished_at for terminal statuses.
func (s *Store) UpdateJobStatus(jobID string, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled {
		t := time.Now().Format(time.RFC3339)
		finishedAt = &t
	}
	_, err := s.db.Exec(`
		UPDATE region_jobs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE job_id = ?
	`, string(status), errMsg, finishedAt, jobID)
	return err
}

// SaveResult persists a completed job's serialized RegionResult and point count.
func (s *Store) SaveResult(jobID string, resultJSON []byte, pointCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO region_results (job_id, result_json) VALUES (?, ?)
		ON CONFLICT(job_id) DO UPDATE SET result_json = excluded.result_json
	`, jobID, string(resultJSON)); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE region_jobs SET point_count = ? WHERE job_id = ?`, pointCount, jobID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetResult retrieves a completed job's serialized RegionResult.
func (s *Store) GetResult(jobID string) ([]byte, error) {
	var resultJSON string
	err := s.db.QueryRow(`SELECT result_json FROM region_results WHERE job_id = ?`, jobID).Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(resultJSON), nil
}

// ListQueuedJobs returns every queued job, oldest first, for restart recovery.
func (s *Store) ListQueuedJobs() ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT job_id, status, params_json, point_count, error, created_at, started_at, finished_at
		FROM region_jobs WHERE status = ? ORDER BY created_at ASC
	`, string(JobStatusQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanJobs(rows)
}

// MarkRunningAsFailed marks every running job failed, for restart recovery.
func (s *Store) MarkRunningAsFailed(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		UPDATE region_jobs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(JobStatusFailed), errMsg, time.Now().Format(time.RFC3339), string(JobStatusRunning))
	return err
}

// DeleteExpiredJobs removes jobs that finished more than retentionDays ago.
func (s *Store) DeleteExpiredJobs(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format(time.RFC3339)
	if _, err := s.db.Exec(`
		DELETE FROM region_results WHERE job_id IN (
			SELECT job_id FROM region_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
		)
	`, cutoff); err != nil {
		return 0, err
	}
	result, err := s.db.Exec(`DELETE FROM region_jobs WHERE finished_at IS NOT NULL AND finished_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		var paramsJSON, createdAtStr string
		var startedAtStr, finishedAtStr sql.NullString

		if err := rows.Scan(&job.ID, &job.Status, &paramsJSON, &job.PointCount, &job.Error,
			&createdAtStr, &startedAtStr, &finishedAtStr); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
			return nil, fmt.Errorf("regionjobs: unmarshaling params: %w", err)
		}
		job.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
		if startedAtStr.Valid {
			t, _ := time.Parse(time.RFC3339, startedAtStr.String)
			job.StartedAt = &t
		}
		if finishedAtStr.Valid {
			t, _ := time.Parse(time.RFC3339, finishedAtStr.String)
			job.FinishedAt = &t
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}
