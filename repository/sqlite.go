package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/entity"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS dispatch_jobs (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	payload          TEXT,
	status           TEXT NOT NULL,
	revision         INTEGER NOT NULL DEFAULT 0,
	attempt          INTEGER NOT NULL DEFAULT 0,
	retries          INTEGER NOT NULL DEFAULT 0,
	worker_id        TEXT,
	cancel_requested INTEGER NOT NULL DEFAULT 0,
	progress         TEXT NOT NULL DEFAULT '',
	result_ref       TEXT NOT NULL DEFAULT '',
	error_reason     TEXT NOT NULL DEFAULT '',
	error_detail     TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL,
	started_at       INTEGER,
	finished_at      INTEGER
);
CREATE INDEX IF NOT EXISTS idx_dispatch_jobs_status ON dispatch_jobs(status);
CREATE INDEX IF NOT EXISTS idx_dispatch_jobs_created ON dispatch_jobs(created_at, id);

CREATE TABLE IF NOT EXISTS dispatch_artifacts (
	job_id       TEXT PRIMARY KEY,
	location     TEXT NOT NULL,
	size         INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);
`

const jobColumns = `id, kind, payload, status, revision, attempt, retries, worker_id, cancel_requested,
	progress, result_ref, error_reason, error_detail, created_at, updated_at, started_at, finished_at`

// MigrateSQLite creates the job and artifact tables used by the single-host
// deployment. Timestamps are stored as unix nanoseconds.
func MigrateSQLite(db *sql.DB) error {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

type SQLiteJobStore struct {
	db *sql.DB
}

func NewSQLiteJobStore(db *sql.DB) *SQLiteJobStore {
	return &SQLiteJobStore{db: db}
}

type SQLiteArtifactStore struct {
	db *sql.DB
}

func NewSQLiteArtifactStore(db *sql.DB) *SQLiteArtifactStore {
	return &SQLiteArtifactStore{db: db}
}

func (s *SQLiteJobStore) Create(ctx context.Context, job *entity.Job) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		job.ID.String(), string(job.Kind), string(job.Payload), string(job.Status), job.Revision,
		job.Attempt, job.Retries, nullUUID(job.WorkerID), job.CancelRequested,
		job.Progress, job.ResultRef, string(job.ErrorReason), job.ErrorDetail,
		job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano(), nullTime(job.StartedAt), nullTime(job.FinishedAt),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, dispatch.ErrConflict)
	}
	return nil
}

func (s *SQLiteJobStore) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM dispatch_jobs WHERE id = ?`, id.String())
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, dispatch.ErrNotFound)
	}
	return job, err
}

func (s *SQLiteJobStore) Update(ctx context.Context, job *entity.Job, expectedRevision int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dispatch_jobs SET
			status = ?, revision = ?, attempt = ?, retries = ?, worker_id = ?, cancel_requested = ?,
			progress = ?, result_ref = ?, error_reason = ?, error_detail = ?,
			updated_at = ?, started_at = ?, finished_at = ?
		WHERE id = ? AND revision = ?`,
		string(job.Status), job.Revision, job.Attempt, job.Retries, nullUUID(job.WorkerID), job.CancelRequested,
		job.Progress, job.ResultRef, string(job.ErrorReason), job.ErrorDetail,
		job.UpdatedAt.UnixNano(), nullTime(job.StartedAt), nullTime(job.FinishedAt),
		job.ID.String(), expectedRevision,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM dispatch_jobs WHERE id = ?`, job.ID.String()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %s: %w", job.ID, dispatch.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("job %s expected revision %d: %w", job.ID, expectedRevision, dispatch.ErrConflict)
}

func (s *SQLiteJobStore) List(ctx context.Context, filter dispatch.JobFilter) ([]*entity.Job, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}

	query := `SELECT ` + jobColumns + ` FROM dispatch_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []*entity.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteJobStore) CountByStatus(ctx context.Context) (map[entity.JobStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM dispatch_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[entity.JobStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[entity.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteArtifactStore) Put(ctx context.Context, artifact *entity.Artifact) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_artifacts (job_id, location, size, content_type, created_at)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT(job_id) DO NOTHING`,
		artifact.JobID.String(), artifact.Location, artifact.Size, artifact.ContentType, artifact.CreatedAt.UnixNano(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("artifact for job %s already stored: %w", artifact.JobID, dispatch.ErrConflict)
	}
	return nil
}

func (s *SQLiteArtifactStore) Get(ctx context.Context, jobID uuid.UUID) (*entity.Artifact, error) {
	var (
		location, contentType string
		size, created         int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT location, size, content_type, created_at FROM dispatch_artifacts WHERE job_id = ?`,
		jobID.String(),
	).Scan(&location, &size, &contentType, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact for job %s: %w", jobID, dispatch.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &entity.Artifact{
		JobID:       jobID,
		Location:    location,
		Size:        size,
		ContentType: contentType,
		CreatedAt:   time.Unix(0, created).UTC(),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		job                      entity.Job
		id, kind, status, reason string
		payload, workerID        sql.NullString
		created, updated         int64
		started, finished        sql.NullInt64
	)
	err := row.Scan(&id, &kind, &payload, &status, &job.Revision, &job.Attempt, &job.Retries, &workerID,
		&job.CancelRequested, &job.Progress, &job.ResultRef, &reason, &job.ErrorDetail,
		&created, &updated, &started, &finished)
	if err != nil {
		return nil, err
	}

	if job.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("sqlite: bad job id %q: %w", id, err)
	}
	if workerID.Valid && workerID.String != "" {
		wid, err := uuid.Parse(workerID.String)
		if err != nil {
			return nil, fmt.Errorf("sqlite: bad worker id %q: %w", workerID.String, err)
		}
		job.WorkerID = &wid
	}
	if payload.Valid {
		job.Payload = []byte(payload.String)
	}
	job.Kind = entity.JobKind(kind)
	job.Status = entity.JobStatus(status)
	job.ErrorReason = entity.FailureReason(reason)
	job.CreatedAt = time.Unix(0, created).UTC()
	job.UpdatedAt = time.Unix(0, updated).UTC()
	job.StartedAt = timePtr(started)
	job.FinishedAt = timePtr(finished)
	return &job, nil
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
