package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/entity"
	"gorm.io/gorm"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	err := r.db.WithContext(ctx).Create(job).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("job %s: %w", job.ID, dispatch.ErrConflict)
	}
	return err
}

func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	var job entity.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, dispatch.ErrNotFound)
		}
		return nil, err
	}
	return &job, nil
}

// Update writes every mutable column only if the stored revision still
// equals expectedRevision.
func (r *JobRepository) Update(ctx context.Context, job *entity.Job, expectedRevision int64) error {
	res := r.db.WithContext(ctx).
		Model(&entity.Job{}).
		Where("id = ? AND revision = ?", job.ID, expectedRevision).
		Updates(map[string]interface{}{
			"status":           job.Status,
			"revision":         job.Revision,
			"attempt":          job.Attempt,
			"retries":          job.Retries,
			"worker_id":        job.WorkerID,
			"cancel_requested": job.CancelRequested,
			"progress":         job.Progress,
			"result_ref":       job.ResultRef,
			"error_reason":     job.ErrorReason,
			"error_detail":     job.ErrorDetail,
			"updated_at":       job.UpdatedAt,
			"started_at":       job.StartedAt,
			"finished_at":      job.FinishedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&entity.Job{}).Where("id = ?", job.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("job %s: %w", job.ID, dispatch.ErrNotFound)
		}
		return fmt.Errorf("job %s expected revision %d: %w", job.ID, expectedRevision, dispatch.ErrConflict)
	}
	return nil
}

func (r *JobRepository) List(ctx context.Context, filter dispatch.JobFilter) ([]*entity.Job, error) {
	q := r.db.WithContext(ctx).Model(&entity.Job{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var jobs []*entity.Job
	if err := q.Order("created_at ASC, id ASC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *JobRepository) CountByStatus(ctx context.Context) (map[entity.JobStatus]int64, error) {
	var rows []struct {
		Status entity.JobStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&entity.Job{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[entity.JobStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
