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

type ArtifactRepository struct {
	db *gorm.DB
}

func NewArtifactRepository(db *gorm.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

func (r *ArtifactRepository) Put(ctx context.Context, artifact *entity.Artifact) error {
	err := r.db.WithContext(ctx).Create(artifact).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("artifact for job %s already stored: %w", artifact.JobID, dispatch.ErrConflict)
	}
	return err
}

func (r *ArtifactRepository) Get(ctx context.Context, jobID uuid.UUID) (*entity.Artifact, error) {
	var artifact entity.Artifact
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&artifact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("artifact for job %s: %w", jobID, dispatch.ErrNotFound)
		}
		return nil, err
	}
	return &artifact, nil
}
