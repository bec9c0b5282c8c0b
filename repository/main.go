package repository

import (
	"github.com/tnqbao/gau-music-dispatch/config"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/infra"
)

type Repository struct {
	JobRepo      dispatch.JobStore
	ArtifactRepo dispatch.ArtifactStore
}

var repository *Repository

// InitRepository picks the job and artifact stores matching the configured
// store driver.
func InitRepository(infra *infra.Infra, cfg *config.DispatchConfig) *Repository {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		repository = &Repository{
			JobRepo:      NewJobRepository(infra.Postgres.DB),
			ArtifactRepo: NewArtifactRepository(infra.Postgres.DB),
		}
	case config.StoreDriverSQLite:
		if err := MigrateSQLite(infra.SQLite.DB); err != nil {
			panic("Failed to migrate SQLite store: " + err.Error())
		}
		repository = &Repository{
			JobRepo:      NewSQLiteJobStore(infra.SQLite.DB),
			ArtifactRepo: NewSQLiteArtifactStore(infra.SQLite.DB),
		}
	default:
		repository = &Repository{
			JobRepo:      dispatch.NewMemoryJobStore(),
			ArtifactRepo: dispatch.NewMemoryArtifactStore(),
		}
	}
	return repository
}

func GetRepository() *Repository {
	if repository == nil {
		panic("repository not initialized")
	}
	return repository
}
