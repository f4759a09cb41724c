package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

const releaseColumns = `id, uuid, version, github_release_name, platform, release_name, created_at, deleted_at`

type ReleaseRepository struct {
	db *sqlx.DB
}

func NewReleaseRepository(db *sqlx.DB) *ReleaseRepository {
	return &ReleaseRepository{db: db}
}

// FindOrCreate возвращает существующий релиз или создает новый
func (r *ReleaseRepository) FindOrCreate(ctx context.Context, rel *domain.ElectronRelease) (*domain.ElectronRelease, error) {
	exec := executor(ctx, r.db)

	insert := `
        INSERT INTO electron_releases (uuid, version, github_release_name, platform, release_name)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (github_release_name, platform, release_name, version) WHERE deleted_at IS NULL DO NOTHING
        RETURNING ` + releaseColumns

	var out domain.ElectronRelease
	err := sqlx.GetContext(ctx, exec, &out, insert, rel.UUID, rel.Version, rel.GithubReleaseName, rel.Platform, rel.ReleaseName)
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to create electron release: %w", err)
	}

	existing := `
        SELECT ` + releaseColumns + ` FROM electron_releases
        WHERE github_release_name = $1 AND platform = $2 AND release_name = $3 AND version = $4 AND deleted_at IS NULL`
	if err := sqlx.GetContext(ctx, exec, &out, existing, rel.GithubReleaseName, rel.Platform, rel.ReleaseName, rel.Version); err != nil {
		return nil, notFound(err, "failed to re-read electron release %s", rel.GithubReleaseName)
	}
	return &out, nil
}

// GetLatest возвращает последний релиз платформы. Пустые канал и версия
// означают любые
func (r *ReleaseRepository) GetLatest(ctx context.Context, q domain.ElectronReleaseQuery) (*domain.ElectronRelease, error) {
	query := `
        SELECT ` + releaseColumns + ` FROM electron_releases
        WHERE ($1 = '' OR release_name = $1) AND platform = $2 AND ($3 = '' OR version = $3) AND deleted_at IS NULL
        ORDER BY created_at DESC, id DESC
        LIMIT 1`

	var out domain.ElectronRelease
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &out, query, q.ReleaseName, q.Platform, q.Version); err != nil {
		return nil, notFound(err, "failed to get latest electron release for %s/%s", q.ReleaseName, q.Platform)
	}
	return &out, nil
}

func (r *ReleaseRepository) GetByID(ctx context.Context, id int64) (*domain.ElectronRelease, error) {
	query := `SELECT ` + releaseColumns + ` FROM electron_releases WHERE id = $1 AND deleted_at IS NULL`

	var out domain.ElectronRelease
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &out, query, id); err != nil {
		return nil, notFound(err, "failed to get electron release %d", id)
	}
	return &out, nil
}
