package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

const updaterColumns = `id, updater_id, manifest_id, created_at, updated_at`

type UpdaterRepository struct {
	db *sqlx.DB
}

func NewUpdaterRepository(db *sqlx.DB) *UpdaterRepository {
	return &UpdaterRepository{db: db}
}

func (r *UpdaterRepository) GetByUpdaterID(ctx context.Context, updaterID string) (*domain.Updater, error) {
	var u domain.Updater
	query := `SELECT ` + updaterColumns + ` FROM updaters WHERE updater_id = $1`

	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &u, query, updaterID); err != nil {
		return nil, notFound(err, "failed to get updater %s", updaterID)
	}
	return &u, nil
}

// CreateIfAbsent создает привязку устройства. created = false, если строку
// уже вставил параллельный запрос
func (r *UpdaterRepository) CreateIfAbsent(ctx context.Context, updaterID string, manifestID int64) (bool, error) {
	query := `
        INSERT INTO updaters (updater_id, manifest_id)
        VALUES ($1, $2)
        ON CONFLICT (updater_id) DO NOTHING
        RETURNING id`

	var id int64
	err := executor(ctx, r.db).QueryRowxContext(ctx, query, updaterID, manifestID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create updater %s: %w", updaterID, err)
	}
	return true, nil
}

// SetManifest перепривязывает устройство и обновляет updated_at
func (r *UpdaterRepository) SetManifest(ctx context.Context, updaterID string, manifestID int64) error {
	query := `
        UPDATE updaters
        SET manifest_id = $2, updated_at = CURRENT_TIMESTAMP
        WHERE updater_id = $1`

	res, err := executor(ctx, r.db).ExecContext(ctx, query, updaterID, manifestID)
	if err != nil {
		return fmt.Errorf("failed to update updater %s: %w", updaterID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update updater %s: %w", updaterID, err)
	}
	if n == 0 {
		return fmt.Errorf("updater %s: %w", updaterID, domain.ErrNotFound)
	}
	return nil
}
