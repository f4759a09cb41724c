package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

const manifestColumns = `id, uuid, runtime_version, release_name, platform, launch_asset_uuid, metadata, extra, created_at, deleted_at`

type ManifestRepository struct {
	db *sqlx.DB
}

func NewManifestRepository(db *sqlx.DB) *ManifestRepository {
	return &ManifestRepository{db: db}
}

// Exists проверяет наличие живого манифеста с тем же uuid в канале
func (r *ManifestRepository) Exists(ctx context.Context, id uuid.UUID, releaseName string, platform domain.Platform) (bool, error) {
	var exists bool
	query := `
        SELECT EXISTS (
            SELECT 1 FROM manifests
            WHERE uuid = $1 AND release_name = $2 AND platform = $3 AND deleted_at IS NULL
        )`

	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &exists, query, id, releaseName, platform); err != nil {
		return false, fmt.Errorf("failed to check manifest existence: %w", err)
	}
	return exists, nil
}

// CreateMany сохраняет манифесты вместе со связями на ассеты.
// Вызывается внутри транзакции загрузки
func (r *ManifestRepository) CreateMany(ctx context.Context, manifests []*domain.Manifest) error {
	exec := executor(ctx, r.db)

	insert := `
        INSERT INTO manifests (uuid, runtime_version, release_name, platform, launch_asset_uuid, metadata, extra)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (uuid, release_name, platform) WHERE deleted_at IS NULL DO NOTHING
        RETURNING id, created_at`

	for _, m := range manifests {
		err := exec.QueryRowxContext(ctx, insert,
			m.UUID,
			m.RuntimeVersion,
			m.ReleaseName,
			m.Platform,
			m.LaunchAssetUUID,
			m.Metadata,
			m.Extra,
		).Scan(&m.ID, &m.CreatedAt)

		// Параллельная загрузка успела создать такой же манифест
		if errors.Is(err, sql.ErrNoRows) {
			existing := `
                SELECT id, created_at FROM manifests
                WHERE uuid = $1 AND release_name = $2 AND platform = $3 AND deleted_at IS NULL`
			if err := exec.QueryRowxContext(ctx, existing, m.UUID, m.ReleaseName, m.Platform).Scan(&m.ID, &m.CreatedAt); err != nil {
				return fmt.Errorf("failed to re-read manifest %s: %w", m.UUID, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create manifest %s/%s: %w", m.ReleaseName, m.Platform, err)
		}

		if err := r.linkAssets(ctx, exec, m.ID, m.AssetUUIDs); err != nil {
			return err
		}
	}

	return nil
}

func (r *ManifestRepository) linkAssets(ctx context.Context, exec sqlx.ExtContext, manifestID int64, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	seen := make(map[uuid.UUID]struct{}, len(ids))
	placeholders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids)*2)
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		n := len(args)
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d)", n+1, n+2))
		args = append(args, manifestID, id)
	}

	query := `INSERT INTO manifest_assets (manifest_id, asset_uuid) VALUES ` +
		strings.Join(placeholders, ", ") +
		` ON CONFLICT DO NOTHING`

	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to link assets to manifest %d: %w", manifestID, err)
	}
	return nil
}

// GetLatest возвращает самый новый живой манифест канала
func (r *ManifestRepository) GetLatest(ctx context.Context, key domain.ManifestKey) (*domain.Manifest, error) {
	var m domain.Manifest
	query := `
        SELECT ` + manifestColumns + ` FROM manifests
        WHERE release_name = $1 AND runtime_version = $2 AND platform = $3 AND deleted_at IS NULL
        ORDER BY created_at DESC, id DESC
        LIMIT 1`

	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &m, query, key.ReleaseName, key.RuntimeVersion, key.Platform); err != nil {
		return nil, notFound(err, "failed to get latest manifest for %s/%s/%s", key.ReleaseName, key.RuntimeVersion, key.Platform)
	}
	return &m, nil
}

func (r *ManifestRepository) GetByID(ctx context.Context, id int64) (*domain.Manifest, error) {
	var m domain.Manifest
	query := `SELECT ` + manifestColumns + ` FROM manifests WHERE id = $1 AND deleted_at IS NULL`

	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &m, query, id); err != nil {
		return nil, notFound(err, "failed to get manifest %d", id)
	}
	return &m, nil
}

// AssetUUIDs возвращает дополнительные ассеты манифеста
func (r *ManifestRepository) AssetUUIDs(ctx context.Context, manifestID int64) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := `
        SELECT ma.asset_uuid FROM manifest_assets ma
        JOIN assets a ON a.uuid = ma.asset_uuid
        WHERE ma.manifest_id = $1
        ORDER BY ma.asset_uuid`

	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &ids, query, manifestID); err != nil {
		return nil, fmt.Errorf("failed to get assets of manifest %d: %w", manifestID, err)
	}
	return ids, nil
}

func (r *ManifestRepository) List(ctx context.Context, filter domain.ManifestFilter) ([]domain.ManifestSummary, int, error) {
	where := []string{"m.deleted_at IS NULL"}
	var args []any
	if filter.Platform != "" {
		args = append(args, filter.Platform)
		where = append(where, fmt.Sprintf("m.platform = $%d", len(args)))
	}
	if filter.RuntimeVersion != "" {
		args = append(args, filter.RuntimeVersion)
		where = append(where, fmt.Sprintf("m.runtime_version = $%d", len(args)))
	}
	if filter.ReleaseName != "" {
		args = append(args, filter.ReleaseName)
		where = append(where, fmt.Sprintf("m.release_name = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")
	exec := executor(ctx, r.db)

	var count int
	if err := sqlx.GetContext(ctx, exec, &count, `SELECT COUNT(*) FROM manifests m WHERE `+cond, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count manifests: %w", err)
	}

	query := fmt.Sprintf(`
        SELECT m.id, m.runtime_version, m.release_name, m.platform, m.launch_asset_uuid, m.created_at,
            (SELECT COUNT(*) FROM updaters u WHERE u.manifest_id = m.id) AS updater_count
        FROM manifests m
        WHERE %s
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT $%d OFFSET $%d`, cond, len(args)+1, len(args)+2)

	rows := []domain.ManifestSummary{}
	if err := sqlx.SelectContext(ctx, exec, &rows, query, append(args, filter.Limit, filter.Offset())...); err != nil {
		return nil, 0, fmt.Errorf("failed to list manifests: %w", err)
	}

	return rows, count, nil
}

// Info возвращает отсортированные уникальные каналы и версии рантайма
func (r *ManifestRepository) Info(ctx context.Context) (*domain.ManifestInfo, error) {
	exec := executor(ctx, r.db)
	info := domain.ManifestInfo{Channel: []string{}, RuntimeVersion: []string{}}

	if err := sqlx.SelectContext(ctx, exec, &info.Channel,
		`SELECT DISTINCT release_name FROM manifests WHERE deleted_at IS NULL ORDER BY release_name`); err != nil {
		return nil, fmt.Errorf("failed to get channels: %w", err)
	}
	if err := sqlx.SelectContext(ctx, exec, &info.RuntimeVersion,
		`SELECT DISTINCT runtime_version FROM manifests WHERE deleted_at IS NULL ORDER BY runtime_version`); err != nil {
		return nil, fmt.Errorf("failed to get runtime versions: %w", err)
	}

	return &info, nil
}

// SoftDelete помечает манифест удаленным
func (r *ManifestRepository) SoftDelete(ctx context.Context, id int64) error {
	query := `UPDATE manifests SET deleted_at = CURRENT_TIMESTAMP WHERE id = $1 AND deleted_at IS NULL`

	res, err := executor(ctx, r.db).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete manifest %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete manifest %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("manifest %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
