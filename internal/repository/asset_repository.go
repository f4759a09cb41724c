package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

const assetColumns = `uuid, platform, type, ext, hash, content_type, created_at`

type AssetRepository struct {
	db *sqlx.DB
}

func NewAssetRepository(db *sqlx.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

func (r *AssetRepository) GetByUUID(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	var asset domain.Asset
	query := `SELECT ` + assetColumns + ` FROM assets WHERE uuid = $1`

	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &asset, query, id); err != nil {
		return nil, notFound(err, "failed to get asset %s", id)
	}
	return &asset, nil
}

// FindByUUIDs одним запросом возвращает уже существующие ассеты
func (r *AssetRepository) FindByUUIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var assets []domain.Asset
	query := `SELECT ` + assetColumns + ` FROM assets WHERE uuid = ANY($1::uuid[])`

	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &assets, query, pq.Array(uuidStrings(ids))); err != nil {
		return nil, fmt.Errorf("failed to find assets: %w", err)
	}
	return assets, nil
}

// CreateMany вставляет ассеты одним запросом и возвращает uuid реально
// вставленных строк. Строки, созданные параллельным запросом, пропускаются
func (r *AssetRepository) CreateMany(ctx context.Context, assets []domain.Asset) ([]uuid.UUID, error) {
	if len(assets) == 0 {
		return nil, nil
	}

	query := `
        INSERT INTO assets (uuid, platform, type, ext, hash, content_type)
        VALUES (:uuid, :platform, :type, :ext, :hash, :content_type)
        ON CONFLICT (uuid) DO NOTHING
        RETURNING uuid`

	exec := executor(ctx, r.db)
	bound, args, err := exec.BindNamed(query, assets)
	if err != nil {
		return nil, fmt.Errorf("failed to bind assets: %w", err)
	}

	var inserted []uuid.UUID
	if err := sqlx.SelectContext(ctx, exec, &inserted, bound, args...); err != nil {
		return nil, fmt.Errorf("failed to create assets: %w", err)
	}
	return inserted, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
