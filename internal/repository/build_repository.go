package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

type BuildRepository struct {
	db *sqlx.DB
}

func NewBuildRepository(db *sqlx.DB) *BuildRepository {
	return &BuildRepository{db: db}
}

func (r *BuildRepository) Create(ctx context.Context, b *domain.Build) error {
	query := `
        INSERT INTO builds (version, channel, platform, link)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at, updated_at`

	err := executor(ctx, r.db).QueryRowxContext(ctx, query, b.Version, b.Channel, b.Platform, b.Link).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("build %s/%s/%s already exists: %w", b.Version, b.Channel, b.Platform, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create build: %w", err)
	}
	return nil
}

func (r *BuildRepository) List(ctx context.Context, filter domain.BuildFilter) ([]domain.Build, int, error) {
	where := []string{"TRUE"}
	var args []any
	if filter.Platform != "" {
		args = append(args, filter.Platform)
		where = append(where, fmt.Sprintf("platform = $%d", len(args)))
	}
	if filter.Version != "" {
		args = append(args, filter.Version)
		where = append(where, fmt.Sprintf("version = $%d", len(args)))
	}
	if filter.Channel != "" {
		args = append(args, filter.Channel)
		where = append(where, fmt.Sprintf("channel = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")
	exec := executor(ctx, r.db)

	var count int
	if err := sqlx.GetContext(ctx, exec, &count, `SELECT COUNT(*) FROM builds WHERE `+cond, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count builds: %w", err)
	}

	query := fmt.Sprintf(`
        SELECT id, version, channel, platform, link, created_at, updated_at
        FROM builds
        WHERE %s
        ORDER BY created_at DESC, id DESC
        LIMIT $%d OFFSET $%d`, cond, len(args)+1, len(args)+2)

	rows := []domain.Build{}
	if err := sqlx.SelectContext(ctx, exec, &rows, query, append(args, filter.Limit, filter.Offset())...); err != nil {
		return nil, 0, fmt.Errorf("failed to list builds: %w", err)
	}
	return rows, count, nil
}
