package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

// Transactor выполняет fn атомарно, транзакция передается через контекст
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AssetRepository interface {
	GetByUUID(ctx context.Context, id uuid.UUID) (*domain.Asset, error)
	FindByUUIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Asset, error)
	CreateMany(ctx context.Context, assets []domain.Asset) ([]uuid.UUID, error)
}

type ManifestRepository interface {
	Exists(ctx context.Context, id uuid.UUID, releaseName string, platform domain.Platform) (bool, error)
	CreateMany(ctx context.Context, manifests []*domain.Manifest) error
	GetLatest(ctx context.Context, key domain.ManifestKey) (*domain.Manifest, error)
	GetByID(ctx context.Context, id int64) (*domain.Manifest, error)
	AssetUUIDs(ctx context.Context, manifestID int64) ([]uuid.UUID, error)
	List(ctx context.Context, filter domain.ManifestFilter) ([]domain.ManifestSummary, int, error)
	Info(ctx context.Context) (*domain.ManifestInfo, error)
	SoftDelete(ctx context.Context, id int64) error
}

type UpdaterRepository interface {
	GetByUpdaterID(ctx context.Context, updaterID string) (*domain.Updater, error)
	CreateIfAbsent(ctx context.Context, updaterID string, manifestID int64) (bool, error)
	SetManifest(ctx context.Context, updaterID string, manifestID int64) error
}

type BuildRepository interface {
	Create(ctx context.Context, b *domain.Build) error
	List(ctx context.Context, filter domain.BuildFilter) ([]domain.Build, int, error)
}

type ReleaseRepository interface {
	FindOrCreate(ctx context.Context, rel *domain.ElectronRelease) (*domain.ElectronRelease, error)
	GetLatest(ctx context.Context, q domain.ElectronReleaseQuery) (*domain.ElectronRelease, error)
	GetByID(ctx context.Context, id int64) (*domain.ElectronRelease, error)
}

// ReleaseRegistry - внешний реестр релизов (GitHub)
type ReleaseRegistry interface {
	Exists(ctx context.Context, tag string) (bool, error)
	ResolveDownloadURL(ctx context.Context, tag, platformHint string) (string, error)
}
