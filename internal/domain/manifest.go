package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

type Manifest struct {
	ID              int64          `json:"id" db:"id"`
	UUID            uuid.UUID      `json:"uuid" db:"uuid"`
	RuntimeVersion  string         `json:"runtimeVersion" db:"runtime_version"`
	ReleaseName     string         `json:"releaseName" db:"release_name"`
	Platform        Platform       `json:"platform" db:"platform"`
	LaunchAssetUUID uuid.UUID      `json:"launchAssetId" db:"launch_asset_uuid"`
	Metadata        types.JSONText `json:"metadata" db:"metadata"`
	Extra           types.JSONText `json:"extra" db:"extra"`
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
	DeletedAt       *time.Time     `json:"deletedAt,omitempty" db:"deleted_at"`

	// AssetUUIDs - дополнительные ассеты (без launch asset), заполняются при создании
	AssetUUIDs []uuid.UUID `json:"assetIds,omitempty" db:"-"`
}

// ManifestKey - координаты поиска последнего манифеста
type ManifestKey struct {
	ReleaseName    string
	RuntimeVersion string
	Platform       Platform
}

func (m *Manifest) Key() ManifestKey {
	return ManifestKey{
		ReleaseName:    m.ReleaseName,
		RuntimeVersion: m.RuntimeVersion,
		Platform:       m.Platform,
	}
}

type ManifestFilter struct {
	Platform       Platform
	RuntimeVersion string
	ReleaseName    string
	Page           int
	Limit          int
}

// Offset считает смещение для постраничной выборки, страницы нумеруются с 1
func (f ManifestFilter) Offset() int {
	if f.Page > 1 {
		return (f.Page - 1) * f.Limit
	}
	return 0
}

// ManifestSummary - строка списка манифестов без uuid и metadata
type ManifestSummary struct {
	ID              int64     `json:"id" db:"id"`
	RuntimeVersion  string    `json:"runtimeVersion" db:"runtime_version"`
	ReleaseName     string    `json:"releaseName" db:"release_name"`
	Platform        Platform  `json:"platform" db:"platform"`
	LaunchAssetUUID uuid.UUID `json:"launchAssetId" db:"launch_asset_uuid"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdaterCount    int       `json:"updaterCount" db:"updater_count"`
}

type ManifestList struct {
	Rows  []ManifestSummary `json:"rows"`
	Count int               `json:"count"`
}

type ManifestInfo struct {
	Channel        []string `json:"channel"`
	RuntimeVersion []string `json:"runtimeVersion"`
}

// AssetMetadata - описание ассета внутри объявленных метаданных сборки
type AssetMetadata struct {
	Path string `json:"path" validate:"required"`
	Ext  string `json:"ext" validate:"required"`
}

type PlatformFileMetadata struct {
	Bundle string          `json:"bundle" validate:"required"`
	Assets []AssetMetadata `json:"assets" validate:"dive"`
}

// ExpoMetadata - содержимое metadata.json, которое выдает expo export
type ExpoMetadata struct {
	Version      int                             `json:"version"`
	Bundler      string                          `json:"bundler" validate:"required"`
	FileMetadata map[string]PlatformFileMetadata `json:"fileMetadata" validate:"required,dive"`
}

type UploadedFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// FileMap - загруженные файлы по исходному имени
type FileMap map[string]*UploadedFile

type UploadRequest struct {
	RuntimeVersion string
	ReleaseName    string
	Metadata       ExpoMetadata
	// MetadataRaw - исходный JSON метаданных, из него выводится uuid манифеста
	MetadataRaw json.RawMessage
	ExpoClient  json.RawMessage
	Files       FileMap
}
