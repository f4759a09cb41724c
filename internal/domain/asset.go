package domain

import (
	"time"

	"github.com/google/uuid"
)

type AssetType string

const (
	AssetTypeBundle AssetType = "bundle"
	AssetTypeAsset  AssetType = "asset"
)

// Asset - артефакт сборки, адресуемый по идентификатору из объявленного пути
type Asset struct {
	UUID        uuid.UUID `json:"uuid" db:"uuid"`
	Platform    Platform  `json:"platform" db:"platform"`
	Type        AssetType `json:"type" db:"type"`
	Ext         string    `json:"ext" db:"ext"`
	Hash        string    `json:"hash" db:"hash"`
	ContentType string    `json:"content_type" db:"content_type"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// BlobKey возвращает ключ объекта в хранилище
func (a *Asset) BlobKey() string {
	return AssetBlobKey(a.UUID)
}

func AssetBlobKey(id uuid.UUID) string {
	return "assets/" + id.String()
}

// AssetCollisionPolicy определяет поведение при совпадении идентификатора
// ассета с уже сохраненным, но с другим содержимым
type AssetCollisionPolicy string

const (
	CollisionReuse  AssetCollisionPolicy = "reuse"
	CollisionReject AssetCollisionPolicy = "reject"
)
