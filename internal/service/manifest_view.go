package service

import (
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

const assetsRoute = "/api/update/expo/assets"

// AssetView - описание ассета в манифесте протокола обновлений
type AssetView struct {
	Hash          string `json:"hash"`
	Key           string `json:"key"`
	ContentType   string `json:"contentType"`
	FileExtension string `json:"fileExtension"`
	URL           string `json:"url"`
}

// ManifestView - документ манифеста, который получает клиент
type ManifestView struct {
	ID             string         `json:"id"`
	CreatedAt      string         `json:"createdAt"`
	RuntimeVersion string         `json:"runtimeVersion"`
	LaunchAsset    AssetView      `json:"launchAsset"`
	Assets         []AssetView    `json:"assets"`
	Metadata       types.JSONText `json:"metadata"`
	Extra          types.JSONText `json:"extra"`
}

type manifestViewer struct {
	assetURL string
}

func newManifestViewer(baseURL string) manifestViewer {
	return manifestViewer{assetURL: strings.TrimSuffix(baseURL, "/") + assetsRoute}
}

func (v manifestViewer) asset(a domain.Asset) AssetView {
	return AssetView{
		Hash:          a.Hash,
		Key:           strings.ReplaceAll(a.UUID.String(), "-", ""),
		ContentType:   a.ContentType,
		FileExtension: "." + a.Ext,
		URL:           v.assetURL + "/" + a.UUID.String(),
	}
}

func (v manifestViewer) manifest(m *domain.Manifest, launch domain.Asset, assets []domain.Asset) *ManifestView {
	views := make([]AssetView, 0, len(assets))
	for _, a := range assets {
		views = append(views, v.asset(a))
	}

	return &ManifestView{
		ID:             m.UUID.String(),
		CreatedAt:      ISOTime(m.CreatedAt),
		RuntimeVersion: m.RuntimeVersion,
		LaunchAsset:    v.asset(launch),
		Assets:         views,
		Metadata:       jsonOrEmpty(m.Metadata),
		Extra:          jsonOrEmpty(m.Extra),
	}
}

// applyRepin подменяет id и createdAt, если устройство перепривязывалось,
// чтобы клиент увидел смену манифеста
func applyRepin(view *ManifestView, m *domain.Manifest, u *domain.Updater) {
	if u == nil || !u.Repinned() {
		return
	}
	view.ID = RepinUUID(u.UpdatedAt).String()
	view.CreatedAt = ISOTime(laterOf(m.CreatedAt, u.UpdatedAt))
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func jsonOrEmpty(j types.JSONText) types.JSONText {
	if len(j) == 0 {
		return types.JSONText("{}")
	}
	return j
}
