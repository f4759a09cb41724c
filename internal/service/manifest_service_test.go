package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

func file(name string, data string) *domain.UploadedFile {
	return &domain.UploadedFile{Name: name, Data: []byte(data)}
}

func uploadRequest(t *testing.T, runtime, release string, fm map[string]domain.PlatformFileMetadata, files ...*domain.UploadedFile) domain.UploadRequest {
	t.Helper()
	md := domain.ExpoMetadata{Version: 0, Bundler: "metro", FileMetadata: fm}
	raw, err := json.Marshal(md)
	require.NoError(t, err)

	fileMap := domain.FileMap{}
	for _, f := range files {
		fileMap[f.Name] = f
	}
	return domain.UploadRequest{
		RuntimeVersion: runtime,
		ReleaseName:    release,
		Metadata:       md,
		MetadataRaw:    raw,
		Files:          fileMap,
	}
}

func androidOnly(bundle string, assets ...domain.AssetMetadata) map[string]domain.PlatformFileMetadata {
	return map[string]domain.PlatformFileMetadata{
		"android": {Bundle: bundle, Assets: assets},
	}
}

// seedManifest загружает android-сборку с бандлом token и возвращает ее манифест
func seedManifest(t *testing.T, env *testEnv, runtime, release, token string) *domain.Manifest {
	t.Helper()
	ctx := context.Background()
	req := uploadRequest(t, runtime, release, androidOnly("bundles/"+token), file(token, "bundle-"+token))
	require.NoError(t, env.manifests.Upload(ctx, req))

	m, err := env.manifests.manifests.GetLatest(ctx, domain.ManifestKey{ReleaseName: release, RuntimeVersion: runtime, Platform: domain.PlatformAndroid})
	require.NoError(t, err)
	return m
}

func TestUploadEndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(domain.CollisionReuse)

	req := uploadRequest(t, "1.0.0", "prod",
		androidOnly("bundles/abc123", domain.AssetMetadata{Path: "assets/def456.png", Ext: "png"}),
		file("abc123", "bundle bytes"),
		file("def456", "png bytes"),
	)

	require.NoError(t, env.manifests.Upload(ctx, req))
	assert.Equal(t, 1, env.manifestCount())
	assert.Equal(t, 2, env.assetCount())

	m, err := env.manifests.manifests.GetLatest(ctx, domain.ManifestKey{ReleaseName: "prod", RuntimeVersion: "1.0.0", Platform: domain.PlatformAndroid})
	require.NoError(t, err)
	assert.Equal(t, TokenUUID("abc123"), m.LaunchAssetUUID)
	assert.Equal(t, TokenUUID("def456"), m.AssetUUIDs[0])
	assert.JSONEq(t, `{}`, string(m.Extra))

	launch, err := env.assets.GetAsset(ctx, m.LaunchAssetUUID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssetTypeBundle, launch.Type)
	assert.Equal(t, "application/javascript", launch.ContentType)

	png, err := env.assets.GetAsset(ctx, TokenUUID("def456"))
	require.NoError(t, err)
	assert.Equal(t, "image/png", png.ContentType)
	assert.Equal(t, HashBase64URL([]byte("png bytes")), png.Hash)

	data, err := afero.ReadFile(env.fs, png.BlobKey())
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(data))

	// повторная загрузка тех же метаданных ничего не создает
	require.NoError(t, env.manifests.Upload(ctx, req))
	assert.Equal(t, 1, env.manifestCount())
	assert.Equal(t, 2, env.db.assetInserts)
}

func TestUploadIdempotentAcrossFormatting(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(domain.CollisionReuse)

	req := uploadRequest(t, "1.0.0", "prod", androidOnly("bundles/abc123"), file("abc123", "bundle"))
	require.NoError(t, env.manifests.Upload(ctx, req))

	var pretty map[string]any
	require.NoError(t, json.Unmarshal(req.MetadataRaw, &pretty))
	req.MetadataRaw, _ = json.MarshalIndent(pretty, "", "    ")
	require.NoError(t, env.manifests.Upload(ctx, req))

	assert.Equal(t, 1, env.manifestCount())
}

func TestUploadReusesAssetsAcrossBuilds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(domain.CollisionReuse)
	shared := domain.AssetMetadata{Path: "assets/def456", Ext: "png"}

	first := uploadRequest(t, "1.0.0", "prod", androidOnly("bundles/abc123", shared),
		file("abc123", "bundle v1"), file("def456", "png"))
	second := uploadRequest(t, "1.0.0", "prod", androidOnly("bundles/abc124", shared),
		file("abc124", "bundle v2"), file("def456", "png"))

	require.NoError(t, env.manifests.Upload(ctx, first))
	require.NoError(t, env.manifests.Upload(ctx, second))

	assert.Equal(t, 2, env.manifestCount())
	assert.Equal(t, 3, env.assetCount())
	assert.Equal(t, 3, env.db.assetInserts)
}

func TestUploadAggregatesValidationErrors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(domain.CollisionReuse)

	req := uploadRequest(t, "1.0.0", "prod",
		androidOnly("bundles/abc123",
			domain.AssetMetadata{Path: "assets/missing1", Ext: "png"},
			domain.AssetMetadata{Path: "assets/missing2", Ext: "ttf"},
		),
		file("abc123", "bundle"),
	)

	err := env.manifests.Upload(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)

	var verrs domain.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 2)
	assert.Contains(t, verrs[0].Error(), "assets/missing1")
	assert.Contains(t, verrs[1].Error(), "assets/missing2")

	assert.Zero(t, env.manifestCount())
	assert.Zero(t, env.assetCount())
}

func TestUploadCollectsErrorsAcrossPlatforms(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(domain.CollisionReuse)

	req := uploadRequest(t, "1.0.0", "prod",
		map[string]domain.PlatformFileMetadata{
			"android": {Bundle: "bundles/abc123"},
			"ios":     {Bundle: "bundles/not-a-bundle.js"},
			"web":     {Bundle: "bundles/abc999"},
		},
		file("abc123", "bundle"),
		file("not-a-bundle.js", "bundle"),
	)

	err := env.manifests.Upload(ctx, req)
	var verrs domain.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 2)
	assert.Contains(t, verrs[0].Error(), `unsupported platform "web"`)
	assert.Contains(t, verrs[1].Error(), BundleNamePattern.String())

	// android валиден, но загрузка целиком отклонена
	assert.Zero(t, env.manifestCount())
}

func TestUploadIsAtomic(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(domain.CollisionReuse)
	env.db.failManifests = errors.New("db is down")

	req := uploadRequest(t, "1.0.0", "prod",
		map[string]domain.PlatformFileMetadata{
			"android": {Bundle: "bundles/android-abc123.hbc"},
			"ios":     {Bundle: "bundles/ios-abc124.hbc"},
		},
		file("android-abc123.hbc", "android"),
		file("ios-abc124.hbc", "ios"),
	)

	err := env.manifests.Upload(ctx, req)
	require.Error(t, err)
	assert.Zero(t, env.manifestCount())
	assert.Zero(t, env.assetCount())

	exists, err := afero.Exists(env.fs, domain.AssetBlobKey(TokenUUID("abc123")))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUploadWithoutPlatformsIsNoop(t *testing.T) {
	env := newTestEnv(domain.CollisionReuse)
	req := uploadRequest(t, "1.0.0", "prod", map[string]domain.PlatformFileMetadata{})

	require.NoError(t, env.manifests.Upload(context.Background(), req))
	assert.Zero(t, env.manifestCount())
}

func TestUploadStoresExpoClient(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(domain.CollisionReuse)

	req := uploadRequest(t, "1.0.0", "prod", androidOnly("bundles/abc123"), file("abc123", "bundle"))
	req.ExpoClient = json.RawMessage(`{"name":"app","slug":"app"}`)
	require.NoError(t, env.manifests.Upload(ctx, req))

	view, err := env.manifests.Latest(ctx, domain.ManifestKey{ReleaseName: "prod", RuntimeVersion: "1.0.0", Platform: domain.PlatformAndroid})
	require.NoError(t, err)
	assert.JSONEq(t, `{"expoClient":{"name":"app","slug":"app"}}`, string(view.Extra))
	assert.JSONEq(t, `{}`, string(view.Metadata))
}

func TestCollisionPolicyReuseKeepsStoredBytes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(domain.CollisionReuse)
	asset := domain.AssetMetadata{Path: "assets/def456", Ext: "png"}

	require.NoError(t, env.manifests.Upload(ctx, uploadRequest(t, "1.0.0", "prod",
		androidOnly("bundles/abc123", asset), file("abc123", "b1"), file("def456", "original"))))
	require.NoError(t, env.manifests.Upload(ctx, uploadRequest(t, "1.0.0", "prod",
		androidOnly("bundles/abc124", asset), file("abc124", "b2"), file("def456", "different"))))

	stored, body, err := env.assets.OpenAsset(ctx, TokenUUID("def456"))
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)

	assert.Equal(t, HashBase64URL([]byte("original")), stored.Hash)
	assert.Equal(t, "original", string(data))
	assert.Equal(t, 2, env.manifestCount())
}

func TestCollisionPolicyRejectFailsUpload(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(domain.CollisionReject)
	asset := domain.AssetMetadata{Path: "assets/def456", Ext: "png"}

	require.NoError(t, env.manifests.Upload(ctx, uploadRequest(t, "1.0.0", "prod",
		androidOnly("bundles/abc123", asset), file("abc123", "b1"), file("def456", "original"))))

	err := env.manifests.Upload(ctx, uploadRequest(t, "1.0.0", "prod",
		androidOnly("bundles/abc124", asset), file("abc124", "b2"), file("def456", "different")))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "different content")
	assert.Equal(t, 1, env.manifestCount())

	// те же байты под тем же токеном допустимы
	require.NoError(t, env.manifests.Upload(ctx, uploadRequest(t, "1.0.0", "prod",
		androidOnly("bundles/abc125", asset), file("abc125", "b3"), file("def456", "original"))))
}

// raceAsset подкладывает ассет def456 с байтами "theirs" прямо перед вставкой,
// как параллельная загрузка, закоммиченная раньше
func raceAsset(t *testing.T, env *testEnv) {
	t.Helper()
	env.db.raceAssetCreate = func() {
		theirs := domain.Asset{
			UUID:        TokenUUID("def456"),
			Platform:    domain.PlatformAndroid,
			Type:        domain.AssetTypeAsset,
			Ext:         "png",
			Hash:        HashBase64URL([]byte("theirs")),
			ContentType: "image/png",
		}
		env.db.mu.Lock()
		env.db.assets[theirs.UUID] = theirs
		env.db.mu.Unlock()
		require.NoError(t, afero.WriteFile(env.fs, theirs.BlobKey(), []byte("theirs"), 0o644))
	}
}

func racedUpload(t *testing.T) domain.UploadRequest {
	return uploadRequest(t, "1.0.0", "prod",
		androidOnly("bundles/abc123", domain.AssetMetadata{Path: "assets/def456", Ext: "png"}),
		file("abc123", "bundle"), file("def456", "ours"))
}

func TestUploadConcurrentAssetKeepsStoredBytes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(domain.CollisionReuse)
	raceAsset(t, env)

	require.NoError(t, env.manifests.Upload(ctx, racedUpload(t)))

	stored, body, err := env.assets.OpenAsset(ctx, TokenUUID("def456"))
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)

	assert.Equal(t, "theirs", string(data))
	assert.Equal(t, HashBase64URL(data), stored.Hash)
	// бандл вставлен этой загрузкой, ассет нет
	assert.Equal(t, 1, env.db.assetInserts)
}

func TestUploadConcurrentAssetSurvivesRollback(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(domain.CollisionReuse)
	env.db.failManifests = errors.New("db is down")
	raceAsset(t, env)

	require.Error(t, env.manifests.Upload(ctx, racedUpload(t)))

	data, err := afero.ReadFile(env.fs, domain.AssetBlobKey(TokenUUID("def456")))
	require.NoError(t, err)
	assert.Equal(t, "theirs", string(data))

	exists, err := afero.Exists(env.fs, domain.AssetBlobKey(TokenUUID("abc123")))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUploadConcurrentAssetRejectedOnCollision(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(domain.CollisionReject)
	raceAsset(t, env)

	err := env.manifests.Upload(ctx, racedUpload(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "different content")
	assert.Zero(t, env.manifestCount())

	data, err := afero.ReadFile(env.fs, domain.AssetBlobKey(TokenUUID("def456")))
	require.NoError(t, err)
	assert.Equal(t, "theirs", string(data))
}

func TestLatestRendersProtocolDocument(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(domain.CollisionReuse)

	req := uploadRequest(t, "1.0.0", "prod",
		androidOnly("bundles/abc123", domain.AssetMetadata{Path: "assets/def456", Ext: "png"}),
		file("abc123", "bundle"), file("def456", "png"))
	require.NoError(t, env.manifests.Upload(ctx, req))

	view, err := env.manifests.Latest(ctx, domain.ManifestKey{ReleaseName: "prod", RuntimeVersion: "1.0.0", Platform: domain.PlatformAndroid})
	require.NoError(t, err)

	id, err := MetadataUUID(req.MetadataRaw)
	require.NoError(t, err)
	assert.Equal(t, id.String(), view.ID)
	assert.Equal(t, "1.0.0", view.RuntimeVersion)
	assert.Equal(t, "https://updates.example.com/api/update/expo/assets/"+TokenUUID("abc123").String(), view.LaunchAsset.URL)
	assert.Equal(t, ".bundle", view.LaunchAsset.FileExtension)
	require.Len(t, view.Assets, 1)
	assert.Equal(t, ".png", view.Assets[0].FileExtension)
	assert.Equal(t, HashBase64URL([]byte("png")), view.Assets[0].Hash)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, view.CreatedAt)

	_, err = env.manifests.Latest(ctx, domain.ManifestKey{ReleaseName: "dev", RuntimeVersion: "1.0.0", Platform: domain.PlatformAndroid})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestByIDAppliesRepinOverride(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(domain.CollisionReuse)

	m1 := seedManifest(t, env, "1.0.0", "prod", "abc123")
	id, err := env.updaters.ResolveManifestID(ctx, domain.PinRequest{UpdaterID: "device-1", RuntimeVersion: "1.0.0", ReleaseName: "prod", Platform: domain.PlatformAndroid})
	require.NoError(t, err)
	require.Equal(t, m1.ID, id)

	view, err := env.manifests.ByID(ctx, id, "device-1")
	require.NoError(t, err)
	assert.Equal(t, m1.UUID.String(), view.ID)
	assert.Equal(t, ISOTime(m1.CreatedAt), view.CreatedAt)

	m2 := seedManifest(t, env, "1.0.0", "prod", "abc124")
	id, err = env.updaters.ResolveManifestID(ctx, domain.PinRequest{UpdaterID: "device-1", RuntimeVersion: "1.0.0", ReleaseName: "prod", Platform: domain.PlatformAndroid})
	require.NoError(t, err)
	require.Equal(t, m2.ID, id)

	u, err := memUpdaters{env.db}.GetByUpdaterID(ctx, "device-1")
	require.NoError(t, err)
	require.True(t, u.Repinned())

	view, err = env.manifests.ByID(ctx, id, "device-1")
	require.NoError(t, err)
	assert.Equal(t, RepinUUID(u.UpdatedAt).String(), view.ID)
	assert.NotEqual(t, m2.UUID.String(), view.ID)
	assert.Equal(t, ISOTime(u.UpdatedAt), view.CreatedAt)

	// без устройства id не подменяется
	view, err = env.manifests.ByID(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, m2.UUID.String(), view.ID)

	_, err = env.manifests.ByID(ctx, id, "unknown-device")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestByIDMissingAssets(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(domain.CollisionReuse)
	m := seedManifest(t, env, "1.0.0", "prod", "abc123")

	env.db.mu.Lock()
	delete(env.db.assets, m.LaunchAssetUUID)
	env.db.mu.Unlock()

	_, err := env.manifests.ByID(ctx, m.ID, "")
	assert.ErrorIs(t, err, domain.ErrManifestAssetsNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.manifests.ByID(ctx, 999, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrManifestAssetsNotFound)
}

func TestListInfoAndDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(domain.CollisionReuse)

	seedManifest(t, env, "1.0.0", "prod", "abc123")
	seedManifest(t, env, "1.1.0", "dev", "abc124")
	last := seedManifest(t, env, "1.0.0", "beta", "abc125")

	list, err := env.manifests.List(ctx, domain.ManifestFilter{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, list.Count)
	require.Len(t, list.Rows, 3)
	assert.Equal(t, last.ID, list.Rows[0].ID)

	list, err = env.manifests.List(ctx, domain.ManifestFilter{RuntimeVersion: "1.0.0", Page: 2, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, list.Count)
	require.Len(t, list.Rows, 1)
	assert.Equal(t, "prod", list.Rows[0].ReleaseName)

	info, err := env.manifests.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta", "dev", "prod"}, info.Channel)
	assert.Equal(t, []string{"1.0.0", "1.1.0"}, info.RuntimeVersion)

	require.NoError(t, env.manifests.Delete(ctx, last.ID))
	assert.ErrorIs(t, env.manifests.Delete(ctx, last.ID), domain.ErrNotFound)

	_, err = env.manifests.ByID(ctx, last.ID, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	info, err = env.manifests.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev", "prod"}, info.Channel)
}
