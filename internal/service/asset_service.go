package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
	"github.com/Ablestor/expo-electron-updates-server/internal/service/blob"
)

const (
	bundleContentType  = "application/javascript"
	defaultContentType = "application/octet-stream"
	bundleExt          = "bundle"
)

// BundleNamePattern - обязательный формат имени файла бандла
var BundleNamePattern = regexp.MustCompile(`^(?:(android|ios)-)?([0-9a-fA-F]+)(?:\.(js|hbc|bundle))?$`)

// ResolvedAssets - ассеты одной платформы после проверки, до записи
type ResolvedAssets struct {
	Platform domain.Platform
	Launch   domain.Asset
	Assets   []domain.Asset

	uploads map[uuid.UUID][]byte
}

// All возвращает бандл и ассеты в объявленном порядке
func (r *ResolvedAssets) All() []domain.Asset {
	return append([]domain.Asset{r.Launch}, r.Assets...)
}

// AssetUUIDs - уникальные идентификаторы дополнительных ассетов
func (r *ResolvedAssets) AssetUUIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(r.Assets))
	ids := make([]uuid.UUID, 0, len(r.Assets))
	for _, a := range r.Assets {
		if _, ok := seen[a.UUID]; ok {
			continue
		}
		seen[a.UUID] = struct{}{}
		ids = append(ids, a.UUID)
	}
	return ids
}

type AssetService struct {
	assets AssetRepository
	blobs  blob.Store
	policy domain.AssetCollisionPolicy
}

func NewAssetService(assets AssetRepository, blobs blob.Store, policy domain.AssetCollisionPolicy) *AssetService {
	if policy == "" {
		policy = domain.CollisionReuse
	}
	return &AssetService{assets: assets, blobs: blobs, policy: policy}
}

func (s *AssetService) GetAsset(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	return s.assets.GetByUUID(ctx, id)
}

func (s *AssetService) FindAssets(ctx context.Context, ids []uuid.UUID) ([]domain.Asset, error) {
	return s.assets.FindByUUIDs(ctx, ids)
}

// OpenAsset возвращает запись ассета и поток его байтов
func (s *AssetService) OpenAsset(ctx context.Context, id uuid.UUID) (*domain.Asset, io.ReadCloser, error) {
	asset, err := s.assets.GetByUUID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	body, err := s.blobs.Get(ctx, asset.BlobKey())
	if errors.Is(err, blob.ErrNotExist) {
		return nil, nil, fmt.Errorf("asset %s content: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open asset %s: %w", id, err)
	}
	return asset, body, nil
}

// Resolve проверяет объявленные ассеты платформы и сопоставляет их с
// загруженными файлами. Ничего не пишет. Все ошибки собираются в одну
func (s *AssetService) Resolve(ctx context.Context, platform domain.Platform, declared domain.PlatformFileMetadata, files domain.FileMap) (*ResolvedAssets, error) {
	var errs domain.ValidationErrors
	resolved := &ResolvedAssets{Platform: platform, uploads: map[uuid.UUID][]byte{}}

	launch, data, err := bundleAsset(platform, declared.Bundle, files)
	if err != nil {
		errs = append(errs, err)
	} else {
		resolved.Launch = launch
		resolved.uploads[launch.UUID] = data
	}

	for _, am := range declared.Assets {
		asset, data, err := genericAsset(platform, am, files)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resolved.Assets = append(resolved.Assets, asset)
		resolved.uploads[asset.UUID] = data
	}

	if len(errs) > 0 {
		return nil, errs
	}

	existing, err := s.existing(ctx, resolved)
	if err != nil {
		return nil, err
	}
	if errs := s.adopt(resolved, existing); len(errs) > 0 {
		return nil, errs
	}
	return resolved, nil
}

// adopt заменяет ассеты, уже лежащие в базе, их сохраненными записями и
// применяет политику коллизий, если байты отличаются
func (s *AssetService) adopt(r *ResolvedAssets, stored map[uuid.UUID]domain.Asset) domain.ValidationErrors {
	var errs domain.ValidationErrors
	for i, a := range r.All() {
		st, ok := stored[a.UUID]
		if !ok {
			continue
		}
		if st.Hash != a.Hash {
			if s.policy == domain.CollisionReject {
				errs = append(errs, fmt.Errorf("%w: %s asset %s already stored with different content", domain.ErrValidation, r.Platform, a.UUID))
				continue
			}
			log.Warn().
				Str("component", "asset").
				Str("uuid", a.UUID.String()).
				Str("stored_hash", st.Hash).
				Str("uploaded_hash", a.Hash).
				Msg("asset token collision, keeping stored content")
		}
		if i == 0 {
			r.Launch = st
		} else {
			r.Assets[i-1] = st
		}
		delete(r.uploads, a.UUID)
	}
	return errs
}

func (s *AssetService) existing(ctx context.Context, r *ResolvedAssets) (map[uuid.UUID]domain.Asset, error) {
	ids := make([]uuid.UUID, 0, len(r.Assets)+1)
	for _, a := range r.All() {
		ids = append(ids, a.UUID)
	}

	found, err := s.assets.FindByUUIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing assets: %w", err)
	}

	out := make(map[uuid.UUID]domain.Asset, len(found))
	for _, a := range found {
		out[a.UUID] = a
	}
	return out, nil
}

// Persist создает недостающие ассеты и пишет байты только тех, что вставил сам.
// Возвращает ключи записанных объектов, чтобы вызывающий мог убрать их при откате
func (s *AssetService) Persist(ctx context.Context, resolved []*ResolvedAssets) ([]string, error) {
	var (
		toCreate []domain.Asset
		payload  = map[uuid.UUID][]byte{}
	)
	for _, r := range resolved {
		for _, a := range r.All() {
			data, ok := r.uploads[a.UUID]
			if !ok {
				continue
			}
			if _, dup := payload[a.UUID]; dup {
				continue
			}
			payload[a.UUID] = data
			toCreate = append(toCreate, a)
		}
	}

	if len(toCreate) == 0 {
		return nil, nil
	}

	inserted, err := s.assets.CreateMany(ctx, toCreate)
	if err != nil {
		return nil, err
	}
	created := make(map[uuid.UUID]struct{}, len(inserted))
	for _, id := range inserted {
		created[id] = struct{}{}
	}

	// Остальные строки успел вставить параллельный запрос: их байты уже
	// в хранилище и не перезаписываются
	var raced []uuid.UUID
	for _, a := range toCreate {
		if _, ok := created[a.UUID]; !ok {
			raced = append(raced, a.UUID)
		}
	}
	if len(raced) > 0 {
		found, err := s.assets.FindByUUIDs(ctx, raced)
		if err != nil {
			return nil, fmt.Errorf("failed to re-read assets: %w", err)
		}
		if len(found) != len(raced) {
			return nil, fmt.Errorf("expected %d concurrently created assets, found %d", len(raced), len(found))
		}
		stored := make(map[uuid.UUID]domain.Asset, len(found))
		for _, a := range found {
			stored[a.UUID] = a
		}
		var errs domain.ValidationErrors
		for _, r := range resolved {
			errs = append(errs, s.adopt(r, stored)...)
		}
		if len(errs) > 0 {
			return nil, errs
		}
	}

	var written []string
	for _, a := range toCreate {
		if _, ok := created[a.UUID]; !ok {
			continue
		}
		key := a.BlobKey()
		if err := s.blobs.Put(ctx, key, bytes.NewReader(payload[a.UUID])); err != nil {
			return written, fmt.Errorf("failed to store asset %s: %w", a.UUID, err)
		}
		written = append(written, key)
	}

	log.Info().
		Str("component", "asset").
		Int("created", len(written)).
		Int("concurrent", len(raced)).
		Msg("assets stored")
	return written, nil
}

// ResolveOrCreate проверяет и сохраняет ассеты одной платформы
func (s *AssetService) ResolveOrCreate(ctx context.Context, platform domain.Platform, declared domain.PlatformFileMetadata, files domain.FileMap) (domain.Asset, []domain.Asset, error) {
	resolved, err := s.Resolve(ctx, platform, declared, files)
	if err != nil {
		return domain.Asset{}, nil, err
	}
	written, err := s.Persist(ctx, []*ResolvedAssets{resolved})
	if err != nil {
		s.Cleanup(ctx, written)
		return domain.Asset{}, nil, err
	}
	return resolved.Launch, resolved.Assets, nil
}

// Cleanup удаляет объекты, записанные неудачной загрузкой
func (s *AssetService) Cleanup(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
			log.Error().Err(err).Str("component", "asset").Str("key", key).Msg("failed to remove orphaned blob")
		}
	}
}

// lookupFile ищет загруженный файл сначала по имени из пути, потом по токену
func lookupFile(declaredPath string, files domain.FileMap) (string, *domain.UploadedFile) {
	base := path.Base(declaredPath)
	token := strings.TrimSuffix(base, path.Ext(base))
	if f, ok := files[base]; ok {
		return token, f
	}
	if f, ok := files[token]; ok {
		return token, f
	}
	return token, nil
}

func bundleAsset(platform domain.Platform, declaredPath string, files domain.FileMap) (domain.Asset, []byte, error) {
	_, file := lookupFile(declaredPath, files)
	if file == nil {
		return domain.Asset{}, nil, fmt.Errorf("%w: %s bundle %q not found in uploaded files", domain.ErrValidation, platform, declaredPath)
	}

	m := BundleNamePattern.FindStringSubmatch(file.Name)
	if m == nil {
		return domain.Asset{}, nil, fmt.Errorf("%w: invalid bundle name %q, bundle name must match %s", domain.ErrValidation, file.Name, BundleNamePattern)
	}

	return domain.Asset{
		UUID:        TokenUUID(m[2]),
		Platform:    platform,
		Type:        domain.AssetTypeBundle,
		Ext:         bundleExt,
		Hash:        HashBase64URL(file.Data),
		ContentType: bundleContentType,
	}, file.Data, nil
}

func genericAsset(platform domain.Platform, am domain.AssetMetadata, files domain.FileMap) (domain.Asset, []byte, error) {
	token, file := lookupFile(am.Path, files)
	if file == nil {
		return domain.Asset{}, nil, fmt.Errorf("%w: %s asset %q not found in uploaded files", domain.ErrValidation, platform, am.Path)
	}

	ext := strings.TrimPrefix(am.Ext, ".")
	return domain.Asset{
		UUID:        TokenUUID(token),
		Platform:    platform,
		Type:        domain.AssetTypeAsset,
		Ext:         ext,
		Hash:        HashBase64URL(file.Data),
		ContentType: contentTypeFor(ext, file.ContentType),
	}, file.Data, nil
}

// contentTypeFor определяет тип по расширению, затем берет заявленный при загрузке
func contentTypeFor(ext, declared string) string {
	if t := filetype.GetType(ext); t != filetype.Unknown {
		return t.MIME.Value
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	if declared != "" {
		return declared
	}
	return defaultContentType
}
