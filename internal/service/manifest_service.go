package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/rs/zerolog/log"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

type ManifestService struct {
	tx        Transactor
	manifests ManifestRepository
	updaters  UpdaterRepository
	assets    *AssetService
	viewer    manifestViewer
}

func NewManifestService(tx Transactor, manifests ManifestRepository, updaters UpdaterRepository, assets *AssetService, baseURL string) *ManifestService {
	return &ManifestService{
		tx:        tx,
		manifests: manifests,
		updaters:  updaters,
		assets:    assets,
		viewer:    newManifestViewer(baseURL),
	}
}

// Upload создает по манифесту на каждую платформу из метаданных.
// Сначала проверяются все платформы без записи, затем все пишется в одной транзакции
func (s *ManifestService) Upload(ctx context.Context, req domain.UploadRequest) error {
	if len(req.Metadata.FileMetadata) == 0 {
		return nil
	}

	id, err := MetadataUUID(req.MetadataRaw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	logger := log.With().
		Str("component", "manifest").
		Str("uuid", id.String()).
		Str("release", req.ReleaseName).
		Str("runtime", req.RuntimeVersion).
		Logger()

	var errs domain.ValidationErrors
	for _, key := range unknownPlatforms(req.Metadata.FileMetadata) {
		errs = append(errs, fmt.Errorf("%w: unsupported platform %q", domain.ErrValidation, key))
	}

	var staged []*ResolvedAssets
	for _, platform := range domain.SupportedPlatforms {
		declared, ok := req.Metadata.FileMetadata[string(platform)]
		if !ok {
			continue
		}

		exists, err := s.manifests.Exists(ctx, id, req.ReleaseName, platform)
		if err != nil {
			return err
		}
		if exists {
			logger.Info().Str("platform", string(platform)).Msg("manifest already exists, skipping platform")
			continue
		}

		resolved, err := s.assets.Resolve(ctx, platform, declared, req.Files)
		var verrs domain.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			errs = append(errs, verrs...)
		case errors.Is(err, domain.ErrValidation):
			errs = append(errs, err)
		case err != nil:
			return err
		default:
			staged = append(staged, resolved)
		}
	}

	if len(errs) > 0 {
		return errs.Flatten()
	}
	if len(staged) == 0 {
		return nil
	}

	extra, err := buildExtra(req.ExpoClient)
	if err != nil {
		return err
	}

	var written []string
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		written, err = s.assets.Persist(ctx, staged)
		if err != nil {
			return err
		}

		manifests := make([]*domain.Manifest, 0, len(staged))
		for _, r := range staged {
			manifests = append(manifests, &domain.Manifest{
				UUID:            id,
				RuntimeVersion:  req.RuntimeVersion,
				ReleaseName:     req.ReleaseName,
				Platform:        r.Platform,
				LaunchAssetUUID: r.Launch.UUID,
				Metadata:        types.JSONText("{}"),
				Extra:           extra,
				AssetUUIDs:      r.AssetUUIDs(),
			})
		}
		return s.manifests.CreateMany(ctx, manifests)
	})
	if err != nil {
		s.assets.Cleanup(ctx, written)
		return fmt.Errorf("failed to store upload: %w", err)
	}

	logger.Info().Int("platforms", len(staged)).Msg("manifests created")
	return nil
}

func unknownPlatforms(fm map[string]domain.PlatformFileMetadata) []string {
	var out []string
	for key := range fm {
		if _, ok := domain.ParsePlatform(key); !ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func buildExtra(expoClient json.RawMessage) (types.JSONText, error) {
	if len(expoClient) == 0 {
		return types.JSONText("{}"), nil
	}
	if !json.Valid(expoClient) {
		return nil, fmt.Errorf("%w: expoClient is not valid JSON", domain.ErrValidation)
	}
	extra, err := json.Marshal(map[string]json.RawMessage{"expoClient": expoClient})
	if err != nil {
		return nil, fmt.Errorf("failed to encode extra: %w", err)
	}
	return types.JSONText(extra), nil
}

// Latest возвращает последний манифест канала в виде документа протокола
func (s *ManifestService) Latest(ctx context.Context, key domain.ManifestKey) (*ManifestView, error) {
	m, err := s.manifests.GetLatest(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.render(ctx, m)
}

// ByID возвращает манифест по id. Если указан updaterID, учитывается
// перепривязка устройства
func (s *ManifestService) ByID(ctx context.Context, id int64, updaterID string) (*ManifestView, error) {
	m, err := s.manifests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	view, err := s.render(ctx, m)
	if err != nil {
		return nil, err
	}

	if updaterID != "" {
		u, err := s.updaters.GetByUpdaterID(ctx, updaterID)
		if err != nil {
			return nil, err
		}
		applyRepin(view, m, u)
	}
	return view, nil
}

func (s *ManifestService) render(ctx context.Context, m *domain.Manifest) (*ManifestView, error) {
	launch, err := s.assets.GetAsset(ctx, m.LaunchAssetUUID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("launch asset of manifest %d: %w", m.ID, domain.ErrManifestAssetsNotFound)
	}
	if err != nil {
		return nil, err
	}

	ids, err := s.manifests.AssetUUIDs(ctx, m.ID)
	if err != nil {
		return nil, err
	}

	assets, err := s.assets.FindAssets(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(assets) != len(ids) {
		return nil, fmt.Errorf("assets of manifest %d: %w", m.ID, domain.ErrManifestAssetsNotFound)
	}
	sortAssets(assets, ids)

	return s.viewer.manifest(m, *launch, assets), nil
}

// sortAssets восстанавливает порядок связей после выборки по ANY
func sortAssets(assets []domain.Asset, order []uuid.UUID) {
	pos := make(map[uuid.UUID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	sort.SliceStable(assets, func(i, j int) bool {
		return pos[assets[i].UUID] < pos[assets[j].UUID]
	})
}

func (s *ManifestService) List(ctx context.Context, filter domain.ManifestFilter) (*domain.ManifestList, error) {
	if filter.Limit <= 0 {
		filter.Limit = 10
	}
	rows, count, err := s.manifests.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &domain.ManifestList{Rows: rows, Count: count}, nil
}

func (s *ManifestService) Info(ctx context.Context) (*domain.ManifestInfo, error) {
	return s.manifests.Info(ctx)
}

func (s *ManifestService) Delete(ctx context.Context, id int64) error {
	if err := s.manifests.SoftDelete(ctx, id); err != nil {
		return err
	}
	log.Info().Str("component", "manifest").Int64("id", id).Msg("manifest deleted")
	return nil
}
