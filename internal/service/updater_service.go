package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

// UpdaterService держит устройство на его линии релизов между опросами
type UpdaterService struct {
	updaters  UpdaterRepository
	manifests ManifestRepository
}

func NewUpdaterService(updaters UpdaterRepository, manifests ManifestRepository) *UpdaterService {
	return &UpdaterService{updaters: updaters, manifests: manifests}
}

// ResolveManifestID возвращает манифест, который должно получить устройство,
// и при необходимости переносит привязку
func (s *UpdaterService) ResolveManifestID(ctx context.Context, req domain.PinRequest) (int64, error) {
	requested, err := s.manifests.GetLatest(ctx, domain.ManifestKey{
		ReleaseName:    req.ReleaseName,
		RuntimeVersion: req.RuntimeVersion,
		Platform:       req.Platform,
	})
	if err != nil {
		return 0, err
	}

	logger := log.With().Str("component", "updater").Str("updater_id", req.UpdaterID).Logger()

	updater, err := s.updaters.GetByUpdaterID(ctx, req.UpdaterID)
	if errors.Is(err, domain.ErrNotFound) {
		created, err := s.updaters.CreateIfAbsent(ctx, req.UpdaterID, requested.ID)
		if err != nil {
			return 0, err
		}
		if created {
			logger.Info().Int64("manifest_id", requested.ID).Msg("updater pinned")
			return requested.ID, nil
		}
		// Привязку успел создать параллельный опрос
		updater, err = s.updaters.GetByUpdaterID(ctx, req.UpdaterID)
		if err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	}

	bound, err := s.manifests.GetByID(ctx, updater.ManifestID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return 0, err
	}

	// Удаленный манифест считаем расхождением и перепривязываем на запрошенный
	if bound == nil || bound.RuntimeVersion != requested.RuntimeVersion || bound.Platform != requested.Platform {
		logger.Info().Int64("from", updater.ManifestID).Int64("to", requested.ID).Msg("updater re-pinned")
		return s.repin(ctx, req.UpdaterID, updater.ManifestID, requested.ID)
	}

	latest, err := s.manifests.GetLatest(ctx, bound.Key())
	if err != nil {
		return 0, err
	}
	if latest.ID == bound.ID {
		return bound.ID, nil
	}
	logger.Debug().Int64("from", updater.ManifestID).Int64("to", latest.ID).Msg("updater advanced")
	return s.repin(ctx, req.UpdaterID, updater.ManifestID, latest.ID)
}

func (s *UpdaterService) repin(ctx context.Context, updaterID string, from, to int64) (int64, error) {
	if from == to {
		return to, nil
	}
	if err := s.updaters.SetManifest(ctx, updaterID, to); err != nil {
		return 0, err
	}
	return to, nil
}

// GetUpdater возвращает привязку вместе с кратким описанием манифеста
func (s *UpdaterService) GetUpdater(ctx context.Context, updaterID string) (*domain.UpdaterWithManifest, error) {
	updater, err := s.updaters.GetByUpdaterID(ctx, updaterID)
	if err != nil {
		return nil, err
	}

	m, err := s.manifests.GetByID(ctx, updater.ManifestID)
	if err != nil {
		return nil, fmt.Errorf("manifest of updater %s: %w", updaterID, err)
	}

	return &domain.UpdaterWithManifest{
		UpdaterID: updater.UpdaterID,
		Manifest: domain.ManifestSummary{
			ID:              m.ID,
			RuntimeVersion:  m.RuntimeVersion,
			ReleaseName:     m.ReleaseName,
			Platform:        m.Platform,
			LaunchAssetUUID: m.LaunchAssetUUID,
			CreatedAt:       m.CreatedAt,
		},
	}, nil
}

// SetUpdaterManifest вручную переводит устройство на последний манифест канала
func (s *UpdaterService) SetUpdaterManifest(ctx context.Context, updaterID string, key domain.ManifestKey) error {
	if _, err := s.updaters.GetByUpdaterID(ctx, updaterID); err != nil {
		return err
	}

	m, err := s.manifests.GetLatest(ctx, key)
	if err != nil {
		return err
	}

	return s.updaters.SetManifest(ctx, updaterID, m.ID)
}
