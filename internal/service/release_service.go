package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

// ReleaseService раздает десктопные релизы, артефакты которых лежат в реестре релизов
type ReleaseService struct {
	releases ReleaseRepository
	registry ReleaseRegistry
}

func NewReleaseService(releases ReleaseRepository, registry ReleaseRegistry) *ReleaseService {
	return &ReleaseService{releases: releases, registry: registry}
}

// Create регистрирует релиз, если тег существует в реестре
func (s *ReleaseService) Create(ctx context.Context, rel domain.ElectronRelease) (*domain.ElectronRelease, error) {
	ok, err := s.registry.Exists(ctx, rel.GithubReleaseName)
	if err != nil {
		return nil, fmt.Errorf("failed to check release %s: %w", rel.GithubReleaseName, err)
	}
	if !ok {
		return nil, fmt.Errorf("release %s does not exist upstream: %w", rel.GithubReleaseName, domain.ErrConflict)
	}

	rel.UUID = ReleaseUUID(rel.GithubReleaseName)
	out, err := s.releases.FindOrCreate(ctx, &rel)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("component", "release").
		Str("tag", out.GithubReleaseName).
		Str("platform", string(out.Platform)).
		Msg("electron release registered")
	return out, nil
}

func (s *ReleaseService) Latest(ctx context.Context, q domain.ElectronReleaseQuery) (*domain.ElectronRelease, error) {
	return s.releases.GetLatest(ctx, q)
}

// Check сообщает, является ли тег последним релизом канала
func (s *ReleaseService) Check(ctx context.Context, q domain.ElectronReleaseQuery, tag string) (bool, error) {
	latest, err := s.releases.GetLatest(ctx, q)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return latest.GithubReleaseName == tag, nil
}

// DownloadURL возвращает ссылку на артефакт релиза
func (s *ReleaseService) DownloadURL(ctx context.Context, id int64) (string, error) {
	rel, err := s.releases.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return s.registry.ResolveDownloadURL(ctx, rel.GithubReleaseName, string(rel.Platform))
}

// LatestInstallerURL возвращает ссылку на установщик последнего релиза платформы
func (s *ReleaseService) LatestInstallerURL(ctx context.Context, platform domain.ElectronPlatform) (string, error) {
	rel, err := s.releases.GetLatest(ctx, domain.ElectronReleaseQuery{Platform: platform})
	if err != nil {
		return "", err
	}
	return s.registry.ResolveDownloadURL(ctx, rel.GithubReleaseName, string(platform))
}

// ReleaseUUID выводит идентификатор релиза из его тега
func ReleaseUUID(tag string) uuid.UUID {
	encoded, _ := json.Marshal(tag)
	return UUIDFromDigest(HashBytes(encoded))
}
