package service

import (
	"context"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

// BuildService хранит ссылки на нативные сборки приложения
type BuildService struct {
	builds BuildRepository
}

func NewBuildService(builds BuildRepository) *BuildService {
	return &BuildService{builds: builds}
}

func (s *BuildService) Create(ctx context.Context, b *domain.Build) error {
	return s.builds.Create(ctx, b)
}

func (s *BuildService) List(ctx context.Context, filter domain.BuildFilter) (*domain.BuildList, error) {
	if filter.Limit <= 0 {
		filter.Limit = 10
	}
	rows, count, err := s.builds.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &domain.BuildList{Rows: rows, Count: count}, nil
}
