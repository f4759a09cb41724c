package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/h2non/bimg"
	"github.com/rs/zerolog/log"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
	"github.com/Ablestor/expo-electron-updates-server/internal/service/blob"
)

const (
	maxImageSize  = 1024
	jpegQuality   = 85
	previewPrefix = "previews/"
)

// ErrUnsupported возвращается для ассетов, у которых не бывает превью
var ErrUnsupported = errors.Join(domain.ErrValidation, errors.New("preview is not supported for this asset type"))

var supportedTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
}

// AssetOpener отдает запись ассета вместе с его содержимым
type AssetOpener interface {
	OpenAsset(ctx context.Context, id uuid.UUID) (*domain.Asset, io.ReadCloser, error)
}

type Service struct {
	assets   AssetOpener
	cache    blob.Store
	optimize func([]byte) ([]byte, error)
}

func NewService(assets AssetOpener, cache blob.Store) *Service {
	return &Service{
		assets:   assets,
		cache:    cache,
		optimize: optimizeImage,
	}
}

func previewKey(id uuid.UUID) string {
	return previewPrefix + id.String()
}

// GetOrGeneratePreview получает превью из кеша или генерирует новое
func (s *Service) GetOrGeneratePreview(ctx context.Context, assetUUID uuid.UUID) ([]byte, error) {
	key := previewKey(assetUUID)

	// Пробуем получить превью из кеша
	cached, err := s.cache.Get(ctx, key)
	if err == nil {
		defer cached.Close()
		data, readErr := io.ReadAll(cached)
		if readErr == nil {
			log.Debug().Str("asset", assetUUID.String()).Msg("preview cache hit")
			return data, nil
		}
		log.Warn().Err(readErr).Str("key", key).Msg("failed to read cached preview")
	} else if !errors.Is(err, blob.ErrNotExist) {
		log.Warn().Err(err).Str("key", key).Msg("failed to check preview cache")
	}

	asset, body, err := s.assets.OpenAsset(ctx, assetUUID)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	if _, ok := supportedTypes[asset.ContentType]; !ok {
		return nil, fmt.Errorf("asset %s (%s): %w", assetUUID, asset.ContentType, ErrUnsupported)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset %s: %w", assetUUID, err)
	}

	preview, err := s.optimize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to generate preview: %w", err)
	}

	// Кеш не обязателен: ошибку записи только логируем
	if err := s.cache.Put(ctx, key, bytes.NewReader(preview)); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to store preview")
	}

	return preview, nil
}

// optimizeImage уменьшает изображение и перекодирует в JPEG
func optimizeImage(data []byte) ([]byte, error) {
	image := bimg.NewImage(data)

	size, err := image.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to get image size: %w", err)
	}

	width, height := calculateNewDimensions(size.Width, size.Height, maxImageSize)

	processed, err := image.Process(bimg.Options{
		Width:   width,
		Height:  height,
		Quality: jpegQuality,
		Type:    bimg.JPEG,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to process image: %w", err)
	}

	return processed, nil
}

// calculateNewDimensions вычисляет новые размеры с сохранением пропорций.
// Маленькие изображения не увеличиваются
func calculateNewDimensions(width, height, maxSize int) (newWidth, newHeight int) {
	if width <= maxSize && height <= maxSize {
		return width, height
	}
	if width > height {
		newWidth = maxSize
		newHeight = (height * maxSize) / width
	} else {
		newHeight = maxSize
		newWidth = (width * maxSize) / height
	}
	return
}
