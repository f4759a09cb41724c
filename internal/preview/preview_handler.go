package preview

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) GetPreview(w http.ResponseWriter, r *http.Request) {
	assetUUID, err := uuid.Parse(chi.URLParam(r, "assetId"))
	if err != nil {
		http.Error(w, "Invalid asset id", http.StatusBadRequest)
		return
	}

	previewData, err := h.service.GetOrGeneratePreview(r.Context(), assetUUID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Asset not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrUnsupported):
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	case err != nil:
		log.Error().Err(err).Str("asset", assetUUID.String()).Msg("failed to generate preview")
		http.Error(w, "Failed to generate preview", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(previewData)
}
