package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
	"github.com/Ablestor/expo-electron-updates-server/internal/service"
)

type ElectronHandler struct {
	releases *service.ReleaseService
}

func NewElectronHandler(releases *service.ReleaseService) *ElectronHandler {
	return &ElectronHandler{releases: releases}
}

type electronQuery struct {
	Platform string `json:"platform" validate:"required,electron_platform"`
	Version  string `json:"version"`
}

func (q electronQuery) toQuery(releaseName string) domain.ElectronReleaseQuery {
	return domain.ElectronReleaseQuery{
		Platform:    domain.ElectronPlatform(q.Platform),
		Version:     q.Version,
		ReleaseName: releaseName,
	}
}

// LatestRelease отдает последний релиз канала для платформы
func (h *ElectronHandler) LatestRelease(w http.ResponseWriter, r *http.Request) {
	q := electronQuery{
		Platform: r.URL.Query().Get("platform"),
		Version:  r.URL.Query().Get("version"),
	}
	if err := validateRequest(q); err != nil {
		writeError(w, r, err)
		return
	}

	rel, err := h.releases.Latest(r.Context(), q.toQuery(chi.URLParam(r, "releaseName")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

type checkQuery struct {
	Platform          string `json:"platform" validate:"required,electron_platform"`
	Version           string `json:"version"`
	GithubReleaseName string `json:"githubReleaseName" validate:"required"`
}

// CheckLatest сообщает, является ли тег клиента последним релизом
func (h *ElectronHandler) CheckLatest(w http.ResponseWriter, r *http.Request) {
	q := checkQuery{
		Platform:          r.URL.Query().Get("platform"),
		Version:           r.URL.Query().Get("version"),
		GithubReleaseName: r.URL.Query().Get("githubReleaseName"),
	}
	if err := validateRequest(q); err != nil {
		writeError(w, r, err)
		return
	}

	query := electronQuery{Platform: q.Platform, Version: q.Version}.toQuery(chi.URLParam(r, "releaseName"))
	latest, err := h.releases.Check(r.Context(), query, q.GithubReleaseName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// LatestInstaller перенаправляет на установщик последнего релиза платформы
func (h *ElectronHandler) LatestInstaller(w http.ResponseWriter, r *http.Request) {
	q := electronQuery{Platform: r.URL.Query().Get("platform")}
	if err := validateRequest(q); err != nil {
		writeError(w, r, err)
		return
	}

	url, err := h.releases.LatestInstallerURL(r.Context(), domain.ElectronPlatform(q.Platform))
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// Download перенаправляет на артефакт релиза
func (h *ElectronHandler) Download(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "manifestId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, fmt.Errorf("%w: invalid manifest id %q", domain.ErrValidation, raw))
		return
	}

	url, err := h.releases.DownloadURL(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

type createReleaseRequest struct {
	Platform          string `json:"platform" validate:"required,electron_platform"`
	Version           string `json:"version" validate:"required"`
	ReleaseName       string `json:"releaseName" validate:"required"`
	GithubReleaseName string `json:"githubReleaseName" validate:"required"`
}

func (h *ElectronHandler) CreateRelease(w http.ResponseWriter, r *http.Request) {
	var req createReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, r, err)
		return
	}

	rel, err := h.releases.Create(r.Context(), domain.ElectronRelease{
		Version:           req.Version,
		GithubReleaseName: req.GithubReleaseName,
		Platform:          domain.ElectronPlatform(req.Platform),
		ReleaseName:       req.ReleaseName,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}
