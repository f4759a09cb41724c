package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
	"github.com/Ablestor/expo-electron-updates-server/internal/service"
	"github.com/Ablestor/expo-electron-updates-server/internal/signing"
)

const (
	headerPlatform        = "expo-platform"
	headerRuntimeVersion  = "expo-runtime-version"
	headerExpectSignature = "expo-expect-signature"
	headerUpdaterID       = "eas-client-id"

	assetCacheControl = "public, max-age=31536000, immutable"

	// файлы сверх этого размера multipart кладет во временные файлы
	multipartMemory = 32 << 20
)

type ExpoHandler struct {
	manifests      *service.ManifestService
	updaters       *service.UpdaterService
	assets         *service.AssetService
	builds         *service.BuildService
	signer         *signing.Signer
	maxUploadBytes int64
}

func NewExpoHandler(
	manifests *service.ManifestService,
	updaters *service.UpdaterService,
	assets *service.AssetService,
	builds *service.BuildService,
	signer *signing.Signer,
	maxUploadMB int64,
) *ExpoHandler {
	return &ExpoHandler{
		manifests:      manifests,
		updaters:       updaters,
		assets:         assets,
		builds:         builds,
		signer:         signer,
		maxUploadBytes: maxUploadMB << 20,
	}
}

// manifestRequest - параметры опроса клиента, заголовки важнее query
type manifestRequest struct {
	Platform        string `json:"expo-platform" validate:"required,oneof=android ios"`
	RuntimeVersion  string `json:"expo-runtime-version" validate:"required"`
	UpdaterID       string `json:"eas-client-id"`
	ExpectSignature bool   `json:"-"`
}

func headerOrQuery(r *http.Request, header, query string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(query)
}

func parseManifestRequest(r *http.Request) manifestRequest {
	return manifestRequest{
		Platform:        headerOrQuery(r, headerPlatform, "platform"),
		RuntimeVersion:  headerOrQuery(r, headerRuntimeVersion, "runtime-version"),
		UpdaterID:       r.Header.Get(headerUpdaterID),
		ExpectSignature: r.Header.Get(headerExpectSignature) != "",
	}
}

// LatestManifest отдает последний манифест канала. Если клиент передал
// eas-client-id, манифест выбирается через привязку устройства
func (h *ExpoHandler) LatestManifest(w http.ResponseWriter, r *http.Request) {
	req := parseManifestRequest(r)
	if err := validateRequest(req); err != nil {
		writeError(w, r, err)
		return
	}

	key := domain.ManifestKey{
		ReleaseName:    chi.URLParam(r, "releaseName"),
		RuntimeVersion: req.RuntimeVersion,
		Platform:       domain.Platform(req.Platform),
	}

	log.Debug().
		Str("component", "expo").
		Str("release", key.ReleaseName).
		Str("runtime", key.RuntimeVersion).
		Str("platform", req.Platform).
		Str("updater_id", req.UpdaterID).
		Msg("manifest requested")

	var (
		view *service.ManifestView
		err  error
	)
	if req.UpdaterID != "" {
		var id int64
		id, err = h.updaters.ResolveManifestID(r.Context(), domain.PinRequest{
			UpdaterID:      req.UpdaterID,
			RuntimeVersion: key.RuntimeVersion,
			ReleaseName:    key.ReleaseName,
			Platform:       key.Platform,
		})
		if err == nil {
			view, err = h.manifests.ByID(r.Context(), id, req.UpdaterID)
		}
	} else {
		view, err = h.manifests.Latest(r.Context(), key)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.writeManifest(w, r, view, req.ExpectSignature)
}

// Manifest отдает манифест по числовому id
func (h *ExpoHandler) Manifest(w http.ResponseWriter, r *http.Request) {
	id, err := parseManifestID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.manifests.ByID(r.Context(), id, "")
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.writeManifest(w, r, view, r.Header.Get(headerExpectSignature) != "")
}

// writeManifest подписывает документ, если клиент этого ждет или есть ключ
func (h *ExpoHandler) writeManifest(w http.ResponseWriter, r *http.Request, view *service.ManifestView, expectSignature bool) {
	body, err := json.Marshal(view)
	if err != nil {
		writeError(w, r, fmt.Errorf("failed to encode manifest: %w", err))
		return
	}

	var signature string
	if expectSignature || h.signer.Available() {
		signature, err = h.signer.Sign(body)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	envelope, contentType, err := encodeManifestEnvelope(body, signature)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=0")
	w.Header().Set("expo-protocol-version", "0")
	w.Header().Set("expo-sfv-version", "0")
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(envelope); err != nil {
		log.Warn().Err(err).Str("component", "expo").Msg("failed to write manifest response")
	}
}

func parseManifestID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "manifestId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid manifest id %q", domain.ErrValidation, chi.URLParam(r, "manifestId"))
	}
	return id, nil
}

type listQuery struct {
	Platform       string `json:"platform" validate:"omitempty,oneof=android ios"`
	RuntimeVersion string `json:"runtime-version"`
	ChannelName    string `json:"channel-name"`
	Page           int    `json:"page" validate:"gte=0"`
	Limit          int    `json:"limit" validate:"gte=0,lte=100"`
}

func parseListQuery(r *http.Request) (listQuery, error) {
	q := r.URL.Query()
	out := listQuery{
		Platform:       q.Get("platform"),
		RuntimeVersion: q.Get("runtime-version"),
		ChannelName:    q.Get("channel-name"),
	}

	var errs domain.ValidationErrors
	for name, dst := range map[string]*int{"page": &out.Page, "limit": &out.Limit} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s must be a number", domain.ErrValidation, name))
			continue
		}
		*dst = n
	}
	if len(errs) > 0 {
		return out, errs
	}
	return out, validateRequest(out)
}

func (h *ExpoHandler) ListManifests(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := h.manifests.List(r.Context(), domain.ManifestFilter{
		Platform:       domain.Platform(q.Platform),
		RuntimeVersion: q.RuntimeVersion,
		ReleaseName:    q.ChannelName,
		Page:           q.Page,
		Limit:          q.Limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ExpoHandler) ManifestInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.manifests.Info(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *ExpoHandler) DeleteManifest(w http.ResponseWriter, r *http.Request) {
	id, err := parseManifestID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.manifests.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type uploadForm struct {
	RuntimeVersion string `json:"runtimeVersion" validate:"required"`
	ReleaseName    string `json:"releaseName" validate:"required"`
	Metadata       string `json:"metadata" validate:"required"`
	ExpoClient     string `json:"expoClient"`
}

// Upload принимает результат expo export: metadata.json, бандлы и ассеты
func (h *ExpoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Message: fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		writeError(w, r, fmt.Errorf("%w: failed to parse form: %v", domain.ErrValidation, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := uploadForm{
		RuntimeVersion: r.FormValue("runtimeVersion"),
		ReleaseName:    r.FormValue("releaseName"),
		Metadata:       r.FormValue("metadata"),
		ExpoClient:     r.FormValue("expoClient"),
	}
	if err := validateRequest(form); err != nil {
		writeError(w, r, err)
		return
	}

	req, err := buildUploadRequest(form, r.MultipartForm.File["assets"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.manifests.Upload(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func buildUploadRequest(form uploadForm, headers []*multipart.FileHeader) (domain.UploadRequest, error) {
	req := domain.UploadRequest{
		RuntimeVersion: form.RuntimeVersion,
		ReleaseName:    form.ReleaseName,
		MetadataRaw:    json.RawMessage(form.Metadata),
	}

	if err := json.Unmarshal(req.MetadataRaw, &req.Metadata); err != nil {
		return req, fmt.Errorf("%w: metadata is not valid JSON: %v", domain.ErrValidation, err)
	}
	if err := validateRequest(req.Metadata); err != nil {
		return req, err
	}

	if form.ExpoClient != "" {
		var client map[string]any
		if err := json.Unmarshal([]byte(form.ExpoClient), &client); err != nil {
			return req, fmt.Errorf("%w: expoClient must be a JSON object", domain.ErrValidation)
		}
		req.ExpoClient = json.RawMessage(form.ExpoClient)
	}

	files, err := readUploadedFiles(headers)
	if err != nil {
		return req, err
	}
	req.Files = files
	return req, nil
}

func readUploadedFiles(headers []*multipart.FileHeader) (domain.FileMap, error) {
	files := make(domain.FileMap, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open uploaded file %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read uploaded file %s: %w", fh.Filename, err)
		}

		name := path.Base(fh.Filename)
		files[name] = &domain.UploadedFile{
			Name:        name,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		}
	}
	return files, nil
}

// Asset стримит байты ассета из хранилища
func (h *ExpoHandler) Asset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "assetId"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid asset id", domain.ErrValidation))
		return
	}

	asset, body, err := h.assets.OpenAsset(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Cache-Control", assetCacheControl)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		log.Warn().Err(err).Str("component", "expo").Str("asset", id.String()).Msg("asset stream interrupted")
	}
}

func (h *ExpoHandler) GetUpdater(w http.ResponseWriter, r *http.Request) {
	updater, err := h.updaters.GetUpdater(r.Context(), chi.URLParam(r, "updaterId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updater)
}

type updaterManifestRequest struct {
	RuntimeVersion string `json:"runtimeVersion" validate:"required"`
	ChannelName    string `json:"channelName" validate:"required"`
	Platform       string `json:"platform" validate:"required,oneof=android ios"`
}

// SetUpdaterManifest вручную переводит устройство на последний манифест канала
func (h *ExpoHandler) SetUpdaterManifest(w http.ResponseWriter, r *http.Request) {
	var req updaterManifestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, r, err)
		return
	}

	err := h.updaters.SetUpdaterManifest(r.Context(), chi.URLParam(r, "updaterId"), domain.ManifestKey{
		ReleaseName:    req.ChannelName,
		RuntimeVersion: req.RuntimeVersion,
		Platform:       domain.Platform(req.Platform),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type buildRequest struct {
	Platform string `json:"platform" validate:"required,oneof=android ios"`
	Version  string `json:"runtime-version" validate:"required"`
	Channel  string `json:"channel-name" validate:"required"`
	Link     string `json:"link" validate:"required,url"`
}

func (h *ExpoHandler) CreateBuild(w http.ResponseWriter, r *http.Request) {
	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, r, err)
		return
	}

	build := &domain.Build{
		Version:  req.Version,
		Channel:  req.Channel,
		Platform: domain.Platform(req.Platform),
		Link:     req.Link,
	}
	if err := h.builds.Create(r.Context(), build); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, build)
}

func (h *ExpoHandler) ListBuilds(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := h.builds.List(r.Context(), domain.BuildFilter{
		Platform: domain.Platform(q.Platform),
		Version:  q.RuntimeVersion,
		Channel:  q.ChannelName,
		Page:     q.Page,
		Limit:    q.Limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
