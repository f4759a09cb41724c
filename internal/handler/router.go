package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Ablestor/expo-electron-updates-server/internal/logging"
	"github.com/Ablestor/expo-electron-updates-server/internal/preview"
)

const RoutePrefix = "/api/update"

type Handlers struct {
	Expo     *ExpoHandler
	Electron *ElectronHandler
	Preview  *preview.Handler
	// Admin закрывает маршруты, меняющие данные
	Admin func(http.Handler) http.Handler
}

func NewRouter(h Handlers) http.Handler {
	admin := h.Admin
	if admin == nil {
		admin = func(next http.Handler) http.Handler { return next }
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(logging.AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			headerPlatform, headerRuntimeVersion, headerExpectSignature, headerUpdaterID,
		},
		ExposedHeaders: []string{"expo-protocol-version", "expo-sfv-version"},
		MaxAge:         300,
	}))

	r.Route(RoutePrefix, func(r chi.Router) {
		r.Route("/expo", func(r chi.Router) {
			r.Get("/manifests", h.Expo.ListManifests)
			r.Get("/manifests/info", h.Expo.ManifestInfo)
			r.Get("/manifests/release/{releaseName}/latest", h.Expo.LatestManifest)
			r.Get("/manifests/{manifestId}", h.Expo.Manifest)
			r.Get("/assets/{assetId}", h.Expo.Asset)
			if h.Preview != nil {
				r.Get("/assets/{assetId}/preview", h.Preview.GetPreview)
			}
			r.Get("/users/{updaterId}", h.Expo.GetUpdater)
			r.Get("/build", h.Expo.ListBuilds)

			r.Group(func(r chi.Router) {
				r.Use(admin)
				r.Delete("/manifests/{manifestId}", h.Expo.DeleteManifest)
				r.Post("/upload", h.Expo.Upload)
				r.Put("/users/{updaterId}", h.Expo.SetUpdaterManifest)
				r.Post("/build", h.Expo.CreateBuild)
			})
		})

		r.Route("/electron", func(r chi.Router) {
			r.Get("/manifests/release/{releaseName}/latest", h.Electron.LatestRelease)
			r.Get("/manifests/release/{releaseName}/latest/check", h.Electron.CheckLatest)
			r.Get("/manifests/latest/download", h.Electron.LatestInstaller)
			r.Get("/manifests/{manifestId}", h.Electron.Download)

			r.Group(func(r chi.Router) {
				r.Use(admin)
				r.Post("/manifests", h.Electron.CreateRelease)
			})
		})
	})

	return r
}
