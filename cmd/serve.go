package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/Ablestor/expo-electron-updates-server/internal/auth"
	"github.com/Ablestor/expo-electron-updates-server/internal/config"
	"github.com/Ablestor/expo-electron-updates-server/internal/handler"
	"github.com/Ablestor/expo-electron-updates-server/internal/logging"
	"github.com/Ablestor/expo-electron-updates-server/internal/preview"
	"github.com/Ablestor/expo-electron-updates-server/internal/registry"
	"github.com/Ablestor/expo-electron-updates-server/internal/repository"
	"github.com/Ablestor/expo-electron-updates-server/internal/service"
	"github.com/Ablestor/expo-electron-updates-server/internal/service/blob"
	"github.com/Ablestor/expo-electron-updates-server/internal/service/s3"
	"github.com/Ablestor/expo-electron-updates-server/internal/signing"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func connectWithRetry(ctx context.Context, dsn string) (*sqlx.DB, error) {
	var db *sqlx.DB
	err := retry.Do(func() error {
		var err error
		db, err = sqlx.ConnectContext(ctx, "postgres", dsn)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(1*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Msg("failed to connect to database")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func newBlobStore(cfg *config.Config) (blob.Store, error) {
	switch cfg.Storage.Driver {
	case config.StorageS3:
		s3Config, err := s3.NewConfig(s3ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load S3 config: %w", err)
		}
		return s3.NewClient(s3Config)
	default:
		return blob.NewLocalStore(cfg.Storage.LocalPath)
	}
}

func runServe(ctx context.Context) error {
	appConfig, err := config.NewConfig(appConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(appConfig.Log.Level)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := connectWithRetry(ctx, appConfig.Database.GetDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := runMigrations(appConfig); err != nil {
		return err
	}

	blobs, err := newBlobStore(appConfig)
	if err != nil {
		return fmt.Errorf("failed to init %s storage: %w", appConfig.Storage.Driver, err)
	}

	signer, err := signing.NewSigner(appConfig.Signing.PrivateKeyPath)
	if err != nil {
		return err
	}
	if !signer.Available() {
		log.Warn().Msg("PRIVATE_KEY_PATH is empty, manifests will not be signed")
	}

	authConfig, err := auth.NewConfig(authConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load auth config: %w", err)
	}
	verifier := auth.NewVerifier(authConfig)

	releaseRegistry, err := registry.NewGitHub(registry.Config{
		Token:      appConfig.GitHub.Token,
		Owner:      appConfig.GitHub.Owner,
		Repository: appConfig.GitHub.Repository,
	}, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return err
	}

	// Репозитории
	tx := repository.NewTransactor(db)
	assetRepo := repository.NewAssetRepository(db)
	manifestRepo := repository.NewManifestRepository(db)
	updaterRepo := repository.NewUpdaterRepository(db)
	buildRepo := repository.NewBuildRepository(db)
	releaseRepo := repository.NewReleaseRepository(db)

	// Сервисы
	assetService := service.NewAssetService(assetRepo, blobs, appConfig.Assets.CollisionPolicy)
	manifestService := service.NewManifestService(tx, manifestRepo, updaterRepo, assetService, appConfig.Server.BaseURL)
	updaterService := service.NewUpdaterService(updaterRepo, manifestRepo)
	buildService := service.NewBuildService(buildRepo)
	releaseService := service.NewReleaseService(releaseRepo, releaseRegistry)
	previewService := preview.NewService(assetService, blobs)

	router := handler.NewRouter(handler.Handlers{
		Expo: handler.NewExpoHandler(
			manifestService,
			updaterService,
			assetService,
			buildService,
			signer,
			appConfig.Server.MaxUploadMB,
		),
		Electron: handler.NewElectronHandler(releaseService),
		Preview:  preview.NewHandler(previewService),
		Admin:    verifier.Middleware,
	})

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(verifier.UnaryServerInterceptor))
	healthServer := handler.RegisterUpdaterAdmin(grpcServer, handler.NewUpdaterAdminHandler(updaterService, manifestService))

	httpServer := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		lis, err := net.Listen("tcp", ":"+appConfig.Server.GRPCPort)
		if err != nil {
			errCh <- fmt.Errorf("failed to listen for gRPC: %w", err)
			return
		}
		log.Info().Str("port", appConfig.Server.GRPCPort).Msg("starting gRPC server")
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	go func() {
		log.Info().Str("port", appConfig.Server.Port).Str("base_url", appConfig.Server.BaseURL).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down servers")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	healthServer.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	grpcServer.GracefulStop()

	log.Info().Msg("server exited properly")
	return serveErr
}
