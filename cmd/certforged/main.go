package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/certforge/certforge/internal/blob"
	"github.com/certforge/certforge/internal/config"
	"github.com/certforge/certforge/internal/fontkit"
	"github.com/certforge/certforge/internal/issue"
	"github.com/certforge/certforge/internal/mailer"
	"github.com/certforge/certforge/internal/render"
	"github.com/certforge/certforge/internal/server"
	"github.com/certforge/certforge/internal/storage"
)

var logger *zap.Logger

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	logger = l.With(zap.String("package", "main"))
}

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	if err := godotenv.Load(); err == nil {
		logger.Info("loaded environment from .env")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("certforge starting...", zap.String("address", cfg.HTTPAddress))

	// Initialize storage
	store, err := storage.NewStorage(
		cfg.StorageType,
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		cfg.DBSSLMode,
	)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err), zap.String("storage_type", cfg.StorageType))
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("storage initialized")

	// Initialize blob store
	var blobs blob.Store
	switch cfg.BlobType {
	case "memory":
		blobs = blob.NewMemoryStore()
	default:
		blobs, err = blob.NewMinioStore(
			cfg.MinioEndpoint,
			cfg.MinioAccessKey,
			cfg.MinioSecretKey,
			cfg.MinioBucket,
			cfg.BlobPublicURL,
			cfg.MinioUseSSL,
		)
		if err != nil {
			logger.Fatal("failed to initialize blob store", zap.Error(err))
			os.Exit(1)
		}
	}
	logger.Info("blob store initialized", zap.String("blob_type", cfg.BlobType))

	// Rendering pipeline
	fetchTimeout := time.Duration(cfg.FetchTimeoutSecs) * time.Second
	resolver := fontkit.NewWebResolver(cfg.FontCSSURL, fetchTimeout)
	compositor := render.NewCompositor(resolver, fetchTimeout)

	// Recipient notifications
	var mail mailer.Mailer = mailer.NopMailer{}
	if cfg.MailAPIURL != "" {
		mail = mailer.NewRESTMailer(cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFrom, fetchTimeout)
		logger.Info("mailer initialized")
	}

	issuer := issue.New(store, blobs, compositor, mail, cfg.PublicBaseURL)

	e := echo.New()
	server.ApplyCommonMiddleware(e, store, cfg, issuer, logger)
	server.SetupRouter(e, store, cfg)

	logger.Info("listening on address", zap.String("address", cfg.HTTPAddress))
	if err := e.Start(cfg.HTTPAddress); err != nil {
		logger.Fatal("error starting HTTP server", zap.Error(err), zap.String("address", cfg.HTTPAddress))
		os.Exit(1)
	}
}
