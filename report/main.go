package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/packlens-labs/packlens-go/internal/platform/auth"
	"github.com/packlens-labs/packlens-go/internal/platform/env"
	"github.com/packlens-labs/packlens-go/internal/platform/httpserver"
	platformstore "github.com/packlens-labs/packlens-go/internal/platform/objectstore"
	"github.com/packlens-labs/packlens-go/internal/platform/postgres"
	repostore "github.com/packlens-labs/packlens-go/internal/repo/postgres"
	"github.com/packlens-labs/packlens-go/internal/storage/objectstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("REPORT_HTTP_ADDR", ":8082")
	shutdownTimeout, err := env.Duration("REPORT_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	presignTTL, err := env.Duration("REPORT_PRESIGN_TTL", time.Hour)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	minioClient, err := platformstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("invalid object store client", "error", err)
		os.Exit(2)
	}
	store, err := objectstore.NewMinioStoreWithClient(minioClient)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	authenticator, err := auth.NewAuthenticator(ctx, authCfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(2)
	}

	rend, err := newRenderer(store, storeCfg.BucketOutput)
	if err != nil {
		logger.Error("renderer init failed", "error", err)
		os.Exit(2)
	}

	converter, err := newPDFConverterFromEnv()
	if err != nil {
		logger.Error("invalid pdf converter config", "error", err)
		os.Exit(2)
	}
	if converter == nil {
		logger.Info("pdf converter not configured, reports stay html only")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("report"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"report",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "objectstore",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return platformstore.CheckBuckets(checkCtx, minioClient, storeCfg)
				},
			},
		),
	)

	api := newReportAPI(logger, repostore.NewRunLogStore(db), repostore.NewReportLogStore(db), rend, converter, presignTTL)
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		SkipPrefixes:  []string{"/healthz", "/readyz"},
	}.Wrap(mux)

	srvCfg := httpserver.Config{
		Service:         "report",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, srvCfg, httpserver.Wrap(logger, "report", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
