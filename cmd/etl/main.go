// Package main wires together the nightlight ETL service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/energyprogress/nightlight-etl/internal/api"
	"github.com/energyprogress/nightlight-etl/internal/clock/system"
	"github.com/energyprogress/nightlight-etl/internal/config"
	"github.com/energyprogress/nightlight-etl/internal/earthengine"
	"github.com/energyprogress/nightlight-etl/internal/export"
	"github.com/energyprogress/nightlight-etl/internal/id/uuid"
	"github.com/energyprogress/nightlight-etl/internal/logging"
	"github.com/energyprogress/nightlight-etl/internal/metrics"
	"github.com/energyprogress/nightlight-etl/internal/nightlight"
	"github.com/energyprogress/nightlight-etl/internal/processor"
	memorypublisher "github.com/energyprogress/nightlight-etl/internal/publisher/memory"
	pubsubpublisher "github.com/energyprogress/nightlight-etl/internal/publisher/pubsub"
	"github.com/energyprogress/nightlight-etl/internal/scheduler"
	gcsstorage "github.com/energyprogress/nightlight-etl/internal/storage/gcs"
	localstorage "github.com/energyprogress/nightlight-etl/internal/storage/local"
	memorystorage "github.com/energyprogress/nightlight-etl/internal/storage/memory"
	"github.com/energyprogress/nightlight-etl/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	// Relational stores: Postgres when a DSN is configured, in-memory for
	// local development.
	var (
		jobStore  nightlight.JobStore
		areaStore api.AreaRepository
		tsStore   nightlight.TimeseriesStore
	)
	if cfg.DB.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			logger.Fatal("postgres pool init failed", zap.Error(err))
		}
		defer pool.Close()
		jobStore = mustStore(postgres.NewJobStore(pool))
		areaStore = mustStore(postgres.NewAreaStore(pool))
		tsStore = mustStore(postgres.NewTimeseriesStore(pool))
	} else {
		logger.Warn("db.dsn is empty, using in-memory stores")
		jobStore = memorystorage.NewJobStore()
		areaStore = memorystorage.NewAreaStore()
		tsStore = memorystorage.NewTimeseriesStore()
	}

	blobStore, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	provider, err := earthengine.New(earthengine.Config{
		BaseURL:        cfg.EarthEngine.BaseURL,
		Collection:     cfg.EarthEngine.Collection,
		Band:           cfg.EarthEngine.Band,
		ScaleMeters:    cfg.EarthEngine.ScaleMeters,
		Timeout:        time.Duration(cfg.EarthEngine.TimeoutSeconds) * time.Second,
		MaxRetries:     cfg.EarthEngine.MaxRetries,
		BackoffInitial: time.Duration(cfg.EarthEngine.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.EarthEngine.BackoffMaxMs) * time.Millisecond,
	}, logger.Named("earthengine"))
	if err != nil {
		logger.Fatal("imagery provider init failed", zap.Error(err))
	}

	var publisher nightlight.Publisher
	if cfg.PubSub.ProjectID != "" {
		client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client init failed", zap.Error(err))
		}
		defer func() { _ = client.Close() }()
		psPublisher := pubsubpublisher.New(client)
		defer psPublisher.Stop()
		publisher = psPublisher
	} else {
		publisher = memorypublisher.New()
	}

	exporter, err := export.New(areaStore, jobStore, blobStore, provider, clock, idGen, logger.Named("export"))
	if err != nil {
		logger.Fatal("export client init failed", zap.Error(err))
	}
	proc, err := processor.New(areaStore, blobStore, tsStore, processor.Config{
		LitThreshold: cfg.Processing.LitThreshold,
		MinZoom:      cfg.Processing.MinZoom,
		MaxZoom:      cfg.Processing.MaxZoom,
		TmpDir:       cfg.Processing.TmpDir,
	}, logger.Named("processor"))
	if err != nil {
		logger.Fatal("processor init failed", zap.Error(err))
	}
	sched, err := scheduler.New(jobStore, blobStore, exporter, proc, publisher, clock, scheduler.Config{
		PollInterval: cfg.PollInterval(),
		Concurrency:  cfg.Scheduler.Concurrency,
		JobTimeout:   cfg.JobTimeout(),
		BatchLimit:   cfg.Scheduler.BatchLimit,
		EventsTopic:  cfg.PubSub.TopicName,
	}, logger.Named("scheduler"))
	if err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}

	apiServer := api.NewServer(areaStore, jobStore, tsStore, idGen, clock, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go sched.Run(ctx)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newBlobStore builds the configured blob store gateway.
func newBlobStore(ctx context.Context, cfg config.Config) (nightlight.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcsstorage.New(client, gcsstorage.Config{
			ProjectID:     cfg.Storage.ProjectID,
			RastersBucket: cfg.Storage.RastersBucket,
			TilesBucket:   cfg.Storage.TilesBucket,
		})
	case "local":
		return localstorage.New(localstorage.Config{BaseDir: cfg.Storage.LocalBaseDir})
	case "memory":
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func mustStore[T any](store T, err error) T {
	if err != nil {
		zap.L().Fatal("store init failed", zap.Error(err))
	}
	return store
}
