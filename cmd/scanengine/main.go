// Package main wires together the scan engine service binary.
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

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jobrover/jobrover/internal/api"
	"github.com/jobrover/jobrover/internal/capability/contacthunt"
	"github.com/jobrover/jobrover/internal/capability/genai"
	"github.com/jobrover/jobrover/internal/clock/system"
	"github.com/jobrover/jobrover/internal/config"
	"github.com/jobrover/jobrover/internal/connector"
	"github.com/jobrover/jobrover/internal/dispatcher"
	"github.com/jobrover/jobrover/internal/engine"
	collyfetcher "github.com/jobrover/jobrover/internal/fetcher/colly"
	"github.com/jobrover/jobrover/internal/id/uuid"
	"github.com/jobrover/jobrover/internal/logging"
	"github.com/jobrover/jobrover/internal/progress"
	"github.com/jobrover/jobrover/internal/progress/sinks"
	pubsubpublisher "github.com/jobrover/jobrover/internal/publisher/pubsub"
	queuememory "github.com/jobrover/jobrover/internal/queue/memory"
	pubsubqueue "github.com/jobrover/jobrover/internal/queue/pubsub"
	chromedprender "github.com/jobrover/jobrover/internal/render/chromedp"
	"github.com/jobrover/jobrover/internal/scan"
	"github.com/jobrover/jobrover/internal/storage/gcs"
	"github.com/jobrover/jobrover/internal/storage/local"
	storagememory "github.com/jobrover/jobrover/internal/storage/memory"
	"github.com/jobrover/jobrover/internal/storage/postgres"

	memorypublisher "github.com/jobrover/jobrover/internal/publisher/memory"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, stop); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, stop func()) error {
	clock := system.New()
	ids := uuid.New()

	var (
		jobStore    scan.JobStore
		planStore   scan.PlanStore
		sourceStore scan.SourceStore
	)
	switch cfg.Storage.Backend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxConns),
		})
		if err != nil {
			return fmt.Errorf("init postgres: %w", err)
		}
		defer pool.Close()
		if jobStore, err = postgres.NewJobStore(pool); err != nil {
			return fmt.Errorf("init job store: %w", err)
		}
		if planStore, err = postgres.NewPlanStore(pool); err != nil {
			return fmt.Errorf("init plan store: %w", err)
		}
		if sourceStore, err = postgres.NewSourceStore(pool); err != nil {
			return fmt.Errorf("init source store: %w", err)
		}
	default:
		jobStore = storagememory.NewJobStore()
		planStore = storagememory.NewPlanStore()
		sourceStore = storagememory.NewSourceStore()
	}

	var blobStore scan.BlobStore
	switch cfg.Storage.BlobBackend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("close gcs client", zap.Error(closeErr))
			}
		}()
		if blobStore, err = gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket}); err != nil {
			return fmt.Errorf("init gcs blob store: %w", err)
		}
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("init local blob store: %w", err)
		}
		blobStore = store
	default:
		blobStore = storagememory.NewBlobStore()
	}

	var (
		publisher    scan.Publisher
		pubsubClient *pubsub.Client
	)
	if cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("close pubsub client", zap.Error(closeErr))
			}
		}()
		pubsubClient = client
		publisher = pubsubpublisher.New(client)
	} else {
		publisher = memorypublisher.New()
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetcher.UserAgent,
		Timeout:   cfg.Fetcher.Timeout(),
	})

	var renderer scan.Renderer
	if cfg.Renderer.Enabled {
		r, err := chromedprender.New(chromedprender.Config{
			MaxParallel:       cfg.Renderer.MaxParallel,
			UserAgent:         cfg.Fetcher.UserAgent,
			NavigationTimeout: time.Duration(cfg.Renderer.NavTimeoutSec) * time.Second,
			CaptureScreenshot: cfg.Renderer.Screenshots,
		})
		if err != nil {
			logger.Warn("renderer init failed, dom-crawl sources disabled", zap.Error(err))
		} else {
			defer r.Close()
			renderer = r
		}
	}

	registry := connector.NewRegistry()
	registry.Register(scan.ATSGreenhouse, connector.NewGreenhouse(fetcher, clock))
	registry.Register(scan.ATSLever, connector.NewLever(fetcher, clock))
	if renderer != nil {
		registry.RegisterDOMCrawl(connector.NewDOMCrawl(renderer, clock))
	}

	var completer scan.Completer
	if cfg.Completer.APIKey != "" {
		c, err := genai.New(ctx, genai.Config{
			APIKey:      cfg.Completer.APIKey,
			Model:       cfg.Completer.Model,
			Temperature: float32(cfg.Completer.Temperature),
		}, logger.Named("genai"))
		if err != nil {
			return fmt.Errorf("init completer: %w", err)
		}
		defer func() {
			if closeErr := c.Close(); closeErr != nil {
				logger.Warn("close completer", zap.Error(closeErr))
			}
		}()
		completer = c
	}
	var hunter scan.ContactHunter
	if completer != nil {
		hunter = contacthunt.New(renderer, completer, logger.Named("contacthunt"))
	}

	progressSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress"))}
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Warn("progress metrics init failed", zap.Error(err))
	} else {
		progressSinks = append(progressSinks, promSink)
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")}, progressSinks...)

	eng, err := engine.New(engine.Config{
		MaxSourceWorkers: cfg.Engine.MaxSourceWorkers,
		CompletionTopic:  cfg.Engine.CompletionTopic,
		DraftTopK:        cfg.Engine.DraftTopK,
	}, engine.Deps{
		Registry:  registry,
		Jobs:      jobStore,
		Plans:     planStore,
		Sources:   sourceStore,
		Renderer:  renderer,
		Blobs:     blobStore,
		Hunter:    hunter,
		Completer: completer,
		Publisher: publisher,
		Progress:  hub,
		Logger:    logger.Named("engine"),
		Clock:     clock,
		IDs:       ids,
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	var (
		queue      scan.Queue
		queueClose func()
	)
	if pubsubClient != nil && cfg.PubSub.ScanTopic != "" && cfg.PubSub.ScanSubscription != "" {
		pq, err := pubsubqueue.New(pubsubClient, cfg.PubSub.ScanTopic, cfg.PubSub.ScanSubscription, logger.Named("queue"))
		if err != nil {
			return fmt.Errorf("init pubsub queue: %w", err)
		}
		logger.Info("scan queue backed by pubsub",
			zap.String("topic", cfg.PubSub.ScanTopic),
			zap.String("subscription", cfg.PubSub.ScanSubscription))
		queue = pq
		queueClose = pq.Close
	} else {
		mq := queuememory.NewQueue(cfg.Engine.QueueDepth)
		queue = mq
		queueClose = mq.Close
	}
	dispatch := dispatcher.New(queue, eng, cfg.Engine.Workers, logger.Named("dispatcher"))

	apiServer := api.NewServer(cfg, api.Deps{
		Plans:     planStore,
		Jobs:      jobStore,
		Sources:   sourceStore,
		Dispatch:  dispatch,
		Canceller: eng,
		IDs:       ids,
		Clock:     clock,
		Logger:    logger.Named("api"),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Engine.Workers))
		dispatch.Run(ctx)
	}()

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
	queueClose()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
