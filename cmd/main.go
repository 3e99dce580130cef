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

	"github.com/spf13/afero"

	"feedsmith/internal/blob"
	"feedsmith/internal/config"
	"feedsmith/internal/database"
	"feedsmith/internal/feed"
	"feedsmith/internal/fetcher"
	"feedsmith/internal/imagecache"
	"feedsmith/internal/readcache"
	"feedsmith/internal/reader"
	"feedsmith/internal/sanitize"
	"feedsmith/internal/scheduler"
	"feedsmith/internal/sync"
	"feedsmith/internal/web"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.LoadConfig()

	db, err := database.New(ctx, cfg.DBPath, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize db",
			"error", err,
			"dbPath", cfg.DBPath)

		return
	}
	defer func() {
		if err = db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()
	log.InfoContext(ctx, "DB is initialized",
		"dbPath", cfg.DBPath)

	blobs := blob.NewFileStore(afero.NewOsFs(), cfg.BlobDir, cfg.BlobBaseURL)

	httpFetcher := fetcher.New(cfg.Domain, cfg.FetcherHelp, log)
	parser := feed.NewParser(log)

	images := imagecache.NewManager(db, httpFetcher, blobs, log)
	cleaner := sanitize.NewCleaner(images, log)

	renderCache := readcache.NewMemory()
	reconciler := sync.NewReconciler(db, cleaner, renderCache, log)
	orchestrator := sync.NewOrchestrator(db, httpFetcher, parser, reconciler, logNotifier{log: log}, log)

	articles := reader.NewService(db, cleaner, renderCache, log)

	sched := scheduler.New(ctx, scheduler.Config{
		CronSpec:  cfg.SyncSpec,
		SpreadMin: cfg.SyncSpreadMin,
		SpreadMax: cfg.SyncSpreadMax,
		Workers:   cfg.SyncWorkers,
	}, db, orchestrator, images, log)
	orchestrator.SetJobQueue(sched)

	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"spec", cfg.SyncSpec)

		return
	}
	log.InfoContext(ctx, "Scheduler is started",
		"spec", cfg.SyncSpec,
		"workers", cfg.SyncWorkers,
		"spreadMin", cfg.SyncSpreadMin,
		"spreadMax", cfg.SyncSpreadMax)

	server := web.NewServer(articles, sched, cfg.BlobDir, log)
	go func() {
		if err := server.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorContext(ctx, "HTTP server stopped",
				"error", err,
				"addr", cfg.HTTPAddr)
		}
	}()
	log.InfoContext(ctx, "HTTP server is started",
		"addr", cfg.HTTPAddr)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.InfoContext(ctx, "Shutdown signal is received",
		"signal", sig.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err = server.Shutdown(shutdownCtx); err != nil {
		log.ErrorContext(ctx, "Failed to shut down HTTP server",
			"error", err)
	}

	sched.Stop()
	log.InfoContext(ctx, "Exiting...",
		"signal", sig.String(),
		"uptimeSeconds", time.Since(start).Seconds())
}

// logNotifier records feed-creation warnings; the web layer polls them out
// of the log pipeline for deferred delivery.
type logNotifier struct {
	log *slog.Logger
}

func (n logNotifier) FeedCreationFailed(ctx context.Context, userID int64, uri string, reason string) {
	n.log.WarnContext(ctx, "Feed creation warning for user",
		"userID", userID,
		"uri", uri,
		"reason", reason)
}
