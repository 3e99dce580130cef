// Package scheduler drives the background work: a periodic cron entry that
// spreads every feed's synchronization over a time window, plus a worker
// pool for ad-hoc jobs. It is an explicit registry constructed at process
// start; task functions receive all their dependencies through it.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"feedsmith/internal/domain"
)

const (
	jobQueueSize   = 1024
	defaultWorkers = 8
	jobTimeout     = 15 * time.Minute
)

// Syncer is the per-feed synchronization entry point.
type Syncer interface {
	SynchronizeFeed(ctx context.Context, feedID int64) error
	CreateFeed(ctx context.Context, userID int64, uri string) (*domain.Feed, error)
}

// ImageCacher mirrors a batch of image URIs.
type ImageCacher interface {
	CacheImages(ctx context.Context, uris []string) error
}

// FeedLister enumerates all feeds for the periodic sweep.
type FeedLister interface {
	ListFeedIDs(ctx context.Context) ([]int64, error)
}

type Config struct {
	CronSpec  string
	SpreadMin time.Duration
	SpreadMax time.Duration
	Workers   int
}

type job struct {
	name string
	run  func(context.Context) error
}

type Scheduler struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cron      *cron.Cron
	cronSpec  string
	spreadMin time.Duration
	spreadMax time.Duration
	feeds     FeedLister
	syncer    Syncer
	images    ImageCacher
	jobs      chan job
	workers   int
	wg        sync.WaitGroup
	log       *slog.Logger
}

func New(
	ctx context.Context,
	cfg Config,
	feeds FeedLister,
	syncer Syncer,
	images ImageCacher,
	log *slog.Logger,
) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	spreadMin, spreadMax := cfg.SpreadMin, cfg.SpreadMax
	if spreadMax < spreadMin {
		spreadMax = spreadMin
	}

	return &Scheduler{
		ctx:       ctx,
		cancel:    cancel,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		cronSpec:  cfg.CronSpec,
		spreadMin: spreadMin,
		spreadMax: spreadMax,
		feeds:     feeds,
		syncer:    syncer,
		images:    images,
		jobs:      make(chan job, jobQueueSize),
		workers:   workers,
		log:       log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cronSpec, s.syncAllFeeds); err != nil {
		return err
	}

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.cron.Start()

	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) ScheduleSync(feedID int64) {
	s.enqueue(job{
		name: "synchronize_feed",
		run: func(ctx context.Context) error {
			return s.syncer.SynchronizeFeed(ctx, feedID)
		},
	})
}

func (s *Scheduler) ScheduleSyncAt(feedID int64, at time.Time) {
	delay := max(time.Until(at), 0)

	fired := make(chan struct{})
	timer := time.AfterFunc(delay, func() {
		close(fired)
		s.ScheduleSync(feedID)
	})

	// Pending timers die with the scheduler; the watchdog itself dies as
	// soon as the timer fires, so fired timers leave nothing behind.
	go func() {
		select {
		case <-fired:
		case <-s.ctx.Done():
			timer.Stop()
		}
	}()
}

func (s *Scheduler) ScheduleCreateFeed(userID int64, uri string) {
	s.enqueue(job{
		name: "create_feed",
		run: func(ctx context.Context) error {
			_, err := s.syncer.CreateFeed(ctx, userID, uri)
			return err
		},
	})
}

func (s *Scheduler) ScheduleCacheImages(uris []string) {
	s.enqueue(job{
		name: "cache_images",
		run: func(ctx context.Context) error {
			return s.images.CacheImages(ctx, uris)
		},
	})
}

// syncAllFeeds schedules one synchronization per feed, staggered
// pseudo-randomly across the spread window so fetches do not all fire at
// the same wall-clock minute.
func (s *Scheduler) syncAllFeeds() {
	ids, err := s.feeds.ListFeedIDs(s.ctx)
	if err != nil {
		s.log.ErrorContext(s.ctx, "Failed to list feeds for periodic sync",
			"error", err)

		return
	}

	now := time.Now()
	for _, id := range ids {
		delay := s.spreadMin
		if spread := s.spreadMax - s.spreadMin; spread > 0 {
			delay += time.Duration(rand.Int63n(int64(spread)))
		}

		s.ScheduleSyncAt(id, now.Add(delay))
	}

	s.log.InfoContext(s.ctx, "Scheduled periodic synchronization",
		"feedCount", len(ids),
		"spreadMin", s.spreadMin,
		"spreadMax", s.spreadMax)
}

func (s *Scheduler) enqueue(j job) {
	select {
	case s.jobs <- j:
	case <-s.ctx.Done():
		s.log.WarnContext(s.ctx, "Dropping job, scheduler is stopping",
			"job", j.name)
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case j := <-s.jobs:
			s.runJob(j)
		case <-s.ctx.Done():
			return
		}
	}
}

// runJob isolates one task: a panic or error crashes the task, never the
// worker.
func (s *Scheduler) runJob(j job) {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			s.log.ErrorContext(ctx, "Job panicked",
				"job", j.name,
				"panic", p)
		}
	}()

	if err := j.run(ctx); err != nil {
		s.log.ErrorContext(ctx, "Job failed",
			"error", err,
			"job", j.name)
	}
}
