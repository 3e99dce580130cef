package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feedsmith/internal/database"
	"feedsmith/internal/domain"
	"feedsmith/internal/feed"
	"feedsmith/internal/fetcher"
	"feedsmith/internal/strutil"
)

const (
	failureTextMaxLength = 200
	frequencyWindowDays  = 365
)

// JobQueue is how the orchestrator hands work back to the background
// scheduler.
type JobQueue interface {
	ScheduleCacheImages(uris []string)
}

// Notifier delivers one-shot asynchronous warnings to a user whose feed
// creation could not complete.
type Notifier interface {
	FeedCreationFailed(ctx context.Context, userID int64, uri string, reason string)
}

// Orchestrator runs the per-feed synchronization state machine. All
// failures short of storage unavailability terminate the run by recording
// failure text on the feed; retry is the scheduler's business via the next
// periodic cycle.
type Orchestrator struct {
	db         *database.Database
	fetcher    *fetcher.Fetcher
	parser     *feed.Parser
	reconciler *Reconciler
	jobs       JobQueue
	notifier   Notifier
	now        func() time.Time
	log        *slog.Logger
}

func NewOrchestrator(
	db *database.Database,
	f *fetcher.Fetcher,
	parser *feed.Parser,
	reconciler *Reconciler,
	notifier Notifier,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		db:         db,
		fetcher:    f,
		parser:     parser,
		reconciler: reconciler,
		notifier:   notifier,
		now:        time.Now,
		log:        log,
	}
}

// SetJobQueue wires the scheduler in after construction; orchestrator and
// scheduler reference each other.
func (o *Orchestrator) SetJobQueue(jobs JobQueue) {
	o.jobs = jobs
}

// SynchronizeFeed fetches, parses and reconciles one feed. Fetch and parse
// failures are recorded on the feed and end the run; only storage errors
// propagate to the caller.
func (o *Orchestrator) SynchronizeFeed(ctx context.Context, feedID int64) error {
	start := o.now()

	feedRow, err := o.db.GetFeed(ctx, feedID)
	if err != nil {
		return err
	}

	subscriberCount, err := o.db.CountSubscribers(ctx, feedID)
	if err != nil {
		return err
	}

	result, err := o.fetcher.FetchFeed(ctx, fetcher.FeedRequest{
		URI:             feedRow.URI,
		LastFetchedAt:   feedRow.LastFetchedAt,
		LastHash:        feedRow.LastHash,
		SubscriberCount: subscriberCount,
		FeedID:          feedRow.ID,
	})
	if err != nil {
		o.log.WarnContext(ctx, "Failed to fetch feed",
			"error", err,
			"feedID", feedID,
			"uri", feedRow.URI)

		return o.db.UpdateFeedFailure(ctx, feedID, strutil.Shrink(err.Error(), failureTextMaxLength))
	}

	if result == nil {
		feedRow.LastFetchedAt = &start
		feedRow.LastFailure = ""

		return o.db.UpdateFeed(ctx, feedRow)
	}

	parsed, err := o.parser.Parse(result.Content)
	if err != nil {
		// The stored hash stays as-is: a server serving the same broken
		// document again is then recognized as unchanged and skipped
		// cheaply.
		o.log.WarnContext(ctx, "Failed to parse feed",
			"error", err,
			"feedID", feedID,
			"uri", feedRow.URI)

		return o.db.UpdateFeedFailure(ctx, feedID, strutil.Shrink(err.Error(), failureTextMaxLength))
	}

	if parsed.Title != "" && parsed.Title != feedRow.Name {
		feedRow.Name = parsed.Title
	}

	reconciled, err := o.reconciler.Reconcile(ctx, feedRow, parsed)
	if err != nil {
		return err
	}

	feedRow.LastFetchedAt = &start
	feedRow.LastHash = result.Hash
	feedRow.LastFailure = ""

	feedRow.FrequencyPerYear, err = o.publicationFrequency(ctx, feedID, start)
	if err != nil {
		return err
	}

	if err = o.db.UpdateFeed(ctx, feedRow); err != nil {
		return err
	}

	if result.FinalURL != "" && result.FinalURL != feedRow.URI {
		if err = o.db.UpdateFeedURI(ctx, feedID, result.FinalURL); err != nil {
			if !errors.Is(err, domain.ErrDuplicateURI) {
				return err
			}

			o.log.InfoContext(ctx, "Keeping old feed URI, redirect target already taken",
				"feedID", feedID,
				"uri", feedRow.URI,
				"finalURL", result.FinalURL)
		}
	}

	if len(reconciled.ImageURIs) > 0 && o.jobs != nil {
		o.jobs.ScheduleCacheImages(reconciled.ImageURIs)
	}

	o.log.InfoContext(ctx, "Synchronized feed",
		"feedID", feedID,
		"uri", feedRow.URI,
		"created", reconciled.Created,
		"updated", reconciled.Updated,
		"imageURIs", len(reconciled.ImageURIs))

	return nil
}

// publicationFrequency estimates how many articles per year the feed
// publishes, from the trailing 365 days. With no qualifying article, or an
// oldest article published today, the estimate is undefined rather than
// extrapolated from a zero-day denominator.
func (o *Orchestrator) publicationFrequency(
	ctx context.Context,
	feedID int64,
	now time.Time,
) (*int64, error) {
	since := now.AddDate(0, 0, -frequencyWindowDays)

	count, oldest, err := o.db.RecentPublicationStats(ctx, feedID, since)
	if err != nil {
		return nil, fmt.Errorf("publication frequency: %w", err)
	}

	if count == 0 || oldest == nil {
		return nil, nil
	}

	days := int64(now.Sub(*oldest).Hours() / 24)
	if days == 0 {
		return nil, nil
	}

	frequency := count * frequencyWindowDays / days

	return &frequency, nil
}
