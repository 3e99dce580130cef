package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mvdan.cc/xurls/v2"

	"feedsmith/internal/domain"
	"feedsmith/internal/fetcher"
	"feedsmith/internal/sanitize"
)

var (
	errNestedHTML = errors.New("page does not link to a feed, only to another page")
	errEmptyFetch = errors.New("server claimed the document was not modified on a first fetch")
)

// CreateFeed resolves a user-submitted URI to a feed document, creates the
// feed row, reconciles the first parse and subscribes the user. An HTML
// response triggers one hop of feed autodiscovery through the page head; a
// second HTML response aborts with a user-facing warning.
func (o *Orchestrator) CreateFeed(ctx context.Context, userID int64, uri string) (*domain.Feed, error) {
	start := o.now()

	result, err := o.fetcher.FetchFeed(ctx, fetcher.FeedRequest{URI: uri})
	if err != nil {
		o.notifyCreationFailure(ctx, userID, uri, err.Error())
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}

	// The request carried no conditional headers, so a 304 here means the
	// server is broken.
	if result == nil {
		o.notifyCreationFailure(ctx, userID, uri, errEmptyFetch.Error())
		return nil, errEmptyFetch
	}

	if result.IsHTML {
		discovered := sanitize.FindFeedLink(string(result.Content), result.FinalURL)
		if discovered == "" {
			err = errors.New("page does not link to a feed")
			o.notifyCreationFailure(ctx, userID, uri, err.Error())
			return nil, err
		}

		o.log.InfoContext(ctx, "Discovered feed link in HTML page",
			"pageURI", uri,
			"feedURI", discovered)

		result, err = o.fetcher.FetchFeed(ctx, fetcher.FeedRequest{URI: discovered})
		if err != nil {
			o.notifyCreationFailure(ctx, userID, uri, err.Error())
			return nil, fmt.Errorf("fetch %s: %w", discovered, err)
		}

		if result == nil {
			o.notifyCreationFailure(ctx, userID, uri, errEmptyFetch.Error())
			return nil, errEmptyFetch
		}

		if result.IsHTML {
			o.notifyCreationFailure(ctx, userID, uri, errNestedHTML.Error())
			return nil, errNestedHTML
		}
	}

	parsed, err := o.parser.Parse(result.Content)
	if err != nil {
		o.notifyCreationFailure(ctx, userID, uri, err.Error())
		return nil, err
	}

	name := parsed.Title
	if name == "" {
		name = result.FinalURL
	}

	feedRow := &domain.Feed{
		URI:           result.FinalURL,
		Name:          name,
		LastFetchedAt: &start,
		LastHash:      result.Hash,
	}

	created, err := o.db.CreateFeed(ctx, feedRow)
	if err != nil {
		return nil, err
	}

	if !created {
		// Another request won the race to create this feed; reuse it and
		// leave reconciliation to its creator.
		existing, getErr := o.db.GetFeedByURI(ctx, feedRow.URI)
		if getErr != nil {
			return nil, getErr
		}

		if subscribeErr := o.db.Subscribe(ctx, userID, existing.ID); subscribeErr != nil {
			return nil, subscribeErr
		}

		return existing, nil
	}

	reconciled, err := o.reconciler.Reconcile(ctx, feedRow, parsed)
	if err != nil {
		return nil, err
	}

	feedRow.FrequencyPerYear, err = o.publicationFrequency(ctx, feedRow.ID, start)
	if err != nil {
		return nil, err
	}

	if err = o.db.UpdateFeed(ctx, feedRow); err != nil {
		return nil, err
	}

	if err = o.db.Subscribe(ctx, userID, feedRow.ID); err != nil {
		return nil, err
	}

	if len(reconciled.ImageURIs) > 0 && o.jobs != nil {
		o.jobs.ScheduleCacheImages(reconciled.ImageURIs)
	}

	o.log.InfoContext(ctx, "Created feed",
		"feedID", feedRow.ID,
		"uri", feedRow.URI,
		"userID", userID,
		"articles", reconciled.Created)

	return feedRow, nil
}

func (o *Orchestrator) notifyCreationFailure(
	ctx context.Context,
	userID int64,
	uri string,
	reason string,
) {
	o.log.WarnContext(ctx, "Feed creation failed",
		"userID", userID,
		"uri", uri,
		"reason", reason)

	if o.notifier == nil {
		return
	}

	o.notifier.FeedCreationFailed(ctx, userID, uri, reason)
}

// FindFeedURIs extracts candidate feed URLs from user-submitted text, for
// the paste-a-page flow backing feed creation.
func FindFeedURIs(text string) ([]string, error) {
	httpsURLRe, err := xurls.StrictMatchingScheme("https://")
	if err != nil {
		return nil, fmt.Errorf("create regexp: %w", err)
	}

	matches := httpsURLRe.FindAllString(text, -1)

	seen := make(map[string]struct{}, len(matches))
	uris := make([]string, 0, len(matches))
	for _, match := range matches {
		trimmed := strings.TrimSpace(match)
		if _, ok := seen[trimmed]; ok {
			continue
		}

		seen[trimmed] = struct{}{}
		uris = append(uris, trimmed)
	}

	return uris, nil
}
