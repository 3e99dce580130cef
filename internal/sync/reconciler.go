// Package sync implements the per-feed synchronization pipeline: fetch,
// parse, reconcile against stored state, stamp feed metadata and hand image
// URIs off for caching.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"feedsmith/internal/database"
	"feedsmith/internal/domain"
	"feedsmith/internal/readcache"
	"feedsmith/internal/sanitize"
)

// maxImageURIsPerSync is a safety ceiling: a feed that suddenly references
// more images than this skips caching for the cycle instead of triggering a
// cache stampede.
const maxImageURIsPerSync = 1000

type Reconciler struct {
	db          *database.Database
	cleaner     *sanitize.Cleaner
	invalidator readcache.Invalidator
	log         *slog.Logger
}

func NewReconciler(
	db *database.Database,
	cleaner *sanitize.Cleaner,
	invalidator readcache.Invalidator,
	log *slog.Logger,
) *Reconciler {
	return &Reconciler{
		db:          db,
		cleaner:     cleaner,
		invalidator: invalidator,
		log:         log,
	}
}

type ReconcileResult struct {
	Created             int
	Updated             int
	ImageURIs           []string
	ImageCachingSkipped bool
}

// Reconcile diffs the parsed document against the feed's stored articles,
// writing only what actually changed. Running it twice with the same input
// produces zero writes on the second run.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	feed *domain.Feed,
	parsed *domain.ParsedFeed,
) (*ReconcileResult, error) {
	existing, err := r.db.GetArticlesByFeed(ctx, feed.ID)
	if err != nil {
		return nil, fmt.Errorf("prefetch articles: %w", err)
	}

	// Oldest first, so storage creation order matches publication order.
	articles := make([]domain.ParsedArticle, len(parsed.Articles))
	copy(articles, parsed.Articles)
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].PublishedAt.Before(articles[j].PublishedAt)
	})

	result := &ReconcileResult{}
	seenImageURIs := make(map[string]struct{})

	for i := range articles {
		parsedArticle := &articles[i]

		article, created, modified, err := r.reconcileArticle(ctx, feed, existing, parsedArticle)
		if err != nil {
			return nil, err
		}

		if created {
			result.Created++
		}
		if modified {
			result.Updated++
			r.invalidator.Invalidate(article.ID)
		}

		// Unmodified articles keep their images: those were already
		// cached by the sync that stored the content.
		if created || modified {
			uris, findErr := r.cleaner.FindImages(ctx, article.Content, feed.URI)
			if findErr != nil {
				r.log.WarnContext(ctx, "Failed to scan article for images",
					"error", findErr,
					"feedID", feed.ID,
					"idInFeed", article.IDInFeed)
			}

			for _, uri := range uris {
				if _, dup := seenImageURIs[uri]; dup {
					continue
				}

				seenImageURIs[uri] = struct{}{}
				result.ImageURIs = append(result.ImageURIs, uri)
			}
		}

		if err = r.reconcileAttachments(ctx, article, parsedArticle.Attachments); err != nil {
			return nil, err
		}
	}

	if len(result.ImageURIs) > maxImageURIsPerSync {
		r.log.WarnContext(ctx, "Too many new image URIs, skipping image caching for this cycle",
			"feedID", feed.ID,
			"uriCount", len(result.ImageURIs),
			"ceiling", maxImageURIsPerSync)

		result.ImageURIs = nil
		result.ImageCachingSkipped = true
	}

	return result, nil
}

func (r *Reconciler) reconcileArticle(
	ctx context.Context,
	feed *domain.Feed,
	existing map[string]domain.Article,
	parsed *domain.ParsedArticle,
) (*domain.Article, bool, bool, error) {
	desired := domain.Article{
		FeedID:      feed.ID,
		IDInFeed:    parsed.IDInFeed,
		URI:         parsed.Link,
		Title:       parsed.Title,
		Content:     parsed.Content,
		PublishedAt: parsed.PublishedAt,
		UpdatedAt:   parsed.UpdatedAt,
	}

	current, ok := existing[parsed.IDInFeed]
	if !ok {
		if err := r.db.CreateArticle(ctx, &desired); err != nil {
			return nil, false, false, fmt.Errorf("create article: %w", err)
		}

		r.log.InfoContext(ctx, "Created article",
			"feedID", feed.ID,
			"idInFeed", desired.IDInFeed)

		return &desired, true, false, nil
	}

	if articleEquivalent(&current, &desired) {
		return &current, false, false, nil
	}

	desired.ID = current.ID
	desired.CreatedAt = current.CreatedAt
	if err := r.db.UpdateArticle(ctx, &desired); err != nil {
		return nil, false, false, fmt.Errorf("update article: %w", err)
	}

	r.log.InfoContext(ctx, "Updated article",
		"feedID", feed.ID,
		"idInFeed", desired.IDInFeed)

	return &desired, false, true, nil
}

// reconcileAttachments hard-reconciles the attachment set of one article:
// unlike articles, attachments absent from the latest parse are deleted.
func (r *Reconciler) reconcileAttachments(
	ctx context.Context,
	article *domain.Article,
	parsed []domain.ParsedAttachment,
) error {
	current, err := r.db.GetAttachmentsByArticle(ctx, article.ID)
	if err != nil {
		return fmt.Errorf("prefetch attachments: %w", err)
	}

	byURI := make(map[string]domain.Attachment, len(current))
	for _, attachment := range current {
		byURI[attachment.URI] = attachment
	}

	seen := make(map[string]struct{}, len(parsed))
	for i := range parsed {
		parsedAttachment := &parsed[i]
		if _, dup := seen[parsedAttachment.URI]; dup {
			continue
		}
		seen[parsedAttachment.URI] = struct{}{}

		desired := domain.Attachment{
			ArticleID:       article.ID,
			URI:             parsedAttachment.URI,
			Title:           parsedAttachment.Title,
			MimeType:        parsedAttachment.MimeType,
			SizeInBytes:     parsedAttachment.SizeInBytes,
			DurationSeconds: parsedAttachment.DurationSeconds,
		}

		existing, ok := byURI[parsedAttachment.URI]
		if !ok {
			if err = r.db.CreateAttachment(ctx, &desired); err != nil {
				return fmt.Errorf("create attachment: %w", err)
			}

			continue
		}

		if attachmentEquivalent(&existing, &desired) {
			continue
		}

		desired.ID = existing.ID
		if err = r.db.UpdateAttachment(ctx, &desired); err != nil {
			return fmt.Errorf("update attachment: %w", err)
		}
	}

	var staleIDs []int64
	for _, attachment := range current {
		if _, ok := seen[attachment.URI]; !ok {
			staleIDs = append(staleIDs, attachment.ID)
		}
	}

	if err = r.db.DeleteAttachments(ctx, staleIDs); err != nil {
		return fmt.Errorf("delete stale attachments: %w", err)
	}

	return nil
}

func articleEquivalent(a *domain.Article, b *domain.Article) bool {
	return a.URI == b.URI &&
		a.Title == b.Title &&
		a.Content == b.Content &&
		a.PublishedAt.Equal(b.PublishedAt) &&
		timePtrEqual(a.UpdatedAt, b.UpdatedAt)
}

func attachmentEquivalent(a *domain.Attachment, b *domain.Attachment) bool {
	return a.URI == b.URI &&
		a.Title == b.Title &&
		a.MimeType == b.MimeType &&
		int64PtrEqual(a.SizeInBytes, b.SizeInBytes) &&
		int64PtrEqual(a.DurationSeconds, b.DurationSeconds)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Equal(*b)
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}
