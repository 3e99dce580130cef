// Package reader serves sanitized article HTML to the read path. Articles
// are stored as fetched; cleaning happens here so image substitution always
// reflects the current state of the image cache.
package reader

import (
	"context"
	"fmt"
	"log/slog"

	"feedsmith/internal/database"
	"feedsmith/internal/sanitize"
)

// Cache holds already-sanitized HTML between renders. The reconciler evicts
// entries when article content changes.
type Cache interface {
	Get(articleID int64) (string, bool)
	Set(articleID int64, html string)
}

type Service struct {
	db      *database.Database
	cleaner *sanitize.Cleaner
	cache   Cache
	log     *slog.Logger
}

func NewService(
	db *database.Database,
	cleaner *sanitize.Cleaner,
	cache Cache,
	log *slog.Logger,
) *Service {
	return &Service{
		db:      db,
		cleaner: cleaner,
		cache:   cache,
		log:     log,
	}
}

// ArticleHTML returns the sanitized rendering of one article, serving from
// the cache when the article has not changed since the last render.
func (s *Service) ArticleHTML(ctx context.Context, articleID int64) (string, error) {
	if html, ok := s.cache.Get(articleID); ok {
		return html, nil
	}

	article, err := s.db.GetArticle(ctx, articleID)
	if err != nil {
		return "", err
	}

	feed, err := s.db.GetFeed(ctx, article.FeedID)
	if err != nil {
		return "", err
	}

	// Relative links in article content resolve against the feed URI, the
	// only base the publisher gave us.
	html, err := s.cleaner.CleanArticle(ctx, article.Content, feed.URI)
	if err != nil {
		return "", fmt.Errorf("clean article %d: %w", articleID, err)
	}

	s.cache.Set(articleID, html)

	return html, nil
}
