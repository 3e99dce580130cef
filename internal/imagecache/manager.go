// Package imagecache mirrors remote feed images into blob storage, keyed by
// URI, memoizing permanent failures so broken images are never re-fetched.
package imagecache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"feedsmith/internal/blob"
	"feedsmith/internal/database"
	"feedsmith/internal/domain"
	"feedsmith/internal/fetcher"
	"feedsmith/internal/sanitize"
	"feedsmith/internal/strutil"
)

const maxFailureReasonLength = 100

type Manager struct {
	db      *database.Database
	fetcher *fetcher.Fetcher
	blobs   blob.Store
	log     *slog.Logger
}

func NewManager(
	db *database.Database,
	f *fetcher.Fetcher,
	blobs blob.Store,
	log *slog.Logger,
) *Manager {
	return &Manager{
		db:      db,
		fetcher: f,
		blobs:   blobs,
		log:     log,
	}
}

// CacheImages fetches, processes and persists every URI not already present
// in the cache. Both previous successes and previous failures are terminal,
// so a URI is only ever worked on once.
func (m *Manager) CacheImages(ctx context.Context, uris []string) error {
	existing, err := m.db.GetCachedImages(ctx, uris)
	if err != nil {
		return fmt.Errorf("filter cached URIs: %w", err)
	}

	for _, uri := range uris {
		if _, ok := existing[uri]; ok {
			continue
		}

		m.cacheImage(ctx, uri)
	}

	return nil
}

// LookupImages implements sanitize.ImageLookup over the cached-image table
// and the blob store.
func (m *Manager) LookupImages(
	ctx context.Context,
	uris []string,
) (map[string]sanitize.CachedImage, error) {
	rows, err := m.db.GetCachedImages(ctx, uris)
	if err != nil {
		return nil, err
	}

	images := make(map[string]sanitize.CachedImage, len(rows))
	for uri, row := range rows {
		image := sanitize.CachedImage{
			TrackingPixel: row.IsTrackingPixel(),
		}
		if !row.IsFailure() {
			image.MirrorURL = m.blobs.URL(BlobPath(row.ID))
		}

		images[uri] = image
	}

	return images, nil
}

func (m *Manager) cacheImage(ctx context.Context, uri string) {
	data, err := m.fetcher.FetchImage(ctx, uri)
	if err != nil {
		m.memoizeFailure(ctx, uri, err)
		return
	}

	processed, err := processImageData(data)
	if err != nil {
		m.memoizeFailure(ctx, uri, err)
		return
	}

	img := &domain.CachedImage{
		ID:          uuid.NewString(),
		URI:         uri,
		Format:      processed.Format,
		Width:       int64(processed.Width),
		Height:      int64(processed.Height),
		SizeInBytes: int64(len(processed.Data)),
	}

	created, err := m.db.CreateCachedImage(ctx, img)
	if err != nil {
		m.log.ErrorContext(ctx, "Failed to persist cached image",
			"error", err,
			"uri", uri)

		return
	}
	if !created {
		// A concurrent caching run already handled this URI.
		return
	}

	// The blob is written only after the row is committed; a row without a
	// blob is an invariant violation, hence the compensating delete.
	if _, err = m.blobs.Save(BlobPath(img.ID), processed.Data); err != nil {
		m.log.ErrorContext(ctx, "Failed to store image blob",
			"error", err,
			"uri", uri,
			"imageID", img.ID)

		if delErr := m.db.DeleteCachedImage(ctx, img.ID); delErr != nil {
			m.log.ErrorContext(ctx, "Failed to roll back cached image row",
				"error", delErr,
				"imageID", img.ID)
		}

		return
	}

	m.log.InfoContext(ctx, "Cached image",
		"uri", uri,
		"format", img.Format,
		"sizeInBytes", img.SizeInBytes)
}

func (m *Manager) memoizeFailure(ctx context.Context, uri string, cause error) {
	img := &domain.CachedImage{
		ID:            uuid.NewString(),
		URI:           uri,
		FailureReason: strutil.Shrink(cause.Error(), maxFailureReasonLength),
	}

	created, err := m.db.CreateCachedImage(ctx, img)
	if err != nil {
		m.log.ErrorContext(ctx, "Failed to memoize image failure",
			"error", err,
			"uri", uri)

		return
	}
	if !created {
		return
	}

	m.log.InfoContext(ctx, "Memoized image failure",
		"uri", uri,
		"reason", img.FailureReason)
}

// BlobPath derives the blob location from the cached image identity,
// sharding across directories by the first two characters of the id.
func BlobPath(id string) string {
	if len(id) < 2 {
		return id
	}

	return id[:2] + "/" + id
}
