package database

import (
	"context"
	"fmt"
	"strings"

	"feedsmith/internal/domain"
)

// GetCachedImages bulk-loads cached-image rows for the given URIs. URIs with
// no row yet are simply absent from the returned map.
func (d *Database) GetCachedImages(
	ctx context.Context,
	uris []string,
) (map[string]domain.CachedImage, error) {
	images := make(map[string]domain.CachedImage)
	if len(uris) == 0 {
		return images, nil
	}

	placeholders := strings.Repeat("?, ", len(uris)-1) + "?"
	query := fmt.Sprintf(`select id, uri, format, width, height, size_in_bytes, failure_reason, created_at
	from cached_images
	where uri in (%s)`, placeholders)

	args := make([]any, len(uris))
	for i, uri := range uris {
		args[i] = uri
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"uriCount", len(uris),
				"operation", "GetCachedImages")
		}
	}()

	for rows.Next() {
		var img domain.CachedImage

		err = rows.Scan(
			&img.ID,
			&img.URI,
			&img.Format,
			&img.Width,
			&img.Height,
			&img.SizeInBytes,
			&img.FailureReason,
			&img.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		images[img.URI] = img
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return images, nil
}

// CreateCachedImage inserts a cached-image row. It returns false without
// error when a concurrent caching run already inserted a row for the same
// URI; the caller must discard its result.
func (d *Database) CreateCachedImage(ctx context.Context, img *domain.CachedImage) (bool, error) {
	query := `insert into cached_images (id, uri, format, width, height, size_in_bytes, failure_reason)
	values (?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query,
		img.ID,
		img.URI,
		img.Format,
		img.Width,
		img.Height,
		img.SizeInBytes,
		img.FailureReason,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}

		return false, fmt.Errorf("insert cached image: %w", err)
	}

	return true, nil
}

// DeleteCachedImage compensates for a failed blob write after the row was
// already committed.
func (d *Database) DeleteCachedImage(ctx context.Context, id string) error {
	query := "delete from cached_images where id = ?"

	if _, err := d.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete cached image %s: %w", id, err)
	}

	return nil
}
