package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedsmith/internal/domain"
)

// CreateFeed inserts the feed and fills in its generated ID. It returns
// false without error when another writer already created a feed with the
// same URI.
func (d *Database) CreateFeed(ctx context.Context, feed *domain.Feed) (bool, error) {
	feed.URI = strings.TrimSpace(feed.URI)
	if feed.URI == "" {
		return false, errors.New("feed URI is empty")
	}

	query := `insert into feeds (uri, name, last_fetched_at, last_hash, last_failure, frequency_per_year)
	values (?, ?, ?, ?, ?, ?)`

	res, err := d.db.ExecContext(ctx, query,
		feed.URI,
		feed.Name,
		nullTime(feed.LastFetchedAt),
		feed.LastHash,
		feed.LastFailure,
		nullInt64(feed.FrequencyPerYear),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}

		return false, fmt.Errorf("insert feed: %w", err)
	}

	feed.ID, err = res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}

	return true, nil
}

func (d *Database) GetFeed(ctx context.Context, feedID int64) (*domain.Feed, error) {
	query := feedSelect + " where id = ?"

	feed, err := d.scanFeed(d.db.QueryRowContext(ctx, query, feedID))
	if err != nil {
		return nil, fmt.Errorf("get feed %d: %w", feedID, err)
	}

	return feed, nil
}

func (d *Database) GetFeedByURI(ctx context.Context, uri string) (*domain.Feed, error) {
	query := feedSelect + " where uri = ?"

	feed, err := d.scanFeed(d.db.QueryRowContext(ctx, query, uri))
	if err != nil {
		return nil, fmt.Errorf("get feed by URI: %w", err)
	}

	return feed, nil
}

func (d *Database) ListFeedIDs(ctx context.Context) ([]int64, error) {
	query := "select id from feeds order by created_at"

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", "ListFeedIDs")
		}
	}()

	var ids []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return ids, nil
}

func (d *Database) UpdateFeed(ctx context.Context, feed *domain.Feed) error {
	query := `update feeds
	set name = ?, last_fetched_at = ?, last_hash = ?, last_failure = ?, frequency_per_year = ?
	where id = ?`

	_, err := d.db.ExecContext(ctx, query,
		feed.Name,
		nullTime(feed.LastFetchedAt),
		feed.LastHash,
		feed.LastFailure,
		nullInt64(feed.FrequencyPerYear),
		feed.ID,
	)
	if err != nil {
		return fmt.Errorf("update feed %d: %w", feed.ID, err)
	}

	return nil
}

func (d *Database) UpdateFeedFailure(ctx context.Context, feedID int64, failure string) error {
	query := "update feeds set last_failure = ? where id = ?"

	if _, err := d.db.ExecContext(ctx, query, failure, feedID); err != nil {
		return fmt.Errorf("update feed %d failure: %w", feedID, err)
	}

	return nil
}

// UpdateFeedURI moves the feed to a new URI after a redirect. A collision
// with another feed's URI is reported as domain.ErrDuplicateURI.
func (d *Database) UpdateFeedURI(ctx context.Context, feedID int64, uri string) error {
	query := "update feeds set uri = ? where id = ?"

	if _, err := d.db.ExecContext(ctx, query, uri, feedID); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateURI
		}

		return fmt.Errorf("update feed %d URI: %w", feedID, err)
	}

	return nil
}

func (d *Database) CountSubscribers(ctx context.Context, feedID int64) (int64, error) {
	query := "select count(*) from subscriptions where feed_id = ?"

	var count int64
	if err := d.db.QueryRowContext(ctx, query, feedID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}

	return count, nil
}

func (d *Database) Subscribe(ctx context.Context, userID int64, feedID int64) error {
	query := "insert or ignore into subscriptions (user_id, feed_id) values (?, ?)"

	if _, err := d.db.ExecContext(ctx, query, userID, feedID); err != nil {
		return fmt.Errorf("subscribe user %d to feed %d: %w", userID, feedID, err)
	}

	return nil
}

// RecentPublicationStats returns how many of the feed's articles were
// published since the given time and the publication time of the oldest one.
func (d *Database) RecentPublicationStats(
	ctx context.Context,
	feedID int64,
	since time.Time,
) (int64, *time.Time, error) {
	countQuery := `select count(*)
	from articles
	where feed_id = ? and published_at >= ?`

	var count int64
	if err := d.db.QueryRowContext(ctx, countQuery, feedID, since).Scan(&count); err != nil {
		return 0, nil, fmt.Errorf("count recent articles: %w", err)
	}

	if count == 0 {
		return 0, nil, nil
	}

	oldestQuery := `select published_at
	from articles
	where feed_id = ? and published_at >= ?
	order by published_at
	limit 1`

	var oldest time.Time
	if err := d.db.QueryRowContext(ctx, oldestQuery, feedID, since).Scan(&oldest); err != nil {
		return 0, nil, fmt.Errorf("oldest recent article: %w", err)
	}

	return count, &oldest, nil
}

const feedSelect = `select id, uri, name, last_fetched_at, last_hash, last_failure, frequency_per_year, created_at
from feeds`

func (d *Database) scanFeed(row *sql.Row) (*domain.Feed, error) {
	var (
		feed          domain.Feed
		lastFetchedAt sql.NullTime
		frequency     sql.NullInt64
	)

	err := row.Scan(
		&feed.ID,
		&feed.URI,
		&feed.Name,
		&lastFetchedAt,
		&feed.LastHash,
		&feed.LastFailure,
		&frequency,
		&feed.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrFeedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan feed: %w", err)
	}

	if lastFetchedAt.Valid {
		feed.LastFetchedAt = &lastFetchedAt.Time
	}
	if frequency.Valid {
		feed.FrequencyPerYear = &frequency.Int64
	}

	return &feed, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: *i, Valid: true}
}
